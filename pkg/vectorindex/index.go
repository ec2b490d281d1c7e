// Package vectorindex maintains a flat L2 vector index mapped to external
// chunk ids, mirrored to durable storage next to the database.
package vectorindex

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sort"
	"sync"
)

// DefaultDimension matches the embedding model's output width.
const DefaultDimension = 768

var indexMagic = [8]byte{'S', 'Y', 'N', 'I', 'D', 'X', '0', '1'}

// ErrDimensionMismatch is returned when a vector's width does not match
// the index dimension. The call fails without touching index state.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Result is one nearest-neighbour hit.
type Result struct {
	ID       string
	Distance float32
}

// Index is a concurrent flat L2 index. A single mutex guards every
// operation that touches vectors or the id map so that both are always
// observed in a coherent state.
type Index struct {
	mu          sync.Mutex
	dim         int
	vectors     [][]float32
	idMap       []string // internal dense id -> external chunk id
	indexPath   string
	mappingPath string
}

// New creates an empty index of the given dimension persisting to the
// given file pair.
func New(dim int, indexPath, mappingPath string) *Index {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &Index{
		dim:         dim,
		indexPath:   indexPath,
		mappingPath: mappingPath,
	}
}

// Open creates an index and loads any existing on-disk state. A missing
// file pair yields an empty index; a loaded index overrides the configured
// dimension with the persisted one.
func Open(dim int, indexPath, mappingPath string) (*Index, error) {
	idx := New(dim, indexPath, mappingPath)
	if err := idx.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Info("No persisted vector index found, starting empty",
				"index_path", indexPath)
			return idx, nil
		}
		return nil, err
	}
	slog.Info("Loaded vector index",
		"vectors", idx.Size(), "dimension", idx.Dimension())
	return idx, nil
}

// Dimension returns the current vector width.
func (x *Index) Dimension() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.dim
}

// Size returns the number of indexed vectors.
func (x *Index) Size() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.vectors)
}

// Add appends vectors and extends the id map atomically. Every row must
// match the index dimension and len(vectors) must equal len(ids); on any
// violation the index is left unchanged.
func (x *Index) Add(vectors [][]float32, ids []string) error {
	if len(vectors) != len(ids) {
		return fmt.Errorf("vectors/ids length mismatch: %d != %d", len(vectors), len(ids))
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	for i, v := range vectors {
		if len(v) != x.dim {
			return fmt.Errorf("%w: expected %d, got %d (row %d)",
				ErrDimensionMismatch, x.dim, len(v), i)
		}
	}
	for _, v := range vectors {
		row := make([]float32, x.dim)
		copy(row, v)
		x.vectors = append(x.vectors, row)
	}
	x.idMap = append(x.idMap, ids...)
	return nil
}

// Search returns up to k nearest neighbours of query by L2 distance.
// An empty index returns an empty slice.
func (x *Index) Search(query []float32, k int) ([]Result, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if len(x.vectors) == 0 || k <= 0 {
		return nil, nil
	}
	if len(query) != x.dim {
		return nil, fmt.Errorf("%w: expected %d, got %d",
			ErrDimensionMismatch, x.dim, len(query))
	}

	results := make([]Result, 0, len(x.vectors))
	for i, v := range x.vectors {
		var sum float64
		for j := range v {
			d := float64(v[j]) - float64(query[j])
			sum += d * d
		}
		results = append(results, Result{
			ID:       x.idMap[i],
			Distance: float32(math.Sqrt(sum)),
		})
	}
	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Distance < results[b].Distance
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Remove drops all vectors whose external id is in ids, rebuilding the
// index from the survivors in order. O(N·D), but the only path that
// shrinks the index.
func (x *Index) Remove(ids []string) {
	if len(ids) == 0 {
		return
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	keptVectors := x.vectors[:0:0]
	keptIDs := x.idMap[:0:0]
	for i, id := range x.idMap {
		if _, gone := drop[id]; !gone {
			keptVectors = append(keptVectors, x.vectors[i])
			keptIDs = append(keptIDs, id)
		}
	}
	if len(keptIDs) == len(x.idMap) {
		return
	}
	x.vectors = keptVectors
	x.idMap = keptIDs
}

// Snapshot returns a copy of the id map, internal order preserved.
func (x *Index) Snapshot() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]string, len(x.idMap))
	copy(out, x.idMap)
	return out
}

// Save serializes vectors and the id map to the configured file pair.
func (x *Index) Save() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	f, err := os.Create(x.indexPath)
	if err != nil {
		return fmt.Errorf("creating index file: %w", err)
	}
	defer f.Close()

	if err := writeVectors(f, x.dim, x.vectors); err != nil {
		return fmt.Errorf("writing index file: %w", err)
	}

	mapping, err := json.Marshal(x.idMap)
	if err != nil {
		return fmt.Errorf("marshaling id map: %w", err)
	}
	if err := os.WriteFile(x.mappingPath, mapping, 0o644); err != nil {
		return fmt.Errorf("writing id map: %w", err)
	}

	slog.Info("Saved vector index",
		"vectors", len(x.vectors), "index_path", x.indexPath)
	return nil
}

// Load restores vectors and the id map from disk. The persisted dimension
// replaces the configured one.
func (x *Index) Load() error {
	f, err := os.Open(x.indexPath)
	if err != nil {
		return err
	}
	defer f.Close()

	dim, vectors, err := readVectors(f)
	if err != nil {
		return fmt.Errorf("reading index file: %w", err)
	}

	raw, err := os.ReadFile(x.mappingPath)
	if err != nil {
		return err
	}
	var idMap []string
	if err := json.Unmarshal(raw, &idMap); err != nil {
		return fmt.Errorf("parsing id map: %w", err)
	}
	if len(idMap) != len(vectors) {
		return fmt.Errorf("id map length %d does not match vector count %d",
			len(idMap), len(vectors))
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.dim = dim
	x.vectors = vectors
	x.idMap = idMap
	return nil
}

func writeVectors(w io.Writer, dim int, vectors [][]float32) error {
	if _, err := w.Write(indexMagic[:]); err != nil {
		return err
	}
	header := []uint32{uint32(dim), uint32(len(vectors))}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return err
	}
	for _, v := range vectors {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}

func readVectors(r io.Reader) (int, [][]float32, error) {
	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return 0, nil, err
	}
	if magic != indexMagic {
		return 0, nil, errors.New("not a synapse index file")
	}
	var header [2]uint32
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return 0, nil, err
	}
	dim, count := int(header[0]), int(header[1])
	if dim <= 0 {
		return 0, nil, fmt.Errorf("invalid dimension %d", dim)
	}
	vectors := make([][]float32, 0, count)
	for i := 0; i < count; i++ {
		row := make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, &row); err != nil {
			return 0, nil, err
		}
		vectors = append(vectors, row)
	}
	return dim, vectors, nil
}
