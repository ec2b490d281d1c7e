package chunking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplit(t *testing.T) {
	cases := map[string]struct {
		in   string
		want []string
	}{
		"empty":           {"", nil},
		"whitespace only": {"  \n\n  \t", nil},
		"single":          {"one paragraph", []string{"one paragraph"}},
		"two":             {"first\n\nsecond", []string{"first", "second"}},
		"blank with spaces": {
			"first\n   \nsecond",
			[]string{"first", "second"},
		},
		"multiple blanks collapse": {
			"first\n\n\n\nsecond",
			[]string{"first", "second"},
		},
		"trims parts": {
			"  first  \n\n\tsecond\t",
			[]string{"first", "second"},
		},
		"keeps single newlines": {
			"line one\nline two\n\nnext",
			[]string{"line one\nline two", "next"},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, Split(tc.in))
		})
	}
}

func TestLeading(t *testing.T) {
	content := "a\n\nb\n\nc"
	assert.Equal(t, []string{"a", "b"}, Leading(content, 2))
	assert.Equal(t, []string{"a", "b", "c"}, Leading(content, 5))
	assert.Empty(t, Leading("", 2))
}
