package synthesis

import "encoding/json"

// insightSchema constrains the structured reply of the generateInsight and
// constellation tasks.
var insightSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"mode": {"type": "string"},
		"reframedProblem": {"type": "string"},
		"insightCore": {"type": "string"},
		"selectedHypothesisName": {"type": "string"},
		"hypotheses": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"name": {"type": "string"},
					"statement": {"type": "string"},
					"predictedEvidence": {"type": "array", "items": {"type": "string"}},
					"disconfirmers": {"type": "array", "items": {"type": "string"}},
					"prior": {"type": "number"},
					"posterior": {"type": "number"}
				},
				"required": ["name", "statement", "prior", "posterior"]
			}
		},
		"eurekaMarkers": {
			"type": "object",
			"properties": {
				"suddennessProxy": {"type": "number"},
				"fluency": {"type": "number"},
				"conviction": {"type": "number"},
				"positiveAffect": {"type": "number"}
			},
			"required": ["suddennessProxy", "fluency", "conviction", "positiveAffect"]
		},
		"bayesianSurprise": {"type": "number"},
		"evidenceRefs": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"noteId": {"type": "string"},
					"childId": {"type": "string"},
					"quote": {"type": "string"}
				},
				"required": ["noteId", "quote"]
			}
		},
		"test": {"type": "string"},
		"risks": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["mode", "insightCore", "eurekaMarkers", "bayesianSurprise", "evidenceRefs"]
}`)
