package modelfs

import (
	"gopkg.in/yaml.v3"

	"github.com/example/speech-trainer/api-go/internal/apperr"
)

// ValidateSentences checks that text is a YAML mapping with a non-empty
// top-level "sentences" block.
func ValidateSentences(text string) error {
	var doc map[string]any
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return apperr.Validation("invalid YAML: %v", err)
	}
	raw, ok := doc["sentences"]
	if !ok {
		return apperr.Validation("Missing sentences block")
	}
	if isEmpty(raw) {
		return apperr.Validation("No sentences")
	}
	return nil
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	default:
		return false
	}
}
