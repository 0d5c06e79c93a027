package research

import (
	"encoding/json"
	"errors"
	"strings"
)

// parseJSONBlock unmarshals the first JSON value found in an LLM reply,
// tolerating markdown code fences and surrounding prose.
func parseJSONBlock(raw string, v any) error {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return errors.New("no JSON value in reply")
	}
	end := strings.LastIndexAny(s, "}]")
	if end < start {
		return errors.New("unterminated JSON value in reply")
	}

	return json.Unmarshal([]byte(s[start:end+1]), v)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
