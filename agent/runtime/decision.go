package runtime

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedJSON = regexp.MustCompile("(?is)```json\\s*(\\{.*?\\})\\s*```")

// ParseDecision extracts the planner's decision object from free-form
// assistant text. The text may be a bare JSON object or contain a ```json
// fenced block. Objects without a goal or done key are not decisions.
func ParseDecision(text string) (map[string]any, bool) {
	payload := parseJSONObject(text)
	if payload == nil {
		return nil, false
	}
	_, hasGoal := payload["goal"]
	_, hasDone := payload["done"]
	if !hasGoal && !hasDone {
		return nil, false
	}
	return payload, true
}

func parseJSONObject(text string) map[string]any {
	stripped := strings.TrimSpace(text)
	if stripped == "" {
		return nil
	}

	var direct map[string]any
	if err := json.Unmarshal([]byte(stripped), &direct); err == nil && direct != nil {
		return direct
	}

	m := fencedJSON.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	var fenced map[string]any
	if err := json.Unmarshal([]byte(m[1]), &fenced); err != nil || fenced == nil {
		return nil
	}
	return fenced
}
