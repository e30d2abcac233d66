package run

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

var totalPattern = regexp.MustCompile(`["']total["']\s*:\s*["']?(-?\d+(?:\.\d+)?)`)

// Score is the graded outcome of a scored run.
type Score struct {
	Total  float64
	Parsed bool
	Passed bool
	// Raw is the JSON stored on the run.
	Raw json.RawMessage
}

// ScoringInstruction builds the grading prompt for rubric. Criteria are taken from the keys of a JSON object rubric.
func ScoringInstruction(rubric string) string {
	rubric = strings.TrimSpace(rubric)
	var pairs []string
	if parsed := gjson.Parse(rubric); gjson.Valid(rubric) && parsed.IsObject() {
		parsed.ForEach(func(key, _ gjson.Result) bool {
			pairs = append(pairs, fmt.Sprintf("'%s': '<score>'", key.String()))
			return true
		})
	}
	if len(pairs) == 0 {
		pairs = append(pairs, "'<criterion>': '<score>'")
	}
	pairs = append(pairs, "'total': '<sum>'")
	return fmt.Sprintf(
		"Please provide a score for the previous user message. Use the following rubric: %s. "+
			"Output your response as JSON, using this format: { %s }. Make sure to include the 'total' key.",
		rubric, strings.Join(pairs, ", "),
	)
}

// EvaluateScore extracts the total from grader output and compares it with minimum (0 when nil).
// Output that yields no total scores 0 and fails.
func EvaluateScore(output string, minimum *float64) Score {
	total, raw, ok := parseTotal(output)
	score := Score{Total: total, Parsed: ok}
	if ok {
		threshold := 0.0
		if minimum != nil {
			threshold = *minimum
		}
		score.Passed = total >= threshold
	}
	if raw != nil {
		score.Raw = raw
	} else {
		score.Raw, _ = json.Marshal(map[string]any{"raw": output, "total": total})
	}
	return score
}

// parseTotal reads "total" from the output as JSON first, then from the first JSON object embedded in prose,
// then with a tolerant pattern. raw is non-nil only when a JSON object was found.
func parseTotal(output string) (float64, json.RawMessage, bool) {
	candidates := []string{strings.TrimSpace(output)}
	if start, end := strings.Index(output, "{"), strings.LastIndex(output, "}"); start >= 0 && end > start {
		candidates = append(candidates, output[start:end+1])
	}
	for _, candidate := range candidates {
		if !gjson.Valid(candidate) {
			continue
		}
		parsed := gjson.Parse(candidate)
		if !parsed.IsObject() {
			continue
		}
		if total, ok := numeric(parsed.Get("total")); ok {
			return total, json.RawMessage(candidate), true
		}
	}
	if m := totalPattern.FindStringSubmatch(output); len(m) == 2 {
		if total, errParse := strconv.ParseFloat(m[1], 64); errParse == nil {
			return total, nil, true
		}
	}
	return 0, nil, false
}

func numeric(v gjson.Result) (float64, bool) {
	switch v.Type {
	case gjson.Number:
		return v.Float(), true
	case gjson.String:
		parsed, errParse := strconv.ParseFloat(strings.TrimSpace(v.String()), 64)
		return parsed, errParse == nil
	default:
		return 0, false
	}
}
