package run

import (
	"strings"
	"testing"

	"github.com/microapp-studio/runcore/internal/apierr"
	"github.com/microapp-studio/runcore/internal/modelregistry"
	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }

func TestClassifyPriority(t *testing.T) {
	fixed := "fixed"
	cases := []struct {
		flags Flags
		want  Phase
	}{
		{Flags{RequestSkip: true, FixedResponse: &fixed, NoSubmission: true, ScoredRun: true}, PhaseSkip},
		{Flags{FixedResponse: &fixed, NoSubmission: true, ScoredRun: true}, PhaseFixed},
		{Flags{NoSubmission: true, ScoredRun: true}, PhaseNoSubmission},
		{Flags{ScoredRun: true}, PhaseScored},
		{Flags{}, PhaseNormal},
	}
	for _, tc := range cases {
		if got := Classify(tc.flags); got != tc.want {
			t.Fatalf("expected %s, got %s", tc.want, got)
		}
	}
	if PhaseSkip.CallsProvider() || PhaseFixed.CallsProvider() || PhaseNoSubmission.CallsProvider() {
		t.Fatalf("fixed phases must not call the provider")
	}
	if !PhaseScored.CallsProvider() || !PhaseNormal.CallsProvider() {
		t.Fatalf("scored and normal phases call the provider")
	}
}

func TestValidateParamsDefaultsAndBounds(t *testing.T) {
	spec, errSpec := modelregistry.Default().Get("gpt-4o-mini")
	require.NoError(t, errSpec)

	params, errParams := ValidateParams(spec, Overrides{})
	require.NoError(t, errParams)
	require.Equal(t, spec.Defaults.Temperature, params.Temperature)
	require.Equal(t, spec.Defaults.MaxTokens, params.MaxTokens)

	params, errParams = ValidateParams(spec, Overrides{Temperature: f64(0.2), PresencePenalty: f64(-2)})
	require.NoError(t, errParams)
	require.Equal(t, 0.2, params.Temperature)
	require.Equal(t, -2.0, params.PresencePenalty)

	_, errParams = ValidateParams(spec, Overrides{TopP: f64(1.5)})
	require.True(t, apierr.Is(errParams, apierr.KindInvalidParameter))
	require.Contains(t, errParams.Error(), "top_p")

	_, errParams = ValidateParams(spec, Overrides{Temperature: f64(modelregistry.UnsetSentinel)})
	require.True(t, apierr.Is(errParams, apierr.KindInvalidParameter), "sentinel is only accepted for anthropic")

	tooMany := spec.MaxTokensLimit + 1
	_, errParams = ValidateParams(spec, Overrides{MaxTokens: &tooMany})
	require.True(t, apierr.Is(errParams, apierr.KindInvalidParameter))
}

func TestValidateParamsAnthropicSentinel(t *testing.T) {
	spec, errSpec := modelregistry.Default().Get("claude-3-5-haiku")
	require.NoError(t, errSpec)

	params, errParams := ValidateParams(spec, Overrides{Temperature: f64(-1), FrequencyPenalty: f64(-1)})
	require.NoError(t, errParams)
	require.Equal(t, modelregistry.UnsetSentinel, params.Temperature)
	require.Equal(t, modelregistry.UnsetSentinel, params.FrequencyPenalty)

	_, errParams = ValidateParams(spec, Overrides{Temperature: f64(1.5)})
	require.True(t, apierr.Is(errParams, apierr.KindInvalidParameter))
}

func TestScoringInstructionListsCriteria(t *testing.T) {
	instruction := ScoringInstruction(`{"quality":"0-10","clarity":"0-10"}`)
	require.True(t, strings.HasPrefix(instruction, "Please provide a score for the previous user message."))
	require.Contains(t, instruction, "{ 'quality': '<score>', 'clarity': '<score>', 'total': '<sum>' }")
	require.True(t, strings.HasSuffix(instruction, "Make sure to include the 'total' key."))

	plain := ScoringInstruction("Be strict about grammar")
	require.Contains(t, plain, "Use the following rubric: Be strict about grammar.")
	require.Contains(t, plain, "'<criterion>': '<score>', 'total': '<sum>'")
}

func TestEvaluateScore(t *testing.T) {
	cases := []struct {
		name    string
		output  string
		minimum *float64
		total   float64
		parsed  bool
		passed  bool
	}{
		{"strict json string total", `{"quality":"7","clarity":"8","total":"15"}`, f64(10), 15, true, true},
		{"strict json number total", `{"total": 9.5}`, f64(10), 9.5, true, false},
		{"json embedded in prose", "Here you go:\n{\"a\": 3, \"total\": 3}\nThanks", f64(3), 3, true, true},
		{"single quotes", `{'a': '2', 'total': '12'}`, f64(10), 12, true, true},
		{"no total", `{"quality": 7}`, f64(1), 0, false, false},
		{"garbage", "I cannot grade this", nil, 0, false, false},
		{"nil minimum", `{"total": 0}`, nil, 0, true, true},
	}
	for _, tc := range cases {
		score := EvaluateScore(tc.output, tc.minimum)
		require.Equal(t, tc.total, score.Total, tc.name)
		require.Equal(t, tc.parsed, score.Parsed, tc.name)
		require.Equal(t, tc.passed, score.Passed, tc.name)
		require.NotEmpty(t, score.Raw, tc.name)
	}
}

func TestParsePatch(t *testing.T) {
	p, errParse := ParsePatch([]byte(`{"id": 12, "satisfaction": -1, "feedback": "too long"}`))
	require.NoError(t, errParse)
	require.Equal(t, uint64(12), p.ID)
	require.Equal(t, -1, *p.Satisfaction)
	require.Equal(t, "too long", *p.Feedback)

	p, errParse = ParsePatch([]byte(`{"id": "6F9619FF-8B86-4011-B42D-00C04FC964FF", "satisfaction": 1}`))
	require.NoError(t, errParse)
	require.Equal(t, "6f9619ff-8b86-4011-b42d-00c04fc964ff", p.SessionID)
	require.Zero(t, p.ID)

	p, errParse = ParsePatch([]byte(`{"id": "34"}`))
	require.NoError(t, errParse)
	require.Equal(t, uint64(34), p.ID)
	require.Nil(t, p.Satisfaction)

	failures := map[string]apierr.Kind{
		`{"satisfaction": 1}`:             apierr.KindFieldMissing,
		`{"id": 1, "satisfaction": 2}`:    apierr.KindInvalidPayload,
		`{"id": 1, "user_ip": "1.1.1.1"}`: apierr.KindInvalidPayload,
		`{"id": 1, "ma_id": 3}`:           apierr.KindInvalidPayload,
		`{"id": "abc-def"}`:               apierr.KindInvalidPayload,
		`{"id": 1.5}`:                     apierr.KindInvalidPayload,
		`[1,2]`:                           apierr.KindInvalidPayload,
		`{"id": 1, "feedback": 3}`:        apierr.KindInvalidPayload,
	}
	for body, kind := range failures {
		_, errParse = ParsePatch([]byte(body))
		require.True(t, apierr.Is(errParse, kind), "%s: got %v", body, errParse)
	}
}
