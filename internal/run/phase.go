package run

// Phase is the kind of work a run performs.
type Phase string

// Phase kinds in classification priority order.
const (
	PhaseSkip         Phase = "skip"
	PhaseFixed        Phase = "fixed"
	PhaseNoSubmission Phase = "no_submission"
	PhaseScored       Phase = "scored"
	PhaseNormal       Phase = "normal"
)

// Responses recorded for phases that bypass the provider.
const (
	SkipResponse         = "You skipped this phase"
	NoSubmissionResponse = "No submission"
)

// Flags are the phase switches of a run request.
type Flags struct {
	RequestSkip   bool
	FixedResponse *string
	NoSubmission  bool
	ScoredRun     bool
}

// Classify picks exactly one phase; earlier switches win.
func Classify(f Flags) Phase {
	switch {
	case f.RequestSkip:
		return PhaseSkip
	case f.FixedResponse != nil:
		return PhaseFixed
	case f.NoSubmission:
		return PhaseNoSubmission
	case f.ScoredRun:
		return PhaseScored
	default:
		return PhaseNormal
	}
}

// CallsProvider reports whether the phase invokes an LLM.
func (p Phase) CallsProvider() bool {
	return p == PhaseScored || p == PhaseNormal
}

// FixedText returns the response of a phase that bypasses the provider.
func (p Phase) FixedText(f Flags) string {
	switch p {
	case PhaseSkip:
		return SkipResponse
	case PhaseFixed:
		if f.FixedResponse != nil {
			return *f.FixedResponse
		}
	case PhaseNoSubmission:
		return NoSubmissionResponse
	}
	return ""
}
