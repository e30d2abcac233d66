// Package run executes microapp runs: it validates the request, classifies the phase, calls the provider,
// persists the Run and meters it against the owner's credits.
package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microapp-studio/runcore/internal/apierr"
	"github.com/microapp-studio/runcore/internal/billing"
	"github.com/microapp-studio/runcore/internal/logging"
	"github.com/microapp-studio/runcore/internal/metrics"
	"github.com/microapp-studio/runcore/internal/modelregistry"
	"github.com/microapp-studio/runcore/internal/models"
	"github.com/microapp-studio/runcore/internal/provider"
	"github.com/microapp-studio/runcore/internal/quota"
	"github.com/microapp-studio/runcore/internal/settings"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Request is a run submitted by a client.
type Request struct {
	MicroappID uint64             `json:"ma_id"`
	Model      string             `json:"model"`
	Messages   []provider.Message `json:"user_prompt"`
	Overrides

	RequestSkip   bool    `json:"request_skip"`
	FixedResponse *string `json:"fixed_response,omitempty"`
	NoSubmission  bool    `json:"no_submission"`
	ScoredRun     bool    `json:"scored_run"`

	MinimumScore *float64 `json:"minimum_score,omitempty"`
	Rubric       string   `json:"rubric,omitempty"`
	SessionID    string   `json:"session_id,omitempty"`
}

// Flags returns the phase switches of the request.
func (r Request) Flags() Flags {
	return Flags{
		RequestSkip:   r.RequestSkip,
		FixedResponse: r.FixedResponse,
		NoSubmission:  r.NoSubmission,
		ScoredRun:     r.ScoredRun,
	}
}

// Caller is the auth context of a run. UserID is nil for guests.
type Caller struct {
	UserID   *uint64
	ClientIP string
}

// Completer performs provider calls. Timeout is the deadline of one call.
type Completer interface {
	Timeout() time.Duration
	Complete(ctx context.Context, spec modelregistry.Spec, messages []provider.Message, params provider.Params) (provider.Result, error)
	CompleteScoring(ctx context.Context, spec modelregistry.Spec, messages []provider.Message, instruction string, params provider.Params) (provider.Result, error)
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	DB           *gorm.DB
	Registry     *modelregistry.Registry
	Provider     Completer
	Gate         *quota.Gate
	Ledger       *billing.Ledger
	Metrics      *metrics.RunMetrics
	DefaultModel string
}

// Orchestrator is the single entry point for run execution.
type Orchestrator struct {
	db           *gorm.DB
	registry     *modelregistry.Registry
	provider     Completer
	gate         *quota.Gate
	ledger       *billing.Ledger
	metrics      *metrics.RunMetrics
	defaultModel string
}

// NewOrchestrator wires an orchestrator from deps.
func NewOrchestrator(deps Deps) *Orchestrator {
	return &Orchestrator{
		db:           deps.DB,
		registry:     deps.Registry,
		provider:     deps.Provider,
		gate:         deps.Gate,
		ledger:       deps.Ledger,
		metrics:      deps.Metrics,
		defaultModel: deps.DefaultModel,
	}
}

type outcome struct {
	response     string
	responseType string
	modelID      string
	params       provider.Params
	prompt       []provider.Message
	inputTokens  int64
	outputTokens int64
	cost         decimal.Decimal
	credits      int64
	score        *Score
}

// Execute runs one phase. On success the returned Run is persisted and its credits were submitted to the ledger.
// Validation, admission and provider failures leave no trace.
func (o *Orchestrator) Execute(ctx context.Context, caller Caller, req Request) (*models.Run, error) {
	phase := Classify(req.Flags())
	run, err := o.execute(ctx, caller, req, phase)
	switch {
	case err == nil:
		o.metrics.ObserveRun(string(phase), metrics.OutcomeSuccess)
	case apierr.KindOf(err) == apierr.KindProviderError || apierr.KindOf(err) == apierr.KindServerError:
		o.metrics.ObserveRun(string(phase), metrics.OutcomeFailed)
	default:
		o.metrics.ObserveRun(string(phase), metrics.OutcomeRejected)
	}
	return run, err
}

func (o *Orchestrator) execute(ctx context.Context, caller Caller, req Request, phase Phase) (*models.Run, error) {
	if req.MicroappID == 0 {
		return nil, apierr.FieldMissing("ma_id")
	}
	sessionID, errSession := normalizeSessionID(req.SessionID)
	if errSession != nil {
		return nil, errSession
	}

	var microapp models.Microapp
	if errFind := o.db.WithContext(ctx).First(&microapp, req.MicroappID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, apierr.MicroappNotFound(req.MicroappID)
		}
		return nil, apierr.Server(fmt.Errorf("run: find microapp: %w", errFind))
	}

	var (
		spec   modelregistry.Spec
		params provider.Params
	)
	if phase.CallsProvider() {
		if len(req.Messages) == 0 {
			return nil, apierr.FieldMissing("user_prompt")
		}
		modelID := strings.TrimSpace(req.Model)
		if modelID == "" {
			modelID = settings.StringValue(settings.DefaultModelKey, o.defaultModel)
		}
		resolved, errModel := o.registry.Get(modelID)
		if errModel != nil {
			return nil, apierr.UnsupportedModel(modelID)
		}
		spec = resolved
		validated, errParams := ValidateParams(spec, req.Overrides)
		if errParams != nil {
			return nil, errParams
		}
		params = validated
	}

	if caller.UserID == nil {
		continuing := ""
		if strings.TrimSpace(req.SessionID) != "" {
			continuing = sessionID
		}
		if errGuest := o.gate.CheckGuest(ctx, caller.ClientIP, continuing); errGuest != nil {
			return nil, errGuest
		}
	}
	if phase.CallsProvider() {
		if _, errOwner := o.gate.CheckOwner(ctx, microapp.OwnerID); errOwner != nil {
			return nil, errOwner
		}
	}

	if errCtx := ctx.Err(); errCtx != nil {
		return nil, apierr.Server(fmt.Errorf("run: request canceled before provider call: %w", errCtx))
	}
	// Provider calls are billed once started; from here on client cancellation is ignored.
	detached := context.WithoutCancel(ctx)
	entry := logging.FromContext(ctx).WithFields(log.Fields{"ma_id": microapp.ID, "phase": phase, "session_id": sessionID})

	var out outcome
	if phase.CallsProvider() {
		called, errCall := o.callProvider(detached, spec, params, req, phase)
		if errCall != nil {
			entry.WithError(errCall).Warn("run: provider call failed")
			return nil, errCall
		}
		out = called
	} else {
		out = outcome{
			response:     phase.FixedText(req.Flags()),
			responseType: models.ResponseTypeFixed,
			modelID:      strings.TrimSpace(req.Model),
			cost:         decimal.Zero,
		}
	}

	run, errBuild := buildRun(microapp, caller, sessionID, phase, req, out)
	if errBuild != nil {
		return nil, apierr.Server(errBuild)
	}
	// Persistence and the deduction get one provider timeout between them.
	settleCtx, cancel := context.WithTimeout(detached, o.provider.Timeout())
	defer cancel()
	if errCreate := o.db.WithContext(settleCtx).Create(run).Error; errCreate != nil {
		return nil, apierr.Server(fmt.Errorf("run: persist run: %w", errCreate))
	}

	if run.Credits > 0 {
		_, errDeduct := o.ledger.Deduct(settleCtx, billing.Charge{
			OwnerID:    run.OwnerID,
			ConsumerID: caller.UserID,
			RunID:      run.ID,
			Credits:    run.Credits,
		})
		if errDeduct != nil {
			entry.WithError(errDeduct).WithField("run_id", run.ID).Error("run: credit deduction failed")
		}
	}
	entry.WithFields(log.Fields{"run_id": run.ID, "credits": run.Credits, "cost": run.Cost.String()}).Info("run completed")
	return run, nil
}

func (o *Orchestrator) callProvider(ctx context.Context, spec modelregistry.Spec, params provider.Params, req Request, phase Phase) (outcome, error) {
	first, errFirst := o.provider.Complete(ctx, spec, req.Messages, params)
	if errFirst != nil {
		return outcome{}, errFirst
	}
	out := outcome{
		response:     first.Usage.Text,
		responseType: models.ResponseTypeAI,
		modelID:      spec.ID,
		params:       params,
		prompt:       first.Prompt,
		inputTokens:  first.Usage.InputTokens,
		outputTokens: first.Usage.OutputTokens,
		cost:         first.Cost,
		credits:      billing.CreditsForCost(first.Cost),
	}
	if phase != PhaseScored {
		return out, nil
	}

	graded, errGrade := o.provider.CompleteScoring(ctx, spec, req.Messages, ScoringInstruction(req.Rubric), params)
	if errGrade != nil {
		return outcome{}, errGrade
	}
	score := EvaluateScore(graded.Usage.Text, req.MinimumScore)
	out.inputTokens += graded.Usage.InputTokens
	out.outputTokens += graded.Usage.OutputTokens
	out.cost = out.cost.Add(graded.Cost)
	out.credits += billing.CreditsForCost(graded.Cost)
	out.score = &score
	return out, nil
}

func buildRun(microapp models.Microapp, caller Caller, sessionID string, phase Phase, req Request, out outcome) (*models.Run, error) {
	run := &models.Run{
		MicroappID:   microapp.ID,
		UserID:       caller.UserID,
		OwnerID:      microapp.OwnerID,
		SessionID:    sessionID,
		ModelID:      out.modelID,
		Phase:        string(phase),
		Response:     out.response,
		ResponseType: out.responseType,
		InputTokens:  out.inputTokens,
		OutputTokens: out.outputTokens,
		Cost:         out.cost,
		Credits:      out.credits,
		MinimumScore: req.MinimumScore,
		UserIP:       caller.ClientIP,
		AppHashID:    microapp.HashID,
	}
	if phase.CallsProvider() {
		params, errParams := json.Marshal(out.params)
		if errParams != nil {
			return nil, fmt.Errorf("run: encode params: %w", errParams)
		}
		prompt, errPrompt := json.Marshal(out.prompt)
		if errPrompt != nil {
			return nil, fmt.Errorf("run: encode prompt: %w", errPrompt)
		}
		run.Params = datatypes.JSON(params)
		run.Prompt = datatypes.JSON(prompt)
	}
	if out.score != nil {
		run.Score = datatypes.JSON(out.score.Raw)
		run.RunPassed = out.score.Passed
	}
	return run, nil
}

func normalizeSessionID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.NewString(), nil
	}
	parsed, errParse := uuid.Parse(raw)
	if errParse != nil {
		return "", apierr.InvalidPayload("session_id must be a UUID")
	}
	return parsed.String(), nil
}
