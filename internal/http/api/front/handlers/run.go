package handlers

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/microapp-studio/runcore/internal/apierr"
	"github.com/microapp-studio/runcore/internal/models"
	"github.com/microapp-studio/runcore/internal/provider"
	"github.com/microapp-studio/runcore/internal/run"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// maxBodyBytes bounds run request bodies.
const maxBodyBytes = 4 << 20

// dateLayout is the format of the start_date and end_date filters.
const dateLayout = "2006-01-02"

// Executor runs one microapp phase.
type Executor interface {
	Execute(ctx context.Context, caller run.Caller, req run.Request) (*models.Run, error)
}

// RunHandler serves the /run endpoints.
type RunHandler struct {
	executor Executor
	store    *run.Store
}

// NewRunHandler constructs a RunHandler.
func NewRunHandler(executor Executor, store *run.Store) *RunHandler {
	return &RunHandler{executor: executor, store: store}
}

// runView is the client representation of a run.
type runView struct {
	ID           uint64          `json:"id"`
	MicroappID   uint64          `json:"ma_id"`
	UserID       *uint64         `json:"user_id"`
	OwnerID      uint64          `json:"owner_id"`
	SessionID    string          `json:"session_id"`
	ModelID      string          `json:"model"`
	Phase        string          `json:"phase"`
	Response     string          `json:"response"`
	ResponseType string          `json:"response_type"`
	InputTokens  int64           `json:"input_tokens"`
	OutputTokens int64           `json:"output_tokens"`
	Cost         decimal.Decimal `json:"cost"`
	Credits      int64           `json:"credits"`
	Params       json.RawMessage `json:"params,omitempty"`
	Prompt       json.RawMessage `json:"user_prompt,omitempty"`
	Score        json.RawMessage `json:"score,omitempty"`
	RunPassed    bool            `json:"run_passed"`
	MinimumScore *float64        `json:"minimum_score"`
	Satisfaction *int            `json:"satisfaction"`
	Feedback     string          `json:"feedback"`
	UserIP       string          `json:"user_ip"`
	AppHashID    string          `json:"app_hash_id"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func newRunView(r *models.Run) runView {
	return runView{
		ID:           r.ID,
		MicroappID:   r.MicroappID,
		UserID:       r.UserID,
		OwnerID:      r.OwnerID,
		SessionID:    r.SessionID,
		ModelID:      r.ModelID,
		Phase:        r.Phase,
		Response:     r.Response,
		ResponseType: r.ResponseType,
		InputTokens:  r.InputTokens,
		OutputTokens: r.OutputTokens,
		Cost:         r.Cost,
		Credits:      r.Credits,
		Params:       rawJSON(r.Params),
		Prompt:       rawJSON(r.Prompt),
		Score:        rawJSON(r.Score),
		RunPassed:    r.RunPassed,
		MinimumScore: r.MinimumScore,
		Satisfaction: r.Satisfaction,
		Feedback:     r.Feedback,
		UserIP:       r.UserIP,
		AppHashID:    r.AppHashID,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func rawJSON(b []byte) json.RawMessage {
	if len(b) == 0 || !json.Valid(b) {
		return nil
	}
	return json.RawMessage(b)
}

// Create executes a run for the authenticated user.
func (h *RunHandler) Create(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		respondError(c, apierr.FieldMissing("user_id"))
		return
	}
	h.execute(c, run.Caller{UserID: &userID, ClientIP: c.ClientIP()})
}

// CreateAnonymous executes a run for a guest, gated by the guest session policy.
func (h *RunHandler) CreateAnonymous(c *gin.Context) {
	h.execute(c, run.Caller{ClientIP: c.ClientIP()})
}

func (h *RunHandler) execute(c *gin.Context, caller run.Caller) {
	body, errRead := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if errRead != nil {
		respondError(c, apierr.InvalidPayload("read body failed"))
		return
	}
	req, errDecode := decodeRunRequest(body)
	if errDecode != nil {
		respondError(c, errDecode)
		return
	}
	result, errRun := h.executor.Execute(c.Request.Context(), caller, req)
	if errRun != nil {
		respondError(c, errRun)
		return
	}
	respondData(c, newRunView(result))
}

// Patch updates the feedback fields of a run the caller made or owns, selected by id or session id.
func (h *RunHandler) Patch(c *gin.Context) {
	body, errRead := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if errRead != nil {
		respondError(c, apierr.InvalidPayload("read body failed"))
		return
	}
	patch, errParse := run.ParsePatch(body)
	if errParse != nil {
		respondError(c, errParse)
		return
	}
	patch.CallerID = getUserID(c)
	updated, errApply := h.store.Apply(c.Request.Context(), patch)
	if errApply != nil {
		respondError(c, errApply)
		return
	}
	respondData(c, newRunView(updated))
}

// List returns the caller's runs filtered by user_id, ma_id, session_id, start_date and end_date.
func (h *RunHandler) List(c *gin.Context) {
	filter, errFilter := parseRunFilter(c)
	if errFilter != nil {
		respondError(c, errFilter)
		return
	}
	filter.CallerID = getUserID(c)
	runs, errList := h.store.List(c.Request.Context(), filter)
	if errList != nil {
		respondError(c, errList)
		return
	}
	views := make([]runView, 0, len(runs))
	for i := range runs {
		views = append(views, newRunView(&runs[i]))
	}
	respondData(c, views)
}

func parseRunFilter(c *gin.Context) (run.Filter, error) {
	var f run.Filter
	if raw := strings.TrimSpace(c.Query("user_id")); raw != "" {
		id, errParse := strconv.ParseUint(raw, 10, 64)
		if errParse != nil {
			return f, apierr.InvalidParameter("user_id", "must be a positive integer")
		}
		f.UserID = &id
	}
	if raw := strings.TrimSpace(c.Query("ma_id")); raw != "" {
		id, errParse := strconv.ParseUint(raw, 10, 64)
		if errParse != nil {
			return f, apierr.InvalidParameter("ma_id", "must be a positive integer")
		}
		f.MicroappID = &id
	}
	f.SessionID = strings.TrimSpace(c.Query("session_id"))
	if raw := strings.TrimSpace(c.Query("start_date")); raw != "" {
		start, errParse := time.ParseInLocation(dateLayout, raw, time.UTC)
		if errParse != nil {
			return f, apierr.InvalidParameter("start_date", "must be formatted as YYYY-MM-DD")
		}
		f.StartAt = &start
	}
	if raw := strings.TrimSpace(c.Query("end_date")); raw != "" {
		end, errParse := time.ParseInLocation(dateLayout, raw, time.UTC)
		if errParse != nil {
			return f, apierr.InvalidParameter("end_date", "must be formatted as YYYY-MM-DD")
		}
		// end_date is inclusive of the whole day.
		end = end.Add(24 * time.Hour)
		f.EndBefore = &end
	}
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		limit, errParse := strconv.Atoi(raw)
		if errParse != nil || limit < 1 {
			return f, apierr.InvalidParameter("limit", "must be a positive integer")
		}
		f.Limit = limit
	}
	return f, nil
}

// decodeRunRequest reads a run body, coercing numeric fields sent as strings.
func decodeRunRequest(body []byte) (run.Request, error) {
	var req run.Request
	if len(strings.TrimSpace(string(body))) == 0 {
		return req, apierr.FieldMissing("ma_id")
	}
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		return req, apierr.InvalidPayload("body must be a JSON object")
	}
	doc := gjson.ParseBytes(body)

	maID, errID := uintField(doc, "ma_id")
	if errID != nil {
		return req, errID
	}
	req.MicroappID = maID
	req.Model = strings.TrimSpace(doc.Get("model").String())
	req.SessionID = strings.TrimSpace(doc.Get("session_id").String())

	messages, errMessages := messagesField(doc.Get("user_prompt"))
	if errMessages != nil {
		return req, errMessages
	}
	req.Messages = messages

	var errField error
	if req.Temperature, errField = floatField(doc, "temperature"); errField != nil {
		return req, errField
	}
	if req.TopP, errField = floatField(doc, "top_p"); errField != nil {
		return req, errField
	}
	if req.FrequencyPenalty, errField = floatField(doc, "frequency_penalty"); errField != nil {
		return req, errField
	}
	if req.PresencePenalty, errField = floatField(doc, "presence_penalty"); errField != nil {
		return req, errField
	}
	if req.MinimumScore, errField = floatField(doc, "minimum_score"); errField != nil {
		return req, errField
	}
	if req.MaxTokens, errField = intField(doc, "max_tokens"); errField != nil {
		return req, errField
	}

	req.RequestSkip = doc.Get("request_skip").Bool()
	req.NoSubmission = doc.Get("no_submission").Bool()
	req.ScoredRun = doc.Get("scored_run").Bool()
	if v := doc.Get("fixed_response"); v.Exists() && v.Type != gjson.Null {
		fixed := v.String()
		req.FixedResponse = &fixed
	}
	switch rubric := doc.Get("rubric"); {
	case rubric.IsObject() || rubric.IsArray():
		req.Rubric = rubric.Raw
	case rubric.Exists() && rubric.Type != gjson.Null:
		req.Rubric = rubric.String()
	}
	return req, nil
}

func present(v gjson.Result) bool {
	if !v.Exists() || v.Type == gjson.Null {
		return false
	}
	return v.Type != gjson.String || strings.TrimSpace(v.String()) != ""
}

func floatField(doc gjson.Result, name string) (*float64, error) {
	v := doc.Get(name)
	if !present(v) {
		return nil, nil
	}
	var f float64
	switch v.Type {
	case gjson.Number:
		f = v.Num
	case gjson.String:
		parsed, errParse := strconv.ParseFloat(strings.TrimSpace(v.String()), 64)
		if errParse != nil {
			return nil, apierr.InvalidParameter(name, "must be a number")
		}
		f = parsed
	default:
		return nil, apierr.InvalidParameter(name, "must be a number")
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, apierr.InvalidParameter(name, "must be a finite number")
	}
	return &f, nil
}

func intField(doc gjson.Result, name string) (*int, error) {
	f, err := floatField(doc, name)
	if err != nil || f == nil {
		return nil, err
	}
	if *f != math.Trunc(*f) || math.Abs(*f) > math.MaxInt32 {
		return nil, apierr.InvalidParameter(name, "must be an integer")
	}
	n := int(*f)
	return &n, nil
}

func uintField(doc gjson.Result, name string) (uint64, error) {
	f, err := floatField(doc, name)
	if err != nil {
		return 0, apierr.InvalidPayload(name + " must be a positive integer")
	}
	if f == nil {
		return 0, nil
	}
	if *f < 1 || *f != math.Trunc(*f) {
		return 0, apierr.InvalidPayload(name + " must be a positive integer")
	}
	return uint64(*f), nil
}

// messagesField accepts a message array or a bare string treated as one user turn.
func messagesField(v gjson.Result) ([]provider.Message, error) {
	switch {
	case !v.Exists() || v.Type == gjson.Null:
		return nil, nil
	case v.Type == gjson.String:
		if strings.TrimSpace(v.String()) == "" {
			return nil, nil
		}
		return []provider.Message{{Role: provider.RoleUser, Content: v.String()}}, nil
	case v.IsArray():
		var messages []provider.Message
		for _, item := range v.Array() {
			if !item.IsObject() {
				return nil, apierr.InvalidPayload("user_prompt entries must be objects with role and content")
			}
			content := item.Get("content")
			text := content.String()
			if content.IsObject() || content.IsArray() {
				text = content.Raw
			}
			messages = append(messages, provider.Message{
				Role:    strings.ToLower(strings.TrimSpace(item.Get("role").String())),
				Content: text,
			})
		}
		return messages, nil
	default:
		return nil, apierr.InvalidPayload("user_prompt must be an array of messages")
	}
}
