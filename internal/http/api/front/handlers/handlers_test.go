package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/microapp-studio/runcore/internal/apierr"
	"github.com/microapp-studio/runcore/internal/db"
	"github.com/microapp-studio/runcore/internal/modelregistry"
	"github.com/microapp-studio/runcore/internal/models"
	"github.com/microapp-studio/runcore/internal/run"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeExecutor struct {
	caller run.Caller
	req    run.Request
	result *models.Run
	err    error
}

func (f *fakeExecutor) Execute(_ context.Context, caller run.Caller, req run.Request) (*models.Run, error) {
	f.caller = caller
	f.req = req
	return f.result, f.err
}

type envelope struct {
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
	Code   string          `json:"code"`
	Status int             `json:"status"`
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, errOpen := db.OpenWithOptions(filepath.Join(t.TempDir(), "handlers.db"), db.Options{MaxOpenConns: 1})
	require.NoError(t, errOpen)
	t.Cleanup(func() { _ = db.Close(conn) })
	require.NoError(t, db.Migrate(conn))
	return conn
}

func newRouter(h *RunHandler, userID uint64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	authed := func(c *gin.Context) {
		if userID != 0 {
			c.Set(UserIDKey, userID)
		}
		c.Next()
	}
	r.POST("/run", authed, h.Create)
	r.POST("/run/anonymous", h.CreateAnonymous)
	r.PATCH("/run", authed, h.Patch)
	r.GET("/run", authed, h.List)
	return r
}

func do(t *testing.T, r http.Handler, method, target, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func TestDecodeRunRequestCoercesNumericStrings(t *testing.T) {
	req, err := decodeRunRequest([]byte(`{
		"ma_id": "42",
		"model": " gpt-4o-mini ",
		"user_prompt": [{"role": "User", "content": "Say hi"}],
		"temperature": "0.5",
		"top_p": 1,
		"frequency_penalty": "",
		"max_tokens": "256",
		"minimum_score": "10",
		"scored_run": true,
		"rubric": {"quality": 10, "clarity": 10}
	}`))
	require.NoError(t, err)
	require.Equal(t, uint64(42), req.MicroappID)
	require.Equal(t, "gpt-4o-mini", req.Model)
	require.Len(t, req.Messages, 1)
	require.Equal(t, "user", req.Messages[0].Role)
	require.Equal(t, 0.5, *req.Temperature)
	require.Equal(t, 1.0, *req.TopP)
	require.Nil(t, req.FrequencyPenalty)
	require.Equal(t, 256, *req.MaxTokens)
	require.Equal(t, 10.0, *req.MinimumScore)
	require.True(t, req.ScoredRun)
	require.JSONEq(t, `{"quality": 10, "clarity": 10}`, req.Rubric)
}

func TestDecodeRunRequestRejectsMalformedFields(t *testing.T) {
	cases := []struct {
		body string
		kind apierr.Kind
	}{
		{`[1, 2]`, apierr.KindInvalidPayload},
		{`{"ma_id": "abc"}`, apierr.KindInvalidPayload},
		{`{"ma_id": 1.5}`, apierr.KindInvalidPayload},
		{`{"ma_id": 1, "temperature": "hot"}`, apierr.KindInvalidParameter},
		{`{"ma_id": 1, "max_tokens": 10.5}`, apierr.KindInvalidParameter},
		{`{"ma_id": 1, "user_prompt": 7}`, apierr.KindInvalidPayload},
		{`{"ma_id": 1, "user_prompt": ["hi"]}`, apierr.KindInvalidPayload},
	}
	for _, tc := range cases {
		_, err := decodeRunRequest([]byte(tc.body))
		require.Equal(t, tc.kind, apierr.KindOf(err), tc.body)
	}
}

func TestDecodeRunRequestKeepsFixedResponseAndStringPrompt(t *testing.T) {
	req, err := decodeRunRequest([]byte(`{"ma_id": 7, "fixed_response": "", "user_prompt": "hello", "request_skip": "true"}`))
	require.NoError(t, err)
	require.NotNil(t, req.FixedResponse)
	require.Equal(t, "", *req.FixedResponse)
	require.True(t, req.RequestSkip)
	require.Equal(t, "hello", req.Messages[0].Content)
}

func TestCreateReturnsRunEnvelope(t *testing.T) {
	exec := &fakeExecutor{result: &models.Run{
		ID:           9,
		MicroappID:   42,
		OwnerID:      3,
		SessionID:    "8b0d6a8e-2d3f-4f7e-9a55-6a0f4f1b5c11",
		ResponseType: models.ResponseTypeAI,
		Response:     "Hi!",
		Cost:         decimal.RequireFromString("0.0000375"),
		Credits:      1,
	}}
	r := newRouter(NewRunHandler(exec, nil), 5)

	status, env := do(t, r, http.MethodPost, "/run", `{"ma_id": 42, "user_prompt": [{"role": "user", "content": "Say hi"}]}`)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, http.StatusOK, env.Status)
	require.NotNil(t, exec.caller.UserID)
	require.Equal(t, uint64(5), *exec.caller.UserID)
	require.Equal(t, "192.0.2.1", exec.caller.ClientIP)

	var view runView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	require.Equal(t, uint64(9), view.ID)
	require.Equal(t, int64(1), view.Credits)
	require.Equal(t, "0.0000375", view.Cost.String())
}

func TestCreateAnonymousHasNoUser(t *testing.T) {
	exec := &fakeExecutor{result: &models.Run{ID: 1}}
	r := newRouter(NewRunHandler(exec, nil), 0)

	status, _ := do(t, r, http.MethodPost, "/run/anonymous", `{"ma_id": 42, "request_skip": true}`)
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, exec.caller.UserID)
	require.True(t, exec.req.RequestSkip)
}

func TestCreateMapsErrorKindsToStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   apierr.Kind
	}{
		{apierr.QuotaExceeded(), http.StatusBadRequest, apierr.KindQuotaExceeded},
		{apierr.NoCredits(), http.StatusBadRequest, apierr.KindNoCredits},
		{apierr.MicroappNotFound(42), http.StatusNotFound, apierr.KindMicroappNotFound},
		{apierr.Provider(http.StatusUnprocessableEntity, "bad temperature", nil), http.StatusBadRequest, apierr.KindProviderError},
		{apierr.Provider(http.StatusBadGateway, "upstream down", nil), http.StatusInternalServerError, apierr.KindProviderError},
		{apierr.Server(context.DeadlineExceeded), http.StatusInternalServerError, apierr.KindServerError},
	}
	for _, tc := range cases {
		exec := &fakeExecutor{err: tc.err}
		r := newRouter(NewRunHandler(exec, nil), 5)
		status, env := do(t, r, http.MethodPost, "/run", `{"ma_id": 42}`)
		require.Equal(t, tc.status, status, tc.code)
		require.Equal(t, tc.status, env.Status)
		require.Equal(t, string(tc.code), env.Code)
		if tc.code == apierr.KindServerError {
			require.Equal(t, "internal server error", env.Error)
		}
	}
}

func TestPatchAndListRuns(t *testing.T) {
	conn := openTestDB(t)
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	userID := uint64(5)
	runs := []models.Run{
		{MicroappID: 42, UserID: &userID, OwnerID: 3, SessionID: "8b0d6a8e-2d3f-4f7e-9a55-6a0f4f1b5c11", Phase: "normal", ResponseType: models.ResponseTypeAI, CreatedAt: base},
		{MicroappID: 42, UserID: &userID, OwnerID: 3, SessionID: "8b0d6a8e-2d3f-4f7e-9a55-6a0f4f1b5c11", Phase: "normal", ResponseType: models.ResponseTypeAI, CreatedAt: base.Add(24 * time.Hour)},
		{MicroappID: 43, OwnerID: 3, SessionID: "1f0e8c51-57b4-4d8c-8a2e-0c6f3e9d7a20", Phase: "skip", ResponseType: models.ResponseTypeFixed, CreatedAt: base.Add(48 * time.Hour)},
	}
	for i := range runs {
		require.NoError(t, conn.Create(&runs[i]).Error)
	}
	r := newRouter(NewRunHandler(&fakeExecutor{}, run.NewStore(conn)), userID)

	status, env := do(t, r, http.MethodPatch, "/run", `{"id": "8b0d6a8e-2d3f-4f7e-9a55-6a0f4f1b5c11", "satisfaction": 1, "feedback": "great"}`)
	require.Equal(t, http.StatusOK, status)
	var patched runView
	require.NoError(t, json.Unmarshal(env.Data, &patched))
	require.Equal(t, runs[1].ID, patched.ID)
	require.Equal(t, 1, *patched.Satisfaction)
	require.Equal(t, "great", patched.Feedback)

	status, env = do(t, r, http.MethodPatch, "/run", `{"id": 1, "owner_id": 9}`)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, string(apierr.KindInvalidPayload), env.Code)

	status, env = do(t, r, http.MethodPatch, "/run", `{"id": 999, "satisfaction": 0}`)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, string(apierr.KindRunNotFound), env.Code)

	status, env = do(t, r, http.MethodGet, "/run?ma_id=42&start_date=2026-03-10&end_date=2026-03-10", "")
	require.Equal(t, http.StatusOK, status)
	var listed []runView
	require.NoError(t, json.Unmarshal(env.Data, &listed))
	require.Len(t, listed, 1)
	require.Equal(t, runs[0].ID, listed[0].ID)

	status, env = do(t, r, http.MethodGet, "/run?user_id=5", "")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &listed))
	require.Len(t, listed, 2)

	status, env = do(t, r, http.MethodGet, "/run?start_date=03/10/2026", "")
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, string(apierr.KindInvalidParameter), env.Code)
}

func TestRunsOfAnotherUserAreHidden(t *testing.T) {
	conn := openTestDB(t)
	author := uint64(5)
	owned := models.Run{MicroappID: 42, UserID: &author, OwnerID: 3, SessionID: "5d6c2f1e-8a3b-4c7d-9e0f-1a2b3c4d5e6f", Phase: "normal", ResponseType: models.ResponseTypeAI, UserIP: "198.51.100.7"}
	require.NoError(t, conn.Create(&owned).Error)
	store := run.NewStore(conn)

	intruder := newRouter(NewRunHandler(&fakeExecutor{}, store), 7)
	status, env := do(t, intruder, http.MethodGet, "/run", "")
	require.Equal(t, http.StatusOK, status)
	var listed []runView
	require.NoError(t, json.Unmarshal(env.Data, &listed))
	require.Empty(t, listed)

	status, env = do(t, intruder, http.MethodGet, "/run?user_id=5", "")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &listed))
	require.Empty(t, listed)

	status, env = do(t, intruder, http.MethodPatch, "/run", fmt.Sprintf(`{"id": %d, "feedback": "spam"}`, owned.ID))
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, string(apierr.KindRunNotFound), env.Code)

	status, env = do(t, intruder, http.MethodPatch, "/run", `{"id": "5d6c2f1e-8a3b-4c7d-9e0f-1a2b3c4d5e6f", "satisfaction": -1}`)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, string(apierr.KindRunNotFound), env.Code)

	for _, callerID := range []uint64{5, 3} {
		status, env = do(t, newRouter(NewRunHandler(&fakeExecutor{}, store), callerID), http.MethodGet, "/run", "")
		require.Equal(t, http.StatusOK, status)
		require.NoError(t, json.Unmarshal(env.Data, &listed))
		require.Len(t, listed, 1, "caller %d", callerID)
	}

	var reloaded models.Run
	require.NoError(t, conn.First(&reloaded, owned.ID).Error)
	require.Empty(t, reloaded.Feedback)
	require.Nil(t, reloaded.Satisfaction)
}

func TestModelConfigurationFiltersByPlan(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/models/configuration", NewModelConfigHandler(modelregistry.Default()).List)

	status, env := do(t, r, http.MethodGet, "/models/configuration", "")
	require.Equal(t, http.StatusOK, status)
	var all []modelregistry.PublicModel
	require.NoError(t, json.Unmarshal(env.Data, &all))

	status, env = do(t, r, http.MethodGet, "/models/configuration?plan=Free", "")
	require.Equal(t, http.StatusOK, status)
	var free []modelregistry.PublicModel
	require.NoError(t, json.Unmarshal(env.Data, &free))
	require.NotEmpty(t, free)
	require.Less(t, len(free), len(all))
	for _, m := range free {
		require.NotEqual(t, "gpt-4o", m.ID)
	}

	status, env = do(t, r, http.MethodGet, "/models/configuration?plan=gold", "")
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, string(apierr.KindInvalidParameter), env.Code)
}
