package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vuelogic/schedule-agent/internal/config"
	"github.com/vuelogic/schedule-agent/internal/core"
	"github.com/vuelogic/schedule-agent/internal/store"
)

type stubProvider struct {
	name  string
	reply string
	err   error
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Complete(ctx context.Context, system string, messages []store.Message) (string, error) {
	return p.reply, p.err
}

type testEnv struct {
	router http.Handler
	store  *store.Store
}

func newTestEnv(t *testing.T, providers ...core.Provider) *testEnv {
	t.Helper()
	skillPath := filepath.Join(t.TempDir(), "SKILL.md")
	require.NoError(t, os.WriteFile(skillPath, []byte("You analyze CPM schedules."), 0o644))

	cfg := &config.Config{
		SkillPath:   skillPath,
		OpenAIModel: config.DefaultOpenAIModel,
		LessonsTail: 20,
		FilePreview: 50000,
		XERPreview:  200000,
	}
	st := store.NewMemory()
	assembler := core.NewPromptAssembler(cfg, st)
	dispatcher := core.NewDispatcherWithProviders(providers...)
	chatService := core.NewChatService(assembler, dispatcher, st)
	handler := NewAPIHandler(cfg, st, assembler, dispatcher, chatService)

	return &testEnv{router: NewRouter(handler), store: st}
}

func (e *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	return out
}

func TestHealthHandler(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody[map[string]string](t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "schedule-agent", body["agent"])
}

func TestStatusHandlerWithoutProviders(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/status", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody[map[string]any](t, w)
	assert.Equal(t, false, body["has_api_key"])
	assert.Nil(t, body["provider"])
	assert.Equal(t, true, body["skill_loaded"])
	assert.Equal(t, true, body["persistence_available"])
}

func TestStatusHandlerWithProvider(t *testing.T) {
	env := newTestEnv(t, &stubProvider{name: "claude"})
	w := env.do(t, http.MethodGet, "/api/status", nil)

	body := decodeBody[map[string]any](t, w)
	assert.Equal(t, true, body["has_api_key"])
	assert.Equal(t, "claude", body["provider"])
}

func TestChatHandlerRequiresMessage(t *testing.T) {
	env := newTestEnv(t, &stubProvider{name: "claude", reply: "hi"})
	w := env.do(t, http.MethodPost, "/api/chat", map[string]any{"message": "   "})

	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody[map[string]string](t, w)
	assert.Equal(t, "message is required", body["error"])
}

func TestChatHandlerNoCredential(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/chat", map[string]any{"message": "hello"})

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decodeBody[map[string]string](t, w)
	assert.NotEmpty(t, body["error"])
}

func TestChatHandlerSuccessPersistsConversation(t *testing.T) {
	env := newTestEnv(t, &stubProvider{name: "claude", reply: "the schedule slips 4 days"})
	sessionID := uuid.NewString()

	w := env.do(t, http.MethodPost, "/api/chat", map[string]any{
		"message":    "what if piling starts late?",
		"history":    []map[string]string{{"role": "user", "content": "context"}},
		"session_id": sessionID,
	})

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[ChatResponse](t, w)
	assert.Equal(t, "the schedule slips 4 days", resp.Reply)
	assert.Nil(t, resp.Error)

	conv := decodeBody[[]store.Message](t, env.do(t, http.MethodGet, "/api/conversation?session_id="+sessionID, nil))
	require.Len(t, conv, 2)
	assert.Equal(t, "what if piling starts late?", conv[0].Content)
	assert.Equal(t, "the schedule slips 4 days", conv[1].Content)
}

func TestChatHandlerProviderErrorIsNonFatal(t *testing.T) {
	env := newTestEnv(t, &stubProvider{name: "openai", err: errors.New("quota exceeded")})
	w := env.do(t, http.MethodPost, "/api/chat", map[string]any{"message": "hello"})

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[ChatResponse](t, w)
	assert.Empty(t, resp.Reply)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "quota exceeded", *resp.Error)
}

func TestConversationHandlerEmptySession(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/conversation?session_id=abc", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeBody[[]store.Message](t, w))

	w = env.do(t, http.MethodGet, "/api/conversation", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeBody[[]store.Message](t, w))
}

func TestLessonsRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/lessons", map[string]string{
		"event":  "monsoon delay",
		"lesson": "buffer earthworks by two weeks",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeBody[map[string]string](t, w)["status"])

	lessons := decodeBody[[]store.Lesson](t, env.do(t, http.MethodGet, "/api/lessons", nil))
	require.Len(t, lessons, 1)
	assert.Equal(t, "monsoon delay", lessons[0].Event)
	assert.NotEmpty(t, lessons[0].Date)
}

func TestTrustScoreDefaults(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/trust_score", nil)

	require.Equal(t, http.StatusOK, w.Code)
	ts := decodeBody[store.TrustScore](t, w)
	assert.Equal(t, 0, ts.Approvals)
	assert.Equal(t, 0, ts.TotalProposals)
	assert.Equal(t, 0.0, ts.AgencyScore)
	assert.Equal(t, 1.0, ts.HistoricalAccuracy)
}

func TestTrustScoreProposalSequence(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 3; i++ {
		w := env.do(t, http.MethodPost, "/api/trust_score", map[string]bool{"approved": true})
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := env.do(t, http.MethodPost, "/api/trust_score", map[string]bool{"approved": false})
	require.Equal(t, http.StatusOK, w.Code)

	ts := decodeBody[store.TrustScore](t, w)
	assert.Equal(t, 3, ts.Approvals)
	assert.Equal(t, 4, ts.TotalProposals)
	assert.InDelta(t, 0.75, ts.AgencyScore, 1e-9)
}

func multipartUpload(t *testing.T, sessionID, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("session_id", sessionID))
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestFileUploadListDelete(t *testing.T) {
	env := newTestEnv(t)
	sessionID := uuid.NewString()

	body, contentType := multipartUpload(t, sessionID, "schedule.xer", "TASK\tA1000\tMobilize")
	req := httptest.NewRequest(http.MethodPost, "/api/files", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	info := decodeBody[store.FileInfo](t, w)
	assert.Equal(t, "schedule.xer", info.Filename)
	assert.Equal(t, len("TASK\tA1000\tMobilize"), info.Size)
	assert.NotEmpty(t, info.UploadedAt)

	files := decodeBody[[]store.FileInfo](t, env.do(t, http.MethodGet, "/api/files?session_id="+sessionID, nil))
	require.Len(t, files, 1)

	w = env.do(t, http.MethodDelete, fmt.Sprintf("/api/files?session_id=%s&filename=schedule.xer", sessionID), nil)
	require.Equal(t, http.StatusOK, w.Code)

	files = decodeBody[[]store.FileInfo](t, env.do(t, http.MethodGet, "/api/files?session_id="+sessionID, nil))
	assert.Empty(t, files)
}

func TestFileUploadJSONVariantReplacesExisting(t *testing.T) {
	env := newTestEnv(t)
	sessionID := uuid.NewString()

	w := env.do(t, http.MethodPost, "/api/files", map[string]string{
		"session_id": sessionID, "filename": "notes.md", "content": "first",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/api/files", map[string]string{
		"session_id": sessionID, "filename": "notes.md", "content": "second version",
	})
	require.Equal(t, http.StatusOK, w.Code)

	files := decodeBody[[]store.FileInfo](t, env.do(t, http.MethodGet, "/api/files?session_id="+sessionID, nil))
	require.Len(t, files, 1)
	assert.Equal(t, len("second version"), files[0].Size)
}

func TestFileUploadRequiresSessionID(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/files", map[string]string{
		"filename": "notes.md", "content": "x",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFileUploadTooLarge(t *testing.T) {
	env := newTestEnv(t)
	sessionID := uuid.NewString()

	w := env.do(t, http.MethodPost, "/api/files", map[string]string{
		"session_id": sessionID,
		"filename":   "huge.txt",
		"content":    strings.Repeat("a", maxUploadBytes+1),
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	files := decodeBody[[]store.FileInfo](t, env.do(t, http.MethodGet, "/api/files?session_id="+sessionID, nil))
	assert.Empty(t, files)
}

func TestDeleteFileNotFound(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodDelete, "/api/files?session_id=abc&filename=missing.txt", nil)

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not found", decodeBody[map[string]string](t, w)["error"])
}

func TestDeleteFileRequiresParams(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodDelete, "/api/files?session_id=abc", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCORSHeadersOnResponses(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestPreflightListsAllowedMethods(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodOptions, "/api/files", nil)

	require.Equal(t, http.StatusNoContent, w.Code)
	allow := w.Header().Get("Access-Control-Allow-Methods")
	for _, m := range []string{"GET", "POST", "DELETE", "OPTIONS"} {
		assert.Contains(t, allow, m)
	}
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
