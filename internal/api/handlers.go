package api

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/vuelogic/schedule-agent/internal/config"
	"github.com/vuelogic/schedule-agent/internal/core"
	"github.com/vuelogic/schedule-agent/internal/store"
)

// maxUploadBytes caps uploaded file size at 10 MiB.
const maxUploadBytes = 10 * 1024 * 1024

type APIHandler struct {
	cfg         *config.Config
	store       *store.Store
	assembler   *core.PromptAssembler
	dispatcher  *core.Dispatcher
	chatService *core.ChatService
}

func NewAPIHandler(cfg *config.Config, st *store.Store, a *core.PromptAssembler, d *core.Dispatcher, cs *core.ChatService) *APIHandler {
	return &APIHandler{
		cfg:         cfg,
		store:       st,
		assembler:   a,
		dispatcher:  d,
		chatService: cs,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "agent": "schedule-agent"})
}

func (h *APIHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	var provider any
	if name := h.dispatcher.ProviderName(); name != "" {
		provider = name
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":                "ok",
		"has_api_key":           h.dispatcher.HasProvider(),
		"has_anthropic_key":     h.cfg.HasAnthropicKey(),
		"has_openai_key":        h.cfg.HasOpenAIKey(),
		"provider":              provider,
		"skill_loaded":          h.assembler.SkillLoaded(),
		"persistence_available": h.store.Available(),
	})
}

type ChatRequest struct {
	Message   string          `json:"message"`
	History   []store.Message `json:"history"`
	SessionID string          `json:"session_id"`
}

type ChatResponse struct {
	Reply string  `json:"reply"`
	Error *string `json:"error"`
}

func (h *APIHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if !h.dispatcher.HasProvider() {
		writeError(w, http.StatusServiceUnavailable, "Set OPENAI_API_KEY or ANTHROPIC_API_KEY in environment.")
		return
	}

	reply, errText := h.chatService.Chat(r.Context(), req.SessionID, req.Message, req.History)

	resp := ChatResponse{Reply: reply}
	if errText != "" {
		resp.Error = &errText
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *APIHandler) ConversationHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	conv, err := h.store.Conversation(r.Context(), sessionID)
	if err != nil {
		log.Printf("Failed to load conversation %s: %v", sessionID, err)
		conv = []store.Message{}
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *APIHandler) GetLessonsHandler(w http.ResponseWriter, r *http.Request) {
	lessons, err := h.store.Lessons(r.Context())
	if err != nil {
		log.Printf("Failed to load lessons: %v", err)
		lessons = []store.Lesson{}
	}
	writeJSON(w, http.StatusOK, lessons)
}

func (h *APIHandler) AppendLessonHandler(w http.ResponseWriter, r *http.Request) {
	var entry store.Lesson
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := h.store.AppendLesson(r.Context(), entry); err != nil {
		log.Printf("Failed to append lesson: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *APIHandler) GetTrustScoreHandler(w http.ResponseWriter, r *http.Request) {
	ts, err := h.store.TrustScore(r.Context())
	if err != nil {
		log.Printf("Failed to load trust score: %v", err)
	}
	writeJSON(w, http.StatusOK, ts)
}

type TrustScoreUpdate struct {
	Approved bool `json:"approved"`
}

func (h *APIHandler) RecordProposalHandler(w http.ResponseWriter, r *http.Request) {
	var update TrustScoreUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := h.store.RecordProposal(r.Context(), update.Approved); err != nil {
		log.Printf("Failed to record proposal: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ts, err := h.store.TrustScore(r.Context())
	if err != nil {
		log.Printf("Failed to read back trust score: %v", err)
	}
	writeJSON(w, http.StatusOK, ts)
}

func (h *APIHandler) ListFilesHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	files, err := h.store.Files(r.Context(), sessionID)
	if err != nil {
		log.Printf("Failed to list files for %s: %v", sessionID, err)
		files = []store.FileInfo{}
	}
	writeJSON(w, http.StatusOK, files)
}

type jsonUpload struct {
	SessionID string `json:"session_id"`
	Filename  string `json:"filename"`
	Content   string `json:"content"`
}

// UploadFileHandler accepts either a multipart form (file + session_id) or a
// JSON body {session_id, filename, content}.
func (h *APIHandler) UploadFileHandler(w http.ResponseWriter, r *http.Request) {
	sessionID, filename, content, ok := h.readUpload(w, r)
	if !ok {
		return
	}
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id required")
		return
	}
	if filename == "" {
		filename = "upload.txt"
	}
	// Uploads are text (CSV, MD, TXT, XER); invalid bytes are replaced
	// rather than rejected.
	content = strings.ToValidUTF8(content, "�")

	info, err := h.store.SaveFile(r.Context(), sessionID, filename, content)
	if err != nil {
		log.Printf("Failed to save file %s for %s: %v", filename, sessionID, err)
		writeError(w, http.StatusInternalServerError, "Failed to save file")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// readUpload extracts the upload from either transport, enforcing the size
// cap before anything is stored. A false return means a response was written.
func (h *APIHandler) readUpload(w http.ResponseWriter, r *http.Request) (sessionID, filename, content string, ok bool) {
	if strings.Contains(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid multipart form: "+err.Error())
			return "", "", "", false
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "file is required")
			return "", "", "", false
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, "Failed to read upload: "+err.Error())
			return "", "", "", false
		}
		if len(data) > maxUploadBytes {
			writeError(w, http.StatusBadRequest, "File too large (max 10MB)")
			return "", "", "", false
		}
		return strings.TrimSpace(r.FormValue("session_id")), header.Filename, string(data), true
	}

	var req jsonUpload
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadBytes+1024)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return "", "", "", false
	}
	if len(req.Content) > maxUploadBytes {
		writeError(w, http.StatusBadRequest, "File too large (max 10MB)")
		return "", "", "", false
	}
	return strings.TrimSpace(req.SessionID), req.Filename, req.Content, true
}

func (h *APIHandler) DeleteFileHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	filename := strings.TrimSpace(r.URL.Query().Get("filename"))
	if sessionID == "" || filename == "" {
		writeError(w, http.StatusBadRequest, "session_id and filename required")
		return
	}
	deleted, err := h.store.DeleteFile(r.Context(), sessionID, filename)
	if err != nil {
		log.Printf("Failed to delete file %s for %s: %v", filename, sessionID, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
