// Package httpapi implements the HTTP surface of §6: a workspace-scoped
// REST API for collector ingestion, canonical narratives, recommendations,
// and watch configuration, plus an optional debug websocket stream.
// Grounded on the teacher's internal/http package (net/http.ServeMux with
// Go 1.22 method-pattern routes, a shared writeJSON helper, bearer-token
// middleware) and internal/gateway/server.go for the websocket upgrader.
package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kulesh/catsyphon-sub001/internal/apperr"
	"github.com/kulesh/catsyphon-sub001/internal/canon"
	"github.com/kulesh/catsyphon-sub001/internal/collector"
	"github.com/kulesh/catsyphon-sub001/internal/domain"
	"github.com/kulesh/catsyphon-sub001/internal/store"
	"github.com/kulesh/catsyphon-sub001/internal/watch"
)

// Server wires every HTTP handler against the store aggregate and the
// collector/canon/watch components that back them.
type Server struct {
	Stores       *store.Stores
	Collector    *collector.Collector
	Canon        *canon.Generator
	WatchManager *watch.Manager
	Logger       *slog.Logger

	upgrader websocket.Upgrader
}

func NewServer(stores *store.Stores, coll *collector.Collector, canonGen *canon.Generator, watchMgr *watch.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Stores:       stores,
		Collector:    coll,
		Canon:        canonGen,
		WatchManager: watchMgr,
		Logger:       logger,
		upgrader:     websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// Mux builds the ServeMux with every route registered.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /setup/organizations", s.handleSetupOrganization)
	mux.HandleFunc("POST /setup/workspaces", s.handleSetupWorkspace)
	mux.HandleFunc("GET /setup/status", s.handleSetupStatus)

	mux.HandleFunc("POST /collectors", s.workspaceScoped(s.handleRegisterCollector))
	mux.HandleFunc("POST /collectors/events", s.workspaceScoped(s.collectorAuthed(s.handleCollectorEvents)))
	mux.HandleFunc("GET /collectors/sessions/{id}", s.workspaceScoped(s.collectorAuthed(s.handleGetSession)))
	mux.HandleFunc("POST /collectors/sessions/{id}/complete", s.workspaceScoped(s.collectorAuthed(s.handleCompleteSession)))

	mux.HandleFunc("GET /conversations/{id}/canonical", s.workspaceScoped(s.handleGetCanonical))
	mux.HandleFunc("POST /conversations/{id}/canonical/regenerate", s.workspaceScoped(s.handleRegenerateCanonical))

	mux.HandleFunc("GET /recommendations", s.workspaceScoped(s.handleListRecommendations))
	mux.HandleFunc("POST /recommendations", s.workspaceScoped(s.handleCreateRecommendation))
	mux.HandleFunc("PATCH /recommendations/{id}", s.workspaceScoped(s.handlePatchRecommendation))

	mux.HandleFunc("GET /watch/configs", s.workspaceScoped(s.handleListWatchConfigs))
	mux.HandleFunc("POST /watch/configs", s.workspaceScoped(s.handleCreateWatchConfig))
	mux.HandleFunc("PUT /watch/configs/{id}", s.workspaceScoped(s.handleUpdateWatchConfig))
	mux.HandleFunc("DELETE /watch/configs/{id}", s.workspaceScoped(s.handleDeleteWatchConfig))
	mux.HandleFunc("POST /watch/configs/{id}/start", s.workspaceScoped(s.handleStartWatchConfig))
	mux.HandleFunc("POST /watch/configs/{id}/stop", s.workspaceScoped(s.handleStopWatchConfig))

	mux.HandleFunc("GET /debug/stream", s.handleDebugStream)

	return mux
}

// --- middleware ---

type ctxKey int

const workspaceIDKey ctxKey = iota

func workspaceIDFrom(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(workspaceIDKey).(uuid.UUID)
	return id
}

// workspaceScoped requires X-Workspace-Id; every route but /setup/* and
// /debug/stream is wrapped in it (§6).
func (s *Server) workspaceScoped(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("X-Workspace-Id")
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "X-Workspace-Id header required")
			return
		}
		ctx := context.WithValue(r.Context(), workspaceIDKey, id)
		next(w, r.WithContext(ctx))
	}
}

// collectorAuthed additionally requires Authorization: Bearer <api_key> and
// X-Collector-Id on collector endpoints (§6).
func (s *Server) collectorAuthed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workspaceID := workspaceIDFrom(r.Context())
		collectorID, err := uuid.Parse(r.Header.Get("X-Collector-Id"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "X-Collector-Id header required")
			return
		}
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Authorization bearer token required")
			return
		}
		coll, err := s.Stores.Collectors.GetByID(r.Context(), workspaceID, collectorID)
		if err != nil {
			if apperr.KindOf(err) == apperr.NotFound {
				writeError(w, http.StatusNotFound, "collector not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if hashAPIKey(token) != coll.APIKeyHash {
			writeError(w, http.StatusForbidden, "invalid api key")
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

func hashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func generateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusFor maps an apperr.Kind to the HTTP status named in §6.
func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.InvalidArgument, apperr.ParseError, apperr.UnknownFormat:
		return http.StatusBadRequest
	case apperr.DuplicateFile, apperr.Conflict:
		return http.StatusConflict
	case apperr.PermissionDenied:
		return http.StatusForbidden
	case apperr.GapDetected:
		return http.StatusConflict
	case apperr.Transient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeAppError(w http.ResponseWriter, err error) {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		writeJSON(w, statusFor(err), map[string]string{"error": ae.Message, "kind": string(ae.Kind), "hint": ae.Hint})
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(r.PathValue(name))
}

func queryBool(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}

// --- setup ---

func (s *Server) handleSetupOrganization(w http.ResponseWriter, r *http.Request) {
	// Organizations collapse onto workspaces in this deployment (§3
	// "workspace is the tenancy root"); registering one just creates the
	// workspace that will own it.
	s.createWorkspace(w, r)
}

func (s *Server) handleSetupWorkspace(w http.ResponseWriter, r *http.Request) {
	s.createWorkspace(w, r)
}

func (s *Server) createWorkspace(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	ws := &domain.Workspace{Name: body.Name}
	if err := s.Stores.Workspaces.Create(r.Context(), ws); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ws)
}

func (s *Server) handleSetupStatus(w http.ResponseWriter, r *http.Request) {
	workspaces, err := s.Stores.Workspaces.List(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"configured": len(workspaces) > 0, "workspace_count": len(workspaces)})
}

// --- collectors ---

func (s *Server) handleRegisterCollector(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	apiKey, err := generateAPIKey()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generate api key")
		return
	}
	coll := &domain.Collector{
		WorkspaceID: workspaceIDFrom(r.Context()),
		Name:        body.Name,
		APIKeyHash:  hashAPIKey(apiKey),
	}
	if err := s.Stores.Collectors.Create(r.Context(), coll); err != nil {
		writeAppError(w, err)
		return
	}
	// api_key is shown exactly once; only its hash is ever persisted.
	writeJSON(w, http.StatusCreated, map[string]any{"collector_id": coll.ID, "api_key": apiKey})
}

func (s *Server) handleCollectorEvents(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string            `json:"session_id"`
		Events    []collector.Event `json:"events"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result, err := s.Collector.ApplyBatch(r.Context(), workspaceIDFrom(r.Context()), collector.BatchRequest{
		SessionID: body.SessionID,
		Events:    body.Events,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	status, err := s.Collector.GetSession(r.Context(), workspaceIDFrom(r.Context()), sessionID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleCompleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	var body struct {
		Success *bool `json:"success,omitempty"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	result, err := s.Collector.Complete(r.Context(), workspaceIDFrom(r.Context()), sessionID, body.Success)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- canonical ---

func (s *Server) handleGetCanonical(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	canonicalType := domain.CanonicalType(r.URL.Query().Get("canonical_type"))
	if canonicalType == "" {
		canonicalType = domain.CanonicalTagging
	}
	strategy := canon.SamplingStrategy(r.URL.Query().Get("sampling_strategy"))
	if strategy == "" {
		strategy = canon.Semantic
	}
	force := queryBool(r, "force_regenerate")

	cache, err := s.Canon.Get(r.Context(), workspaceIDFrom(r.Context()), id, canonicalType, strategy, force)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cache)
}

func (s *Server) handleRegenerateCanonical(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	canonicalType := domain.CanonicalType(r.URL.Query().Get("canonical_type"))
	if canonicalType == "" {
		canonicalType = domain.CanonicalTagging
	}
	strategy := canon.SamplingStrategy(r.URL.Query().Get("sampling_strategy"))
	if strategy == "" {
		strategy = canon.Semantic
	}
	cache, err := s.Canon.Get(r.Context(), workspaceIDFrom(r.Context()), id, canonicalType, strategy, true)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cache)
}

// --- recommendations ---

func (s *Server) handleListRecommendations(w http.ResponseWriter, r *http.Request) {
	conversationID, err := uuid.Parse(r.URL.Query().Get("conversation_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "conversation_id query parameter required")
		return
	}
	recs, err := s.Stores.Recommendations.List(r.Context(), workspaceIDFrom(r.Context()), conversationID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recommendations": recs})
}

func (s *Server) handleCreateRecommendation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ConversationID uuid.UUID       `json:"conversation_id"`
		Kind           string          `json:"kind"`
		Payload        json.RawMessage `json:"payload,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Kind == "" {
		writeError(w, http.StatusBadRequest, "conversation_id and kind are required")
		return
	}
	rec := &domain.Recommendation{
		WorkspaceID:    workspaceIDFrom(r.Context()),
		ConversationID: body.ConversationID,
		Kind:           body.Kind,
		Status:         domain.RecommendationOpen,
		Payload:        body.Payload,
	}
	if err := s.Stores.Recommendations.Create(r.Context(), rec); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handlePatchRecommendation(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid recommendation id")
		return
	}
	var body struct {
		Status domain.RecommendationStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}
	if err := s.Stores.Recommendations.UpdateStatus(r.Context(), workspaceIDFrom(r.Context()), id, body.Status); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(body.Status)})
}

// --- watch configs ---

func (s *Server) handleListWatchConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := s.Stores.WatchConfigs.List(r.Context(), workspaceIDFrom(r.Context()))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"watch_configs": configs})
}

func (s *Server) handleCreateWatchConfig(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DirectoryPath string `json:"directory_path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.DirectoryPath == "" {
		writeError(w, http.StatusBadRequest, "directory_path is required")
		return
	}
	cfg := &domain.WatchConfig{WorkspaceID: workspaceIDFrom(r.Context()), DirectoryPath: body.DirectoryPath}
	if err := s.Stores.WatchConfigs.Create(r.Context(), cfg); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

func (s *Server) handleUpdateWatchConfig(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid watch config id")
		return
	}
	var body struct {
		DirectoryPath string `json:"directory_path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.DirectoryPath == "" {
		writeError(w, http.StatusBadRequest, "directory_path is required")
		return
	}
	cfg := &domain.WatchConfig{ID: id, WorkspaceID: workspaceIDFrom(r.Context()), DirectoryPath: body.DirectoryPath}
	if err := s.Stores.WatchConfigs.Update(r.Context(), cfg); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleDeleteWatchConfig(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid watch config id")
		return
	}
	workspaceID := workspaceIDFrom(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if s.WatchManager != nil && s.WatchManager.IsActive(id) {
		_ = s.WatchManager.StopDaemon(ctx, workspaceID, id)
	}
	if err := s.Stores.WatchConfigs.Delete(r.Context(), workspaceID, id); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartWatchConfig(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid watch config id")
		return
	}
	workspaceID := workspaceIDFrom(r.Context())
	cfg, err := s.Stores.WatchConfigs.Get(r.Context(), workspaceID, id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := s.WatchManager.StartDaemon(ctx, *cfg); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"is_active": true})
}

func (s *Server) handleStopWatchConfig(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid watch config id")
		return
	}
	workspaceID := workspaceIDFrom(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := s.WatchManager.StopDaemon(ctx, workspaceID, id); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"is_active": false})
}

// --- debug websocket ---

// handleDebugStream upgrades to a websocket and pushes a heartbeat, a
// minimal optional debug surface (§10) distinct from the REST API — useful
// for watching ingestion activity live without polling.
func (s *Server) handleDebugStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn("httpapi.websocket_upgrade_failed", "error", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case t := <-ticker.C:
			if err := conn.WriteJSON(map[string]any{"type": "heartbeat", "at": t.UTC()}); err != nil {
				return
			}
		}
	}
}
