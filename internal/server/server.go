package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"shelfscan/internal/app"
	"shelfscan/internal/devicetoken"
	"shelfscan/internal/ratelimit"
	"shelfscan/internal/scan"
	"shelfscan/internal/util"
	"shelfscan/pkg/domain"
	"shelfscan/pkg/openlibrary"
	"shelfscan/pkg/store"
)

const maxBodyBytes = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App    *app.App
	Scans  *scan.Manager
	Tokens *devicetoken.Authority
	// LookupLimiter throttles endpoints that hit the upstream catalog.
	// Nil disables throttling.
	LookupLimiter     *ratelimit.FixedWindowLimiter
	TrustProxyHeaders bool
}

// Server exposes the HTTP API: device pairing, scan sessions, catalog
// lookups and management, browse, export and batch import.
type Server struct {
	app           *app.App
	scans         *scan.Manager
	tokens        *devicetoken.Authority
	lookupLimiter *ratelimit.FixedWindowLimiter
	trustProxy    bool
	mux           *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server requires app")
	}
	if cfg.Scans == nil {
		return nil, errors.New("server requires scan manager")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("server requires device token authority")
	}
	s := &Server{
		app:           cfg.App,
		scans:         cfg.Scans,
		tokens:        cfg.Tokens,
		lookupLimiter: cfg.LookupLimiter,
		trustProxy:    cfg.TrustProxyHeaders,
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/devices/pair", s.handlePair)

	s.mux.Handle("/scan/sessions", s.withDevice(s.handleSessions))
	s.mux.Handle("/scan/sessions/", s.withDevice(s.handleSessionByID))

	s.mux.Handle("/catalog", s.withDevice(s.handleCatalog))
	s.mux.Handle("/catalog/", s.withDevice(s.handleCatalogByID))
	s.mux.Handle("/catalog/lookup", s.withDevice(s.withLookupQuota(s.handleLookup)))
	s.mux.Handle("/catalog/export", s.withDevice(s.handleExport))
	s.mux.Handle("/catalog/export.txt", s.withDevice(s.handleExportText))
	s.mux.Handle("/catalog/imports", s.withDevice(s.handleImports))
	s.mux.Handle("/catalog/imports/", s.withDevice(s.handleImportByID))

	s.mux.Handle("/browse/subjects/", s.withDevice(s.withLookupQuota(s.handleBrowse)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// deviceHandler receives the authenticated device id.
type deviceHandler func(http.ResponseWriter, *http.Request, string)

func (s *Server) withDevice(next deviceHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := devicetoken.BearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		deviceID, err := s.tokens.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, deviceID)
	})
}

func (s *Server) withLookupQuota(next deviceHandler) deviceHandler {
	return func(w http.ResponseWriter, r *http.Request, deviceID string) {
		if s.lookupLimiter != nil {
			key := deviceID
			if key == "" {
				key = util.ClientIP(r, s.trustProxy)
			}
			if !s.lookupLimiter.Allow(key) {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
		}
		next(w, r, deviceID)
	}
}

type pairRequest struct {
	Code string `json:"code"`
}

func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req pairRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	pairing, err := s.tokens.Pair(req.Code)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid pairing code")
		return
	}
	writeJSON(w, http.StatusCreated, pairing)
}

type startSessionRequest struct {
	// CameraAuthorized reports the client's capture permission. Defaults to
	// authorized when the body is empty.
	CameraAuthorized *bool `json:"cameraAuthorized"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	req := startSessionRequest{}
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	var device scan.CaptureDevice = scan.OpenDevice{}
	if req.CameraAuthorized != nil && !*req.CameraAuthorized {
		device = scan.DeniedDevice{}
	}
	snapshot, err := s.scans.StartSession(r.Context(), device)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to start scan session")
		return
	}
	writeJSON(w, http.StatusCreated, snapshot)
}

// /scan/sessions/{id}, /scan/sessions/{id}/frames, /scan/sessions/{id}/reset
func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request, _ string) {
	path := strings.TrimPrefix(r.URL.Path, "/scan/sessions/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "frames":
			s.handlePushFrame(w, r, id)
		case "reset":
			s.handleResetSession(w, r, id)
		default:
			notFound(w, "not found")
		}
		return
	}
	switch r.Method {
	case http.MethodGet:
		snapshot, ok := s.scans.GetSession(id)
		if !ok {
			notFound(w, "scan session not found")
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
	case http.MethodDelete:
		if err := s.scans.EndSession(id); err != nil {
			notFound(w, "scan session not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
	default:
		methodNotAllowed(w)
	}
}

type frameRequest struct {
	Symbols []scan.Symbol `json:"symbols"`
}

func (s *Server) handlePushFrame(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req frameRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.scans.PushFrame(id, req.Symbols); err != nil {
		notFound(w, "scan session not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.scans.ResetSession(id); err != nil {
		notFound(w, "scan session not found")
		return
	}
	snapshot, _ := s.scans.GetSession(id)
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	favoritesOnly := r.URL.Query().Get("favorites") == "true"
	entries, err := s.app.ListEntries(query, favoritesOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": entries,
		"count": len(entries),
	})
}

// /catalog/{id}
func (s *Server) handleCatalogByID(w http.ResponseWriter, r *http.Request, _ string) {
	id := strings.TrimPrefix(r.URL.Path, "/catalog/")
	if id == "" || strings.Contains(id, "/") {
		notFound(w, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		entry, ok, err := s.app.GetEntry(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !ok {
			notFound(w, "entry not found")
			return
		}
		writeJSON(w, http.StatusOK, entry)
	case http.MethodPatch:
		var edit app.EntryEdit
		if err := decodeBody(r, &edit); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		entry, err := s.app.UpdateEntry(id, edit)
		if err != nil {
			if errors.Is(err, store.ErrEntryNotFound) {
				notFound(w, "entry not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, entry)
	case http.MethodDelete:
		if err := s.app.DeleteEntry(id); err != nil {
			if errors.Is(err, store.ErrEntryNotFound) {
				notFound(w, "entry not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

type lookupRequest struct {
	Code  string `json:"code"`
	Query string `json:"query"`
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req lookupRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Code = strings.TrimSpace(req.Code)
	req.Query = strings.TrimSpace(req.Query)

	var (
		outcome domain.Outcome
		err     error
	)
	switch {
	case req.Code != "":
		outcome, err = s.app.LookupAndAdd(r.Context(), req.Code)
	case req.Query != "":
		outcome, err = s.app.QueryAndAdd(r.Context(), req.Query)
	default:
		writeError(w, http.StatusBadRequest, "code or query is required")
		return
	}
	if err != nil {
		writeResolverError(w, err)
		return
	}
	writeJSON(w, outcomeStatus(outcome), outcome)
}

// /browse/subjects/{subject}?published_in=YYYY-YYYY
func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	subject := strings.TrimPrefix(r.URL.Path, "/browse/subjects/")
	if subject == "" || strings.Contains(subject, "/") {
		notFound(w, "not found")
		return
	}
	records, err := s.app.Browse(r.Context(), subject, r.URL.Query().Get("published_in"))
	if err != nil {
		writeResolverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": records,
		"count": len(records),
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	export, err := s.app.CreateExport(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create export")
		return
	}
	writeJSON(w, http.StatusCreated, export)
}

func (s *Server) handleExportText(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	text, err := s.app.ExportText()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, text)
}

type importRequest struct {
	ISBNs []string `json:"isbns"`
}

func (s *Server) handleImports(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req importRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.ISBNs) == 0 {
		writeError(w, http.StatusBadRequest, "at least one ISBN is required")
		return
	}
	job, err := s.app.EnqueueImport(r.Context(), req.ISBNs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to enqueue import")
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// /catalog/imports/{id}
func (s *Server) handleImportByID(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/catalog/imports/")
	if id == "" || strings.Contains(id, "/") {
		notFound(w, "not found")
		return
	}
	job, ok, err := s.app.GetImport(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		notFound(w, "import job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func outcomeStatus(outcome domain.Outcome) int {
	switch outcome.Kind {
	case domain.OutcomeAdded:
		return http.StatusCreated
	case domain.OutcomeAlreadyExists:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// writeResolverError surfaces upstream lookup errors with their exact
// messages; clients display them verbatim.
func writeResolverError(w http.ResponseWriter, err error) {
	var (
		badStatus  *openlibrary.BadStatusError
		networkErr *openlibrary.NetworkError
		decodeErr  *openlibrary.DecodeError
	)
	switch {
	case openlibrary.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &badStatus), errors.As(err, &networkErr), errors.As(err, &decodeErr):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, openlibrary.ErrEmptyResponse), errors.Is(err, openlibrary.ErrInvalidResponse):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, openlibrary.ErrInvalidURL):
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeFor(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeFor(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "unauthorized":
		return "AUTH_INVALID_TOKEN"
	case message == "invalid pairing code":
		return "AUTH_INVALID_PAIRING_CODE"
	case message == "rate limit exceeded":
		return "LOOKUP_RATE_LIMITED"
	case message == "scan session not found":
		return "SCAN_SESSION_NOT_FOUND"
	case message == "entry not found":
		return "CATALOG_ENTRY_NOT_FOUND"
	case message == "import job not found":
		return "IMPORT_JOB_NOT_FOUND"
	case strings.HasPrefix(message, "no books found for isbn"):
		return "LOOKUP_NOT_FOUND"
	case message == "invalid json body":
		return "CATALOG_INVALID_REQUEST"
	case message == "code or query is required",
		message == "at least one isbn is required":
		return "CATALOG_INVALID_REQUEST"
	case message == "failed to create export":
		return "EXPORT_FAILED"
	case message == "failed to enqueue import":
		return "IMPORT_ENQUEUE_FAILED"
	case message == "failed to start scan session":
		return "SCAN_SESSION_FAILED"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "CATALOG_INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	case http.StatusTooManyRequests:
		return "LOOKUP_RATE_LIMITED"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case http.StatusBadGateway:
		return "LOOKUP_UPSTREAM_ERROR"
	default:
		return "SYSTEM_INTERNAL_ERROR"
	}
}
