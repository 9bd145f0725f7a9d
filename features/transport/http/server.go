// Package http exposes the engine over HTTP: an SSE endpoint that executes a
// workflow while streaming its events, execution inspection and cancellation
// endpoints, the node catalog, and object upload/download.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"goa.design/clue/health"

	"github.com/flowmesh/flowrun/runtime/workflow"
	"github.com/flowmesh/flowrun/runtime/workflow/engine"
	"github.com/flowmesh/flowrun/runtime/workflow/execution"
	"github.com/flowmesh/flowrun/runtime/workflow/node"
	"github.com/flowmesh/flowrun/runtime/workflow/objectstore"
	"github.com/flowmesh/flowrun/runtime/workflow/param"
	"github.com/flowmesh/flowrun/runtime/workflow/registry"
	"github.com/flowmesh/flowrun/runtime/workflow/stream"
	"github.com/flowmesh/flowrun/runtime/workflow/telemetry"
	"github.com/flowmesh/flowrun/runtime/workflow/validate"
)

type (
	// Options configures the HTTP server.
	Options struct {
		// Engine executes workflows. Required.
		Engine *engine.Engine
		// Registry serves the node catalog. Required.
		Registry *registry.Registry
		// Objects serves uploads and downloads. May be nil to disable the
		// object endpoints.
		Objects objectstore.Store
		// PresignTTL is the lifetime of presigned object URLs.
		PresignTTL time.Duration
		// Broadcast optionally receives a copy of every execution event in
		// addition to the per-request SSE stream. Used to publish events to a
		// shared bus (e.g. Pulse) for out-of-process consumers.
		Broadcast stream.Sink
		// EventBuffer is the per-execution SSE buffer size. Defaults to 64.
		EventBuffer int
		// MaxUploadBytes bounds object uploads. Defaults to 32 MiB.
		MaxUploadBytes int64
		// Pingers are checked by the health endpoint.
		Pingers []health.Pinger
		// Logger defaults to a noop implementation.
		Logger telemetry.Logger
	}

	// Server handles the engine's HTTP surface.
	Server struct {
		opts Options
	}

	// executeRequest is the JSON body of the execute endpoint.
	executeRequest struct {
		Parameters map[string]map[string]param.Value `json:"parameters,omitempty"`
		Env        map[string]any                    `json:"env,omitempty"`
		Preview    bool                              `json:"preview,omitempty"`
	}

	// uploadResponse wraps the reference of a freshly stored object.
	uploadResponse struct {
		Reference param.Reference `json:"reference"`
	}

	// errorResponse is the JSON error body.
	errorResponse struct {
		Error  string           `json:"error"`
		Issues []validate.Error `json:"issues,omitempty"`
	}

	// signatureVerifier is implemented by object stores that support
	// presigned reads.
	signatureVerifier interface {
		VerifySignature(orgID, id, sig string, exp int64) bool
	}
)

// orgHeader carries the caller's organization on authenticated requests.
const orgHeader = "X-Organization-ID"

const (
	defaultEventBuffer    = 64
	defaultMaxUploadBytes = 32 << 20
)

// New constructs a Server.
func New(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if opts.EventBuffer < 1 {
		opts.EventBuffer = defaultEventBuffer
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	return &Server{opts: opts}, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Method(http.MethodGet, "/healthz", health.Handler(health.NewChecker(s.opts.Pingers...)))
	r.Get("/nodes", s.handleNodeCatalog)

	r.Route("/workflows/{workflowID}", func(r chi.Router) {
		r.Post("/execute", s.handleExecute)
		r.Get("/executions", s.handleListExecutions)
	})
	r.Route("/executions/{executionID}", func(r chi.Router) {
		r.Get("/", s.handleGetExecution)
		r.Post("/cancel", s.handleCancel)
	})
	if s.opts.Objects != nil {
		r.Post("/objects", s.handleUploadObject)
		r.Get("/objects", s.handleDownloadObject)
		r.Get("/objects/{objectID}", s.handleDownloadObject)
		r.Get("/objects/{objectID}/presign", s.handlePresignObject)
	}
	return r
}

// handleExecute runs a workflow and streams its events as SSE frames. The
// response stays open until the terminal event; a client disconnect stops the
// writes but not the execution.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")
	orgID := r.Header.Get(orgHeader)
	if orgID == "" {
		writeError(w, http.StatusForbidden, "missing organization", nil)
		return
	}
	var body executeRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err), nil)
			return
		}
	}

	mode := node.ModeLive
	if body.Preview {
		mode = node.ModePreview
	}
	sink := stream.NewChannelSink(s.opts.EventBuffer)
	var reqSink stream.Sink = sink
	if s.opts.Broadcast != nil {
		reqSink = stream.Multi(sink, s.opts.Broadcast)
	}
	req := engine.Request{
		WorkflowID:     workflowID,
		OrganizationID: orgID,
		Parameters:     body.Parameters,
		Env:            body.Env,
		Mode:           mode,
		Sink:           reqSink,
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported", nil)
		return
	}

	// The execution runs on the request context's values but not its
	// cancellation: a dropped SSE consumer must not abort the run.
	runCtx := r.Context()
	type executeResult struct {
		rec *execution.Record
		err error
	}
	done := make(chan executeResult, 1)
	go func() {
		rec, err := s.opts.Engine.Execute(detach(runCtx), req)
		_ = sink.Close(detach(runCtx))
		done <- executeResult{rec: rec, err: err}
	}()

	headersSent := false
	clientGone := false
	for ev := range sink.Events() {
		if clientGone {
			continue
		}
		if r.Context().Err() != nil {
			// Keep draining so the scheduler never blocks on a dead consumer.
			clientGone = true
			continue
		}
		if !headersSent {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
			headersSent = true
		}
		if err := writeSSE(w, ev); err != nil {
			clientGone = true
			continue
		}
		flusher.Flush()
	}

	res := <-done
	if res.err != nil && !headersSent {
		s.writeExecuteError(w, r, res.err)
	}
}

// writeExecuteError maps pre-execution failures to HTTP statuses.
func (s *Server) writeExecuteError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *engine.ValidationError
	switch {
	case errors.Is(err, workflow.ErrNotFound):
		writeError(w, http.StatusNotFound, "workflow not found", nil)
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, "workflow is invalid", verr.Errors)
	case errors.Is(err, engine.ErrBudgetExhausted):
		writeError(w, http.StatusForbidden, "compute budget exhausted", nil)
	default:
		s.opts.Logger.Error(r.Context(), "execute failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error", nil)
	}
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit", nil)
			return
		}
		limit = n
	}
	records, err := s.opts.Engine.Executions(r.Context(), workflowID, limit)
	if err != nil {
		s.opts.Logger.Error(r.Context(), "list executions failed", "workflow_id", workflowID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error", nil)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "executionID")
	rec, err := s.opts.Engine.Execution(r.Context(), id)
	if err != nil {
		if errors.Is(err, execution.ErrNotFound) {
			writeError(w, http.StatusNotFound, "execution not found", nil)
			return
		}
		s.opts.Logger.Error(r.Context(), "load execution failed", "execution_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error", nil)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "executionID")
	if err := s.opts.Engine.Cancel(id); err != nil {
		if errors.Is(err, engine.ErrNotRunning) {
			writeError(w, http.StatusNotFound, "execution is not running", nil)
			return
		}
		s.opts.Logger.Error(r.Context(), "cancel failed", "execution_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error", nil)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleNodeCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Registry.Descriptors())
}

// handleUploadObject stores an uploaded object and returns its reference.
// Uploads are multipart/form-data with the bytes in the "file" field; a raw
// body with a Content-Type header is accepted as a fallback.
func (s *Server) handleUploadObject(w http.ResponseWriter, r *http.Request) {
	orgID := r.Header.Get(orgHeader)
	if orgID == "" {
		writeError(w, http.StatusForbidden, "missing organization", nil)
		return
	}
	var (
		data []byte
		mime string
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
		if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "object too large", nil)
				return
			}
			writeError(w, http.StatusBadRequest, "parse multipart form failed", nil)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing file field", nil)
			return
		}
		defer file.Close()
		if data, err = io.ReadAll(file); err != nil {
			writeError(w, http.StatusBadRequest, "read file failed", nil)
			return
		}
		mime = header.Header.Get("Content-Type")
	} else {
		mime = r.Header.Get("Content-Type")
		body, err := io.ReadAll(io.LimitReader(r.Body, s.opts.MaxUploadBytes+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, "read body failed", nil)
			return
		}
		if int64(len(body)) > s.opts.MaxUploadBytes {
			writeError(w, http.StatusRequestEntityTooLarge, "object too large", nil)
			return
		}
		data = body
	}
	if mime == "" {
		writeError(w, http.StatusBadRequest, "missing content type", nil)
		return
	}
	id, err := s.opts.Objects.Put(r.Context(), orgID, data, mime, "")
	if err != nil {
		s.opts.Logger.Error(r.Context(), "object upload failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error", nil)
		return
	}
	writeJSON(w, http.StatusCreated, uploadResponse{Reference: param.Reference{ID: id, MimeType: mime}})
}

// handleDownloadObject serves object bytes. The object is addressed either by
// path ("/objects/{id}") or by the "id" query parameter; access requires
// either the organization header or a valid presigned signature (org, exp,
// sig query parameters).
func (s *Server) handleDownloadObject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "objectID")
	if id == "" {
		id = r.URL.Query().Get("id")
	}
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing object id", nil)
		return
	}
	orgID := r.Header.Get(orgHeader)
	if orgID == "" {
		q := r.URL.Query()
		verifier, ok := s.opts.Objects.(signatureVerifier)
		if !ok {
			writeError(w, http.StatusForbidden, "missing organization", nil)
			return
		}
		exp, err := strconv.ParseInt(q.Get("exp"), 10, 64)
		if err != nil || !verifier.VerifySignature(q.Get("org"), id, q.Get("sig"), exp) {
			writeError(w, http.StatusForbidden, "invalid or expired signature", nil)
			return
		}
		orgID = q.Get("org")
	}
	data, mime, err := s.opts.Objects.Get(r.Context(), orgID, id)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "object not found", nil)
			return
		}
		s.opts.Logger.Error(r.Context(), "object download failed", "object_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error", nil)
		return
	}
	w.Header().Set("Content-Type", mime)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handlePresignObject returns a time-limited URL granting unauthenticated
// read access to the object.
func (s *Server) handlePresignObject(w http.ResponseWriter, r *http.Request) {
	orgID := r.Header.Get(orgHeader)
	if orgID == "" {
		writeError(w, http.StatusForbidden, "missing organization", nil)
		return
	}
	id := chi.URLParam(r, "objectID")
	ttl := s.opts.PresignTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	url, err := s.opts.Objects.PresignRead(r.Context(), orgID, id, ttl)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "object not found", nil)
			return
		}
		s.opts.Logger.Error(r.Context(), "presign failed", "object_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// writeSSE renders one event as an SSE frame: the sequence number as the
// frame id, the event type, and the JSON payload as data.
func writeSSE(w io.Writer, ev stream.Event) error {
	data, err := json.Marshal(ev.Payload())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq(), ev.Type(), data)
	return err
}

// detach keeps the request's values (trace context, log fields) while
// dropping its cancellation so executions outlive disconnected consumers.
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, issues []validate.Error) {
	writeJSON(w, status, errorResponse{Error: msg, Issues: issues})
}
