package web

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/imagetext/internal/ai"
	"github.com/local/imagetext/internal/dispatcher"
	"github.com/local/imagetext/internal/store"
	"github.com/local/imagetext/internal/task"
)

const maxBodyBytes = 32 << 20

// Describer is the synchronous describe surface of a task adapter.
type Describer interface {
	Run(ctx context.Context, in task.Input) (task.Output, error)
	Provider() string
}

// Generator produces images from text prompts.
type Generator interface {
	Generate(ctx context.Context, in task.GenerateInput) (task.GenerateOutput, error)
}

// JobQueue enqueues and cancels async describe jobs.
type JobQueue interface {
	Enqueue(ctx context.Context, payload []byte) error
	CancelJob(ctx context.Context, jobID string) error
	Ping(ctx context.Context) error
}

// JobStatus reads and writes job state.
type JobStatus interface {
	Set(ctx context.Context, jobID string, st store.Status) error
	Get(ctx context.Context, jobID string) (store.Status, bool, error)
	GetResult(ctx context.Context, jobID string) (store.Result, bool, error)
}

// FileStore fetches generated files from the provider bucket.
type FileStore interface {
	GetFile(ctx context.Context, url string) ([]byte, error)
}

// Archiver persists generated files to long-term storage.
type Archiver interface {
	Save(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Server exposes the JSON API: synchronous describe, async jobs and image
// generation.
type Server struct {
	adapters      map[string]Describer
	generator     Generator
	queue         JobQueue
	status        JobStatus
	files         FileStore
	archive       Archiver
	defaultEngine string
}

func New(adapters map[string]Describer, generator Generator, queue JobQueue, status JobStatus, files FileStore, archive Archiver, defaultEngine string) *Server {
	return &Server{
		adapters:      adapters,
		generator:     generator,
		queue:         queue,
		status:        status,
		files:         files,
		archive:       archive,
		defaultEngine: defaultEngine,
	}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/describe", s.handleDescribe)
	mux.HandleFunc("/v1/jobs", s.handleCreateJob)
	mux.HandleFunc("/v1/jobs/", s.handleJob)
	mux.HandleFunc("/v1/generate", s.handleGenerate)
	mux.HandleFunc("/v1/files/", s.handleFile)
	mux.HandleFunc("/healthz", s.handleHealth)
}

type describeRequest struct {
	ImageB64 string         `json:"image_b64,omitempty"`
	ImageURL string         `json:"image_url,omitempty"`
	Prompt   string         `json:"prompt,omitempty"`
	Model    string         `json:"model,omitempty"`
	Engine   string         `json:"engine,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type describeResponse struct {
	Text  string          `json:"text"`
	Model string          `json:"model"`
	Raw   json.RawMessage `json:"raw,omitempty"`
}

func (s *Server) handleDescribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "use POST")
		return
	}
	var req describeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	adapter, ok := s.adapter(req.Engine)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown engine "+req.Engine)
		return
	}

	in := task.Input{ImageURL: req.ImageURL, Prompt: req.Prompt, Model: req.Model, Options: req.Options}
	if req.ImageB64 != "" {
		data, err := base64.StdEncoding.DecodeString(req.ImageB64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "image_b64 is not valid base64")
			return
		}
		in.ImageData = data
	}

	out, err := adapter.Run(r.Context(), in)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, describeResponse{Text: out.Text, Model: out.ModelUsed, Raw: out.Raw})
}

type createJobRequest struct {
	ImageB64 string `json:"image_b64,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	ImageRef string `json:"image_ref,omitempty"`
	Page     int    `json:"page,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
	Model    string `json:"model,omitempty"`
	Engine   string `json:"engine,omitempty"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "use POST")
		return
	}
	var req createJobRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	set := 0
	for _, v := range []string{req.ImageB64, req.ImageURL, req.ImageRef} {
		if v != "" {
			set++
		}
	}
	if set == 0 {
		writeError(w, http.StatusBadRequest, "one of image_b64, image_url or image_ref is required")
		return
	}
	if set > 1 {
		writeError(w, http.StatusBadRequest, "image_b64, image_url and image_ref are mutually exclusive")
		return
	}
	if req.Engine != "" {
		if _, ok := s.adapters[req.Engine]; !ok {
			writeError(w, http.StatusBadRequest, "unknown engine "+req.Engine)
			return
		}
	}

	jobID := uuid.NewString()
	job := dispatcher.Job{
		JobID:    jobID,
		ImageB64: req.ImageB64,
		ImageURL: req.ImageURL,
		ImageRef: req.ImageRef,
		Page:     req.Page,
		Prompt:   req.Prompt,
		Model:    req.Model,
		Engine:   req.Engine,
	}
	payload, err := json.Marshal(job)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode job")
		return
	}

	now := time.Now()
	if err := s.status.Set(r.Context(), jobID, store.Status{Status: store.StatusQueued, Message: "queued", Start: &now}); err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("set queued status")
	}
	if err := s.queue.Enqueue(r.Context(), payload); err != nil {
		end := time.Now()
		if serr := s.status.Set(r.Context(), jobID, store.Status{Status: store.StatusFailed, Message: "enqueue failed", Start: &now, End: &end}); serr != nil {
			log.Error().Err(serr).Str("job_id", jobID).Msg("mark job failed")
		}
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": store.StatusQueued})
}

type jobResponse struct {
	JobID    string        `json:"job_id"`
	Status   string        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Attempts int           `json:"attempts,omitempty"`
	Result   *store.Result `json:"result,omitempty"`
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/jobs/")
	if jobID, ok := strings.CutSuffix(rest, "/cancel"); ok {
		s.cancelJob(w, r, jobID)
		return
	}
	s.getJob(w, r, rest)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "use GET")
		return
	}
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "missing job id")
		return
	}
	st, found, err := s.status.Get(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "status lookup failed")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "unknown job "+jobID)
		return
	}
	resp := jobResponse{JobID: jobID, Status: st.Status, Message: st.Message, Attempts: st.Attempts}
	if st.Status == store.StatusDone {
		if res, ok, err := s.status.GetResult(r.Context(), jobID); err == nil && ok {
			resp.Result = &res
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "use POST")
		return
	}
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "missing job id")
		return
	}
	st, found, err := s.status.Get(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "status lookup failed")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "unknown job "+jobID)
		return
	}
	if st.Status == store.StatusDone || st.Status == store.StatusFailed {
		writeError(w, http.StatusConflict, "job already "+st.Status)
		return
	}
	if err := s.queue.CancelJob(r.Context(), jobID); err != nil {
		writeError(w, http.StatusServiceUnavailable, "cancel failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": "cancelling"})
}

type generateRequest struct {
	Prompt  string `json:"prompt"`
	Model   string `json:"model,omitempty"`
	Size    string `json:"size,omitempty"`
	Quality string `json:"quality,omitempty"`
	Style   string `json:"style,omitempty"`
}

type generateResponse struct {
	Text        string          `json:"text,omitempty"`
	Attachments []ai.Attachment `json:"attachments,omitempty"`
	Stored      []string        `json:"stored,omitempty"`
	Model       string          `json:"model"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "use POST")
		return
	}
	if s.generator == nil {
		writeError(w, http.StatusServiceUnavailable, "image generation not configured")
		return
	}
	var req generateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	out, err := s.generator.Generate(r.Context(), task.GenerateInput{
		Prompt:  req.Prompt,
		Model:   req.Model,
		Size:    req.Size,
		Quality: req.Quality,
		Style:   req.Style,
	})
	if err != nil {
		writeTaskError(w, err)
		return
	}
	resp := generateResponse{Text: out.Text, Attachments: out.Attachments, Model: out.ModelUsed}
	resp.Stored = s.archiveAttachments(r.Context(), out.Attachments)
	writeJSON(w, http.StatusOK, resp)
}

// archiveAttachments copies generated files from the provider bucket into
// long-term storage. Failures are logged, not surfaced: the attachments
// themselves were already produced.
func (s *Server) archiveAttachments(ctx context.Context, atts []ai.Attachment) []string {
	if s.files == nil || s.archive == nil {
		return nil
	}
	var refs []string
	for _, att := range atts {
		data, err := s.files.GetFile(ctx, att.URL)
		if err != nil {
			log.Warn().Err(err).Str("url", att.URL).Msg("fetch generated file")
			continue
		}
		key := "generated/" + path.Base(att.URL)
		ref, err := s.archive.Save(ctx, key, data, att.Type)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("archive generated file")
			continue
		}
		refs = append(refs, ref)
	}
	return refs
}

// handleFile proxies a generated file from the provider bucket. The path
// after /v1/files/ is the relative attachment URL returned by /v1/generate.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "use GET")
		return
	}
	if s.files == nil {
		writeError(w, http.StatusServiceUnavailable, "file store not configured")
		return
	}
	rel := strings.TrimPrefix(r.URL.Path, "/v1/files/")
	if rel == "" || strings.Contains(rel, "..") {
		writeError(w, http.StatusBadRequest, "bad file path")
		return
	}
	data, err := s.files.GetFile(r.Context(), "files/"+rel)
	if err != nil {
		writeError(w, http.StatusBadGateway, "file fetch failed")
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	_, _ = w.Write(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.queue != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.queue.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "queue": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) adapter(engine string) (Describer, bool) {
	if engine == "" {
		engine = s.defaultEngine
	}
	a, ok := s.adapters[engine]
	return a, ok
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer io.Copy(io.Discard, r.Body)
	return json.NewDecoder(r.Body).Decode(v)
}

// writeTaskError maps the task error taxonomy onto HTTP statuses: bad input
// is the caller's fault, missing credentials mean the service is not ready
// and provider failures are a bad gateway.
func writeTaskError(w http.ResponseWriter, err error) {
	var invErr *task.InvalidInputError
	if errors.As(err, &invErr) {
		writeError(w, http.StatusBadRequest, invErr.Error())
		return
	}
	var cfgErr *task.ConfigurationError
	if errors.As(err, &cfgErr) {
		writeError(w, http.StatusServiceUnavailable, cfgErr.Error())
		return
	}
	if ai.IsRateLimited(err) {
		writeError(w, http.StatusTooManyRequests, "provider rate limited")
		return
	}
	var upErr *task.UpstreamError
	if errors.As(err, &upErr) {
		writeError(w, http.StatusBadGateway, upErr.Error())
		return
	}
	log.Error().Err(err).Msg("unclassified handler error")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
