package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/turbolytics/stockroom/internal/importer"
	"github.com/turbolytics/stockroom/internal/source"
	"github.com/turbolytics/stockroom/internal/webhook"
)

const defaultListLimit = 20

// ImportService is the slice of the ingestion service the API exposes.
type ImportService interface {
	Submit(ctx context.Context, sourceURI string, format source.Format) (uuid.UUID, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*importer.Job, error)
	List(ctx context.Context, limit, offset int) ([]importer.Job, error)
	Broker() *importer.Broker
}

// ProductCatalog is the slice of the product store the API exposes.
type ProductCatalog interface {
	DeleteBySKUs(ctx context.Context, skus []string) (int, error)
}

// WebhookTester performs one-off test deliveries.
type WebhookTester interface {
	Test(ctx context.Context, id uuid.UUID) ([]webhook.DeliveryAttempt, error)
	Dispatch(ctx context.Context, payload webhook.Payload)
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

type Server struct {
	service  ImportService
	catalog  ProductCatalog
	webhooks WebhookTester
	logger   *zap.Logger
}

func New(service ImportService, catalog ProductCatalog, webhooks WebhookTester, opts ...Option) *Server {
	s := &Server{
		service:  service,
		catalog:  catalog,
		webhooks: webhooks,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/imports", func(r chi.Router) {
			r.Post("/", s.createImport)
			r.Get("/", s.listImports)
			r.Get("/{id}", s.getImport)
			r.Get("/{id}/progress", s.getProgress)
			r.Delete("/{id}", s.cancelImport)
		})
		r.Post("/products/bulk-delete", s.bulkDelete)
		r.Post("/webhooks/{id}/test", s.testWebhook)
	})

	return r
}

func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Routes(),
	}

	s.logger.Info("starting server", zap.String("addr", addr))

	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createImportRequest struct {
	SourceURI string `json:"source_uri"`
	Format    string `json:"format"`
}

func (s *Server) createImport(w http.ResponseWriter, r *http.Request) {
	var req createImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SourceURI == "" {
		writeError(w, http.StatusBadRequest, "source_uri is required")
		return
	}

	format, err := source.ParseFormat(req.Format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.service.Submit(r.Context(), req.SourceURI, format)
	if err != nil {
		if errors.Is(err, importer.ErrQueueFull) {
			writeError(w, http.StatusServiceUnavailable, "import queue is full")
			return
		}
		s.logger.Error("submitting import", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to submit import")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id.String()})
}

func (s *Server) listImports(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultListLimit)
	offset := queryInt(r, "offset", 0)

	jobs, err := s.service.List(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("listing imports", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list imports")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"imports": jobs,
		"count":   len(jobs),
	})
}

func (s *Server) getImport(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	job, err := s.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, importer.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "import not found")
			return
		}
		s.logger.Error("loading import", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load import")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// getProgress returns the latest snapshot, or streams snapshots as
// server-sent events when ?stream=true.
func (s *Server) getProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	if r.URL.Query().Get("stream") == "true" {
		s.streamProgress(w, r, id)
		return
	}

	job, err := s.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, importer.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "import not found")
			return
		}
		s.logger.Error("loading import", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load import")
		return
	}

	writeJSON(w, http.StatusOK, job.Progress())
}

func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusNotImplemented, "streaming unsupported")
		return
	}

	// Subscribe before taking the snapshot. A terminal transition landing
	// between the snapshot and the subscription would otherwise be
	// published to nobody and the stream would never end.
	updates, cancel := s.service.Broker().Subscribe(id)
	defer cancel()

	job, err := s.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, importer.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "import not found")
			return
		}
		s.logger.Error("loading import", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load import")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	// Current snapshot first so subscribers starting late still see state.
	writeEvent(w, job.Progress())
	flusher.Flush()
	if job.Status.Terminal() {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case p, open := <-updates:
			if !open {
				return
			}
			writeEvent(w, p)
			flusher.Flush()
			if p.Terminal {
				return
			}
		}
	}
}

func (s *Server) cancelImport(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	err := s.service.Cancel(r.Context(), id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, importer.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "import not found")
	case errors.Is(err, importer.ErrJobFinished):
		writeError(w, http.StatusConflict, "import already finished")
	default:
		s.logger.Error("cancelling import", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to cancel import")
	}
}

type bulkDeleteRequest struct {
	SKUs []string `json:"skus"`
}

func (s *Server) bulkDelete(w http.ResponseWriter, r *http.Request) {
	var req bulkDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.SKUs) == 0 {
		writeError(w, http.StatusBadRequest, "skus is required")
		return
	}

	deleted, err := s.catalog.DeleteBySKUs(r.Context(), req.SKUs)
	if err != nil {
		s.logger.Error("bulk deleting products", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete products")
		return
	}

	go s.webhooks.Dispatch(context.WithoutCancel(r.Context()), webhook.Payload{
		Event:     webhook.EventBulkDeleteCompleted,
		Processed: deleted,
		Timestamp: time.Now().UTC(),
	})

	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

func (s *Server) testWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook id")
		return
	}

	attempts, err := s.webhooks.Test(r.Context(), id)
	if err != nil {
		if errors.Is(err, webhook.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, "webhook not found")
			return
		}
		s.logger.Error("testing webhook", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to test webhook")
		return
	}

	delivered := len(attempts) > 0 && attempts[len(attempts)-1].Success()
	writeJSON(w, http.StatusOK, map[string]any{
		"delivered": delivered,
		"attempts":  attempts,
	})
}

func jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid import id")
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeEvent(w http.ResponseWriter, p importer.Progress) {
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}
