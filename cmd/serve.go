package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scentdex/catalog-cli/internal/approval"
	"github.com/scentdex/catalog-cli/internal/model"
	"github.com/scentdex/catalog-cli/internal/queue"
	"github.com/scentdex/catalog-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the admin HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer e.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(e),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// newRouter builds the admin API. Mutating routes require an X-Admin-ID
// header for attribution.
func newRouter(e *env) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Admin-ID"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats/queue", e.handleQueueStats)
		r.Get("/stats/pipeline", e.handlePipelineStats)

		r.Get("/requests", e.handleListRequests)
		r.Post("/requests", e.handleCreateRequest)
		r.Get("/requests/{id}/changes", e.handleRequestChanges)
		r.Post("/requests/{id}/cancel", e.handleCancelRequest)
		r.Post("/requests/{id}/retry", e.handleRetryRequest)

		r.Post("/jobs/smart", e.handleSmartJob)

		r.Post("/fragrances/{id}/manual", e.handleManualEntry)
		r.Post("/fragrances/{id}/verify", e.handleVerifyField)

		r.Post("/changes/approve", e.handleApproveChanges)
		r.Post("/changes/reject", e.handleRejectChanges)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// adminID extracts the required X-Admin-ID header. A missing header writes a
// 400 and returns false.
func adminID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get("X-Admin-ID")
	if id == "" {
		writeError(w, http.StatusBadRequest, "X-Admin-ID header is required")
		return "", false
	}
	return id, true
}

func (e *env) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	qs, err := e.Stats.QueueStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, qs)
}

func (e *env) handlePipelineStats(w http.ResponseWriter, r *http.Request) {
	ps, err := e.Stats.PipelineStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (e *env) handleListRequests(w http.ResponseWriter, r *http.Request) {
	filter := store.RequestFilter{
		Status:      model.RequestStatus(r.URL.Query().Get("status")),
		FragranceID: r.URL.Query().Get("fragrance_id"),
		AdminID:     r.URL.Query().Get("admin_id"),
		Limit:       50,
	}
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	reqs, err := e.Store.ListRequests(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": reqs})
}

func (e *env) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	admin, ok := adminID(w, r)
	if !ok {
		return
	}

	var body struct {
		FragranceID         string  `json:"fragrance_id"`
		Type                string  `json:"type"`
		Priority            int     `json:"priority"`
		ConfidenceThreshold float64 `json:"confidence_threshold"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req, err := e.Queue.Enqueue(r.Context(), queue.EnqueueParams{
		FragranceID:         body.FragranceID,
		Type:                model.RequestType(body.Type),
		Priority:            body.Priority,
		ConfidenceThreshold: body.ConfidenceThreshold,
		AdminID:             admin,
	})
	if err != nil {
		if store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (e *env) handleRequestChanges(w http.ResponseWriter, r *http.Request) {
	req, changes, err := e.Approval.Changes(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request": req, "changes": changes})
}

func (e *env) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	admin, ok := adminID(w, r)
	if !ok {
		return
	}

	// The reason body is optional.
	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	req, err := e.Queue.Cancel(r.Context(), chi.URLParam(r, "id"), admin, body.Reason)
	if err != nil {
		writeQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (e *env) handleRetryRequest(w http.ResponseWriter, r *http.Request) {
	admin, ok := adminID(w, r)
	if !ok {
		return
	}
	req, err := e.Queue.Retry(r.Context(), chi.URLParam(r, "id"), admin)
	if err != nil {
		writeQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (e *env) handleSmartJob(w http.ResponseWriter, r *http.Request) {
	admin, ok := adminID(w, r)
	if !ok {
		return
	}

	var body struct {
		PriorityLevel       string  `json:"priority_level"`
		MaxItems            int     `json:"max_items"`
		MaxCostPerItem      float64 `json:"max_cost_per_item"`
		ConfidenceThreshold float64 `json:"confidence_threshold"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := e.Queue.EnqueueSmartJob(r.Context(), queue.SmartJobParams{
		Level:               model.PriorityLevel(body.PriorityLevel),
		MaxItems:            body.MaxItems,
		MaxCostPerItem:      body.MaxCostPerItem,
		ConfidenceThreshold: body.ConfidenceThreshold,
		AdminID:             admin,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (e *env) handleManualEntry(w http.ResponseWriter, r *http.Request) {
	admin, ok := adminID(w, r)
	if !ok {
		return
	}

	var body struct {
		Fields    map[string]any `json:"fields"`
		Notes     string         `json:"notes"`
		SourceURL string         `json:"source_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := e.Approval.RecordManual(r.Context(), approval.ManualEntry{
		FragranceID: chi.URLParam(r, "id"),
		AdminID:     admin,
		Notes:       body.Notes,
		SourceURL:   body.SourceURL,
		Fields:      body.Fields,
	})
	if err != nil {
		if store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (e *env) handleVerifyField(w http.ResponseWriter, r *http.Request) {
	admin, ok := adminID(w, r)
	if !ok {
		return
	}

	var body struct {
		Field    string `json:"field"`
		Verified *bool  `json:"verified"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Field == "" {
		writeError(w, http.StatusBadRequest, "field is required")
		return
	}
	verified := true
	if body.Verified != nil {
		verified = *body.Verified
	}

	fragranceID := chi.URLParam(r, "id")
	if err := e.Store.SetFieldVerified(r.Context(), fragranceID, body.Field, verified); err != nil {
		if store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	zap.L().Info("field verification set",
		zap.String("fragrance_id", fragranceID),
		zap.String("field", body.Field),
		zap.Bool("verified", verified),
		zap.String("admin_id", admin),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"fragrance_id": fragranceID,
		"field":        body.Field,
		"verified":     verified,
	})
}

func (e *env) handleApproveChanges(w http.ResponseWriter, r *http.Request) {
	admin, ok := adminID(w, r)
	if !ok {
		return
	}

	var body struct {
		ChangeIDs []string `json:"change_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body.ChangeIDs) == 0 {
		writeError(w, http.StatusBadRequest, "change_ids is required")
		return
	}

	outcome, err := e.Approval.Approve(r.Context(), body.ChangeIDs, admin)
	if err != nil {
		if store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (e *env) handleRejectChanges(w http.ResponseWriter, r *http.Request) {
	admin, ok := adminID(w, r)
	if !ok {
		return
	}

	var body struct {
		ChangeIDs []string `json:"change_ids"`
		Reason    string   `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body.ChangeIDs) == 0 {
		writeError(w, http.StatusBadRequest, "change_ids is required")
		return
	}

	if err := e.Approval.Reject(r.Context(), body.ChangeIDs, admin, body.Reason); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rejected": len(body.ChangeIDs)})
}

// writeQueueError maps queue lifecycle errors onto HTTP statuses.
func writeQueueError(w http.ResponseWriter, err error) {
	if store.IsNotFound(err) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	var ist *queue.InvalidStateTransitionError
	if errors.As(err, &ist) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}
