package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/auditcore/fieldsync/internal/config"
	"github.com/auditcore/fieldsync/internal/connectivity"
	"github.com/auditcore/fieldsync/internal/engine"
	"github.com/auditcore/fieldsync/internal/logging"
	"github.com/auditcore/fieldsync/internal/models"
	"github.com/auditcore/fieldsync/internal/orchestrator"
	"github.com/auditcore/fieldsync/internal/photo"
	"github.com/auditcore/fieldsync/internal/queue"
	"github.com/auditcore/fieldsync/internal/remote"
	"github.com/auditcore/fieldsync/internal/store"
	"github.com/auditcore/fieldsync/internal/tempid"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync daemon (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	logging.Init(os.Stderr, logging.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Remote.BaseURL == "" {
		return fmt.Errorf("FIELDSYNC_REMOTE_URL must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening local store: %w", err)
	}
	defer st.Close()

	q, err := queue.New(st)
	if err != nil {
		return fmt.Errorf("loading mutation queue: %w", err)
	}
	photoQ, err := photo.NewQueue(st)
	if err != nil {
		return fmt.Errorf("loading photo queue: %w", err)
	}

	resolver := tempid.NewResolver(st)
	backend := remote.NewREST(cfg.Remote.BaseURL, cfg.Remote.APIKey)
	probe := connectivity.NewProbe(cfg.Remote.HealthURL, cfg.Sync.ProbeInterval)
	eng := engine.New(st, q, resolver, backend, probe)

	analyzer := photo.NewHTTPAnalyzer(cfg.Remote.AnalysisURL, cfg.Remote.APIKey)
	// Completed analyses land on the local photo record through this sink;
	// the consumer itself knows nothing about application state.
	consumer := photo.NewConsumer(photoQ, analyzer, probe, func(entryID string, payload, result models.Record) {
		photoID, _ := payload["photoId"].(string)
		if photoID == "" {
			return
		}
		rec, ok := st.Get(models.CollectionAuditPhotos, photoID)
		if !ok {
			return
		}
		rec["analysis"] = result
		if err := st.Put(models.CollectionAuditPhotos, rec); err != nil {
			logging.Error("failed to store analysis result", err, map[string]any{"photo": photoID})
		}
	})

	orch := orchestrator.New(eng, consumer, q, photoQ, probe)
	orch.Start(ctx)
	defer orch.Stop()

	hub := newWSHub()
	unsub := orch.Subscribe(hub.BroadcastStatus)
	defer unsub()

	client := orchestrator.NewClient(st, q)
	srv := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port),
		Handler:           newRouter(orch, client, q, photoQ, hub),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		probe.Start(gctx)
		return nil
	})
	g.Go(func() error {
		logging.Info("daemon listening", map[string]any{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newRouter(orch *orchestrator.Orchestrator, client *orchestrator.Client, q *queue.Queue, photoQ *photo.Queue, hub *wsHub) http.Handler {
	r := chi.NewRouter()

	r.Get("/api/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]any{"status": "ok", "service": "fieldsync", "version": version})
	})

	r.Get("/api/status", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, orch.Status())
	})

	r.Get("/api/queue", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]any{
			"mutations": q.All(),
			"photos":    photoQ.All(),
		})
	})

	r.Post("/api/flush", func(w http.ResponseWriter, req *http.Request) {
		result := orch.Flush(req.Context())
		writeJSON(w, map[string]any{
			"attempted": result.Attempted,
			"synced":    result.Synced,
			"failed":    result.Failed,
			"aborted":   result.Aborted,
			"skipped":   result.Skipped,
		})
	})

	r.Post("/api/queue/retry", func(w http.ResponseWriter, req *http.Request) {
		reset := q.ResetStuck()
		writeJSON(w, map[string]any{"reset": reset})
	})

	r.Post("/api/records/{collection}", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Fields        map[string]any `json:"fields"`
			ParentTempID  string         `json:"parentTempId"`
			ParentFkField string         `json:"parentFkField"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		var parent *orchestrator.ParentRef
		if body.ParentTempID != "" {
			parent = &orchestrator.ParentRef{TempID: body.ParentTempID, Field: body.ParentFkField}
		}
		rec, err := client.Create(chi.URLParam(req, "collection"), body.Fields, parent)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, rec)
	})

	r.Get("/ws", hub.Handler())

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode response", err)
	}
}
