package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/DeafMist/insight-dashboard/internal/config"
	"github.com/DeafMist/insight-dashboard/internal/dashboard"
	"github.com/DeafMist/insight-dashboard/internal/logger"
)

const pageTitle = "Insight Data Visualization Dashboard"

func main() {
	log := logger.New("dashboard")
	cfg, err := config.LoadDashboard()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	srv := &server{
		log:    log,
		cfg:    cfg,
		src:    dashboard.NewClient(cfg.APIBaseURL, &http.Client{Timeout: cfg.RequestTimeout}),
		panels: dashboard.DefaultPanels(),
	}

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	go func() {
		log.Info("dashboard server starting",
			slog.String("addr", cfg.BindAddr),
			slog.String("api", cfg.APIBaseURL),
			slog.Int("panels", len(srv.panels)),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", slog.Any("err", err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", slog.Any("err", err))
	}
}

type server struct {
	log    *slog.Logger
	cfg    *config.Dashboard
	src    dashboard.Source
	panels []dashboard.Panel
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.Requests(s.log))
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/view.json", s.handleView)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}

// load builds a fresh session for the request's selection and waits for
// every widget to settle.
func (s *server) load(r *http.Request) dashboard.View {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	log := s.log.With(slog.String("request_id", middleware.GetReqID(r.Context())))
	sess := dashboard.NewSession(s.src, s.panels, log)
	defer sess.Close()

	// A failed options load is shown on the page; the charts still render.
	_ = sess.Load(ctx)
	sess.Apply(ctx, dashboard.SelectionFromQuery(r.URL.Query()))
	sess.Wait()
	return sess.View()
}

func (s *server) handleIndex(w http.ResponseWriter, r *http.Request) {
	view := s.load(r)

	var buf bytes.Buffer
	if err := dashboard.Render(&buf, pageTitle, view); err != nil {
		s.log.Error("render page", slog.Any("err", err))
		http.Error(w, "failed to render dashboard", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *server) handleView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.load(r))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
