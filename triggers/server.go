// Package triggers ingests external events, webhooks and cron schedules,
// and turns them into runs.
package triggers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/littlebearapps/untether/config"
	"github.com/littlebearapps/untether/logger"
)

// Dispatcher bridges trigger sources into the run pipeline.
type Dispatcher interface {
	DispatchWebhook(ctx context.Context, webhook config.WebhookConfig, prompt string) error
	DispatchCron(ctx context.Context, cron config.CronConfig) error
}

// Server hosts the webhook endpoints and the cron scheduler.
type Server struct {
	cfg        config.TriggersConfig
	dispatcher Dispatcher
	limiter    *TokenBucketLimiter
	log        *slog.Logger
}

// NewServer builds a trigger server from cfg, dispatching through d.
func NewServer(cfg config.TriggersConfig, d Dispatcher) *Server {
	s := &Server{
		cfg:        cfg,
		dispatcher: d,
		limiter:    NewTokenBucketLimiter(cfg.Server.RateLimit, time.Minute, nil),
		log:        logger.WithComponent("triggers"),
	}
	for _, wh := range cfg.Webhooks {
		if wh.AuthMode() == config.AuthNone {
			s.log.Warn("webhook accepts unauthenticated requests", "webhookID", wh.ID, "path", wh.Path)
		}
	}
	return s
}

// Handler returns the HTTP routes: the health endpoint plus one POST
// route per configured webhook.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":   "ok",
			"webhooks": len(s.cfg.Webhooks),
		})
	})
	for _, wh := range s.cfg.Webhooks {
		webhook := wh
		r.Post(webhook.Path, func(w http.ResponseWriter, req *http.Request) {
			s.handleWebhook(w, req, webhook)
		})
	}
	return r
}

func (s *Server) handleWebhook(w http.ResponseWriter, req *http.Request, webhook config.WebhookConfig) {
	maxBody := int64(s.cfg.Server.MaxBodyBytes)
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxBody))
	if err != nil {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}

	if !VerifyAuth(webhook, req.Header, body) {
		s.log.Warn("webhook auth failed", "webhookID", webhook.ID, "path", webhook.Path)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if !s.limiter.Allow(webhook.ID) || !s.limiter.Allow(globalKey) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	payload := map[string]any{}
	if len(body) > 0 {
		var decoded any
		if err := json.Unmarshal(body, &decoded); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if m, ok := decoded.(map[string]any); ok {
			payload = m
		} else {
			payload = map[string]any{"_body": decoded}
		}
	}

	// Event filter, e.g. only GitHub "pull_request" deliveries.
	if webhook.EventFilter != "" {
		eventType := req.Header.Get("X-GitHub-Event")
		if eventType == "" {
			eventType = req.Header.Get("X-Event-Type")
		}
		if eventType != webhook.EventFilter {
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, "filtered")
			return
		}
	}

	prompt := RenderPrompt(webhook.PromptTemplate, payload)
	if err := s.dispatcher.DispatchWebhook(req.Context(), webhook, prompt); err != nil {
		s.log.Error("webhook dispatch failed", "webhookID", webhook.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	fmt.Fprint(w, "accepted")
}

// Serve runs the HTTP listener and the cron scheduler until ctx is
// cancelled, then shuts the listener down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Server.Host, fmt.Sprintf("%d", s.cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("trigger server started", "addr", addr, "webhooks", len(s.cfg.Webhooks))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return NewCronScheduler(s.cfg.Crons, s.dispatcher, nil).Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}
