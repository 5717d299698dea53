// Package gateway is the HTTP front door: it receives version-control
// webhooks, hands the resulting pipelines to the scheduler, and streams
// pipeline status over WebSocket to dashboard clients.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/resilient-vitality/conveyor/internal/config"
	"github.com/resilient-vitality/conveyor/internal/logging"
	"github.com/resilient-vitality/conveyor/internal/pipeline"
	"github.com/resilient-vitality/conveyor/internal/runtime"
	"github.com/resilient-vitality/conveyor/internal/webhook"
)

// maxWebhookBody caps webhook payload size at 5 MB, matching GitHub's own
// delivery limit.
const maxWebhookBody = 5 << 20

// Translator turns a raw webhook request into triggered pipelines.
type Translator interface {
	Translate(ctx context.Context, req *webhook.Request) ([]webhook.Triggered, error)
}

// TranslatorFunc adapts a function to the Translator interface.
type TranslatorFunc func(ctx context.Context, req *webhook.Request) ([]webhook.Triggered, error)

func (f TranslatorFunc) Translate(ctx context.Context, req *webhook.Request) ([]webhook.Triggered, error) {
	return f(ctx, req)
}

// PipelineHost accepts new pipelines for execution.
type PipelineHost interface {
	Add(ctx context.Context, repo string, p *pipeline.Pipeline) (string, error)
}

// Server is the gateway HTTP server. Safe for concurrent use.
type Server struct {
	config      *config.GatewayConfig
	translators map[string]Translator
	apps        runtime.ApplicationStore
	host        PipelineHost
	hub         *Hub
	upgrader    websocket.Upgrader
	server      *http.Server
	mu          sync.Mutex
	running     bool
}

// NewServer creates a gateway server. Each translator is mounted at
// /webhooks/<provider>. The server is not started until Start is called.
func NewServer(cfg *config.GatewayConfig, translators map[string]Translator, apps runtime.ApplicationStore, host PipelineHost) *Server {
	return &Server{
		config:      cfg,
		translators: translators,
		apps:        apps,
		host:        host,
		hub:         NewHub(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				return strings.HasPrefix(origin, "http://localhost") ||
					strings.HasPrefix(origin, "http://127.0.0.1") ||
					strings.HasPrefix(origin, "https://localhost") ||
					strings.HasPrefix(origin, "https://127.0.0.1")
			},
		},
	}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	for provider, translator := range s.translators {
		mux.HandleFunc("/webhooks/"+provider, s.webhookHandler(provider, translator))
	}
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Start starts the gateway server and blocks until the context is
// cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.mu.Unlock()

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logging.WithComponent("gateway").Info("gateway starting", slog.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown gracefully shuts down the server with a 30-second timeout.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.running = false
	return s.server.Shutdown(ctx)
}

// Broadcast pushes a status event to every connected dashboard client.
func (s *Server) Broadcast(v any) {
	s.hub.Broadcast(v)
}

// webhookHandler builds the receiver for one provider. Delivery
// authentication happens inside the translator; an unauthenticated
// delivery simply produces no pipelines.
func (s *Server) webhookHandler(provider string, translator Translator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.handleWebhook(w, r, provider, translator)
	}
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request, provider string, translator Translator) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	log := logging.WithComponent("gateway")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "Body too large", http.StatusRequestEntityTooLarge)
		return
	}

	headers := make(map[string]string, len(r.Header))
	for name := range r.Header {
		headers[name] = r.Header.Get(name)
	}

	log.Info("received webhook", slog.String("provider", provider))

	triggered, err := translator.Translate(r.Context(), &webhook.Request{Headers: headers, Body: body})
	if err != nil {
		log.Error("webhook translation failed", slog.Any("error", err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	ids := make([]string, 0, len(triggered))
	for _, tr := range triggered {
		// Persist first: trigger matching may have fabricated a PR stage the
		// pipeline's teardown will later need.
		if err := s.apps.SaveApplication(r.Context(), tr.Repo, tr.App); err != nil {
			log.Error("failed to save application", slog.String("repo", tr.Repo), slog.Any("error", err))
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		id, err := s.host.Add(r.Context(), tr.Repo, tr.Pipeline)
		if err != nil {
			log.Error("failed to add pipeline", slog.String("repo", tr.Repo), slog.Any("error", err))
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		ids = append(ids, id)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"pipelines": ids,
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}

// handleWebSocket upgrades the connection and streams pipeline status
// events until the client disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.WithComponent("gateway").Error("WebSocket upgrade error", slog.Any("error", err))
		return
	}
	s.hub.serve(conn, r.RemoteAddr)
}
