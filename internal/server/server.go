// Package server exposes the hook bridge the runtime's hook commands post to
// and the command API operators drive sessions through.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ShayCichocki/teamlead/internal/logging"
	"github.com/ShayCichocki/teamlead/internal/notify"
	"github.com/ShayCichocki/teamlead/internal/runtime"
	"github.com/ShayCichocki/teamlead/internal/specs"
	"github.com/ShayCichocki/teamlead/internal/supervisor"
	"github.com/ShayCichocki/teamlead/pkg/models"
)

// Supervisor is the part of the session supervisor the server drives.
type Supervisor interface {
	CreateSession(ctx context.Context, cfg models.SessionConfig) (models.Session, error)
	StopSession(ctx context.Context, id string) error
	ContinueSession(ctx context.Context, id, prompt string, attachments []models.Attachment) error
	DeleteSession(ctx context.Context, id string) error
	List() []models.Session
	SessionView(id string) (supervisor.SessionView, error)

	PendingPermissions(sessionID string) []models.PendingPermission
	ResolvePermission(requestID string, decision models.PermissionDecision) error
	AnswerQuestion(requestID, answer string) error
	SendMessage(ctx context.Context, sessionID string, msg models.TeammateMessage) ([]string, error)

	HandleHook(ctx context.Context, ev runtime.HookEvent) error
	RequestPermission(ctx context.Context, req runtime.PermissionRequest) (models.PermissionDecision, error)
}

var _ Supervisor = (*supervisor.Supervisor)(nil)

// Options configures a Server.
type Options struct {
	Addr       string
	Supervisor Supervisor
	Hub        *notify.Hub
	// Specs is optional; without it spec references are rejected.
	Specs  *specs.Store
	Logger *slog.Logger
	// KeepAlive is the interval of comment lines on the event stream.
	KeepAlive time.Duration
}

// Server serves the hook bridge and the command API.
type Server struct {
	opts   Options
	logger *slog.Logger
	router chi.Router
}

// New builds the router.
func New(opts Options) *Server {
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 15 * time.Second
	}
	s := &Server{
		opts:   opts,
		logger: logging.OrDiscard(opts.Logger).With("component", "server"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(recovery(s.logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/hooks/{event}", s.handleHook)

	r.Route("/api", func(r chi.Router) {
		r.Get("/events", s.streamEvents)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.listSessions)
			r.Post("/", s.createSession)
			r.Get("/{id}", s.getSession)
			r.Delete("/{id}", s.deleteSession)
			r.Post("/{id}/stop", s.stopSession)
			r.Post("/{id}/continue", s.continueSession)
			r.Post("/{id}/messages", s.sendMessage)
		})

		r.Get("/permissions", s.listPermissions)
		r.Post("/permissions/{id}", s.resolvePermission)
		r.Post("/questions/{id}", s.answerQuestion)

		r.Route("/specs", func(r chi.Router) {
			r.Get("/teammates", s.listTeammateSpecs)
			r.Put("/teammates/{name}", s.putTeammateSpec)
			r.Delete("/teammates/{name}", s.deleteTeammateSpec)
			r.Get("/skills", s.listSkillSpecs)
			r.Put("/skills/{name}", s.putSkillSpec)
			r.Delete("/skills/{name}", s.deleteSkillSpec)
		})
	})
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done. Request contexts derive from ctx, so open
// event streams and waiting permission hooks end with it.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	return nil
}
