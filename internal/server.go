package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path"
	"strings"

	"connectrpc.com/grpchealth"
	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kazz187/tasksync/internal/agent"
	"github.com/kazz187/tasksync/internal/config"
	"github.com/kazz187/tasksync/internal/doc"
	"github.com/kazz187/tasksync/internal/eventbus"
	"github.com/kazz187/tasksync/internal/metrics"
	"github.com/kazz187/tasksync/internal/orchestrator"
	"github.com/kazz187/tasksync/internal/pushsubscription"
	"github.com/kazz187/tasksync/internal/task"
	"github.com/kazz187/tasksync/pkg/cerr"
	"github.com/kazz187/tasksync/pkg/clog"
	"github.com/kazz187/tasksync/pkg/storage"
)

const (
	maxUploadSize = 32 << 20
	uploadsPrefix = "uploads"
)

// Board is the task board the HTTP API edits.
type Board interface {
	Tasks(ctx context.Context) ([]task.Task, error)
	CreateTask(ctx context.Context, t task.Task) (task.Task, error)
	UpdateTask(ctx context.Context, id string, p orchestrator.Patch) (task.Task, error)
	MoveTask(ctx context.Context, id string, status task.Status) (task.Task, error)
	DeleteTask(ctx context.Context, id string) error
	RequestPull(ctx context.Context) ([]task.Task, error)
}

type Server struct {
	server  *http.Server
	env     *config.Env
	board   Board
	uploads storage.Storage
	subs    pushsubscription.Repository
	metrics *metrics.Metrics
	bus     *eventbus.Bus
}

func NewServer(
	env *config.Env,
	board Board,
	uploads storage.Storage,
	subs pushsubscription.Repository,
	m *metrics.Metrics,
	bus *eventbus.Bus,
) *Server {
	return &Server{
		env:     env,
		board:   board,
		uploads: uploads,
		subs:    subs,
		metrics: m,
		bus:     bus,
	}
}

// Handler returns the full HTTP handler tree, API key check included.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(clog.SlogChiMiddleware())
		// The event stream writes its own response.
		r.Get("/events", s.events)
		r.Group(func(r chi.Router) {
			r.Use(cerr.NewJSONResponseChiMiddleware())
			r.Get("/agents", s.listAgents)
			r.Route("/tasks", func(r chi.Router) {
				r.Get("/", s.listTasks)
				r.Post("/", s.createTask)
				r.Put("/{id}", s.updateTask)
				r.Delete("/{id}", s.deleteTask)
				r.Post("/{id}/move", s.moveTask)
			})
			r.Post("/sync/pull", s.pull)
			r.Post("/uploads", s.upload)
			r.Route("/push-subscriptions", func(r chi.Router) {
				r.Get("/vapid-public-key", s.vapidPublicKey)
				r.Post("/", s.registerPushSubscription)
				r.Delete("/", s.unregisterPushSubscription)
			})
		})
		r.NotFound(cerr.NewJSONResponseChiMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cerr.SetNewJSONError(r.Context(), cerr.NotFound, "not found", nil)
		})).ServeHTTP)
	})

	mux := http.NewServeMux()
	mux.Handle("/health", &HealthChecker{})
	mux.Handle("/metrics", s.metrics.Handler())
	mux.Handle("/api/", r)
	mux.Handle(grpchealth.NewHandler(grpchealth.NewStaticChecker()))

	return cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.apiKeyMiddleware(mux))
}

// ListenAndServe starts the HTTP server. ctx is the base context of every
// request, so cancelling it also ends open event streams.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.env.HTTPHost, s.env.HTTPPort)
	slog.Info("starting server", "addr", addr)

	s.server = &http.Server{
		Addr:        addr,
		Handler:     h2c.NewHandler(s.Handler(), &http2.Server{}),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type HealthChecker struct{}

func (hc *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Probes and scrapes go without a key.
		if s.env.APIKey == "" || r.Method == http.MethodOptions ||
			r.URL.Path == "/health" || r.URL.Path == "/metrics" || r.URL.Path == "/grpc.health.v1.Health/Check" {
			next.ServeHTTP(w, r)
			return
		}
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			apiKey = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if apiKey != s.env.APIKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return cerr.NewError(cerr.InvalidArgument, "invalid request body", err)
	}
	return nil
}

type tasksResponse struct {
	Tasks []task.Task `json:"tasks"`
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	cerr.SetJSONResponse(r.Context(), map[string]any{"agents": agent.All()})
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tasks, err := s.board.Tasks(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, unavailable(err))
		return
	}
	cerr.SetJSONResponse(ctx, tasksResponse{Tasks: tasks})
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var t task.Task
	if err := decodeJSON(r, &t); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	created, err := s.board.CreateTask(ctx, t)
	if err != nil {
		cerr.SetJSONError(ctx, unavailable(err))
		return
	}
	clog.AddAttribute(ctx, "task_id", created.ID)
	cerr.SetJSONResponseWithStatus(ctx, http.StatusCreated, created)
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	clog.AddAttribute(ctx, "task_id", id)
	var p orchestrator.Patch
	if err := decodeJSON(r, &p); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	updated, err := s.board.UpdateTask(ctx, id, p)
	if err != nil {
		cerr.SetJSONError(ctx, unavailable(err))
		return
	}
	cerr.SetJSONResponse(ctx, updated)
}

func (s *Server) moveTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	clog.AddAttribute(ctx, "task_id", id)
	var req struct {
		Status task.Status `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	moved, err := s.board.MoveTask(ctx, id, req.Status)
	if err != nil {
		cerr.SetJSONError(ctx, unavailable(err))
		return
	}
	cerr.SetJSONResponse(ctx, moved)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	clog.AddAttribute(ctx, "task_id", id)
	if err := s.board.DeleteTask(ctx, id); err != nil {
		cerr.SetJSONError(ctx, unavailable(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) pull(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tasks, err := s.board.RequestPull(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, unavailable(err))
		return
	}
	cerr.SetJSONResponse(ctx, tasksResponse{Tasks: tasks})
}

type uploadResponse struct {
	FilePath string       `json:"file_path"`
	FileType doc.FileType `json:"file_type"`
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "a multipart field named file is required", err)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "failed to read upload", err)
		return
	}

	name := path.Base(strings.ReplaceAll(header.Filename, "\\", "/"))
	if name == "." || name == "/" {
		name = "upload"
	}
	p := fmt.Sprintf("%s/%s-%s", uploadsPrefix, ulid.Make().String(), name)
	if err := s.uploads.Write(ctx, p, data); err != nil {
		cerr.SetJSONError(ctx, cerr.WrapStorageWriteError("upload", err))
		return
	}
	clog.AddAttribute(ctx, "file_path", p)
	cerr.SetJSONResponseWithStatus(ctx, http.StatusCreated, uploadResponse{FilePath: p, FileType: doc.FileTypeFromName(name)})
}

func (s *Server) vapidPublicKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.env.VAPIDEnv.PublicKey == "" {
		cerr.SetNewJSONError(ctx, cerr.FailedPrecondition, "VAPID keys not configured", nil)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]string{"public_key": s.env.VAPIDEnv.PublicKey})
}

// pushSubscriptionRequest is the JSON form of a browser PushSubscription.
type pushSubscriptionRequest struct {
	Endpoint       string `json:"endpoint"`
	ExpirationTime *int64 `json:"expirationTime,omitempty"`
	Keys           struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (s *Server) registerPushSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req pushSubscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	sub, err := s.subs.Register(ctx, req.Endpoint, req.Keys.P256dh, req.Keys.Auth)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponseWithStatus(ctx, http.StatusCreated, map[string]string{"id": sub.ID})
}

func (s *Server) unregisterPushSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	endpoint := r.URL.Query().Get("endpoint")
	if endpoint == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "endpoint is required", nil)
		return
	}
	if err := s.subs.DeleteByEndpoint(ctx, endpoint); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// events streams bus events as server-sent events until the client goes
// away.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	subID, ch := s.bus.Subscribe(64)
	defer s.bus.Unsubscribe(subID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// unavailable maps a stopped board to a 503.
func unavailable(err error) error {
	if errors.Is(err, orchestrator.ErrNotRunning) {
		return cerr.NewError(cerr.Unavailable, "task board is not running", err)
	}
	return err
}
