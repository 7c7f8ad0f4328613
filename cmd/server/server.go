package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nickyhof/LayerDB"
	"github.com/nickyhof/LayerDB/core"
	"github.com/nickyhof/LayerDB/objects"
	"github.com/nickyhof/LayerDB/op"
)

// MaxObjectSize bounds an uploaded payload.
const MaxObjectSize = 256 << 20

// Server is an HTTP server exposing a LayerDB instance.
type Server struct {
	instance   *LayerDB.Instance
	identity   core.Identity
	authConfig *AuthConfig
	logger     *zap.Logger

	listener net.Listener
	http     *http.Server
	done     chan struct{}

	// builds share one engine; they run one at a time
	mu sync.Mutex
}

type Option func(*Server)

// WithAuth requires a JWT on every request.
func WithAuth(cfg AuthConfig) Option {
	return func(s *Server) {
		cfg.Enabled = true
		s.authConfig = &cfg
	}
}

// NewServer creates a server for instance. Unauthenticated requests act as
// identity.
func NewServer(instance *LayerDB.Instance, identity core.Identity, opts ...Option) *Server {
	s := &Server{
		instance: instance,
		identity: identity,
		logger:   instance.Logger.Named("server"),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("HEAD /objects/{id}", s.handleObjectHead)
	api.HandleFunc("GET /objects/{id}", s.handleObjectGet)
	api.HandleFunc("PUT /objects/{id}", s.handleObjectPut)
	api.HandleFunc("GET /repositories", s.handleRepositories)
	api.HandleFunc("GET /repositories/{namespace}/{name}/images", s.handleImages)
	api.HandleFunc("POST /build", s.handleBuild)
	api.HandleFunc("GET /whoami", s.handleWhoAmI)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, success("health", map[string]string{"status": "ok"}))
	})
	mux.Handle("/", s.authenticate(api))
	return mux
}

// Start begins listening for connections on the specified address.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.serve(listener)
	return nil
}

// StartTLS is Start with TLS using the given PEM certificate and key.
func (s *Server) StartTLS(addr, certFile, keyFile string) error {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return fmt.Errorf("failed to load certificate: %w", err)
	}
	listener, err := tls.Listen("tcp", addr, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	})
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.serve(listener)
	return nil
}

func (s *Server) serve(listener net.Listener) {
	s.listener = listener
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("listening", zap.String("addr", listener.Addr().String()))
	go func() {
		defer close(s.done)
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("serve failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	err := s.http.Shutdown(ctx)
	<-s.done
	return err
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, resp Response) {
	data, err := EncodeResponse(resp)
	if err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func (s *Server) objectID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if !core.IsHash(id) {
		http.Error(w, "invalid object id", http.StatusBadRequest)
		return "", false
	}
	return id, true
}

func (s *Server) handleObjectHead(w http.ResponseWriter, r *http.Request) {
	id, ok := s.objectID(w, r)
	if !ok {
		return
	}
	if !s.instance.Store.IsCached(id) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleObjectGet(w http.ResponseWriter, r *http.Request) {
	id, ok := s.objectID(w, r)
	if !ok {
		return
	}
	data, err := objects.DBHandler{Target: s.instance.Store}.Get(r.Context(), "db://"+id)
	if err != nil {
		http.Error(w, "object not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

// handleObjectPut stores a compressed payload as uploaded by a handler.
// Payloads that do not decode to their id are rejected.
func (s *Server) handleObjectPut(w http.ResponseWriter, r *http.Request) {
	id, ok := s.objectID(w, r)
	if !ok {
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxObjectSize))
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	if err := s.instance.Store.Import(id, data); err != nil {
		s.logger.Info("rejected object", zap.String("object", id), zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	identity, _ := IdentityFrom(r.Context())
	s.logger.Debug("stored object", zap.String("object", id), zap.String("by", identity.Email), zap.Int("bytes", len(data)))
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleRepositories(w http.ResponseWriter, r *http.Request) {
	names, err := s.instance.Repositories()
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, failure("repositories", err))
		return
	}
	out := make([]RepositoryInfo, 0, len(names))
	for _, name := range names {
		repo := s.instance.Repository(name)
		images, err := repo.Images()
		if err != nil {
			s.writeJSON(w, http.StatusInternalServerError, failure("repositories", err))
			return
		}
		info := RepositoryInfo{Repository: name.String(), Images: len(images)}
		// pushed repositories have no HEAD
		var refErr *core.ReferenceError
		head, err := repo.Head(r.Context())
		switch {
		case err == nil:
			info.Head = head.Hash
		case !errors.As(err, &refErr):
			s.writeJSON(w, http.StatusInternalServerError, failure("repositories", err))
			return
		}
		out = append(out, info)
	}
	s.writeJSON(w, http.StatusOK, success("repositories", out))
}

// handleImages lists the history of ?ref= (default latest), newest first.
func (s *Server) handleImages(w http.ResponseWriter, r *http.Request) {
	name := core.RepositoryName{Namespace: r.PathValue("namespace"), Name: r.PathValue("name")}
	if err := name.Validate(); err != nil {
		s.writeJSON(w, http.StatusBadRequest, failure("images", err))
		return
	}
	ref := r.URL.Query().Get("ref")
	if ref == "" {
		ref = core.TagLatest
	}

	repo := s.instance.Repository(name)
	images, err := repo.Log(r.Context(), ref)
	if err != nil {
		s.writeJSON(w, statusFor(err), failure("images", err))
		return
	}
	tags, err := repo.Tags()
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, failure("images", err))
		return
	}
	out := make([]ImageInfo, 0, len(images))
	for _, img := range images {
		out = append(out, ImageInfo{
			Hash:      img.Hash,
			ParentID:  img.ParentID,
			CreatedAt: img.CreatedAt,
			Comment:   img.Comment,
			Tables:    img.TableNames(),
			Tags:      op.TagsOf(tags, img.Hash),
		})
	}
	s.writeJSON(w, http.StatusOK, success("images", out))
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	var req BuildRequest
	if err := core.DecodeJSON(readBody(r), &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, failure("build", fmt.Errorf("invalid request: %w", err)))
		return
	}
	var output core.RepositoryName
	if req.Output != "" {
		var err error
		if output, err = core.ParseRepository(req.Output); err != nil {
			s.writeJSON(w, http.StatusBadRequest, failure("build", err))
			return
		}
	}

	identity, _ := IdentityFrom(r.Context())
	s.logger.Info("build requested", zap.String("output", req.Output), zap.String("by", identity.Email))

	s.mu.Lock()
	res, err := s.instance.Executor().Run(r.Context(), req.Script, req.Params, output)
	s.mu.Unlock()

	br := BuildResponse{RunID: res.RunID, Outputs: res.Outputs, TimeMs: res.ExecutionTimeSec * 1000}
	for _, step := range res.Steps {
		info := StepInfo{
			Command: step.Command,
			Image:   step.Image,
			Cached:  step.Cached,
			TimeMs:  float64(step.Duration.Microseconds()) / 1000,
		}
		if step.Err != nil {
			info.Error = step.Err.Error()
		}
		br.Steps = append(br.Steps, info)
	}
	if err != nil {
		resp := failure("build", err)
		resp.Result = success("build", br).Result
		s.writeJSON(w, statusFor(err), resp)
		return
	}
	s.writeJSON(w, http.StatusOK, success("build", br))
}

func readBody(r *http.Request) []byte {
	data, _ := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	return data
}

// statusFor maps the engine's error types to HTTP statuses.
func statusFor(err error) int {
	var (
		parseErr  *core.ParseError
		schemaErr *core.SchemaError
		refErr    *core.ReferenceError
	)
	switch {
	case errors.As(err, &parseErr), errors.As(err, &schemaErr):
		return http.StatusBadRequest
	case errors.As(err, &refErr):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
