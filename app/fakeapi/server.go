// Package fakeapi is an in-process stand-in for the modelibr backend: the REST surface the
// harness drives, the thumbnail hub, and the SQL rows the harness reads back.
// Thumbnails go through a simulated pipeline so waits see real Pending/Processing/Ready transitions.
package fakeapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/didip/tollbooth/v8/limiter"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/routegroup"
)

// Config holds fake backend settings.
type Config struct {
	Address         string
	DBPath          string // sqlite file shared with the harness' read-only store
	Token           string // bearer token, empty disables auth
	Version         string
	ShutdownTimeout time.Duration

	PipelineStep     time.Duration // delay of each thumbnail state transition
	UniqueCategories bool          // answer 409 on duplicate sound category names

	BodySizeLimit  int64   // max request body size in bytes
	RequestsPerSec float64 // max requests per second (rate limit)
	MaxConcurrent  int64   // max concurrent in-flight requests
}

// Server is the fake backend.
type Server struct {
	Config
	data   *dataStore
	hub    *Hub
	thumbs *thumbCache
	audit  *auditLog

	ctx    context.Context // canceled by Close, stops pipelines
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New opens the database, lays out the schema and prepares the routes.
func New(cfg Config) (*Server, error) {
	data, err := openData(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	thumbs, err := newThumbCache(256)
	if err != nil {
		_ = data.Close()
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		Config: cfg,
		data:   data,
		hub:    NewHub(cfg.Token),
		thumbs: thumbs,
		audit:  newAuditLog(auditCapacity),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Run starts the HTTP server and blocks until context is canceled.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Printf("[INFO] shutting down fake backend")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
		defer cancel()
		s.hub.Shutdown()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] shutdown error: %v", err)
		}
	}()

	log.Printf("[DEBUG] started fake backend on %s", s.Address)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Close stops running pipelines, disconnects hub clients and closes the database.
func (s *Server) Close() error {
	s.cancel()
	s.wg.Wait()
	s.hub.Shutdown()
	s.thumbs.Close()
	return s.data.Close()
}

// Handler returns the HTTP handler with all routes and middleware, for httptest or Run.
func (s *Server) Handler() http.Handler {
	router := routegroup.New(http.NewServeMux())

	router.Use(
		rest.Recoverer(log.Default()),
		rest.RealIP, // must be before rate limiting to limit by real client IP
		s.rateLimiter(),
		rest.Throttle(s.maxConcurrent()),
		rest.Trace,
		rest.SizeLimit(s.bodySizeLimit()),
		rest.AppInfo("modelibr-fake", "modelibr", s.Version),
		rest.Ping,
	)

	router.HandleFunc("GET /health", s.handleHealth)

	// the hub checks its own token, browsers can't set headers on websocket dials
	router.Handle("GET /thumbnailHub", s.hub)

	router.Group().Route(func(api *routegroup.Bundle) {
		api.Use(s.auditMiddleware, s.tokenAuth)

		api.HandleFunc("POST /audit/query", s.handleAuditQuery)

		api.HandleFunc("GET /models", s.handleListModels)
		api.HandleFunc("POST /models", s.handleCreateModel)
		api.HandleFunc("GET /models/{id}", s.handleGetModel)
		api.HandleFunc("DELETE /models/{id}", s.handleDeleteModel)
		api.HandleFunc("GET /models/{id}/versions", s.handleListVersions)
		api.HandleFunc("POST /models/{id}/versions", s.handleCreateVersion)
		api.HandleFunc("GET /models/{id}/versions/{versionID}", s.handleGetVersion)
		api.HandleFunc("GET /models/{id}/thumbnail", s.handleGetThumbnail)
		api.HandleFunc("GET /models/{id}/thumbnail/file", s.handleThumbnailFile)
		api.HandleFunc("PUT /models/{id}/defaultTextureSet", s.handleSetDefaultTextureSet)

		api.HandleFunc("POST /texture-sets/with-file", s.handleCreateTextureSet)
		api.HandleFunc("GET /texture-sets/{id}", s.handleGetTextureSet)
		api.HandleFunc("DELETE /texture-sets/{id}", s.handleDeleteTextureSet)
		api.HandleFunc("POST /texture-sets/{id}/model-versions/{versionID}", s.handleAssociate)
		api.HandleFunc("DELETE /texture-sets/{id}/model-versions/{versionID}", s.handleDisassociate)

		api.HandleFunc("POST /sounds", s.handleCreateSound)
		api.HandleFunc("GET /sounds/{id}", s.handleGetSound)
		api.HandleFunc("DELETE /sounds/{id}", s.handleDeleteSound)
		api.HandleFunc("POST /sound-categories", s.handleCreateCategory)
		api.HandleFunc("GET /sound-categories", s.handleListCategories)
		api.HandleFunc("GET /sound-categories/{id}", s.handleGetCategory)
		api.HandleFunc("DELETE /sound-categories/{id}", s.handleDeleteCategory)

		api.HandleFunc("POST /packs", s.collectionCreate(s.data.packs))
		api.HandleFunc("GET /packs/{id}", s.collectionGet(s.data.packs))
		api.HandleFunc("DELETE /packs/{id}", s.collectionDelete(s.data.packs))
		api.HandleFunc("POST /projects", s.collectionCreate(s.data.projects))
		api.HandleFunc("GET /projects/{id}", s.collectionGet(s.data.projects))
		api.HandleFunc("DELETE /projects/{id}", s.collectionDelete(s.data.projects))

		api.HandleFunc("POST /sprites", s.handleCreateSprite)
		api.HandleFunc("GET /sprites/{id}", s.handleGetSprite)
		api.HandleFunc("DELETE /sprites/{id}", s.handleDeleteSprite)
	})

	return router
}

// tokenAuth rejects requests without the configured bearer token.
func (s *Server) tokenAuth(next http.Handler) http.Handler {
	if s.Token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !validBearer(r.Header.Get("Authorization"), s.Token) {
			rest.SendErrorJSON(w, r, log.Default(), http.StatusUnauthorized, nil, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func validBearer(header, token string) bool {
	v, ok := strings.CutPrefix(header, "Bearer ")
	return ok && v == token
}

// bodySizeLimit returns the configured body size limit, or default 64MB if not set.
func (s *Server) bodySizeLimit() int64 {
	if s.BodySizeLimit > 0 {
		return s.BodySizeLimit
	}
	return 64 * 1024 * 1024
}

// requestsPerSec returns the configured rate limit, or default 1000 if not set.
func (s *Server) requestsPerSec() float64 {
	if s.RequestsPerSec > 0 {
		return s.RequestsPerSec
	}
	return 1000
}

// maxConcurrent returns the configured max concurrent in-flight requests, or default 100 if not set.
func (s *Server) maxConcurrent() int64 {
	if s.MaxConcurrent > 0 {
		return s.MaxConcurrent
	}
	return 100
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.ShutdownTimeout > 0 {
		return s.ShutdownTimeout
	}
	return 5 * time.Second
}

func (s *Server) pipelineStep() time.Duration {
	if s.PipelineStep > 0 {
		return s.PipelineStep
	}
	return 50 * time.Millisecond
}

// rateLimiter returns middleware that limits requests per second using tollbooth.
func (s *Server) rateLimiter() func(http.Handler) http.Handler {
	lmt := tollbooth.NewLimiter(s.requestsPerSec(), &limiter.ExpirableOptions{DefaultExpirationTTL: time.Hour})
	lmt.SetIPLookup(limiter.IPLookup{Name: "RemoteAddr", IndexFromRight: 0}) // RealIP sets RemoteAddr
	lmt.SetBurst(int(s.requestsPerSec()))
	return func(next http.Handler) http.Handler {
		return tollbooth.LimitHandler(lmt, next)
	}
}
