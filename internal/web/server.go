package web

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/jentimanatol/CriticalRValueConfidence/internal/cache"
	"github.com/jentimanatol/CriticalRValueConfidence/internal/db"
	"github.com/jentimanatol/CriticalRValueConfidence/internal/logging"
)

//go:embed static
var staticFiles embed.FS

type Server struct {
	db        *db.DB
	addr      string
	plotCache *cache.PlotCache
	renderSem chan struct{}
	log       *zap.Logger
}

// NewServer builds a server. database may be nil, in which case the history
// endpoints answer 503.
func NewServer(database *db.DB, addr string) *Server {
	log := logging.Named("web")

	cacheDir := os.Getenv("PLOT_CACHE_DIR")
	if cacheDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cacheDir = filepath.Join(home, ".cache", "critr", "plots")
		} else {
			cacheDir = filepath.Join(os.TempDir(), "critr-plots")
		}
	}

	maxEntries := 200
	if envMax := os.Getenv("PLOT_CACHE_MAX_ENTRIES"); envMax != "" {
		if n, err := strconv.Atoi(envMax); err == nil && n > 0 {
			maxEntries = n
		}
	}

	maxConcurrency := 4
	if envMax := os.Getenv("PLOT_MAX_CONCURRENCY"); envMax != "" {
		if n, err := strconv.Atoi(envMax); err == nil && n > 0 {
			maxConcurrency = n
		}
	}

	plotCache, err := cache.NewPlotCache(cacheDir, maxEntries)
	if err != nil {
		log.Warn("plot cache disabled", zap.String("dir", cacheDir), zap.Error(err))
		plotCache = nil
	}

	return &Server{
		db:        database,
		addr:      addr,
		plotCache: plotCache,
		renderSem: make(chan struct{}, maxConcurrency),
		log:       log,
	}
}

// Handler returns the full router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/alpha", s.handleAlpha)
		r.Get("/critical", s.handleCritical)
		r.Get("/table", s.handleTable)
		r.Get("/plot", s.handlePlot)

		r.Route("/calculations", func(r chi.Router) {
			r.Get("/", s.handleListCalculations)
			r.Post("/", s.handleCreateCalculation)
			r.Get("/{id}", s.handleGetCalculation)
			r.Delete("/{id}", s.handleDeleteCalculation)
		})
	})

	appFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		s.log.Error("static files unavailable", zap.Error(err))
	} else {
		r.Handle("/*", http.FileServer(http.FS(appFS)))
	}

	return r
}

func (s *Server) Start(openBrowser bool) error {
	if openBrowser {
		url := fmt.Sprintf("http://localhost%s", s.addr)
		go openURL(url)
	}

	if s.plotCache != nil {
		if n, err := s.plotCache.Prune(); err != nil {
			s.log.Warn("prune plot cache", zap.Error(err))
		} else if n > 0 {
			s.log.Info("pruned plot cache", zap.Int("removed", n))
		}
	}

	fmt.Printf("Starting server at http://localhost%s\n", s.addr)
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func openURL(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	}
	if cmd != nil {
		_ = cmd.Start()
	}
}
