// Package api serves the operator HTTP surface: mission status, the
// cluster arena, the job queue, map delivery and diagnostics.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/cryptomaster/internal/cluster"
	"github.com/banshee-data/cryptomaster/internal/config"
	"github.com/banshee-data/cryptomaster/internal/db"
	"github.com/banshee-data/cryptomaster/internal/feed"
	"github.com/banshee-data/cryptomaster/internal/geom"
	"github.com/banshee-data/cryptomaster/internal/jobs"
	"github.com/banshee-data/cryptomaster/internal/mission"
	"github.com/banshee-data/cryptomaster/internal/monitoring"
	"github.com/banshee-data/cryptomaster/internal/serialmux"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

var logf = monitoring.Component("api")

// Mission is the coordinator surface used by the API.
type Mission interface {
	Status() mission.Status
	Events() []mission.TransitionRecord
	MapReady(viewpoints []geom.Point) error
}

// Config wires the server to the running mission. Mission, Engine and
// Queue are required; the rest are optional.
type Config struct {
	Mission  Mission
	Engine   *cluster.Engine
	Queue    *jobs.Queue
	Feed     *feed.Feed
	DB       *db.DB
	Serial   serialmux.SerialMuxInterface
	Counters *monitoring.Counters
	Settings *config.MissionConfig
}

type Server struct {
	mission  Mission
	engine   *cluster.Engine
	queue    *jobs.Queue
	feed     *feed.Feed
	db       *db.DB
	serial   serialmux.SerialMuxInterface
	counters *monitoring.Counters
	settings *config.MissionConfig
}

func NewServer(cfg Config) *Server {
	counters := cfg.Counters
	if counters == nil {
		counters = monitoring.Default
	}
	settings := cfg.Settings
	if settings == nil {
		settings = config.EmptyMissionConfig()
	}
	return &Server{
		mission:  cfg.Mission,
		engine:   cfg.Engine,
		queue:    cfg.Queue,
		feed:     cfg.Feed,
		db:       cfg.DB,
		serial:   cfg.Serial,
		counters: counters,
		settings: settings,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns a mux with every API route mounted.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/clusters", s.listClusters)
	mux.HandleFunc("/api/clusters/{index}/reset", s.resetCluster)
	mux.HandleFunc("/api/jobs", s.listJobs)
	mux.HandleFunc("/api/jobs/reorder", s.reorderJobs)
	mux.HandleFunc("/api/map", s.deliverMap)
	mux.HandleFunc("/api/events", s.listEvents)
	mux.HandleFunc("/api/counters", s.showCounters)
	if s.serial != nil {
		mux.HandleFunc("/command", s.sendCommandHandler)
	}
	return mux
}

// Serve runs an HTTP server on listener until ctx is done, then shuts it
// down gracefully.
func Serve(ctx context.Context, listener net.Listener, handler http.Handler) error {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- server.Serve(listener)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logf("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			logf("HTTP server force close error: %v", err)
		}
	}
	logf("HTTP server routine stopped")
	return nil
}
