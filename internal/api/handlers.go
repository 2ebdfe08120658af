package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/banshee-data/cryptomaster/internal/cluster"
	"github.com/banshee-data/cryptomaster/internal/feed"
	"github.com/banshee-data/cryptomaster/internal/httputil"
	"github.com/banshee-data/cryptomaster/internal/mapping"
	"github.com/banshee-data/cryptomaster/internal/mission"
)

// maxMapBytes bounds POST /api/map bodies.
const maxMapBytes = 8 << 20

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	Mission mission.Status `json:"mission"`
	Engine  cluster.Stats  `json:"engine"`
	Feed    *feed.Stats    `json:"feed,omitempty"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	resp := StatusResponse{
		Mission: s.mission.Status(),
		Engine:  s.engine.Stats(),
	}
	if s.feed != nil {
		stats := s.feed.Stats()
		resp.Feed = &stats
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.settings)
}

// listClusters returns the top-k clusters by observation count.
// Query params:
//   - k (optional; defaults to the configured top_k)
//   - all (optional; "true" returns the whole arena in index order)
func (s *Server) listClusters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	if all, _ := strconv.ParseBool(q.Get("all")); all {
		httputil.WriteJSONOK(w, s.engine.Clusters())
		return
	}
	k := s.settings.GetTopK()
	if v := q.Get("k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httputil.BadRequest(w, fmt.Sprintf("invalid k %q", v))
			return
		}
		k = n
	}
	httputil.WriteJSONOK(w, s.engine.TopClusters(k))
}

func (s *Server) resetCluster(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid cluster index %q", r.PathValue("index")))
		return
	}
	if err := s.engine.ResetCluster(index); err != nil {
		if errors.Is(err, cluster.ErrClusterNotFound) {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.InternalServerError(w, err.Error())
		return
	}
	p, err := s.engine.Cluster(index)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, p)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.queue.Snapshot())
}

// ReorderRequest is the body of POST /api/jobs/reorder.
type ReorderRequest struct {
	Gains map[string]float64 `json:"gains"`
}

func (s *Server) reorderJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req ReorderRequest
	if err := httputil.DecodeJSON(r, &req, 1<<20); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	s.queue.ReorderByGain(req.Gains)
	httputil.WriteJSONOK(w, s.queue.Snapshot())
}

// MapResponse is returned by POST /api/map.
type MapResponse struct {
	Viewpoints int `json:"viewpoints"`
}

// deliverMap accepts a map file (YAML or JSON) and hands its viewpoints to
// the coordinator.
func (s *Server) deliverMap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxMapBytes+1))
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("failed to read map: %v", err))
		return
	}
	if len(body) > maxMapBytes {
		httputil.WriteJSONError(w, http.StatusRequestEntityTooLarge, "map too large")
		return
	}
	viewpoints, err := mapping.Parse(body)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.mission.MapReady(viewpoints); err != nil {
		if errors.Is(err, mission.ErrMapAlreadyLoaded) {
			httputil.WriteJSONError(w, http.StatusConflict, err.Error())
			return
		}
		httputil.InternalServerError(w, err.Error())
		return
	}
	logf("map delivered with %d viewpoints", len(viewpoints))
	httputil.WriteJSON(w, http.StatusAccepted, MapResponse{Viewpoints: len(viewpoints)})
}

// listEvents returns recent transitions.
// Query params:
//   - source (optional; "db" reads the persisted log, default is in memory)
//   - limit (optional; db source only, default 500)
func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	if q.Get("source") != "db" {
		httputil.WriteJSONOK(w, s.mission.Events())
		return
	}
	if s.db == nil {
		httputil.NotFound(w, "no database configured")
		return
	}
	limit := 500
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httputil.BadRequest(w, fmt.Sprintf("invalid limit %q", v))
			return
		}
		limit = n
	}
	events, err := s.db.Transitions(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to read transitions: %v", err))
		return
	}
	httputil.WriteJSONOK(w, events)
}

func (s *Server) showCounters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.counters.Snapshot())
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	command := r.FormValue("command")
	if command == "" {
		httputil.BadRequest(w, "missing command")
		return
	}
	if err := s.serial.SendCommand(command); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to send command: %v", err))
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"sent": command})
}
