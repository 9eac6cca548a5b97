package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ppiankov/pgokache/internal/apperr"
	"github.com/ppiankov/pgokache/internal/model"
	"github.com/ppiankov/pgokache/internal/registry"
	"github.com/ppiankov/pgokache/internal/store"
)

// HealthResponse is the body of /health and /ready.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Timestamp: time.Now().UTC()})
}

// handleReady reports ready once serving and while the store answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "not_ready", Timestamp: time.Now().UTC()}
	if !s.isReady() {
		resp.Reason = "server is not serving"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	if err := s.api.Ping(r.Context()); err != nil {
		resp.Reason = "store unreachable"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Status = "ready"
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listInstances(w http.ResponseWriter, r *http.Request) {
	insts, err := s.api.ListInstances(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if insts == nil {
		insts = []model.Instance{}
	}
	writeJSON(w, http.StatusOK, insts)
}

func (s *Server) createInstance(w http.ResponseWriter, r *http.Request) {
	var req registry.CreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	inst, err := s.api.CreateInstance(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

func (s *Server) getInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := s.api.GetInstance(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) patchInstance(w http.ResponseWriter, r *http.Request) {
	var req registry.PatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	inst, err := s.api.PatchInstance(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) checkSetup(w http.ResponseWriter, r *http.Request) {
	info, err := s.api.CheckSetup(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) setupStates(w http.ResponseWriter, r *http.Request) {
	states, err := s.api.SetupStates(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if states == nil {
		states = []model.SetupState{}
	}
	writeJSON(w, http.StatusOK, states)
}

func (s *Server) collect(w http.ResponseWriter, r *http.Request) {
	recommend := true
	if v := r.URL.Query().Get("recommend"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, apperr.New(apperr.Validation, "server.collect", "recommend must be a boolean"))
			return
		}
		recommend = b
	}
	res, err := s.api.Collect(r.Context(), r.PathValue("id"), recommend)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) recommend(w http.ResponseWriter, r *http.Request) {
	sum, err := s.api.Recommend(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) snapshots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	top, err := intParam(q.Get("top"), "top")
	if err != nil {
		writeError(w, r, err)
		return
	}
	snaps, err := s.api.Snapshots(r.Context(), q.Get("instance"), top)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) recommendations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	recs, err := s.api.Recommendations(r.Context(), store.RecommendationFilter{
		InstanceID: q.Get("instance"),
		Status:     model.Status(q.Get("status")),
		Limit:      limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) setStatus(next model.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := s.api.SetRecommendationStatus(r.Context(), r.PathValue("id"), next)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func intParam(v, name string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, apperr.New(apperr.Validation, "server.params", name+" must be a non-negative integer")
	}
	return n, nil
}
