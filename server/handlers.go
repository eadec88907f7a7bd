package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/teranos/etlpulse/errors"
	"github.com/teranos/etlpulse/pulse/async"
	"github.com/teranos/etlpulse/pulse/schedule"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.State() != ServerStateRunning {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": s.State().String()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.scheduler.GetStats())
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.scheduler.Select(r.Context(), schedule.Filter{})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if schedules == nil {
		schedules = []*schedule.Schedule{}
	}
	writeJSON(w, http.StatusOK, schedules)
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	sched, err := s.scheduler.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

func (s *Server) handleRunSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	job, err := s.scheduler.RunNow(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleScheduleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	entry, err := s.history.GetByScheduleID(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var filter async.JobFilter
	if v := r.URL.Query().Get("running"); v != "" {
		running, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "running must be true or false")
			return
		}
		filter.Running = &running
	}
	if v := r.URL.Query().Get("schedule_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "schedule_id must be an integer")
			return
		}
		filter.ScheduleID = &id
	}

	jobs, err := s.queue.Select(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*async.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	job, err := s.queue.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleGetJobLog(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	entry, err := s.joblog.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

// writeServiceError maps domain errors onto HTTP status codes
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.IsNotFoundError(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.IsInvalidRequestError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errors.ErrConflict), errors.IsAlreadyExists(err):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Errorw("Request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
