package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/CoderBotOrg/coderbot/internal/engine"
	"github.com/CoderBotOrg/coderbot/internal/model"
	"github.com/CoderBotOrg/coderbot/internal/program"
	"github.com/CoderBotOrg/coderbot/internal/store"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// saveProgramRequest is the JSON body for POST /v1/programs.
type saveProgramRequest struct {
	Name    string `json:"name"`
	Code    string `json:"code"`
	DOMCode string `json:"dom_code"`
}

// execProgramRequest is the optional JSON body for POST /v1/programs/{name}/exec.
type execProgramRequest struct {
	Code string `json:"code"`
}

type listProgramsResponse struct {
	Programs []model.ProgramRecord `json:"programs"`
}

type execResponse struct {
	Name  string `json:"name"`
	RunID string `json:"run_id"`
}

type statusResponse struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
}

type listRunsResponse struct {
	Runs []*model.Run `json:"runs"`
}

func (s *Server) handleListPrograms(w http.ResponseWriter, r *http.Request) {
	recs, err := s.engine.List(r.Context())
	if err != nil {
		s.logger.Error("list programs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list programs")
		return
	}
	if recs == nil {
		recs = []model.ProgramRecord{}
	}
	s.writeJSON(w, http.StatusOK, listProgramsResponse{Programs: recs})
}

func (s *Server) handleSaveProgram(w http.ResponseWriter, r *http.Request) {
	var req saveProgramRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	p := program.New(req.Name, req.Code)
	p.DOMCode = req.DOMCode

	if err := s.engine.Save(r.Context(), p); err != nil {
		if errors.Is(err, engine.ErrInvalidName) {
			s.writeError(w, http.StatusBadRequest, "invalid program name")
			return
		}
		s.logger.Error("save program", "program", req.Name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to save program")
		return
	}

	s.writeJSON(w, http.StatusCreated, p.Payload())
}

func (s *Server) handleLoadProgram(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	p, err := s.engine.Load(r.Context(), name)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "program not found")
		return
	}
	if err != nil {
		s.logger.Error("load program", "program", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load program")
		return
	}

	s.writeJSON(w, http.StatusOK, p.Payload())
}

func (s *Server) handleDeleteProgram(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := s.engine.Delete(r.Context(), name); err != nil {
		s.logger.Error("delete program", "program", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to delete program")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleExecProgram makes the named program current and starts it. With a
// code body the program is created unsaved; otherwise it is loaded from the
// catalog.
func (s *Server) handleExecProgram(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req execProgramRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		recordAction(actionExec, outcomeInvalid)
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// Only one program runs at a time, and a stopped one holds the robot
	// until its teardown is done.
	if s.engine.Busy() {
		recordAction(actionExec, outcomeConflict)
		s.writeError(w, http.StatusConflict, "a program is already running")
		return
	}

	var err error
	if req.Code != "" {
		_, err = s.engine.Create(name, req.Code)
	} else {
		_, err = s.engine.Load(r.Context(), name)
	}
	switch {
	case errors.Is(err, engine.ErrInvalidName):
		recordAction(actionExec, outcomeInvalid)
		s.writeError(w, http.StatusBadRequest, "invalid program name")
		return
	case errors.Is(err, store.ErrNotFound):
		recordAction(actionExec, outcomeNotFound)
		s.writeError(w, http.StatusNotFound, "program not found")
		return
	case err != nil:
		recordAction(actionExec, outcomeError)
		s.logger.Error("prepare program", "program", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to prepare program")
		return
	}

	runID, err := s.engine.ExecuteCurrent(r.Context())
	if errors.Is(err, program.ErrAlreadyRunning) {
		recordAction(actionExec, outcomeConflict)
		s.writeError(w, http.StatusConflict, "program is already running")
		return
	}
	if err != nil {
		recordAction(actionExec, outcomeError)
		s.logger.Error("execute program", "program", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to execute program")
		return
	}

	recordAction(actionExec, outcomeAccepted)
	s.writeJSON(w, http.StatusAccepted, execResponse{Name: name, RunID: runID})
}

// handleStopProgram blocks until the program's teardown has finished.
func (s *Server) handleStopProgram(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	cur := s.engine.Current()
	if cur == nil || cur.Name != name {
		recordAction(actionStop, outcomeNotFound)
		s.writeError(w, http.StatusNotFound, "program is not current")
		return
	}

	outcome := outcomeIdle
	if s.engine.Busy() {
		outcome = outcomeAccepted
	}
	s.engine.Stop()
	recordAction(actionStop, outcome)
	s.writeJSON(w, http.StatusOK, statusResponse{Name: name, Running: cur.IsRunning()})
}

func (s *Server) handleProgramStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.writeJSON(w, http.StatusOK, statusResponse{Name: name, Running: s.engine.IsRunning(name)})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	limit := parseIntQuery(r, "limit", defaultRunsLimit)
	if limit <= 0 || limit > maxRunsLimit {
		limit = defaultRunsLimit
	}

	runs, err := s.engine.Runs(r.Context(), name, limit)
	if err != nil {
		s.logger.Error("list runs", "program", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*model.Run{}
	}
	s.writeJSON(w, http.StatusOK, listRunsResponse{Runs: runs})
}
