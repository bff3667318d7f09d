package api

import "net/http"

type healthResponse struct {
	Status  string `json:"status"`
	Program string `json:"program,omitempty"`
	Running bool   `json:"running"`
}

// handleHealthz reports liveness and which program, if any, is current.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if p := s.engine.Current(); p != nil {
		resp.Program = p.Name
		resp.Running = p.IsRunning()
	}
	s.writeJSON(w, http.StatusOK, resp)
}
