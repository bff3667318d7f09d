package model

import (
	"path/filepath"
	"strings"
	"time"
)

// Payload file naming. A program named "square" is stored as program_square.json.
const (
	ProgramPrefix = "program_"
	ProgramSuffix = ".json"
)

// Run status constants.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusStopped   = "stopped"
)

// ProgramRecord is the catalog entry for a saved program.
type ProgramRecord struct {
	Name     string `json:"name"`
	Filename string `json:"filename"`
	Default  bool   `json:"default"`
}

// ProgramPayload is the JSON document written to a program's payload file.
type ProgramPayload struct {
	Name    string `json:"name"`
	Code    string `json:"code"`
	DOMCode string `json:"dom_code,omitempty"`
	Default bool   `json:"default"`
}

// Run is one execution of a program as kept in the run history.
type Run struct {
	ID         string     `json:"id"`
	Program    string     `json:"program"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	Log        string     `json:"log,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// ProgramFilename derives the payload location for name inside dir.
func ProgramFilename(dir, name string) string {
	return filepath.Join(dir, ProgramPrefix+name+ProgramSuffix)
}

// ProgramNameFromFile extracts the program name from a payload file's base
// name. It reports false when base does not follow the payload naming scheme.
func ProgramNameFromFile(base string) (string, bool) {
	if !strings.HasPrefix(base, ProgramPrefix) || !strings.HasSuffix(base, ProgramSuffix) {
		return "", false
	}
	name := strings.TrimSuffix(strings.TrimPrefix(base, ProgramPrefix), ProgramSuffix)
	if name == "" {
		return "", false
	}
	return name, true
}
