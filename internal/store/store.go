package store

import (
	"context"
	"errors"

	"github.com/CoderBotOrg/coderbot/internal/model"
)

// ErrNotFound is returned when a program record, its payload or a run is not found.
var ErrNotFound = errors.New("not found")

// Store defines the persistence operations for the program catalog and run history.
type Store interface {
	ListPrograms(ctx context.Context) ([]model.ProgramRecord, error)
	FindProgram(ctx context.Context, name string) (*model.ProgramRecord, error)
	SaveProgram(ctx context.Context, rec model.ProgramRecord, payload model.ProgramPayload) error
	DeleteProgram(ctx context.Context, name string) error
	ReadPayload(ctx context.Context, rec model.ProgramRecord) (*model.ProgramPayload, error)
	Reconcile(ctx context.Context, dir string) (int, error)

	CreateRun(ctx context.Context, r *model.Run) error
	FinishRun(ctx context.Context, r *model.Run) error
	ListRuns(ctx context.Context, program string, limit int) ([]*model.Run, error)

	Close() error
}
