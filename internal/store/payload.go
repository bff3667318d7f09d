package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/CoderBotOrg/coderbot/internal/model"
)

// defaultMarker marks payload directories holding factory-provided programs.
const defaultMarker = "default"

// writePayload encodes p to path through a temporary file in the same
// directory, creating the directory and the file when absent.
func writePayload(path string, p model.ProgramPayload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create payload dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".payload-*")
	if err != nil {
		return fmt.Errorf("create payload: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write payload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close payload: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename payload: %w", err)
	}
	return nil
}

func readPayload(path string) (*model.ProgramPayload, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}

	var p model.ProgramPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode payload %s: %w", path, err)
	}
	return &p, nil
}

func removePayload(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove payload: %w", err)
	}
	return nil
}

// Reconcile walks dir and registers every payload file whose program name is
// not indexed yet. Files found below a directory whose path relative to dir
// contains "default" are registered as default programs. It returns the number
// of records added; a missing dir adds nothing.
func (s *SQLiteStore) Reconcile(ctx context.Context, dir string) (int, error) {
	added := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == dir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}

		name, ok := model.ProgramNameFromFile(d.Name())
		if !ok {
			return nil
		}

		rel, err := filepath.Rel(dir, filepath.Dir(path))
		if err != nil {
			return err
		}

		inserted, err := s.insertIfAbsent(ctx, model.ProgramRecord{
			Name:     name,
			Filename: path,
			Default:  strings.Contains(rel, defaultMarker),
		})
		if err != nil {
			return err
		}
		if inserted {
			added++
		}
		return nil
	})
	if err != nil {
		return added, fmt.Errorf("reconcile %s: %w", dir, err)
	}
	return added, nil
}
