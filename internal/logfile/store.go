// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package logfile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Store saves records as JSON envelopes under a directory.
type Store struct {
	Dir string
}

// NewStore creates dir if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", dir, err)
	}
	return &Store{Dir: dir}, nil
}

// Save writes r to <dir>/<yyyymmdd-hhmmss>-<uuid>.json, named after its
// creation date, and returns the path.
func (s *Store) Save(r *Record) (string, error) {
	data, err := Marshal(r)
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("%s-%s.json", r.Metadata.CreationDate.UTC().Format("20060102-150405"), uuid.NewString())
	path := filepath.Join(s.Dir, name)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename %s: %w", tmp, err)
	}
	return path, nil
}

// Load reads a record saved by Save, or any envelope in the same format.
func Load(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}
