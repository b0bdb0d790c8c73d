// Package store persists the cumulative distance baseline as a small JSON
// file, readable by external display tools.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// baselineFile is the on-disk format. wheel_circumference_m records the
// constant the distance was accumulated with, for later sanity checks.
type baselineFile struct {
	TotalKm             float64 `json:"total_km"`
	LastUpdated         string  `json:"last_updated"`
	WheelCircumferenceM float64 `json:"wheel_circumference_m"`
}

// JSONStore implements telemetry.BaselineStore on a single JSON file.
type JSONStore struct {
	path           string
	circumferenceM float64
}

// NewJSONStore returns a store backed by the file at path. The file is
// created on the first Save.
func NewJSONStore(path string, circumferenceM float64) *JSONStore {
	return &JSONStore{path: path, circumferenceM: circumferenceM}
}

// Load reads the persisted baseline. A missing file is a zero baseline, not
// an error; corrupt content is reported so the caller can log it.
func (s *JSONStore) Load() (float64, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read baseline: %w", err)
	}

	var f baselineFile
	if err := json.Unmarshal(data, &f); err != nil {
		return 0, fmt.Errorf("parse baseline %s: %w", s.path, err)
	}
	return f.TotalKm, nil
}

// Save writes the new baseline.
func (s *JSONStore) Save(km float64) error {
	f := baselineFile{
		TotalKm:             km,
		LastUpdated:         time.Now().Format(time.RFC3339),
		WheelCircumferenceM: s.circumferenceM,
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal baseline: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write baseline: %w", err)
	}
	return nil
}
