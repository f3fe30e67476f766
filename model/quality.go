package model

import (
	"errors"
	"fmt"
	"slices"
)

var ErrInvalidSettings = errors.New("invalid quality settings")

// QualitySettings tunes a single segmentation call. Values are fixed once a
// job starts.
type QualitySettings struct {
	Model               string `json:"ai_model"`
	AlphaMatting        bool   `json:"alpha_matting"`
	ForegroundThreshold int    `json:"foreground_threshold"`
	BackgroundThreshold int    `json:"background_threshold"`
	ErodeSize           int    `json:"erode_size"`
	BaseSize            int    `json:"base_size"`
}

// Validate enforces field ranges and that Model is one of models.
func (q QualitySettings) Validate(models []string) error {
	if !slices.Contains(models, q.Model) {
		return fmt.Errorf("%w: unknown model %q", ErrInvalidSettings, q.Model)
	}
	if err := inRange("foreground_threshold", q.ForegroundThreshold, 0, 255); err != nil {
		return err
	}
	if err := inRange("background_threshold", q.BackgroundThreshold, 0, 255); err != nil {
		return err
	}
	if err := inRange("erode_size", q.ErodeSize, 1, 20); err != nil {
		return err
	}
	return inRange("base_size", q.BaseSize, 500, 2000)
}

func inRange(field string, v, lo, hi int) error {
	if v < lo || v > hi {
		return fmt.Errorf("%w: %s must be between %d and %d, got %d", ErrInvalidSettings, field, lo, hi, v)
	}
	return nil
}
