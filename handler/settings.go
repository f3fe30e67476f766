package handler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/EslamTharwaat/remove-image-background/config"
	"github.com/EslamTharwaat/remove-image-background/model"
)

// qualityForm is the set of tuning fields accepted by every processing
// endpoint. Absent numeric fields keep their configured defaults.
type qualityForm struct {
	AIModel             string `form:"ai_model"`
	AlphaMatting        string `form:"alpha_matting"`
	ForegroundThreshold *int   `form:"foreground_threshold"`
	BackgroundThreshold *int   `form:"background_threshold"`
	ErodeSize           *int   `form:"erode_size"`
	BaseSize            *int   `form:"base_size"`
}

// SettingsResolver turns request fields into validated QualitySettings.
type SettingsResolver struct {
	processing config.ProcessingConfig
	quality    config.QualityConfig
}

func NewSettingsResolver(cfg *config.Config) *SettingsResolver {
	return &SettingsResolver{processing: cfg.Processing, quality: cfg.Quality}
}

// Defaults returns the settings used when a request sets nothing.
func (r *SettingsResolver) Defaults() model.QualitySettings {
	return model.QualitySettings{
		Model:               r.processing.DefaultModel,
		AlphaMatting:        r.quality.AlphaMatting,
		ForegroundThreshold: r.quality.ForegroundThreshold,
		BackgroundThreshold: r.quality.BackgroundThreshold,
		ErodeSize:           r.quality.ErodeSize,
		BaseSize:            r.quality.BaseSize,
	}
}

// FromRequest reads the quality fields from a form or multipart body.
func (r *SettingsResolver) FromRequest(c *gin.Context) (model.QualitySettings, error) {
	var form qualityForm
	if err := c.ShouldBindWith(&form, binding.Form); err != nil {
		return model.QualitySettings{}, fmt.Errorf("%w: %w", model.ErrInvalidSettings, err)
	}
	return r.resolve(form)
}

func (r *SettingsResolver) resolve(form qualityForm) (model.QualitySettings, error) {
	s := r.Defaults()
	s.Model = r.model(form.AIModel)
	if form.AlphaMatting != "" {
		s.AlphaMatting = parseBool(form.AlphaMatting)
	}
	if form.ForegroundThreshold != nil {
		s.ForegroundThreshold = *form.ForegroundThreshold
	}
	if form.BackgroundThreshold != nil {
		s.BackgroundThreshold = *form.BackgroundThreshold
	}
	if form.ErodeSize != nil {
		s.ErodeSize = *form.ErodeSize
	}
	if form.BaseSize != nil {
		s.BaseSize = *form.BaseSize
	}

	if err := s.Validate(r.processing.Models); err != nil {
		return model.QualitySettings{}, err
	}
	return s, nil
}

// model picks the requested model, falling back to the default for unknown
// names or when the deployment pins one.
func (r *SettingsResolver) model(requested string) string {
	if r.processing.ForceModel || !slices.Contains(r.processing.Models, requested) {
		return r.processing.DefaultModel
	}
	return requested
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "on", "1", "yes":
		return true
	}
	return false
}
