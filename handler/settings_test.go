package handler

import (
	"errors"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/EslamTharwaat/remove-image-background/config"
	"github.com/EslamTharwaat/remove-image-background/model"
)

func intPtr(v int) *int { return &v }

func TestSettingsResolve(t *testing.T) {
	cfg := config.Default()
	r := NewSettingsResolver(cfg)

	tests := []struct {
		name    string
		form    qualityForm
		want    model.QualitySettings
		wantErr bool
	}{
		{
			name: "defaults",
			want: r.Defaults(),
		},
		{
			name: "known model and overrides",
			form: qualityForm{
				AIModel:             "u2net_cloth_seg",
				AlphaMatting:        "ON",
				ForegroundThreshold: intPtr(200),
				BackgroundThreshold: intPtr(0),
				ErodeSize:           intPtr(1),
				BaseSize:            intPtr(2000),
			},
			want: model.QualitySettings{
				Model:               "u2net_cloth_seg",
				AlphaMatting:        true,
				ForegroundThreshold: 200,
				BackgroundThreshold: 0,
				ErodeSize:           1,
				BaseSize:            2000,
			},
		},
		{
			name: "unknown model falls back",
			form: qualityForm{AIModel: "isnet"},
			want: r.Defaults(),
		},
		{
			name: "alpha matting false",
			form: qualityForm{AlphaMatting: "false"},
			want: r.Defaults(),
		},
		{
			name:    "threshold too high",
			form:    qualityForm{ForegroundThreshold: intPtr(256)},
			wantErr: true,
		},
		{
			name:    "base size too small",
			form:    qualityForm{BaseSize: intPtr(499)},
			wantErr: true,
		},
		{
			name:    "erode size zero",
			form:    qualityForm{ErodeSize: intPtr(0)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.resolve(tt.form)
			if tt.wantErr {
				if !errors.Is(err, model.ErrInvalidSettings) {
					t.Errorf("Expected ErrInvalidSettings, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestSettingsForceModel(t *testing.T) {
	cfg := config.Default()
	cfg.Processing.ForceModel = true
	cfg.Processing.DefaultModel = "u2net_human_seg"
	r := NewSettingsResolver(cfg)

	got, err := r.resolve(qualityForm{AIModel: "u2netp"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Model != "u2net_human_seg" {
		t.Errorf("Expected the pinned model, got %s", got.Model)
	}
}

func TestSettingsFromRequest(t *testing.T) {
	r := NewSettingsResolver(config.Default())

	tests := []struct {
		name    string
		form    url.Values
		wantErr bool
	}{
		{"numeric fields", url.Values{"erode_size": {"5"}, "base_size": {"800"}}, false},
		{"non numeric", url.Values{"background_threshold": {"low"}}, true},
		{"out of range", url.Values{"erode_size": {"21"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = formRequest("/", tt.form)

			_, err := r.FromRequest(c)
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error %v, got %v", tt.wantErr, err)
			}
			if err != nil && !errors.Is(err, model.ErrInvalidSettings) {
				t.Errorf("Expected ErrInvalidSettings, got %v", err)
			}
		})
	}
}

func TestParseBool(t *testing.T) {
	for in, want := range map[string]bool{
		"true": true, "on": true, "1": true, "Yes": true,
		"false": false, "off": false, "0": false, "maybe": false,
	} {
		if got := parseBool(in); got != want {
			t.Errorf("parseBool(%q) = %v, want %v", in, got, want)
		}
	}
}
