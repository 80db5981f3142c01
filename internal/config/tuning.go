package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// The schema matches the /api/params endpoint so the same JSON can be
// used for both startup configuration and runtime updates.
type TuningConfig struct {
	// Detection params
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`

	// Tracker params
	IoUMatchThreshold *float64 `json:"iou_match_threshold,omitempty"`
	TrackMaxAge       *int     `json:"track_max_age,omitempty"`

	// Identity params
	SimilarityThreshold *float64 `json:"similarity_threshold,omitempty"`

	// Crossing params
	CrossingDebounce *string `json:"crossing_debounce,omitempty"` // duration string like "750ms"

	// Session params
	InactivityTimeout *string `json:"inactivity_timeout,omitempty"` // duration string like "5s"

	// Stream params
	FrameDelay  *string `json:"frame_delay,omitempty"` // pacing for file/synthetic sources
	JPEGQuality *int    `json:"jpeg_quality,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under
// the max file size. Fields omitted from the JSON file retain their
// default values, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.ConfidenceThreshold != nil {
		if *c.ConfidenceThreshold < 0 || *c.ConfidenceThreshold > 1 {
			return fmt.Errorf("confidence_threshold must be between 0 and 1, got %f", *c.ConfidenceThreshold)
		}
	}

	if c.IoUMatchThreshold != nil {
		if *c.IoUMatchThreshold < 0 || *c.IoUMatchThreshold > 1 {
			return fmt.Errorf("iou_match_threshold must be between 0 and 1, got %f", *c.IoUMatchThreshold)
		}
	}

	if c.SimilarityThreshold != nil {
		if *c.SimilarityThreshold < -1 || *c.SimilarityThreshold > 1 {
			return fmt.Errorf("similarity_threshold must be between -1 and 1, got %f", *c.SimilarityThreshold)
		}
	}

	if c.TrackMaxAge != nil {
		if *c.TrackMaxAge < 0 {
			return fmt.Errorf("track_max_age must be non-negative, got %d", *c.TrackMaxAge)
		}
	}

	if c.JPEGQuality != nil {
		if *c.JPEGQuality < 1 || *c.JPEGQuality > 100 {
			return fmt.Errorf("jpeg_quality must be between 1 and 100, got %d", *c.JPEGQuality)
		}
	}

	for name, raw := range map[string]*string{
		"crossing_debounce":  c.CrossingDebounce,
		"inactivity_timeout": c.InactivityTimeout,
		"frame_delay":        c.FrameDelay,
	} {
		if raw != nil && *raw != "" {
			if _, err := time.ParseDuration(*raw); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *raw, err)
			}
		}
	}

	return nil
}

// Merge overlays the non-nil fields of other onto c. Used by the
// /api/params endpoint so a partial JSON body only touches the fields
// it names.
func (c *TuningConfig) Merge(other *TuningConfig) {
	if other == nil {
		return
	}
	if other.ConfidenceThreshold != nil {
		c.ConfidenceThreshold = other.ConfidenceThreshold
	}
	if other.IoUMatchThreshold != nil {
		c.IoUMatchThreshold = other.IoUMatchThreshold
	}
	if other.TrackMaxAge != nil {
		c.TrackMaxAge = other.TrackMaxAge
	}
	if other.SimilarityThreshold != nil {
		c.SimilarityThreshold = other.SimilarityThreshold
	}
	if other.CrossingDebounce != nil {
		c.CrossingDebounce = other.CrossingDebounce
	}
	if other.InactivityTimeout != nil {
		c.InactivityTimeout = other.InactivityTimeout
	}
	if other.FrameDelay != nil {
		c.FrameDelay = other.FrameDelay
	}
	if other.JPEGQuality != nil {
		c.JPEGQuality = other.JPEGQuality
	}
}

// GetConfidenceThreshold returns the confidence_threshold value or the default.
func (c *TuningConfig) GetConfidenceThreshold() float64 {
	if c.ConfidenceThreshold == nil {
		return 0.5
	}
	return *c.ConfidenceThreshold
}

// GetIoUMatchThreshold returns the iou_match_threshold value or the default.
func (c *TuningConfig) GetIoUMatchThreshold() float64 {
	if c.IoUMatchThreshold == nil {
		return 0.3
	}
	return *c.IoUMatchThreshold
}

// GetTrackMaxAge returns the track_max_age value or the default.
func (c *TuningConfig) GetTrackMaxAge() int {
	if c.TrackMaxAge == nil {
		return 15
	}
	return *c.TrackMaxAge
}

// GetSimilarityThreshold returns the similarity_threshold value or the default.
func (c *TuningConfig) GetSimilarityThreshold() float64 {
	if c.SimilarityThreshold == nil {
		return 0.62
	}
	return *c.SimilarityThreshold
}

// GetCrossingDebounce parses and returns the CrossingDebounce as a time.Duration.
func (c *TuningConfig) GetCrossingDebounce() time.Duration {
	if c.CrossingDebounce == nil || *c.CrossingDebounce == "" {
		return 750 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.CrossingDebounce)
	if err != nil {
		return 750 * time.Millisecond
	}
	return d
}

// GetInactivityTimeout parses and returns the InactivityTimeout as a time.Duration.
func (c *TuningConfig) GetInactivityTimeout() time.Duration {
	if c.InactivityTimeout == nil || *c.InactivityTimeout == "" {
		return 5 * time.Second
	}
	d, err := time.ParseDuration(*c.InactivityTimeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// GetFrameDelay parses and returns the FrameDelay as a time.Duration.
func (c *TuningConfig) GetFrameDelay() time.Duration {
	if c.FrameDelay == nil || *c.FrameDelay == "" {
		return 33 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.FrameDelay)
	if err != nil {
		return 33 * time.Millisecond
	}
	return d
}

// GetJPEGQuality returns the jpeg_quality value or the default.
func (c *TuningConfig) GetJPEGQuality() int {
	if c.JPEGQuality == nil {
		return 80
	}
	return *c.JPEGQuality
}
