package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical pipeline defaults file.
const DefaultConfigPath = "config/lane.defaults.json"

// PipelineConfig holds every tuning constant used by the lane distance
// pipeline and the analysis tools. Fields are pointers so a partial JSON
// file only overrides what it names; the Get* methods supply defaults.
//
// The colour range, slope range and reference point are specific to one
// camera mounting and lighting condition. Re-tune them for a new rig.
type PipelineConfig struct {
	// Reference point (wheel position) in ROI pixel coordinates
	ReferenceX *int `json:"reference_x,omitempty"`
	ReferenceY *int `json:"reference_y,omitempty"`

	// Centimetres per pixel along the reference ray
	PixelToCM *float64 `json:"pixel_to_cm,omitempty"`

	// HSV paint range (OpenCV convention: H 0-180, S/V 0-255)
	HSVLower *[3]float64 `json:"hsv_lower,omitempty"`
	HSVUpper *[3]float64 `json:"hsv_upper,omitempty"`

	// Mask cleanup and edge params
	MorphKernel *int     `json:"morph_kernel,omitempty"`
	BlurKernel  *int     `json:"blur_kernel,omitempty"`
	CannyLow    *float64 `json:"canny_low,omitempty"`
	CannyHigh   *float64 `json:"canny_high,omitempty"`

	// Probabilistic Hough params
	HoughRho            *float64 `json:"hough_rho,omitempty"`
	HoughThetaDivisions *int     `json:"hough_theta_divisions,omitempty"` // theta = pi / divisions
	HoughThreshold      *int     `json:"hough_threshold,omitempty"`
	HoughMinLength      *float64 `json:"hough_min_length,omitempty"`
	HoughMaxGap         *float64 `json:"hough_max_gap,omitempty"`

	// Lane-line slope acceptance, inclusive on both ends
	SlopeMin *float64 `json:"slope_min,omitempty"`
	SlopeMax *float64 `json:"slope_max,omitempty"`

	// Runner and sinks
	Workers    *int    `json:"workers,omitempty"`
	VideoCodec *string `json:"video_codec,omitempty"`

	// Analysis params
	SampleRateHz      *float64 `json:"sample_rate_hz,omitempty"`
	WindowSeconds     *float64 `json:"window_seconds,omitempty"`
	ChangeThresholdCM *float64 `json:"change_threshold_cm,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }
func ptrString(v string) *string    { return &v }
func ptrTriple(a, b, c float64) *[3]float64 {
	v := [3]float64{a, b, c}
	return &v
}

// EmptyPipelineConfig returns a PipelineConfig with all fields set to nil.
func EmptyPipelineConfig() *PipelineConfig {
	return &PipelineConfig{}
}

// DefaultPipelineConfig returns a config with every field populated with
// the values the pipeline was calibrated with.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		ReferenceX:          ptrInt(605),
		ReferenceY:          ptrInt(444),
		PixelToCM:           ptrFloat64(0.365),
		HSVLower:            ptrTriple(0, 0, 200),
		HSVUpper:            ptrTriple(180, 50, 255),
		MorphKernel:         ptrInt(9),
		BlurKernel:          ptrInt(9),
		CannyLow:            ptrFloat64(50),
		CannyHigh:           ptrFloat64(150),
		HoughRho:            ptrFloat64(1),
		HoughThetaDivisions: ptrInt(360),
		HoughThreshold:      ptrInt(80),
		HoughMinLength:      ptrFloat64(100),
		HoughMaxGap:         ptrFloat64(50),
		SlopeMin:            ptrFloat64(0.05),
		SlopeMax:            ptrFloat64(0.3),
		Workers:             ptrInt(1),
		VideoCodec:          ptrString("mp4v"),
		SampleRateHz:        ptrFloat64(30),
		WindowSeconds:       ptrFloat64(1),
		ChangeThresholdCM:   ptrFloat64(5),
	}
}

// LoadPipelineConfig loads a PipelineConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted
// from the file fall back to their defaults through the Get* methods.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyPipelineConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *PipelineConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/lane/pipeline/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadPipelineConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *PipelineConfig) Validate() error {
	if c.ReferenceX != nil && *c.ReferenceX < 0 {
		return fmt.Errorf("reference_x must be non-negative, got %d", *c.ReferenceX)
	}
	if c.ReferenceY != nil && *c.ReferenceY < 0 {
		return fmt.Errorf("reference_y must be non-negative, got %d", *c.ReferenceY)
	}

	if c.PixelToCM != nil {
		if *c.PixelToCM <= 0 || math.IsInf(*c.PixelToCM, 0) || math.IsNaN(*c.PixelToCM) {
			return fmt.Errorf("pixel_to_cm must be a positive finite number, got %f", *c.PixelToCM)
		}
	}

	lower, upper := c.GetHSVLower(), c.GetHSVUpper()
	for i := 0; i < 3; i++ {
		if lower[i] > upper[i] {
			return fmt.Errorf("hsv_lower[%d]=%v exceeds hsv_upper[%d]=%v", i, lower[i], i, upper[i])
		}
	}

	if c.MorphKernel != nil && *c.MorphKernel < 1 {
		return fmt.Errorf("morph_kernel must be at least 1, got %d", *c.MorphKernel)
	}
	if c.BlurKernel != nil && (*c.BlurKernel < 1 || *c.BlurKernel%2 == 0) {
		return fmt.Errorf("blur_kernel must be a positive odd number, got %d", *c.BlurKernel)
	}
	if c.GetCannyLow() < 0 || c.GetCannyLow() > c.GetCannyHigh() {
		return fmt.Errorf("canny thresholds must satisfy 0 <= low <= high, got %v/%v", c.GetCannyLow(), c.GetCannyHigh())
	}

	if c.HoughRho != nil && *c.HoughRho <= 0 {
		return fmt.Errorf("hough_rho must be positive, got %f", *c.HoughRho)
	}
	if c.HoughThetaDivisions != nil && *c.HoughThetaDivisions < 1 {
		return fmt.Errorf("hough_theta_divisions must be at least 1, got %d", *c.HoughThetaDivisions)
	}
	if c.HoughThreshold != nil && *c.HoughThreshold < 1 {
		return fmt.Errorf("hough_threshold must be at least 1, got %d", *c.HoughThreshold)
	}
	if c.HoughMinLength != nil && *c.HoughMinLength < 0 {
		return fmt.Errorf("hough_min_length must be non-negative, got %f", *c.HoughMinLength)
	}
	if c.HoughMaxGap != nil && *c.HoughMaxGap < 0 {
		return fmt.Errorf("hough_max_gap must be non-negative, got %f", *c.HoughMaxGap)
	}

	if c.GetSlopeMin() < 0 || c.GetSlopeMin() > c.GetSlopeMax() {
		return fmt.Errorf("slope range must satisfy 0 <= min <= max, got [%v, %v]", c.GetSlopeMin(), c.GetSlopeMax())
	}

	if c.Workers != nil && *c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", *c.Workers)
	}
	if c.VideoCodec != nil && len(*c.VideoCodec) != 4 {
		return fmt.Errorf("video_codec must be a four character code, got %q", *c.VideoCodec)
	}

	if c.SampleRateHz != nil && *c.SampleRateHz <= 0 {
		return fmt.Errorf("sample_rate_hz must be positive, got %f", *c.SampleRateHz)
	}
	if c.WindowSeconds != nil && *c.WindowSeconds <= 0 {
		return fmt.Errorf("window_seconds must be positive, got %f", *c.WindowSeconds)
	}
	if c.ChangeThresholdCM != nil && *c.ChangeThresholdCM < 0 {
		return fmt.Errorf("change_threshold_cm must be non-negative, got %f", *c.ChangeThresholdCM)
	}

	return nil
}

// GetReferenceX returns the reference_x value or the default.
func (c *PipelineConfig) GetReferenceX() int {
	if c.ReferenceX == nil {
		return 605
	}
	return *c.ReferenceX
}

// GetReferenceY returns the reference_y value or the default.
func (c *PipelineConfig) GetReferenceY() int {
	if c.ReferenceY == nil {
		return 444
	}
	return *c.ReferenceY
}

// GetPixelToCM returns the pixel_to_cm value or the default.
func (c *PipelineConfig) GetPixelToCM() float64 {
	if c.PixelToCM == nil {
		return 0.365
	}
	return *c.PixelToCM
}

// GetHSVLower returns the lower HSV bound or the default white-paint floor.
func (c *PipelineConfig) GetHSVLower() [3]float64 {
	if c.HSVLower == nil {
		return [3]float64{0, 0, 200}
	}
	return *c.HSVLower
}

// GetHSVUpper returns the upper HSV bound or the default white-paint ceiling.
func (c *PipelineConfig) GetHSVUpper() [3]float64 {
	if c.HSVUpper == nil {
		return [3]float64{180, 50, 255}
	}
	return *c.HSVUpper
}

// GetMorphKernel returns the morph_kernel value or the default.
func (c *PipelineConfig) GetMorphKernel() int {
	if c.MorphKernel == nil {
		return 9
	}
	return *c.MorphKernel
}

// GetBlurKernel returns the blur_kernel value or the default.
func (c *PipelineConfig) GetBlurKernel() int {
	if c.BlurKernel == nil {
		return 9
	}
	return *c.BlurKernel
}

// GetCannyLow returns the canny_low value or the default.
func (c *PipelineConfig) GetCannyLow() float64 {
	if c.CannyLow == nil {
		return 50
	}
	return *c.CannyLow
}

// GetCannyHigh returns the canny_high value or the default.
func (c *PipelineConfig) GetCannyHigh() float64 {
	if c.CannyHigh == nil {
		return 150
	}
	return *c.CannyHigh
}

// GetHoughRho returns the hough_rho value or the default.
func (c *PipelineConfig) GetHoughRho() float64 {
	if c.HoughRho == nil {
		return 1
	}
	return *c.HoughRho
}

// GetHoughTheta returns the Hough angular resolution in radians.
func (c *PipelineConfig) GetHoughTheta() float64 {
	divisions := 360
	if c.HoughThetaDivisions != nil {
		divisions = *c.HoughThetaDivisions
	}
	return math.Pi / float64(divisions)
}

// GetHoughThreshold returns the hough_threshold value or the default.
func (c *PipelineConfig) GetHoughThreshold() int {
	if c.HoughThreshold == nil {
		return 80
	}
	return *c.HoughThreshold
}

// GetHoughMinLength returns the hough_min_length value or the default.
func (c *PipelineConfig) GetHoughMinLength() float64 {
	if c.HoughMinLength == nil {
		return 100
	}
	return *c.HoughMinLength
}

// GetHoughMaxGap returns the hough_max_gap value or the default.
func (c *PipelineConfig) GetHoughMaxGap() float64 {
	if c.HoughMaxGap == nil {
		return 50
	}
	return *c.HoughMaxGap
}

// GetSlopeMin returns the slope_min value or the default.
func (c *PipelineConfig) GetSlopeMin() float64 {
	if c.SlopeMin == nil {
		return 0.05
	}
	return *c.SlopeMin
}

// GetSlopeMax returns the slope_max value or the default.
func (c *PipelineConfig) GetSlopeMax() float64 {
	if c.SlopeMax == nil {
		return 0.3
	}
	return *c.SlopeMax
}

// GetWorkers returns the workers value or the default (sequential).
func (c *PipelineConfig) GetWorkers() int {
	if c.Workers == nil {
		return 1
	}
	return *c.Workers
}

// GetVideoCodec returns the video_codec value or the default.
func (c *PipelineConfig) GetVideoCodec() string {
	if c.VideoCodec == nil || *c.VideoCodec == "" {
		return "mp4v"
	}
	return *c.VideoCodec
}

// GetSampleRateHz returns the sample_rate_hz value or the default.
func (c *PipelineConfig) GetSampleRateHz() float64 {
	if c.SampleRateHz == nil {
		return 30
	}
	return *c.SampleRateHz
}

// GetWindowSeconds returns the window_seconds value or the default.
func (c *PipelineConfig) GetWindowSeconds() float64 {
	if c.WindowSeconds == nil {
		return 1
	}
	return *c.WindowSeconds
}

// GetChangeThresholdCM returns the change_threshold_cm value or the default.
func (c *PipelineConfig) GetChangeThresholdCM() float64 {
	if c.ChangeThresholdCM == nil {
		return 5
	}
	return *c.ChangeThresholdCM
}
