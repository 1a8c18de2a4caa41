/*
Package config loads fitting hyperparameters from JSON documents.

All fields are optional; absent fields fall back to the defaults of package
coupled, so partial configurations are safe.

# BSD License

# Copyright (c) Norbert Pillmayer

All rights reserved.

Please refer to the license file for more information.
*/
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/npillmayer/irocs"
	"github.com/npillmayer/irocs/coupled"
)

// DefaultConfigPath is the path to the canonical defaults file, relative to
// the repository root.
const DefaultConfigPath = "config/fit.defaults.json"

const maxFileSize = 1 * 1024 * 1024 // 1 MiB

// FitConfig holds fitting hyperparameters as read from JSON.
type FitConfig struct {
	Kappa              *float64 `json:"kappa,omitempty"`
	Lambda             *float64 `json:"lambda,omitempty"`
	Mu                 *float64 `json:"mu,omitempty"`
	NIter              *int     `json:"n_iter,omitempty"`
	Tau                *float64 `json:"tau,omitempty"`
	SearchRadius       *float64 `json:"search_radius,omitempty"` // absent or ≤ 0: automatic
	ControlPoints      *int     `json:"control_points,omitempty"`
	Workers            *int     `json:"workers,omitempty"` // absent or ≤ 0: GOMAXPROCS
	ThicknessExtension *float64 `json:"thickness_extension,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }

// Empty returns a FitConfig with all fields unset.
func Empty() *FitConfig {
	return &FitConfig{}
}

// Default returns a FitConfig with all fields set to the defaults.
func Default() *FitConfig {
	d := coupled.DefaultParams()
	return FromParams(d)
}

// FromParams converts fitting parameters to a fully populated FitConfig.
func FromParams(p coupled.Params) *FitConfig {
	return &FitConfig{
		Kappa:              ptrFloat64(p.Kappa),
		Lambda:             ptrFloat64(p.Lambda),
		Mu:                 ptrFloat64(p.Mu),
		NIter:              ptrInt(p.NIter),
		Tau:                ptrFloat64(p.Tau),
		SearchRadius:       ptrFloat64(p.SearchRadius),
		ControlPoints:      ptrInt(p.ControlPoints),
		Workers:            ptrInt(p.Workers),
		ThicknessExtension: ptrFloat64(p.ThicknessExtension),
	}
}

// LoadFitConfig loads a FitConfig from a JSON file with extension .json and
// a size of at most 1 MiB.
func LoadFitConfig(path string) (*FitConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("%w: config file must have .json extension, got %q", irocs.ErrInput, ext)
	}
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("%w: config file too large: %d bytes (max %d)", irocs.ErrInput, fileInfo.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config JSON: %v", irocs.ErrInput, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended for
// tests and tools run inside the repository.
func MustLoadDefaultConfig() *FitConfig {
	for _, prefix := range []string{"", "../", "../../", "../../../"} {
		if cfg, err := LoadFitConfig(prefix + DefaultConfigPath); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run from repository root")
}

// Validate checks the configured values.
func (c *FitConfig) Validate() error {
	return c.Params().Validate()
}

// Params converts the configuration to fitting parameters, filling in
// defaults for absent fields.
func (c *FitConfig) Params() coupled.Params {
	return coupled.Params{
		Kappa:              c.GetKappa(),
		Lambda:             c.GetLambda(),
		Mu:                 c.GetMu(),
		NIter:              c.GetNIter(),
		Tau:                c.GetTau(),
		SearchRadius:       c.GetSearchRadius(),
		ControlPoints:      c.GetControlPoints(),
		Workers:            c.GetWorkers(),
		ThicknessExtension: c.GetThicknessExtension(),
	}
}

// GetKappa returns the data weight.
func (c *FitConfig) GetKappa() float64 {
	if c.Kappa == nil {
		return coupled.DefaultParams().Kappa
	}
	return *c.Kappa
}

// GetLambda returns the axis smoothness weight.
func (c *FitConfig) GetLambda() float64 {
	if c.Lambda == nil {
		return coupled.DefaultParams().Lambda
	}
	return *c.Lambda
}

// GetMu returns the thickness smoothness weight.
func (c *FitConfig) GetMu() float64 {
	if c.Mu == nil {
		return coupled.DefaultParams().Mu
	}
	return *c.Mu
}

// GetNIter returns the number of iterations.
func (c *FitConfig) GetNIter() int {
	if c.NIter == nil {
		return coupled.DefaultParams().NIter
	}
	return *c.NIter
}

// GetTau returns the relaxation step.
func (c *FitConfig) GetTau() float64 {
	if c.Tau == nil {
		return coupled.DefaultParams().Tau
	}
	return *c.Tau
}

// GetSearchRadius returns the smoothness cutoff; 0 means automatic.
func (c *FitConfig) GetSearchRadius() float64 {
	if c.SearchRadius == nil || *c.SearchRadius < 0 {
		return 0
	}
	return *c.SearchRadius
}

// GetControlPoints returns the number of control points per curve.
func (c *FitConfig) GetControlPoints() int {
	if c.ControlPoints == nil {
		return coupled.DefaultParams().ControlPoints
	}
	return *c.ControlPoints
}

// GetWorkers returns the number of parallel workers; 0 means GOMAXPROCS.
func (c *FitConfig) GetWorkers() int {
	if c.Workers == nil || *c.Workers < 0 {
		return 0
	}
	return *c.Workers
}

// GetThicknessExtension returns the thickness extension tolerance.
func (c *FitConfig) GetThicknessExtension() float64 {
	if c.ThicknessExtension == nil {
		return coupled.DefaultParams().ThicknessExtension
	}
	return *c.ThicknessExtension
}
