package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/npillmayer/irocs"
	"github.com/npillmayer/irocs/coupled"
	"github.com/npillmayer/schuko/tracing/gotestingadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsFileMatchesDefaults(t *testing.T) {
	teardown := gotestingadapter.RedirectTracing(t)
	defer teardown()
	cfg := MustLoadDefaultConfig()
	assert.Equal(t, coupled.DefaultParams(), cfg.Params())
	assert.Equal(t, coupled.DefaultParams(), Default().Params())
}

func TestEmptyConfigYieldsDefaults(t *testing.T) {
	teardown := gotestingadapter.RedirectTracing(t)
	defer teardown()
	assert.Equal(t, coupled.DefaultParams(), Empty().Params())
	assert.NoError(t, Empty().Validate())
}

func TestLoadPartialConfig(t *testing.T) {
	teardown := gotestingadapter.RedirectTracing(t)
	defer teardown()
	path := filepath.Join(t.TempDir(), "fit.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"lambda": 0.5, "n_iter": 12, "search_radius": 1.25}`), 0o644))
	cfg, err := LoadFitConfig(path)
	require.NoError(t, err)
	p := cfg.Params()
	assert.Equal(t, 0.5, p.Lambda)
	assert.Equal(t, 12, p.NIter)
	assert.Equal(t, 1.25, p.SearchRadius)
	assert.Equal(t, 1.0, p.Kappa)
	assert.Equal(t, 0.5, p.Tau)
}

func TestLoadRejectsBadFiles(t *testing.T) {
	teardown := gotestingadapter.RedirectTracing(t)
	defer teardown()
	dir := t.TempDir()
	_, err := LoadFitConfig(filepath.Join(dir, "fit.yaml"))
	assert.ErrorIs(t, err, irocs.ErrInput)
	_, err = LoadFitConfig(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"tau": 2}`), 0o644))
	_, err = LoadFitConfig(bad)
	assert.ErrorIs(t, err, coupled.ErrParams)
	garbage := filepath.Join(dir, "garbage.json")
	require.NoError(t, os.WriteFile(garbage, []byte(`{"tau": `), 0o644))
	_, err = LoadFitConfig(garbage)
	assert.ErrorIs(t, err, irocs.ErrInput)
}

func TestFromParamsRoundTrip(t *testing.T) {
	teardown := gotestingadapter.RedirectTracing(t)
	defer teardown()
	p := coupled.DefaultParams()
	p.Kappa, p.Workers, p.SearchRadius = 2, 3, 0.7
	assert.Equal(t, p, FromParams(p).Params())
}
