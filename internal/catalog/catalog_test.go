package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/sans-pilot/internal/domain/analysis"
	"github.com/bryanwahyu/sans-pilot/internal/domain/fitting"
	"github.com/bryanwahyu/sans-pilot/internal/domain/sentinel"
	"github.com/bryanwahyu/sans-pilot/internal/infra/fitter/fake"
)

func sampleCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.csv")
	require.NoError(t, os.WriteFile(path, []byte("q,I,dI\n0.01,120,1\n0.02,60,1\n0.04,15,0.5\n0.08,2,0.1\n"), 0o644))
	return path
}

func unit(t *testing.T, f *fake.Factory, name string) analysis.Unit {
	t.Helper()
	for _, e := range Manifest(Deps{Fitters: f}) {
		if e.Name == name {
			u, err := e.Load()
			require.NoError(t, err)
			return u
		}
	}
	t.Fatalf("unit %s not in manifest", name)
	return analysis.Unit{}
}

func TestManifestDisabled(t *testing.T) {
	all := Manifest(Deps{Fitters: fake.NewFactory()})
	require.Len(t, all, 3)

	some := Manifest(Deps{Fitters: fake.NewFactory()}, SphereFit)
	names := make([]string, 0, len(some))
	for _, e := range some {
		names = append(names, e.Name)
	}
	assert.ElementsMatch(t, []string{CylinderFit, CustomFit}, names)
}

func TestCylinderTemplate(t *testing.T) {
	f := fake.NewFactory()
	out := t.TempDir()
	res, err := unit(t, f, CylinderFit).Run(context.Background(), analysis.Parameters{
		"input_csv":  sampleCSV(t),
		"output_dir": out,
		"param_overrides": map[string]any{
			"radius":  map[string]any{"value": 35.0, "color": "red"},
			"unknown": map[string]any{"value": 1.0},
		},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, strings.TrimSpace(res.Fit))
	assert.Equal(t, map[string]any{LabelPlot: filepath.Join(out, PlotFile)}, res.Artifacts)
	assert.FileExists(t, filepath.Join(out, PlotFile))
	assert.Equal(t, []string{"param 'unknown' not in model, skipping"}, res.Details["warnings"])

	s := f.Last()
	require.NotNil(t, s)
	assert.True(t, s.Closed())

	radius, ok := s.Param("radius")
	require.True(t, ok)
	assert.Equal(t, 35.0, radius.Value)
	assert.Equal(t, 1.0, radius.Min, "defaults survive a partial override")
	assert.Equal(t, 100.0, radius.Max)
	assert.True(t, radius.Vary)

	sld, _ := s.Param("sld")
	assert.False(t, sld.Vary)
	_, inserted := s.Param("unknown")
	assert.False(t, inserted)
}

func TestSphereTemplateRejectsBadEngine(t *testing.T) {
	_, err := unit(t, fake.NewFactory(), SphereFit).Run(context.Background(), analysis.Parameters{
		"input_csv":  sampleCSV(t),
		"output_dir": t.TempDir(),
		"engine":     "scipy",
	})
	assert.ErrorIs(t, err, sentinel.ErrInvalidRequest)
}

func TestTemplateRejectsUnknownKeys(t *testing.T) {
	_, err := unit(t, fake.NewFactory(), CylinderFit).Run(context.Background(), analysis.Parameters{
		"input_csv":  sampleCSV(t),
		"output_dir": t.TempDir(),
		"colour":     "blue",
	})
	assert.ErrorIs(t, err, sentinel.ErrInvalidRequest)
}

func TestCustomModelWithStructureFactor(t *testing.T) {
	f := fake.NewFactory()
	out := t.TempDir()
	res, err := unit(t, f, CustomFit).Run(context.Background(), analysis.Parameters{
		"input_csv":             sampleCSV(t),
		"output_dir":            out,
		"model":                 "sphere",
		"structure_factor":      "hardsphere",
		"radius_effective_mode": fitting.RadiusEffectiveLinkRadius,
		"structure_factor_params": map[string]any{
			"volfraction": map[string]any{"value": 0.3, "vary": true},
		},
		"param_overrides": map[string]any{
			"volfraction": map[string]any{"value": 0.25},
			"radius":      map[string]any{"value": 60.0, "vary": true},
		},
	})
	require.NoError(t, err)

	vf, ok := f.Last().Param("volfraction")
	require.True(t, ok)
	assert.Equal(t, 0.25, vf.Value, "general overrides win over structure factor overrides")
	assert.True(t, vf.Vary)

	require.Contains(t, res.Artifacts, LabelParameters)
	body, err := os.ReadFile(res.Artifacts[LabelParameters].(string))
	require.NoError(t, err)
	records := strings.Split(string(body), ":")
	assert.Equal(t, "model_name,sphere@hardsphere", records[0])
	assert.Equal(t, "sphere@hardsphere,None,,None,,,()", records[1])
	assert.Contains(t, records, "radius_effective,False,50.0,None,0.0,inf,radius")
	assert.FileExists(t, filepath.Join(out, PlotFile))
}

func TestCustomModelPolydispersity(t *testing.T) {
	f := fake.NewFactory()
	res, err := unit(t, f, CustomFit).Run(context.Background(), analysis.Parameters{
		"input_csv":       sampleCSV(t),
		"output_dir":      t.TempDir(),
		"model":           "cylinder",
		"param_overrides": map[string]any{},
		"polydispersity": map[string]any{
			"radius": map[string]any{"pd_width": 0.1, "pd_type": "gaussian", "pd_n": 35.0, "junk": 1},
			"sld":    map[string]any{"pd_width": 0.2},
		},
	})
	require.NoError(t, err)

	s := f.Last()
	assert.True(t, s.PolydispersityEnabled())
	pd, ok := s.PD("radius")
	require.True(t, ok)
	require.NotNil(t, pd.N)
	assert.Equal(t, 35, *pd.N)
	assert.Equal(t, []string{"param 'sld' does not support polydispersity, skipping"}, res.Details["warnings"])
}

func TestCustomModelPolydispersityAllRejected(t *testing.T) {
	f := fake.NewFactory()
	_, err := unit(t, f, CustomFit).Run(context.Background(), analysis.Parameters{
		"input_csv":       sampleCSV(t),
		"output_dir":      t.TempDir(),
		"model":           "cylinder",
		"param_overrides": map[string]any{},
		"polydispersity":  map[string]any{"sld": map[string]any{"pd_width": 0.2}},
	})
	require.NoError(t, err)
	assert.False(t, f.Last().PolydispersityEnabled())
}

func TestCustomModelFitFailure(t *testing.T) {
	f := fake.NewFactory()
	f.FitErr = errors.New("singular matrix")
	_, err := unit(t, f, CustomFit).Run(context.Background(), analysis.Parameters{
		"input_csv":       sampleCSV(t),
		"output_dir":      t.TempDir(),
		"model":           "sphere",
		"param_overrides": map[string]any{},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel.ErrExecutionFailure)
	assert.Contains(t, err.Error(), "fitting failed for model 'sphere'")
	assert.Contains(t, err.Error(), "singular matrix")
}

func TestCustomModelValidation(t *testing.T) {
	u := unit(t, fake.NewFactory(), CustomFit)
	csv := sampleCSV(t)

	cases := map[string]analysis.Parameters{
		"missing model":     {"input_csv": csv, "output_dir": t.TempDir(), "param_overrides": map[string]any{}},
		"missing overrides": {"input_csv": csv, "output_dir": t.TempDir(), "model": "sphere"},
		"sf params alone": {"input_csv": csv, "output_dir": t.TempDir(), "model": "sphere", "param_overrides": map[string]any{},
			"structure_factor_params": map[string]any{"volfraction": map[string]any{"value": 0.1}}},
		"bad mode": {"input_csv": csv, "output_dir": t.TempDir(), "model": "sphere", "param_overrides": map[string]any{},
			"structure_factor": "hardsphere", "radius_effective_mode": "tied"},
	}
	for name, params := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := u.Run(context.Background(), params)
			assert.ErrorIs(t, err, sentinel.ErrInvalidRequest)
		})
	}
}

func TestCustomModelMissingInput(t *testing.T) {
	_, err := unit(t, fake.NewFactory(), CustomFit).Run(context.Background(), analysis.Parameters{
		"input_csv":       filepath.Join(t.TempDir(), "nope.csv"),
		"output_dir":      t.TempDir(),
		"model":           "sphere",
		"param_overrides": map[string]any{},
	})
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
