package fitting

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/sans-pilot/internal/domain/sentinel"
)

type recorder struct {
	params  map[string]ParameterSpec
	calls   []string
	pd      map[string]PDUpdate
	enabled bool
	failOn  string
}

func newRecorder() *recorder {
	return &recorder{
		params: map[string]ParameterSpec{
			"radius":      {Value: 20, Min: 0, Max: math.Inf(1)},
			"length":      {Value: 400, Min: 0, Max: math.Inf(1)},
			"volfraction": {Value: 0.2, Min: 0, Max: 0.74},
		},
		pd: map[string]PDUpdate{},
	}
}

func (r *recorder) SetParam(_ context.Context, name string, u ParamUpdate) error {
	if name == r.failOn {
		return errors.New("engine refused")
	}
	r.params[name] = r.params[name].Apply(u)
	r.calls = append(r.calls, name)
	return nil
}

func (r *recorder) SetPDParam(_ context.Context, name string, u PDUpdate) error {
	r.pd[name] = u
	return nil
}

func (r *recorder) EnablePolydispersity(_ context.Context, enabled bool) error {
	r.enabled = enabled
	return nil
}

func (r *recorder) names() NameSet {
	s := NewNameSet()
	for n := range r.params {
		s[n] = struct{}{}
	}
	return s
}

func TestApplyOverridesReplacesOnlyGivenFields(t *testing.T) {
	rec := newRecorder()
	report, err := ApplyOverrides(context.Background(), rec, rec.names(), OverrideSet{
		"radius": {"value": 35.0, "vary": true, "color": "red"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Accepted)
	assert.Empty(t, report.Warnings)

	got := rec.params["radius"]
	assert.Equal(t, 35.0, got.Value)
	assert.True(t, got.Vary)
	assert.Equal(t, 0.0, got.Min)
	assert.True(t, math.IsInf(got.Max, 1))
	assert.Equal(t, 400.0, rec.params["length"].Value)
}

func TestApplyOverridesUnknownNameWarns(t *testing.T) {
	rec := newRecorder()
	report, err := ApplyOverrides(context.Background(), rec, rec.names(), OverrideSet{
		"bogus":  {"value": 1},
		"length": {"min": 10, "max": 1000},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Accepted)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "bogus")
	_, inserted := rec.params["bogus"]
	assert.False(t, inserted)
}

func TestApplyOverridesEmptyIsNoop(t *testing.T) {
	rec := newRecorder()
	report, err := ApplyOverrides(context.Background(), rec, rec.names(), OverrideSet{
		"radius": {"colour": "blue"},
	})
	require.NoError(t, err)
	assert.Zero(t, report.Accepted)
	assert.Empty(t, rec.calls)
}

func TestApplyOverridesWrongTypeIsInvalid(t *testing.T) {
	rec := newRecorder()
	_, err := ApplyOverrides(context.Background(), rec, rec.names(), OverrideSet{
		"radius": {"value": "big"},
	})
	assert.ErrorIs(t, err, sentinel.ErrInvalidRequest)

	_, err = ApplyOverrides(context.Background(), rec, rec.names(), OverrideSet{
		"radius": {"vary": "yes"},
	})
	assert.ErrorIs(t, err, sentinel.ErrInvalidRequest)
}

func TestApplyOverridesEngineError(t *testing.T) {
	rec := newRecorder()
	rec.failOn = "length"
	_, err := ApplyOverrides(context.Background(), rec, rec.names(), OverrideSet{"length": {"value": 1}})
	assert.ErrorContains(t, err, "engine refused")
}

func TestApplyLayeredGeneralWins(t *testing.T) {
	rec := newRecorder()
	report, err := ApplyLayered(context.Background(), rec, rec.names(),
		OverrideSet{"volfraction": {"value": 0.1, "vary": true}},
		OverrideSet{"volfraction": {"value": 0.25}},
	)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Accepted)
	assert.Equal(t, 0.25, rec.params["volfraction"].Value)
	assert.True(t, rec.params["volfraction"].Vary)
	assert.Equal(t, []string{"volfraction", "volfraction"}, rec.calls)
}

func TestApplyPolydispersity(t *testing.T) {
	rec := newRecorder()
	report, err := ApplyPolydispersity(context.Background(), rec, NewNameSet("radius"), PolydispersityConfig{
		"radius": {"pd_width": 0.1, "pd_type": "gaussian", "pd_n": 35.0, "vary": false},
		"length": {"pd_width": 0.2},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Accepted)
	assert.True(t, report.PolydispersityEnabled)
	assert.True(t, rec.enabled)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "length")

	pd := rec.pd["radius"]
	require.NotNil(t, pd.N)
	assert.Equal(t, 35, *pd.N)
	assert.Equal(t, "gaussian", *pd.Type)
}

func TestApplyPolydispersityNothingAccepted(t *testing.T) {
	rec := newRecorder()
	report, err := ApplyPolydispersity(context.Background(), rec, NewNameSet("radius"), PolydispersityConfig{
		"length": {"pd_width": 0.2},
	})
	require.NoError(t, err)
	assert.False(t, report.PolydispersityEnabled)
	assert.False(t, rec.enabled)

	_, err = ApplyPolydispersity(context.Background(), rec, NewNameSet("radius"), PolydispersityConfig{
		"radius": {"pd_n": 2.5},
	})
	assert.ErrorIs(t, err, sentinel.ErrInvalidRequest)
}

func TestFormatNumber(t *testing.T) {
	cases := map[float64]string{
		0:            "0.0",
		50:           "50.0",
		0.25:         "0.25",
		-3.5:         "-3.5",
		1e-5:         "1e-05",
		math.Inf(1):  "inf",
		math.Inf(-1): "-inf",
	}
	for in, want := range cases {
		assert.Equal(t, want, FormatNumber(in), "%v", in)
	}
	assert.Equal(t, "nan", FormatNumber(math.NaN()))
}

func TestFormatParameterValues(t *testing.T) {
	vary, fixed := true, false
	stderr := 0.5
	out := FormatParameterValues("sphere@hardsphere", []FittedParameter{
		{Name: "radius", Value: 50, Stderr: &stderr, Min: 0, Max: math.Inf(1), Vary: &vary},
		{Name: "radius_effective", Value: 50, Min: 0, Max: math.Inf(1), Vary: &fixed, Expr: "radius"},
		{Name: "background", Value: math.NaN(), Min: math.Inf(-1), Max: math.Inf(1)},
	})
	assert.Equal(t,
		"model_name,sphere@hardsphere:"+
			"sphere@hardsphere,None,,None,,,():"+
			"radius,True,50.0,0.5,0.0,inf,():"+
			"radius_effective,False,50.0,None,0.0,inf,radius:"+
			"background,None,nan,None,-inf,inf,()",
		out)

	// output is stable for the same input, NaN included
	again := FormatParameterValues("sphere@hardsphere", []FittedParameter{
		{Name: "background", Value: math.NaN(), Min: math.Inf(-1), Max: math.Inf(1)},
	})
	assert.Equal(t, again, FormatParameterValues("sphere@hardsphere", []FittedParameter{
		{Name: "background", Value: math.NaN(), Min: math.Inf(-1), Max: math.Inf(1)},
	}))
}
