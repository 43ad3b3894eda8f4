// Package fake is an in-process fitting engine with a small built-in model
// catalog. It backs tests and the "fake" fitter mode for local runs.
package fake

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/bryanwahyu/sans-pilot/internal/domain/fitting"
	"github.com/bryanwahyu/sans-pilot/internal/domain/sentinel"
)

// Factory opens fake sessions and remembers them for inspection.
type Factory struct {
	// FitErr, when set, is returned by every Fit call.
	FitErr error

	mu       sync.Mutex
	sessions []*Fitter
}

func NewFactory() *Factory { return &Factory{} }

func (f *Factory) NewFitter(context.Context) (fitting.Fitter, error) {
	s := &Fitter{fitErr: f.FitErr, params: map[string]fitting.ParameterSpec{}, pd: map[string]fitting.PDUpdate{}}
	f.mu.Lock()
	f.sessions = append(f.sessions, s)
	f.mu.Unlock()
	return s, nil
}

// Sessions returns every session opened so far, oldest first.
func (f *Factory) Sessions() []*Fitter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Fitter(nil), f.sessions...)
}

// Last returns the most recent session or nil.
func (f *Factory) Last() *Fitter {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) == 0 {
		return nil
	}
	return f.sessions[len(f.sessions)-1]
}

type point struct{ q, i float64 }

// Fitter is one fake session.
type Fitter struct {
	mu        sync.Mutex
	fitErr    error
	data      []point
	model     string
	sf        string
	sfMode    string
	params    map[string]fitting.ParameterSpec
	exprs     map[string]string
	pdNames   []string
	pd        map[string]fitting.PDUpdate
	pdEnabled bool
	setCalls  []string
	closed    bool
}

func (f *Fitter) LoadData(_ context.Context, path string) error {
	fh, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("input data file not found: %s: %w", path, sentinel.ErrNotFound)
	}
	defer fh.Close()

	r := csv.NewReader(fh)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	var pts []point
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if len(rec) < 2 {
			continue
		}
		q, errQ := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
		i, errI := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if errQ != nil || errI != nil {
			// header or comment line
			continue
		}
		pts = append(pts, point{q: q, i: i})
	}
	if len(pts) == 0 {
		return fmt.Errorf("no numeric q,I rows in %s", path)
	}
	f.mu.Lock()
	f.data = pts
	f.mu.Unlock()
	return nil
}

func (f *Fitter) SetModel(_ context.Context, model string) error {
	def, ok := models[model]
	if !ok {
		return fmt.Errorf("unknown model '%s': %w", model, sentinel.ErrNotFound)
	}
	d := def()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.model = model
	f.sf = ""
	f.params = d.params
	f.exprs = map[string]string{}
	f.pdNames = d.polydisperse
	f.pd = map[string]fitting.PDUpdate{}
	f.pdEnabled = false
	return nil
}

func (f *Fitter) SetStructureFactor(_ context.Context, name, mode string) error {
	def, ok := structureFactors[name]
	if !ok {
		return fmt.Errorf("unknown structure factor '%s': %w", name, sentinel.ErrNotFound)
	}
	if mode == "" {
		mode = fitting.RadiusEffectiveUnconstrained
	}
	if mode != fitting.RadiusEffectiveUnconstrained && mode != fitting.RadiusEffectiveLinkRadius {
		return fmt.Errorf("unknown radius_effective_mode '%s': %w", mode, sentinel.ErrInvalidRequest)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.model == "" {
		return errors.New("set a model before the structure factor")
	}
	f.sf = name
	f.sfMode = mode
	for k, v := range def() {
		f.params[k] = v
	}
	if mode == fitting.RadiusEffectiveLinkRadius {
		if _, ok := f.params["radius"]; ok {
			f.exprs["radius_effective"] = "radius"
		}
	}
	return nil
}

func (f *Fitter) Params(context.Context) (map[string]fitting.ParameterSpec, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.model == "" {
		return nil, errors.New("no model set")
	}
	out := make(map[string]fitting.ParameterSpec, len(f.params))
	for k, v := range f.params {
		out[k] = v
	}
	return out, nil
}

func (f *Fitter) SetParam(_ context.Context, name string, u fitting.ParamUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.params[name]
	if !ok {
		return fmt.Errorf("parameter '%s' not in model '%s'", name, f.model)
	}
	f.params[name] = p.Apply(u)
	f.setCalls = append(f.setCalls, name)
	return nil
}

func (f *Fitter) PolydisperseParameters(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.model == "" {
		return nil, errors.New("no model set")
	}
	return append([]string(nil), f.pdNames...), nil
}

func (f *Fitter) SetPDParam(_ context.Context, name string, u fitting.PDUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !contains(f.pdNames, name) {
		return fmt.Errorf("parameter '%s' is not polydisperse", name)
	}
	f.pd[name] = u
	return nil
}

func (f *Fitter) EnablePolydispersity(_ context.Context, enabled bool) error {
	f.mu.Lock()
	f.pdEnabled = enabled
	f.mu.Unlock()
	return nil
}

func (f *Fitter) Fit(_ context.Context, opts fitting.FitOptions) (fitting.FitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fitErr != nil {
		return fitting.FitResult{}, f.fitErr
	}
	if len(f.data) == 0 {
		return fitting.FitResult{}, errors.New("no data loaded")
	}
	if f.model == "" {
		return fitting.FitResult{}, errors.New("no model set")
	}

	names := make([]string, 0, len(f.params))
	for n := range f.params {
		names = append(names, n)
	}
	sort.Strings(names)

	chisq := f.chiSquared()
	var b strings.Builder
	fmt.Fprintf(&b, "Fit of model '%s'", f.displayModel())
	fmt.Fprintf(&b, " with %s/%s on %d points\n", opts.Engine, opts.Method, len(f.data))
	fmt.Fprintf(&b, "chisq = %s\n", fitting.FormatNumber(chisq))
	if f.pdEnabled {
		b.WriteString("polydispersity enabled\n")
	}

	out := fitting.FitResult{Summary: "", ChiSquared: &chisq}
	for _, n := range names {
		p := f.params[n]
		vary := p.Vary
		fp := fitting.FittedParameter{Name: n, Value: p.Value, Min: p.Min, Max: p.Max, Vary: &vary, Expr: f.exprs[n]}
		if p.Vary {
			se := math.Abs(p.Value) * 0.01
			fp.Stderr = &se
			fmt.Fprintf(&b, "%s = %s +/- %s\n", n, fitting.FormatNumber(p.Value), fitting.FormatNumber(se))
		} else {
			fmt.Fprintf(&b, "%s = %s (fixed)\n", n, fitting.FormatNumber(p.Value))
		}
		out.Parameters = append(out.Parameters, fp)
	}
	out.Summary = strings.TrimRight(b.String(), "\n")
	return out, nil
}

func (f *Fitter) PlotResults(_ context.Context, path string, opts fitting.PlotOptions) error {
	f.mu.Lock()
	data := append([]point(nil), f.data...)
	f.mu.Unlock()
	if len(data) == 0 {
		return errors.New("no data loaded")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	const w, h = 160, 120
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	tx := func(v float64) float64 {
		if opts.LogScale && v > 0 {
			return math.Log10(v)
		}
		return v
	}
	minQ, maxQ, minI, maxI := math.Inf(1), math.Inf(-1), math.Inf(1), math.Inf(-1)
	for _, p := range data {
		q, i := tx(p.q), tx(p.i)
		minQ, maxQ = math.Min(minQ, q), math.Max(maxQ, q)
		minI, maxI = math.Min(minI, i), math.Max(maxI, i)
	}
	span := func(lo, hi float64) float64 {
		if hi-lo == 0 {
			return 1
		}
		return hi - lo
	}
	for _, p := range data {
		x := int((tx(p.q) - minQ) / span(minQ, maxQ) * float64(w-1))
		y := h - 1 - int((tx(p.i)-minI)/span(minI, maxI)*float64(h-1))
		img.Set(x, y, color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff})
	}

	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(fh, img); err != nil {
		fh.Close()
		return err
	}
	return fh.Close()
}

func (f *Fitter) ListModels(context.Context) ([]string, error) {
	names := make([]string, 0, len(models))
	for n := range models {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (f *Fitter) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Inspection helpers for tests.

func (f *Fitter) Model() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.displayModel()
}

func (f *Fitter) Param(name string) (fitting.ParameterSpec, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.params[name]
	return p, ok
}

func (f *Fitter) PD(name string) (fitting.PDUpdate, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.pd[name]
	return u, ok
}

func (f *Fitter) PolydispersityEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pdEnabled
}

// SetParamCalls lists parameter names in the order SetParam was called.
func (f *Fitter) SetParamCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.setCalls...)
}

func (f *Fitter) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Fitter) displayModel() string {
	if f.sf != "" {
		return f.model + "@" + f.sf
	}
	return f.model
}

// chiSquared compares the data against a flat line at the mean intensity
// scaled by the current scale and background. It is not physics.
func (f *Fitter) chiSquared() float64 {
	scale, bg := 1.0, 0.0
	if p, ok := f.params["scale"]; ok {
		scale = p.Value
	}
	if p, ok := f.params["background"]; ok {
		bg = p.Value
	}
	var mean float64
	for _, p := range f.data {
		mean += p.i
	}
	mean /= float64(len(f.data))
	var sum float64
	for _, p := range f.data {
		d := p.i - (mean*scale + bg)
		sum += d * d
	}
	return sum / float64(len(f.data))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
