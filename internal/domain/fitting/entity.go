package fitting

import "sort"

// ParameterSpec is one tunable model parameter.
type ParameterSpec struct {
	Value float64 `json:"value"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Vary  bool    `json:"vary"`
}

// ParamUpdate carries the subset of ParameterSpec fields a caller set.
// Nil fields are left untouched.
type ParamUpdate struct {
	Value *float64 `json:"value,omitempty"`
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
	Vary  *bool    `json:"vary,omitempty"`
}

// Empty reports whether no field is set.
func (u ParamUpdate) Empty() bool {
	return u.Value == nil && u.Min == nil && u.Max == nil && u.Vary == nil
}

// Apply returns p with exactly the fields present in u replaced.
func (p ParameterSpec) Apply(u ParamUpdate) ParameterSpec {
	if u.Value != nil {
		p.Value = *u.Value
	}
	if u.Min != nil {
		p.Min = *u.Min
	}
	if u.Max != nil {
		p.Max = *u.Max
	}
	if u.Vary != nil {
		p.Vary = *u.Vary
	}
	return p
}

// PDUpdate configures a polydispersity distribution for one parameter.
type PDUpdate struct {
	Width  *float64 `json:"pd_width,omitempty"`
	Type   *string  `json:"pd_type,omitempty"`
	N      *int     `json:"pd_n,omitempty"`
	NSigma *float64 `json:"pd_nsigma,omitempty"`
	Vary   *bool    `json:"vary,omitempty"`
}

func (u PDUpdate) Empty() bool {
	return u.Width == nil && u.Type == nil && u.N == nil && u.NSigma == nil && u.Vary == nil
}

// Radius-effective linkage modes for a structure factor.
const (
	RadiusEffectiveUnconstrained = "unconstrained"
	RadiusEffectiveLinkRadius    = "link_radius"
)

// Optimizer backends understood by the engine.
const (
	EngineBumps = "bumps"
	EngineLMFit = "lmfit"
)

// FitOptions selects the optimizer.
type FitOptions struct {
	Engine string `json:"engine"`
	Method string `json:"method,omitempty"`
}

// PlotOptions controls the rendered fit plot.
type PlotOptions struct {
	ShowResiduals bool `json:"show_residuals"`
	LogScale      bool `json:"log_scale"`
}

// FittedParameter is one parameter as reported after a fit.
// Vary and Stderr are nil when the engine did not report them.
type FittedParameter struct {
	Name   string   `json:"name"`
	Value  float64  `json:"value"`
	Stderr *float64 `json:"stderr,omitempty"`
	Min    float64  `json:"min"`
	Max    float64  `json:"max"`
	Vary   *bool    `json:"vary,omitempty"`
	Expr   string   `json:"expr,omitempty"`
}

// FitResult is what the engine returns from a fit.
type FitResult struct {
	Summary    string            `json:"summary"`
	ChiSquared *float64          `json:"chisq,omitempty"`
	Parameters []FittedParameter `json:"parameters"`
}

// NameSet is a set of parameter names.
type NameSet map[string]struct{}

// NewNameSet builds a set from names.
func NewNameSet(names ...string) NameSet {
	s := make(NameSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

func (s NameSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Sorted returns the members in lexical order.
func (s NameSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
