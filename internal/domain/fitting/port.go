package fitting

import "context"

// Fitter is one session with the external fitting engine. A session is used
// by a single run and is not safe for concurrent use.
type Fitter interface {
	LoadData(ctx context.Context, path string) error
	SetModel(ctx context.Context, model string) error
	// SetStructureFactor combines the current model with a structure factor.
	// The structure factor's parameters become part of Params afterwards.
	SetStructureFactor(ctx context.Context, name, radiusEffectiveMode string) error
	Params(ctx context.Context) (map[string]ParameterSpec, error)
	SetParam(ctx context.Context, name string, update ParamUpdate) error
	PolydisperseParameters(ctx context.Context) ([]string, error)
	SetPDParam(ctx context.Context, name string, update PDUpdate) error
	EnablePolydispersity(ctx context.Context, enabled bool) error
	Fit(ctx context.Context, opts FitOptions) (FitResult, error)
	PlotResults(ctx context.Context, path string, opts PlotOptions) error
	ListModels(ctx context.Context) ([]string, error)
	Close() error
}

// Factory opens isolated Fitter sessions.
type Factory interface {
	NewFitter(ctx context.Context) (Fitter, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context) (Fitter, error)

func (f FactoryFunc) NewFitter(ctx context.Context) (Fitter, error) { return f(ctx) }
