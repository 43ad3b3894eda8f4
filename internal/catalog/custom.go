package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bryanwahyu/sans-pilot/internal/domain/analysis"
	"github.com/bryanwahyu/sans-pilot/internal/domain/fitting"
	"github.com/bryanwahyu/sans-pilot/internal/domain/sentinel"
)

const customDescription = "Fit SANS data using a specified model from sasmodels. " +
	"Use list-sans-models to see available models, " +
	"get-model-parameters to get parameter specs, " +
	"get-polydisperse-parameters to see which params support polydispersity. " +
	"Parameters: " +
	"input_csv (str, required), " +
	"model (str, required), " +
	"param_overrides (dict, required) - model parameters with value/min/max/vary (set vary=true for params to fit), " +
	"polydispersity (dict, optional) - PD config per param with pd_width/pd_type/pd_n/pd_nsigma/vary, " +
	"structure_factor (str, optional) - e.g. hardsphere, combined as model@structure_factor, " +
	"structure_factor_params (dict, optional) - overrides for structure factor params, applied before param_overrides, " +
	"radius_effective_mode (unconstrained|link_radius, default: unconstrained), " +
	"engine (bumps|lmfit, default: bumps), " +
	"method (str, default: amoeba), " +
	"plot_log_scale (bool, default: True)."

type customOptions struct {
	commonOptions
	Model                 string                       `json:"model"`
	ParamOverrides        *fitting.OverrideSet         `json:"param_overrides"`
	Polydispersity        fitting.PolydispersityConfig `json:"polydispersity"`
	StructureFactor       string                       `json:"structure_factor"`
	StructureFactorParams fitting.OverrideSet          `json:"structure_factor_params"`
	RadiusEffectiveMode   string                       `json:"radius_effective_mode"`
}

func (o *customOptions) validate() error {
	if err := o.normalize(); err != nil {
		return err
	}
	o.Model = strings.TrimSpace(o.Model)
	if o.Model == "" {
		return sentinel.Invalidf("model is required")
	}
	if o.ParamOverrides == nil {
		return sentinel.Invalidf("param_overrides is required")
	}
	o.StructureFactor = strings.TrimSpace(o.StructureFactor)
	if o.StructureFactor == "" {
		if len(o.StructureFactorParams) > 0 || o.RadiusEffectiveMode != "" {
			return sentinel.Invalidf("structure_factor_params and radius_effective_mode need a structure_factor")
		}
		return nil
	}
	switch o.RadiusEffectiveMode {
	case "":
		o.RadiusEffectiveMode = fitting.RadiusEffectiveUnconstrained
	case fitting.RadiusEffectiveUnconstrained, fitting.RadiusEffectiveLinkRadius:
	default:
		return sentinel.Invalidf("radius_effective_mode must be %s or %s",
			fitting.RadiusEffectiveUnconstrained, fitting.RadiusEffectiveLinkRadius)
	}
	return nil
}

// modelName is the name the engine reports for the combined model.
func (o customOptions) modelName() string {
	if o.StructureFactor == "" {
		return o.Model
	}
	return o.Model + "@" + o.StructureFactor
}

func customLoader(deps Deps) analysis.Loader {
	return func() (analysis.Unit, error) {
		return analysis.Unit{
			Name:        CustomFit,
			Description: customDescription,
			Run: func(ctx context.Context, params analysis.Parameters) (analysis.Result, error) {
				return runCustom(ctx, deps, params)
			},
		}, nil
	}
}

func runCustom(ctx context.Context, deps Deps, params analysis.Parameters) (analysis.Result, error) {
	var opts customOptions
	if err := analysis.Decode(params, &opts); err != nil {
		return analysis.Result{}, err
	}
	if err := opts.validate(); err != nil {
		return analysis.Result{}, err
	}

	info, err := os.Stat(opts.InputCSV)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && info.IsDir()) {
		return analysis.Result{}, fmt.Errorf("input data file not found: %s: %w", opts.InputCSV, sentinel.ErrNotFound)
	}
	if err != nil {
		return analysis.Result{}, fmt.Errorf("stat input: %v: %w", err, sentinel.ErrIO)
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return analysis.Result{}, fmt.Errorf("create output dir: %w", err)
	}

	f, err := deps.Fitters.NewFitter(ctx)
	if err != nil {
		return analysis.Result{}, fmt.Errorf("open fitter: %w", err)
	}
	defer f.Close()

	if err := f.LoadData(ctx, opts.InputCSV); err != nil {
		return analysis.Result{}, fmt.Errorf("load data: %w", err)
	}
	if err := f.SetModel(ctx, opts.Model); err != nil {
		return analysis.Result{}, fmt.Errorf("set model: %w", err)
	}
	if opts.StructureFactor != "" {
		if err := f.SetStructureFactor(ctx, opts.StructureFactor, opts.RadiusEffectiveMode); err != nil {
			return analysis.Result{}, fmt.Errorf("set structure factor: %w", err)
		}
	}

	live, err := f.Params(ctx)
	if err != nil {
		return analysis.Result{}, fmt.Errorf("read params: %w", err)
	}
	report, err := fitting.ApplyLayered(ctx, f, fitting.NewNameSet(keys(live)...), opts.StructureFactorParams, *opts.ParamOverrides)
	if err != nil {
		return analysis.Result{}, err
	}

	if len(opts.Polydispersity) > 0 {
		capable, err := f.PolydisperseParameters(ctx)
		if err != nil {
			return analysis.Result{}, fmt.Errorf("read polydisperse params: %w", err)
		}
		pd, err := fitting.ApplyPolydispersity(ctx, f, fitting.NewNameSet(capable...), opts.Polydispersity)
		if err != nil {
			return analysis.Result{}, err
		}
		report.Accepted += pd.Accepted
		report.Warnings = append(report.Warnings, pd.Warnings...)
		report.PolydispersityEnabled = pd.PolydispersityEnabled
	}
	logWarnings(deps, CustomFit, report)
	deps.Logger.Debug("analysis.params_applied", "analysis", CustomFit, "model", opts.modelName(),
		"accepted", report.Accepted, "polydispersity", report.PolydispersityEnabled)

	res, err := f.Fit(ctx, opts.fitOptions())
	if err != nil {
		return analysis.Result{}, analysis.ModelFailure(opts.modelName(), err)
	}

	plot := filepath.Join(opts.OutputDir, PlotFile)
	if err := f.PlotResults(ctx, plot, opts.plotOptions()); err != nil {
		return analysis.Result{}, fmt.Errorf("plot results: %w", err)
	}

	export := filepath.Join(opts.OutputDir, fitting.ParameterValuesFile)
	body := fitting.FormatParameterValues(opts.modelName(), res.Parameters)
	if err := os.WriteFile(export, []byte(body), 0o644); err != nil {
		return analysis.Result{}, fmt.Errorf("write parameter values: %v: %w", err, sentinel.ErrIO)
	}

	return analysis.Result{
		Fit: res.Summary,
		Artifacts: map[string]any{
			LabelPlot:       plot,
			LabelParameters: export,
		},
		Details: map[string]any{
			"model":                  opts.modelName(),
			"engine":                 opts.Engine,
			"method":                 *opts.Method,
			"accepted":               report.Accepted,
			"polydispersity_enabled": report.PolydispersityEnabled,
			"warnings":               report.Warnings,
		},
	}, nil
}
