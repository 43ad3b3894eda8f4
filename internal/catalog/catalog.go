// Package catalog holds the built-in analysis units and the manifest the
// registry is built from.
package catalog

import (
	"log/slog"
	"strings"

	"github.com/bryanwahyu/sans-pilot/internal/domain/analysis"
	"github.com/bryanwahyu/sans-pilot/internal/domain/fitting"
)

// Unit names.
const (
	CylinderFit = "fitting-with-cylinder-model"
	SphereFit   = "fitting-with-sphere-model"
	CustomFit   = "fitting-with-custom-model"
)

// PlotFile is the fit plot every unit writes into its output directory.
const PlotFile = "fit_plot.png"

// Artifact labels.
const (
	LabelPlot       = "plot"
	LabelParameters = "parameters"
)

// Deps are what the units need at run time.
type Deps struct {
	Fitters fitting.Factory
	Logger  *slog.Logger
}

// Manifest returns the built-in entries minus the disabled names.
func Manifest(deps Deps, disabled ...string) []analysis.Entry {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	off := make(map[string]bool, len(disabled))
	for _, name := range disabled {
		off[strings.TrimSpace(name)] = true
	}

	all := []analysis.Entry{
		{Name: CylinderFit, Load: templateLoader(deps, cylinderTemplate)},
		{Name: SphereFit, Load: templateLoader(deps, sphereTemplate)},
		{Name: CustomFit, Load: customLoader(deps)},
	}
	out := make([]analysis.Entry, 0, len(all))
	for _, e := range all {
		if off[e.Name] {
			deps.Logger.Info("analysis.disabled", "analysis", e.Name)
			continue
		}
		out = append(out, e)
	}
	return out
}
