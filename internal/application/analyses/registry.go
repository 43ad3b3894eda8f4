package analyses

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/bryanwahyu/sans-pilot/internal/domain/analysis"
	"github.com/bryanwahyu/sans-pilot/internal/domain/sentinel"
)

const (
	// LoadFailedDescription stands in for a unit that could not be loaded.
	LoadFailedDescription = "Failed to load description"
	noDescription         = "No description"
)

type registration struct {
	entry       analysis.Entry
	description string
	loadErr     error
}

// Registry is the table of analysis units, built once from a manifest.
// Descriptions are read eagerly and cached; units are re-loaded per call.
type Registry struct {
	entries map[string]*registration
	logger  *slog.Logger
}

// NewRegistry loads every manifest entry once to cache its description. A
// unit that fails to load keeps a placeholder description and reports
// LoadFailure when it is requested.
func NewRegistry(manifest []analysis.Entry, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Registry{entries: make(map[string]*registration, len(manifest)), logger: logger}
	for _, e := range manifest {
		if _, dup := r.entries[e.Name]; dup {
			logger.Warn("analysis.duplicate_entry", "analysis", e.Name)
			continue
		}
		reg := &registration{entry: e}
		unit, err := load(e)
		switch {
		case err != nil:
			reg.description = LoadFailedDescription
			reg.loadErr = err
			logger.Warn("analysis.load_failed", "analysis", e.Name, "error", err.Error())
		case unit.Description == "":
			reg.description = noDescription
		default:
			reg.description = unit.Description
		}
		r.entries[e.Name] = reg
	}
	return r
}

// List returns name -> description for every public unit. It never fails.
func (r *Registry) List() map[string]string {
	out := make(map[string]string, len(r.entries))
	for name, reg := range r.entries {
		if analysis.IsPrivate(name) {
			continue
		}
		out[name] = reg.description
	}
	return out
}

// Names returns the public unit names in lexical order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		if !analysis.IsPrivate(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Load builds a fresh Unit for name.
func (r *Registry) Load(name string) (analysis.Unit, error) {
	reg, ok := r.entries[name]
	if !ok {
		return analysis.Unit{}, fmt.Errorf("analysis not found: %s: %w", name, sentinel.ErrNotFound)
	}
	unit, err := load(reg.entry)
	if err != nil {
		return analysis.Unit{}, fmt.Errorf("failed to load analysis '%s': %v: %w", name, err, sentinel.ErrLoadFailure)
	}
	return unit, nil
}

// Execute loads name and invokes its entry point. Any failure raised by the
// unit, panics included, comes back as an analysis.ExecutionError.
func (r *Registry) Execute(ctx context.Context, name string, params analysis.Parameters) (analysis.Result, error) {
	unit, err := r.Load(name)
	if err != nil {
		return analysis.Result{}, err
	}
	if unit.Run == nil {
		return analysis.Result{}, fmt.Errorf("analysis '%s' has no run function: %w", name, sentinel.ErrInvalidUnit)
	}
	res, err := invoke(ctx, unit, params)
	if err != nil {
		return analysis.Result{}, analysis.WrapExecution(name, err)
	}
	return res, nil
}

func load(e analysis.Entry) (unit analysis.Unit, err error) {
	if e.Load == nil {
		return analysis.Unit{}, fmt.Errorf("analysis '%s' has no loader", e.Name)
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic while loading: %v", p)
		}
	}()
	return e.Load()
}

func invoke(ctx context.Context, unit analysis.Unit, params analysis.Parameters) (res analysis.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return unit.Run(ctx, params)
}
