package fitting

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/bryanwahyu/sans-pilot/internal/domain/sentinel"
)

// Keys honored in a parameter override; anything else is dropped silently.
var OverrideKeys = NewNameSet("value", "min", "max", "vary")

// Keys honored in a polydispersity entry.
var PolydispersityKeys = NewNameSet("pd_width", "pd_type", "pd_n", "pd_nsigma", "vary")

// OverrideSet maps a parameter name to the raw fields a caller supplied.
type OverrideSet map[string]map[string]any

// PolydispersityConfig maps a parameter name to its raw distribution fields.
type PolydispersityConfig map[string]map[string]any

// MergeReport summarizes one merge pass. Warnings are never fatal.
type MergeReport struct {
	Accepted int      `json:"accepted"`
	Warnings []string `json:"warnings,omitempty"`
	// PolydispersityEnabled is set by ApplyPolydispersity when at least one entry was accepted.
	PolydispersityEnabled bool `json:"polydispersity_enabled,omitempty"`
}

func (r *MergeReport) add(o MergeReport) {
	r.Accepted += o.Accepted
	r.Warnings = append(r.Warnings, o.Warnings...)
	r.PolydispersityEnabled = r.PolydispersityEnabled || o.PolydispersityEnabled
}

type ParamSetter interface {
	SetParam(ctx context.Context, name string, update ParamUpdate) error
}

type PDSetter interface {
	SetPDParam(ctx context.Context, name string, update PDUpdate) error
	EnablePolydispersity(ctx context.Context, enabled bool) error
}

// ApplyOverrides applies overrides for names in recognized. Unknown names are
// skipped with a warning and never inserted. An override whose fields are all
// outside OverrideKeys is a no-op. Names are visited in lexical order.
func ApplyOverrides(ctx context.Context, target ParamSetter, recognized NameSet, overrides OverrideSet) (MergeReport, error) {
	var report MergeReport
	for _, name := range sortedKeys(overrides) {
		if !recognized.Has(name) {
			report.Warnings = append(report.Warnings, fmt.Sprintf("param '%s' not in model, skipping", name))
			continue
		}
		update, err := ParseParamUpdate(overrides[name])
		if err != nil {
			return report, fmt.Errorf("param '%s': %w", name, err)
		}
		if update.Empty() {
			continue
		}
		if err := target.SetParam(ctx, name, update); err != nil {
			return report, fmt.Errorf("set param '%s': %w", name, err)
		}
		report.Accepted++
	}
	return report, nil
}

// ApplyLayered applies structure-factor overrides first and general overrides
// second, so the general set wins when both touch the same name.
func ApplyLayered(ctx context.Context, target ParamSetter, recognized NameSet, structureFactor, general OverrideSet) (MergeReport, error) {
	var report MergeReport
	sf, err := ApplyOverrides(ctx, target, recognized, structureFactor)
	report.add(sf)
	if err != nil {
		return report, err
	}
	gen, err := ApplyOverrides(ctx, target, recognized, general)
	report.add(gen)
	return report, err
}

// ApplyPolydispersity configures distributions for names in capable and turns
// polydispersity on for the run iff at least one entry was accepted.
func ApplyPolydispersity(ctx context.Context, target PDSetter, capable NameSet, cfg PolydispersityConfig) (MergeReport, error) {
	var report MergeReport
	for _, name := range sortedKeys(cfg) {
		if !capable.Has(name) {
			report.Warnings = append(report.Warnings, fmt.Sprintf("param '%s' does not support polydispersity, skipping", name))
			continue
		}
		update, err := ParsePDUpdate(cfg[name])
		if err != nil {
			return report, fmt.Errorf("polydispersity '%s': %w", name, err)
		}
		if update.Empty() {
			continue
		}
		if err := target.SetPDParam(ctx, name, update); err != nil {
			return report, fmt.Errorf("set polydispersity '%s': %w", name, err)
		}
		report.Accepted++
	}
	if report.Accepted > 0 {
		if err := target.EnablePolydispersity(ctx, true); err != nil {
			return report, fmt.Errorf("enable polydispersity: %w", err)
		}
		report.PolydispersityEnabled = true
	}
	return report, nil
}

// ParseParamUpdate keeps only OverrideKeys from fields. A recognized key with
// a value of the wrong type is an invalid request.
func ParseParamUpdate(fields map[string]any) (ParamUpdate, error) {
	var u ParamUpdate
	for key, raw := range fields {
		if !OverrideKeys.Has(key) || raw == nil {
			continue
		}
		switch key {
		case "vary":
			b, err := toBool(key, raw)
			if err != nil {
				return ParamUpdate{}, err
			}
			u.Vary = &b
		default:
			f, err := toFloat(key, raw)
			if err != nil {
				return ParamUpdate{}, err
			}
			switch key {
			case "value":
				u.Value = &f
			case "min":
				u.Min = &f
			case "max":
				u.Max = &f
			}
		}
	}
	return u, nil
}

// ParsePDUpdate keeps only PolydispersityKeys from fields.
func ParsePDUpdate(fields map[string]any) (PDUpdate, error) {
	var u PDUpdate
	for key, raw := range fields {
		if !PolydispersityKeys.Has(key) || raw == nil {
			continue
		}
		switch key {
		case "vary":
			b, err := toBool(key, raw)
			if err != nil {
				return PDUpdate{}, err
			}
			u.Vary = &b
		case "pd_type":
			s, ok := raw.(string)
			if !ok {
				return PDUpdate{}, sentinel.Invalidf("%s must be a string", key)
			}
			u.Type = &s
		case "pd_n":
			f, err := toFloat(key, raw)
			if err != nil {
				return PDUpdate{}, err
			}
			if math.Trunc(f) != f {
				return PDUpdate{}, sentinel.Invalidf("%s must be an integer", key)
			}
			n := int(f)
			u.N = &n
		case "pd_width":
			f, err := toFloat(key, raw)
			if err != nil {
				return PDUpdate{}, err
			}
			u.Width = &f
		case "pd_nsigma":
			f, err := toFloat(key, raw)
			if err != nil {
				return PDUpdate{}, err
			}
			u.NSigma = &f
		}
	}
	return u, nil
}

func toFloat(key string, raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, sentinel.Invalidf("%s must be a number", key)
		}
		return f, nil
	default:
		return 0, sentinel.Invalidf("%s must be a number", key)
	}
}

func toBool(key string, raw any) (bool, error) {
	b, ok := raw.(bool)
	if !ok {
		return false, sentinel.Invalidf("%s must be a boolean", key)
	}
	return b, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
