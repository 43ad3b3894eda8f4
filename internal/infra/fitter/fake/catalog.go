package fake

import (
	"math"

	"github.com/bryanwahyu/sans-pilot/internal/domain/fitting"
)

type modelDef struct {
	params       map[string]fitting.ParameterSpec
	polydisperse []string
}

var inf = math.Inf(1)

func common() map[string]fitting.ParameterSpec {
	return map[string]fitting.ParameterSpec{
		"scale":       {Value: 1, Min: 0, Max: inf},
		"background":  {Value: 0.001, Min: -inf, Max: inf},
		"sld":         {Value: 4, Min: -inf, Max: inf},
		"sld_solvent": {Value: 1, Min: -inf, Max: inf},
	}
}

func with(base map[string]fitting.ParameterSpec, extra map[string]fitting.ParameterSpec) map[string]fitting.ParameterSpec {
	for k, v := range extra {
		base[k] = v
	}
	return base
}

// models is the shape catalog the fake engine knows.
var models = map[string]func() modelDef{
	"cylinder": func() modelDef {
		return modelDef{
			params: with(common(), map[string]fitting.ParameterSpec{
				"radius": {Value: 20, Min: 0, Max: inf},
				"length": {Value: 400, Min: 0, Max: inf},
			}),
			polydisperse: []string{"radius", "length"},
		}
	},
	"sphere": func() modelDef {
		return modelDef{
			params: with(common(), map[string]fitting.ParameterSpec{
				"radius": {Value: 50, Min: 0, Max: inf},
			}),
			polydisperse: []string{"radius"},
		}
	},
	"ellipsoid": func() modelDef {
		return modelDef{
			params: with(common(), map[string]fitting.ParameterSpec{
				"radius_polar":      {Value: 20, Min: 0, Max: inf},
				"radius_equatorial": {Value: 400, Min: 0, Max: inf},
			}),
			polydisperse: []string{"radius_polar", "radius_equatorial"},
		}
	},
}

// structureFactors are the interaction models the fake engine knows.
var structureFactors = map[string]func() map[string]fitting.ParameterSpec{
	"hardsphere": func() map[string]fitting.ParameterSpec {
		return map[string]fitting.ParameterSpec{
			"radius_effective": {Value: 50, Min: 0, Max: inf},
			"volfraction":      {Value: 0.2, Min: 0, Max: 0.74},
		}
	},
	"hayter_msa": func() map[string]fitting.ParameterSpec {
		return map[string]fitting.ParameterSpec{
			"radius_effective": {Value: 20.75, Min: 0, Max: inf},
			"volfraction":      {Value: 0.0192, Min: 0, Max: 0.74},
			"charge":           {Value: 19, Min: 0.000001, Max: 200},
		}
	},
}
