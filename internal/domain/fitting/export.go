package fitting

import (
	"math"
	"strconv"
	"strings"
)

// ParameterValuesFile is the artifact name of the SasView parameter export.
const ParameterValuesFile = "sasview_parameter_values.txt"

// FormatParameterValues renders fitted parameters in the SasView clipboard
// layout: colon-separated records of comma-separated fields.
//
//	model_name,<model>:<model>,None,,None,,,():<name>,<vary>,<value>,<stderr>,<min>,<max>,<expr>...
//
// Non-finite numbers are written as nan, inf and -inf.
func FormatParameterValues(model string, params []FittedParameter) string {
	records := make([]string, 0, len(params)+2)
	records = append(records, "model_name,"+model)
	records = append(records, model+",None,,None,,,()")
	for _, p := range params {
		stderr := "None"
		if p.Stderr != nil {
			stderr = FormatNumber(*p.Stderr)
		}
		expr := p.Expr
		if expr == "" {
			expr = "()"
		}
		records = append(records, strings.Join([]string{
			p.Name,
			formatTriState(p.Vary),
			FormatNumber(p.Value),
			stderr,
			FormatNumber(p.Min),
			FormatNumber(p.Max),
			expr,
		}, ","))
	}
	return strings.Join(records, ":")
}

// FormatNumber writes v the way the fitting engine prints floats: integral
// values keep a trailing ".0", very small or large magnitudes use exponent form.
func FormatNumber(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	abs := math.Abs(v)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func formatTriState(b *bool) string {
	switch {
	case b == nil:
		return "None"
	case *b:
		return "True"
	default:
		return "False"
	}
}
