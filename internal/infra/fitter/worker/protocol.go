package worker

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/bryanwahyu/sans-pilot/internal/domain/fitting"
)

const (
	jsonRPCVersion = "2.0"
	maxMessageSize = 12 * 1024 * 1024
)

// Methods spoken between the server and a fitting worker.
const (
	MethodLoadData               = "load_data"
	MethodSetModel               = "set_model"
	MethodSetStructureFactor     = "set_structure_factor"
	MethodParams                 = "params"
	MethodSetParam               = "set_param"
	MethodPolydisperseParameters = "polydisperse_parameters"
	MethodSetPDParam             = "set_pd_param"
	MethodEnablePolydispersity   = "enable_polydispersity"
	MethodFit                    = "fit"
	MethodPlotResults            = "plot_results"
	MethodListModels             = "list_models"
)

// Error kinds carried in rpcError.Data["error_code"].
const (
	KindNotFound      = "NOT_FOUND"
	KindInvalidParams = "INVALID_PARAMS"
	KindFitFailed     = "FIT_FAILED"
)

const (
	codeInvalidParams  = -32602
	codeMethodNotFound = -32601
	codeServerError    = -32000
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// number is a float64 that survives JSON with non-finite values, which
// parameter bounds routinely are. Non-finite values travel as strings.
type number float64

func (n number) MarshalJSON() ([]byte, error) {
	v := float64(n)
	switch {
	case math.IsNaN(v):
		return []byte(`"nan"`), nil
	case math.IsInf(v, 1):
		return []byte(`"inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-inf"`), nil
	}
	return []byte(strconv.FormatFloat(v, 'g', -1, 64)), nil
}

func (n *number) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid number %q", s)
		}
		*n = number(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*n = number(v)
	return nil
}

func numPtr(p *float64) *number {
	if p == nil {
		return nil
	}
	n := number(*p)
	return &n
}

func floatPtr(p *number) *float64 {
	if p == nil {
		return nil
	}
	v := float64(*p)
	return &v
}

type wireSpec struct {
	Value number `json:"value"`
	Min   number `json:"min"`
	Max   number `json:"max"`
	Vary  bool   `json:"vary"`
}

func toWireSpecs(in map[string]fitting.ParameterSpec) map[string]wireSpec {
	out := make(map[string]wireSpec, len(in))
	for k, p := range in {
		out[k] = wireSpec{Value: number(p.Value), Min: number(p.Min), Max: number(p.Max), Vary: p.Vary}
	}
	return out
}

func fromWireSpecs(in map[string]wireSpec) map[string]fitting.ParameterSpec {
	out := make(map[string]fitting.ParameterSpec, len(in))
	for k, p := range in {
		out[k] = fitting.ParameterSpec{Value: float64(p.Value), Min: float64(p.Min), Max: float64(p.Max), Vary: p.Vary}
	}
	return out
}

type wireUpdate struct {
	Value *number `json:"value,omitempty"`
	Min   *number `json:"min,omitempty"`
	Max   *number `json:"max,omitempty"`
	Vary  *bool   `json:"vary,omitempty"`
}

func toWireUpdate(u fitting.ParamUpdate) wireUpdate {
	return wireUpdate{Value: numPtr(u.Value), Min: numPtr(u.Min), Max: numPtr(u.Max), Vary: u.Vary}
}

func (u wireUpdate) update() fitting.ParamUpdate {
	return fitting.ParamUpdate{Value: floatPtr(u.Value), Min: floatPtr(u.Min), Max: floatPtr(u.Max), Vary: u.Vary}
}

type wireFitted struct {
	Name   string  `json:"name"`
	Value  number  `json:"value"`
	Stderr *number `json:"stderr,omitempty"`
	Min    number  `json:"min"`
	Max    number  `json:"max"`
	Vary   *bool   `json:"vary,omitempty"`
	Expr   string  `json:"expr,omitempty"`
}

type wireFitResult struct {
	Summary    string       `json:"summary"`
	ChiSquared *number      `json:"chisq,omitempty"`
	Parameters []wireFitted `json:"parameters"`
}

func toWireFit(r fitting.FitResult) wireFitResult {
	out := wireFitResult{Summary: r.Summary, ChiSquared: numPtr(r.ChiSquared)}
	for _, p := range r.Parameters {
		out.Parameters = append(out.Parameters, wireFitted{
			Name: p.Name, Value: number(p.Value), Stderr: numPtr(p.Stderr),
			Min: number(p.Min), Max: number(p.Max), Vary: p.Vary, Expr: p.Expr,
		})
	}
	return out
}

func (r wireFitResult) result() fitting.FitResult {
	out := fitting.FitResult{Summary: r.Summary, ChiSquared: floatPtr(r.ChiSquared)}
	for _, p := range r.Parameters {
		out.Parameters = append(out.Parameters, fitting.FittedParameter{
			Name: p.Name, Value: float64(p.Value), Stderr: floatPtr(p.Stderr),
			Min: float64(p.Min), Max: float64(p.Max), Vary: p.Vary, Expr: p.Expr,
		})
	}
	return out
}

type pathParams struct {
	Path string `json:"path"`
}

type modelParams struct {
	Model string `json:"model"`
}

type structureFactorParams struct {
	Name                string `json:"name"`
	RadiusEffectiveMode string `json:"radius_effective_mode,omitempty"`
}

type setParamParams struct {
	Name   string     `json:"name"`
	Update wireUpdate `json:"update"`
}

type setPDParams struct {
	Name   string           `json:"name"`
	Update fitting.PDUpdate `json:"update"`
}

type enableParams struct {
	Enabled bool `json:"enabled"`
}

type plotParams struct {
	Path string `json:"path"`
	fitting.PlotOptions
}
