package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/bryanwahyu/sans-pilot/internal/domain/fitting"
)

// Serve answers worker requests read from r against f until r is exhausted.
// It is the worker side of the protocol and lets any fitting.Fitter run
// behind a process boundary.
func Serve(ctx context.Context, r io.Reader, w io.Writer, f fitting.Fitter, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxMessageSize)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req rpcRequest
		if err := json.Unmarshal(line, &req); err != nil {
			logger.Warn("fitter.worker_bad_request", "error", err.Error())
			continue
		}
		resp := rpcResponse{JSONRPC: jsonRPCVersion, ID: req.ID}
		result, err := dispatch(ctx, f, req)
		if err != nil {
			resp.Error = toRPCError(err)
		} else if result != nil {
			raw, err := json.Marshal(result)
			if err != nil {
				resp.Error = toRPCError(err)
			} else {
				resp.Result = raw
			}
		} else {
			resp.Result = json.RawMessage(`{"ok":true}`)
		}
		if err := enc.Encode(resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func dispatch(ctx context.Context, f fitting.Fitter, req rpcRequest) (any, error) {
	decode := func(dst any) error {
		if len(req.Params) == 0 {
			return nil
		}
		if err := json.Unmarshal(req.Params, dst); err != nil {
			return &RemoteError{Code: KindInvalidParams, Message: err.Error()}
		}
		return nil
	}

	switch req.Method {
	case MethodLoadData:
		var p pathParams
		if err := decode(&p); err != nil {
			return nil, err
		}
		return nil, f.LoadData(ctx, p.Path)
	case MethodSetModel:
		var p modelParams
		if err := decode(&p); err != nil {
			return nil, err
		}
		return nil, f.SetModel(ctx, p.Model)
	case MethodSetStructureFactor:
		var p structureFactorParams
		if err := decode(&p); err != nil {
			return nil, err
		}
		return nil, f.SetStructureFactor(ctx, p.Name, p.RadiusEffectiveMode)
	case MethodParams:
		params, err := f.Params(ctx)
		if err != nil {
			return nil, err
		}
		return toWireSpecs(params), nil
	case MethodSetParam:
		var p setParamParams
		if err := decode(&p); err != nil {
			return nil, err
		}
		return nil, f.SetParam(ctx, p.Name, p.Update.update())
	case MethodPolydisperseParameters:
		names, err := f.PolydisperseParameters(ctx)
		if err != nil {
			return nil, err
		}
		return nonNil(names), nil
	case MethodSetPDParam:
		var p setPDParams
		if err := decode(&p); err != nil {
			return nil, err
		}
		return nil, f.SetPDParam(ctx, p.Name, p.Update)
	case MethodEnablePolydispersity:
		var p enableParams
		if err := decode(&p); err != nil {
			return nil, err
		}
		return nil, f.EnablePolydispersity(ctx, p.Enabled)
	case MethodFit:
		var p fitting.FitOptions
		if err := decode(&p); err != nil {
			return nil, err
		}
		res, err := f.Fit(ctx, p)
		if err != nil {
			return nil, &RemoteError{Code: KindFitFailed, Message: err.Error()}
		}
		return toWireFit(res), nil
	case MethodPlotResults:
		var p plotParams
		if err := decode(&p); err != nil {
			return nil, err
		}
		return nil, f.PlotResults(ctx, p.Path, p.PlotOptions)
	case MethodListModels:
		names, err := f.ListModels(ctx)
		if err != nil {
			return nil, err
		}
		return nonNil(names), nil
	}
	return nil, &rpcError{Code: codeMethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method)}
}

func (e *rpcError) Error() string { return e.Message }

func toRPCError(err error) *rpcError {
	switch e := err.(type) {
	case *rpcError:
		return e
	case *RemoteError:
		code := codeServerError
		if e.Code == KindInvalidParams {
			code = codeInvalidParams
		}
		return &rpcError{Code: code, Message: e.Message, Data: map[string]any{"error_code": e.Code}}
	}
	kind, code := kindOf(err)
	out := &rpcError{Code: code, Message: err.Error()}
	if kind != "" {
		out.Data = map[string]any{"error_code": kind}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
