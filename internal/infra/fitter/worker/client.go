// Package worker drives an external fitting engine over line-delimited
// JSON-RPC on a child process's stdin and stdout. Each session owns one
// process, so sessions never share engine state.
package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/bryanwahyu/sans-pilot/internal/domain/fitting"
)

const closeGrace = 5 * time.Second

// Factory starts one worker process per session.
type Factory struct {
	Command string
	Args    []string
	// Env is appended to the current environment.
	Env    []string
	Logger *slog.Logger
}

func NewFactory(command string, args []string, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Factory{Command: command, Args: args, Logger: logger}
}

func (f *Factory) NewFitter(ctx context.Context) (fitting.Fitter, error) {
	if strings.TrimSpace(f.Command) == "" {
		return nil, fmt.Errorf("%w: no worker command configured", ErrUnavailable)
	}
	logger := f.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	cmd := exec.Command(f.Command, f.Args...)
	cmd.Env = append(append([]string{}, os.Environ()...), "PYTHONUNBUFFERED=1")
	cmd.Env = append(cmd.Env, f.Env...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	logger.Debug("fitter.worker_started", "cmd", f.Command, "pid", cmd.Process.Pid)

	s := &Session{
		cmd:       cmd,
		stdin:     stdin,
		responses: make(chan rpcResponse, 1),
		done:      make(chan struct{}),
		logger:    logger,
	}
	go s.readLoop(bufio.NewReader(stdout))
	go s.stderrLoop(stderr)
	return s, nil
}

// Session is a fitting.Fitter backed by one worker process.
type Session struct {
	callMu    sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	nextID    int
	responses chan rpcResponse
	done      chan struct{}
	exitErr   error
	closeOnce sync.Once
	logger    *slog.Logger
}

func (s *Session) call(ctx context.Context, method string, params any, result any) error {
	s.callMu.Lock()
	defer s.callMu.Unlock()

	select {
	case <-s.done:
		return ErrUnavailable
	default:
	}

	s.nextID++
	id := s.nextID
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(rpcRequest{JSONRPC: jsonRPCVersion, ID: id, Method: method, Params: raw})
	if err != nil {
		return err
	}
	if _, err := s.stdin.Write(append(payload, '\n')); err != nil {
		s.kill()
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	for {
		select {
		case resp := <-s.responses:
			if resp.ID != id {
				s.logger.Warn("fitter.worker_stale_response", "id", resp.ID, "want", id)
				continue
			}
			if resp.Error != nil {
				return mapRPCError(resp.Error)
			}
			if result != nil && len(resp.Result) > 0 {
				return json.Unmarshal(resp.Result, result)
			}
			return nil
		case <-s.done:
			return ErrUnavailable
		case <-ctx.Done():
			// the worker may still be busy with this call; the session is unusable now
			s.kill()
			return ctx.Err()
		}
	}
}

func (s *Session) readLoop(r *bufio.Reader) {
	defer close(s.done)
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Warn("fitter.worker_read_failed", "error", err.Error())
			}
			return
		}
		if len(line) > maxMessageSize {
			s.logger.Warn("fitter.worker_message_too_large", "bytes", len(line))
			return
		}
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			s.logger.Warn("fitter.worker_invalid_json", "error", err.Error())
			continue
		}
		if resp.ID == 0 {
			continue
		}
		select {
		case s.responses <- resp:
		default:
			s.logger.Warn("fitter.worker_unexpected_response", "id", resp.ID)
		}
	}
}

func (s *Session) stderrLoop(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s.logger.Info("fitter.worker_stderr", "message", line)
	}
}

func (s *Session) kill() {
	s.closeOnce.Do(func() {
		_ = s.stdin.Close()
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		s.exitErr = s.cmd.Wait()
	})
}

// Close ends the session. The worker is asked to exit by closing its stdin
// and is killed if it is still around afterwards.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		_ = s.stdin.Close()
		select {
		case <-s.done:
		case <-time.After(closeGrace):
			s.logger.Warn("fitter.worker_exit_timeout", "pid", s.cmd.Process.Pid)
		}
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		s.exitErr = s.cmd.Wait()
	})
	return nil
}

func (s *Session) LoadData(ctx context.Context, path string) error {
	return s.call(ctx, MethodLoadData, pathParams{Path: path}, nil)
}

func (s *Session) SetModel(ctx context.Context, model string) error {
	return s.call(ctx, MethodSetModel, modelParams{Model: model}, nil)
}

func (s *Session) SetStructureFactor(ctx context.Context, name, mode string) error {
	return s.call(ctx, MethodSetStructureFactor, structureFactorParams{Name: name, RadiusEffectiveMode: mode}, nil)
}

func (s *Session) Params(ctx context.Context) (map[string]fitting.ParameterSpec, error) {
	var out map[string]wireSpec
	if err := s.call(ctx, MethodParams, struct{}{}, &out); err != nil {
		return nil, err
	}
	return fromWireSpecs(out), nil
}

func (s *Session) SetParam(ctx context.Context, name string, u fitting.ParamUpdate) error {
	return s.call(ctx, MethodSetParam, setParamParams{Name: name, Update: toWireUpdate(u)}, nil)
}

func (s *Session) PolydisperseParameters(ctx context.Context) ([]string, error) {
	var out []string
	if err := s.call(ctx, MethodPolydisperseParameters, struct{}{}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Session) SetPDParam(ctx context.Context, name string, u fitting.PDUpdate) error {
	return s.call(ctx, MethodSetPDParam, setPDParams{Name: name, Update: u}, nil)
}

func (s *Session) EnablePolydispersity(ctx context.Context, enabled bool) error {
	return s.call(ctx, MethodEnablePolydispersity, enableParams{Enabled: enabled}, nil)
}

func (s *Session) Fit(ctx context.Context, opts fitting.FitOptions) (fitting.FitResult, error) {
	var out wireFitResult
	if err := s.call(ctx, MethodFit, opts, &out); err != nil {
		return fitting.FitResult{}, err
	}
	return out.result(), nil
}

func (s *Session) PlotResults(ctx context.Context, path string, opts fitting.PlotOptions) error {
	return s.call(ctx, MethodPlotResults, plotParams{Path: path, PlotOptions: opts}, nil)
}

func (s *Session) ListModels(ctx context.Context) ([]string, error) {
	var out []string
	if err := s.call(ctx, MethodListModels, struct{}{}, &out); err != nil {
		return nil, err
	}
	return out, nil
}
