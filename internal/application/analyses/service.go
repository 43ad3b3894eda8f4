package analyses

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bryanwahyu/sans-pilot/internal/application"
	"github.com/bryanwahyu/sans-pilot/internal/application/uploads"
	"github.com/bryanwahyu/sans-pilot/internal/domain/analysis"
	"github.com/bryanwahyu/sans-pilot/internal/domain/runs"
	"github.com/bryanwahyu/sans-pilot/internal/domain/sentinel"
)

const mirrorConcurrency = 4

// ArtifactStore mirrors a local artifact and returns where it can be fetched.
type ArtifactStore interface {
	Upload(ctx context.Context, localPath, key string) (string, error)
}

// Service implements the run-analysis use case. Ledger and Artifacts are optional.
type Service struct {
	Registry   *Registry
	Dispatcher *Dispatcher
	Allocator  *Allocator
	Resolver   *uploads.Resolver
	Ledger     runs.Repository
	Artifacts  ArtifactStore
	Clock      application.Clock
	Logger     *slog.Logger
}

// RunCommand is one run-analysis request.
type RunCommand struct {
	Name       string
	Parameters analysis.Parameters
	UserID     string
}

// RunOutcome is the assembled answer plus where it was produced.
type RunOutcome struct {
	Run      RunContext     `json:"run"`
	Response Response       `json:"response"`
	Details  map[string]any `json:"details,omitempty"`
}

// ListAnalyses returns the current catalog.
func (s *Service) ListAnalyses() map[string]string {
	return s.Registry.List()
}

// Run validates the name, resolves the input file, allocates an output
// directory, dispatches the unit off the request goroutine and assembles
// the response.
func (s *Service) Run(ctx context.Context, cmd RunCommand) (RunOutcome, error) {
	logger := s.logger()
	if _, ok := s.Registry.List()[cmd.Name]; !ok {
		return RunOutcome{}, fmt.Errorf("unknown analysis '%s'; valid analyses: %s: %w",
			cmd.Name, strings.Join(s.Registry.Names(), ", "), sentinel.ErrInvalidRequest)
	}

	params := cmd.Parameters.Clone()
	if ref, ok := params[analysis.ParamInputCSV].(string); ok && strings.TrimSpace(ref) != "" {
		resolved, err := s.Resolver.Resolve(strings.TrimSpace(ref), cmd.UserID)
		if err != nil {
			return RunOutcome{}, err
		}
		params[analysis.ParamInputCSV] = resolved
	}

	rc, err := s.Allocator.Allocate(cmd.Name)
	if err != nil {
		return RunOutcome{}, err
	}
	params[analysis.ParamOutputDir] = rc.OutputDir
	logger.Info("analysis.dispatch", "analysis", cmd.Name, "run_token", rc.Token, "user_id", cmd.UserID)

	task := s.Dispatcher.Submit(ctx, cmd.Name, params)
	if _, err := task.Wait(ctx); err != nil && !finished(task) {
		// the caller gave up; the run still finishes and is recorded
		go func() {
			<-task.Done()
			_, runErr := task.Outcome()
			s.record(context.WithoutCancel(ctx), cmd, rc, params, runErr)
		}()
		return RunOutcome{}, err
	}
	res, err := task.Outcome()
	s.record(ctx, cmd, rc, params, err)
	if err != nil {
		return RunOutcome{}, err
	}

	resp := Assemble(res)
	s.mirror(ctx, cmd.UserID, rc, resp)
	return RunOutcome{Run: rc, Response: resp, Details: res.Details}, nil
}

// RecentRuns returns the caller's latest ledger entries.
func (s *Service) RecentRuns(ctx context.Context, userID string, limit int) ([]*runs.Record, error) {
	if s.Ledger == nil {
		return []*runs.Record{}, nil
	}
	recs, err := s.Ledger.Latest(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("load run history: %v: %w", err, sentinel.ErrIO)
	}
	return recs, nil
}

func (s *Service) record(ctx context.Context, cmd RunCommand, rc RunContext, params analysis.Parameters, runErr error) {
	if s.Ledger == nil {
		return
	}
	now := time.Now()
	if s.Clock != nil {
		now = s.Clock.Now()
	}
	rec := &runs.Record{
		ID:         runs.RecordID(uuid.NewString()),
		RunToken:   rc.Token,
		Analysis:   cmd.Name,
		UserID:     cmd.UserID,
		OutputDir:  rc.OutputDir,
		Status:     runs.StatusSuccess,
		DurationMS: now.Sub(rc.StartedAt).Milliseconds(),
		StartedAt:  rc.StartedAt,
	}
	if in, ok := params[analysis.ParamInputCSV].(string); ok {
		rec.InputPath = in
	}
	if runErr != nil {
		rec.Status = runs.StatusFailed
		rec.Error = runErr.Error()
		rec.ErrorCode = sentinel.Code(runErr)
	}
	if err := s.Ledger.Save(ctx, rec); err != nil {
		s.logger().Warn("analysis.ledger_save_failed", "analysis", cmd.Name, "run_token", rc.Token, "error", err.Error())
	}
}

// mirror uploads artifacts to object storage and records their URLs on the
// descriptors. Failures leave the local path as the only location.
func (s *Service) mirror(ctx context.Context, userID string, rc RunContext, resp Response) {
	if s.Artifacts == nil {
		return
	}
	owner := userID
	if owner == "" {
		owner = "_shared"
	}
	var g errgroup.Group
	g.SetLimit(mirrorConcurrency)
	for _, d := range resp.Artifacts() {
		g.Go(func() error {
			key := path.Join(owner, SanitizeName(rc.Analysis), rc.Token, d.Name)
			url, err := s.Artifacts.Upload(ctx, d.Path, key)
			if err != nil {
				s.logger().Warn("analysis.artifact_mirror_failed", "path", d.Path, "key", key, "error", err.Error())
				return nil
			}
			d.URL = url
			return nil
		})
	}
	_ = g.Wait()
}

func finished(t *Task) bool {
	select {
	case <-t.Done():
		return true
	default:
		return false
	}
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.Logger
}
