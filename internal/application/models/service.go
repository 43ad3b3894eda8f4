package models

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/bryanwahyu/sans-pilot/internal/domain/fitting"
	"github.com/bryanwahyu/sans-pilot/internal/domain/sentinel"
)

// Service answers model catalog questions by opening a short-lived fitter session.
type Service struct {
	Fitters fitting.Factory
}

func NewService(fitters fitting.Factory) *Service {
	return &Service{Fitters: fitters}
}

// ListModels returns the engine's model names, sorted.
func (s *Service) ListModels(ctx context.Context) ([]string, error) {
	var names []string
	err := s.withFitter(ctx, func(f fitting.Fitter) error {
		var err error
		names, err = f.ListModels(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Parameters returns the default parameter table of model.
func (s *Service) Parameters(ctx context.Context, model string) (map[string]fitting.ParameterSpec, error) {
	if err := requireModel(model); err != nil {
		return nil, err
	}
	var params map[string]fitting.ParameterSpec
	err := s.withFitter(ctx, func(f fitting.Fitter) error {
		if err := f.SetModel(ctx, model); err != nil {
			return err
		}
		var err error
		params, err = f.Params(ctx)
		return err
	})
	return params, err
}

// PolydisperseParameters returns the names of model that accept a size distribution.
func (s *Service) PolydisperseParameters(ctx context.Context, model string) ([]string, error) {
	if err := requireModel(model); err != nil {
		return nil, err
	}
	var names []string
	err := s.withFitter(ctx, func(f fitting.Fitter) error {
		if err := f.SetModel(ctx, model); err != nil {
			return err
		}
		var err error
		names, err = f.PolydisperseParameters(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (s *Service) withFitter(ctx context.Context, fn func(fitting.Fitter) error) error {
	f, err := s.Fitters.NewFitter(ctx)
	if err != nil {
		return fmt.Errorf("open fitting engine: %w", err)
	}
	defer f.Close()
	return fn(f)
}

func requireModel(model string) error {
	if strings.TrimSpace(model) == "" {
		return fmt.Errorf("model_name is required: %w", sentinel.ErrInvalidRequest)
	}
	return nil
}
