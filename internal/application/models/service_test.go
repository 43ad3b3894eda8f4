package models

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/sans-pilot/internal/domain/fitting"
	"github.com/bryanwahyu/sans-pilot/internal/domain/sentinel"
	"github.com/bryanwahyu/sans-pilot/internal/infra/fitter/fake"
)

func TestModelQueries(t *testing.T) {
	factory := fake.NewFactory()
	svc := NewService(factory)
	ctx := context.Background()

	names, err := svc.ListModels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"cylinder", "ellipsoid", "sphere"}, names)

	params, err := svc.Parameters(ctx, "cylinder")
	require.NoError(t, err)
	assert.Equal(t, 400.0, params["length"].Value)

	pd, err := svc.PolydisperseParameters(ctx, "cylinder")
	require.NoError(t, err)
	assert.Equal(t, []string{"length", "radius"}, pd)

	_, err = svc.Parameters(ctx, "torus")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	_, err = svc.PolydisperseParameters(ctx, " ")
	assert.ErrorIs(t, err, sentinel.ErrInvalidRequest)

	for _, s := range factory.Sessions() {
		assert.True(t, s.Closed(), "every query closes its session")
	}
}

func TestEngineUnavailable(t *testing.T) {
	down := errors.New("worker not started")
	svc := NewService(fitting.FactoryFunc(func(context.Context) (fitting.Fitter, error) {
		return nil, down
	}))
	_, err := svc.ListModels(context.Background())
	assert.ErrorIs(t, err, down)
}
