//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	domain "github.com/bryanwahyu/sans-pilot/internal/domain/runs"
)

type RunRepositorySuite struct {
	suite.Suite
	container testcontainers.Container
	db        *sql.DB
	repo      *RunRepository
}

func TestRunRepositorySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RunRepositorySuite))
}

func (s *RunRepositorySuite) SetupSuite() {
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("sans_pilot"),
		tcpostgres.WithUsername("sans"),
		tcpostgres.WithPassword("sans"),
		tcpostgres.BasicWaitStrategies(),
	)
	s.Require().NoError(err)
	s.container = container

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)
	s.db, err = Connect(ctx, dsn)
	s.Require().NoError(err)
	s.Require().NoError(EnsureSchema(ctx, s.db))
	s.repo = NewRunRepository(s.db)
}

func (s *RunRepositorySuite) TearDownSuite() {
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *RunRepositorySuite) SetupTest() {
	_, err := s.db.ExecContext(context.Background(), "TRUNCATE analysis_runs")
	s.Require().NoError(err)
}

func (s *RunRepositorySuite) TestSchemaIsIdempotent() {
	s.Require().NoError(EnsureSchema(context.Background(), s.db))
	s.Require().NoError(s.repo.Ping(context.Background()))
}

func (s *RunRepositorySuite) TestLatestNewestFirstPerUser() {
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	recs := []*domain.Record{
		{RunToken: "1", Analysis: "fitting-with-cylinder-model", UserID: "erin",
			OutputDir: "/runs/a/1", Status: domain.StatusSuccess, StartedAt: base},
		{RunToken: "2", Analysis: "fitting-with-sphere-model", UserID: "erin",
			OutputDir: "/runs/b/2", Status: domain.StatusFailed, Error: "boom", ErrorCode: "EXECUTION_FAILURE",
			StartedAt: base.Add(time.Minute)},
		{RunToken: "3", Analysis: "x", UserID: "frank", OutputDir: "/runs/x/3",
			Status: domain.StatusSuccess, StartedAt: base},
	}
	for _, r := range recs {
		s.Require().NoError(s.repo.Save(ctx, r))
	}

	got, err := s.repo.Latest(ctx, "erin", 10)
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal("2", got[0].RunToken)
	s.Equal("EXECUTION_FAILURE", got[0].ErrorCode)
	s.Equal("1", got[1].RunToken)
}

func (s *RunRepositorySuite) TestSaveUpdatesExistingRecord() {
	ctx := context.Background()
	rec := &domain.Record{RunToken: "9", Analysis: "fit", UserID: "gail", OutputDir: "/runs/9",
		Status: domain.StatusFailed, StartedAt: time.Now().UTC()}
	s.Require().NoError(s.repo.Save(ctx, rec))
	s.NotEmpty(rec.ID)

	rec.Status = domain.StatusSuccess
	rec.DurationMS = 1500
	s.Require().NoError(s.repo.Save(ctx, rec))

	got, err := s.repo.Latest(ctx, "gail", 10)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(domain.StatusSuccess, got[0].Status)
	s.Equal(int64(1500), got[0].DurationMS)
}
