package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/pointbank-backend/internal/points"
	"github.com/angelmondragon/pointbank-backend/pkg/logger"
	"github.com/angelmondragon/pointbank-backend/pkg/metrics"
)

type expiredPointsSweeper interface {
	CleanupExpiredPoints(ctx context.Context) (*points.CleanupResult, error)
}

// PointsExpirationJobParams configure the expiration sweep job.
type PointsExpirationJobParams struct {
	Logger  *logger.Logger
	Points  expiredPointsSweeper
	Metrics *metrics.CronJobMetrics
}

// NewPointsExpirationJob builds the job that zeroes expired tranches.
func NewPointsExpirationJob(params PointsExpirationJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Points == nil {
		return nil, fmt.Errorf("points service required")
	}
	return &pointsExpirationJob{
		logg:    params.Logger,
		points:  params.Points,
		metrics: params.Metrics,
	}, nil
}

type pointsExpirationJob struct {
	logg    *logger.Logger
	points  expiredPointsSweeper
	metrics *metrics.CronJobMetrics
}

func (j *pointsExpirationJob) Name() string { return "points-expiration" }

func (j *pointsExpirationJob) Run(ctx context.Context) error {
	result, err := j.points.CleanupExpiredPoints(ctx)
	if err != nil {
		return fmt.Errorf("points expiration: %w", err)
	}
	j.metrics.AddSwept(j.Name(), result.CleanedCount, result.TotalPointsCleaned)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"tranches_cleaned": result.CleanedCount,
		"points_cleaned":   result.TotalPointsCleaned,
	})
	j.logg.Info(logCtx, "points expiration sweep complete")
	return nil
}
