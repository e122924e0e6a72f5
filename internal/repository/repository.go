package repository

import (
	"context"
	"time"

	"stealthdca/internal/models"
)

// ScheduleRepository persists schedules and their execution history.
// Getters return (nil, nil) when the record does not exist.
type ScheduleRepository interface {
	SaveSchedule(ctx context.Context, item *models.Schedule) error
	GetSchedule(ctx context.Context, id string) (*models.Schedule, error)
	ListSchedules(ctx context.Context, params ListSchedulesParams) ([]models.Schedule, error)
	DeleteSchedule(ctx context.Context, id string) (bool, error)

	AppendExecution(ctx context.Context, item *models.Execution) error
	ListExecutions(ctx context.Context, params ListExecutionsParams) ([]models.Execution, error)

	Ping(ctx context.Context) error
}

type ListSchedulesParams struct {
	Active *bool
	Limit  int
	Offset int
}

type ListExecutionsParams struct {
	ScheduleID *string
	Success    *bool
	Since      *time.Time
	Limit      int
	Offset     int
	// Asc orders oldest first. Default is newest first.
	Asc bool
}

func NormalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func NormalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
