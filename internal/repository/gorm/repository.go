package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stealthdca/internal/models"
	"stealthdca/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

var _ repository.ScheduleRepository = (*Store)(nil)

func (s *Store) SaveSchedule(ctx context.Context, item *models.Schedule) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.UpdatedAt = time.Now().UTC()
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"from_asset",
			"to_asset",
			"amount",
			"frequency",
			"slippage_bps",
			"privacy_use_ephemeral",
			"privacy_use_pool",
			"privacy_use_encrypted_transfer",
			"privacy_use_confidential",
			"privacy_use_screening",
			"destination",
			"total_executions",
			"executed_count",
			"active",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	var item models.Schedule
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSchedules(ctx context.Context, params repository.ListSchedulesParams) ([]models.Schedule, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Schedule{})
	if params.Active != nil {
		query = query.Where("active = ?", *params.Active)
	}
	limit := repository.NormalizeLimit(params.Limit, 500)
	offset := repository.NormalizeOffset(params.Offset)
	var items []models.Schedule
	if err := query.Order("created_at asc, id asc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) DeleteSchedule(ctx context.Context, id string) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(id)).Delete(&models.Schedule{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) AppendExecution(ctx context.Context, item *models.Execution) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListExecutions(ctx context.Context, params repository.ListExecutionsParams) ([]models.Execution, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Execution{})
	if params.ScheduleID != nil && strings.TrimSpace(*params.ScheduleID) != "" {
		query = query.Where("schedule_id = ?", strings.TrimSpace(*params.ScheduleID))
	}
	if params.Success != nil {
		query = query.Where("success = ?", *params.Success)
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("timestamp >= ?", *params.Since)
	}
	direction := "desc"
	if params.Asc {
		direction = "asc"
	}
	limit := repository.NormalizeLimit(params.Limit, 100)
	offset := repository.NormalizeOffset(params.Offset)
	var items []models.Execution
	if err := query.Order("timestamp " + direction).Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	sqldb, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqldb.PingContext(ctx)
}
