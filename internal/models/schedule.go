package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Frequency string

const (
	FrequencyHourly  Frequency = "hourly"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

func ParseFrequency(v string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(v)))
	switch f {
	case FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return f, nil
	default:
		return "", fmt.Errorf("unknown frequency %q", v)
	}
}

// PrivacyFlags selects the optional stages of a swap run.
type PrivacyFlags struct {
	UseEphemeral         bool `gorm:"not null" json:"use_ephemeral"`
	UsePool              bool `gorm:"not null" json:"use_pool"`
	UseEncryptedTransfer bool `gorm:"not null" json:"use_encrypted_transfer"`
	UseConfidential      bool `gorm:"not null" json:"use_confidential"`
	UseScreening         bool `gorm:"not null" json:"use_screening"`
}

// Disposable reports whether the run goes through a one-time identity.
func (p PrivacyFlags) Disposable() bool {
	return p.UseEphemeral || p.UsePool
}

// Schedule is a persistent recurring purchase. ID is assigned once at creation.
type Schedule struct {
	ID        string `gorm:"type:varchar(36);primaryKey" json:"id" validate:"required,uuid"`
	FromAsset string `gorm:"type:varchar(16);not null" json:"from_asset" validate:"required,max=16"`
	ToAsset   string `gorm:"type:varchar(16);not null" json:"to_asset" validate:"required,max=16"`

	Amount      decimal.Decimal `gorm:"type:numeric(30,12);not null" json:"amount"`
	Frequency   Frequency       `gorm:"type:varchar(10);not null" json:"frequency" validate:"required,oneof=hourly daily weekly monthly"`
	SlippageBps int             `gorm:"not null" json:"slippage_bps" validate:"gte=1,lte=5000"`

	Privacy     PrivacyFlags `gorm:"embedded;embeddedPrefix:privacy_" json:"privacy"`
	Destination string       `gorm:"type:varchar(44)" json:"destination,omitempty" validate:"omitempty,min=32,max=44"`

	TotalExecutions *int `json:"total_executions,omitempty" validate:"omitempty,gte=1"`
	ExecutedCount   int  `gorm:"not null" json:"executed_count" validate:"gte=0"`
	Active          bool `gorm:"not null;index" json:"active"`

	CreatedAt time.Time `gorm:"type:timestamptz;not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz" json:"updated_at"`
}

func (Schedule) TableName() string {
	return "dca_schedules"
}

var (
	ErrSameAsset       = errors.New("source and destination asset must differ")
	ErrNonPositive     = errors.New("amount must be positive")
	ErrCapExceeded     = errors.New("executed count exceeds total executions")
	ErrInvalidSchedule = errors.New("invalid schedule")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type ScheduleParams struct {
	FromAsset       string
	ToAsset         string
	Amount          decimal.Decimal
	Frequency       Frequency
	SlippageBps     int
	Privacy         PrivacyFlags
	Destination     string
	TotalExecutions *int
}

// NewSchedule builds an active schedule with a fresh id. The result is validated.
func NewSchedule(p ScheduleParams, now time.Time) (Schedule, error) {
	s := Schedule{
		ID:              uuid.NewString(),
		FromAsset:       strings.ToUpper(strings.TrimSpace(p.FromAsset)),
		ToAsset:         strings.ToUpper(strings.TrimSpace(p.ToAsset)),
		Amount:          p.Amount,
		Frequency:       p.Frequency,
		SlippageBps:     p.SlippageBps,
		Privacy:         p.Privacy,
		Destination:     strings.TrimSpace(p.Destination),
		TotalExecutions: p.TotalExecutions,
		Active:          true,
		CreatedAt:       now.UTC(),
		UpdatedAt:       now.UTC(),
	}
	if s.SlippageBps == 0 {
		s.SlippageBps = 50
	}
	if err := s.Validate(); err != nil {
		return Schedule{}, err
	}
	return s, nil
}

func (s Schedule) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidSchedule, err.Error())
	}
	if strings.EqualFold(s.FromAsset, s.ToAsset) {
		return ErrSameAsset
	}
	if !s.Amount.IsPositive() {
		return ErrNonPositive
	}
	if s.TotalExecutions != nil && s.ExecutedCount > *s.TotalExecutions {
		return ErrCapExceeded
	}
	return nil
}

// CapReached reports whether a capped schedule has no executions left.
func (s Schedule) CapReached() bool {
	return s.TotalExecutions != nil && s.ExecutedCount >= *s.TotalExecutions
}

// Remaining is nil for uncapped schedules.
func (s Schedule) Remaining() *int {
	if s.TotalExecutions == nil {
		return nil
	}
	n := *s.TotalExecutions - s.ExecutedCount
	if n < 0 {
		n = 0
	}
	return &n
}
