package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Execution is one pipeline run of a schedule. Records are append-only.
type Execution struct {
	ID         string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	ScheduleID string    `gorm:"type:varchar(36);not null;index" json:"schedule_id"`
	Timestamp  time.Time `gorm:"type:timestamptz;not null;index" json:"timestamp"`
	Success    bool      `gorm:"not null" json:"success"`

	Signature    string           `gorm:"type:varchar(100)" json:"signature,omitempty"`
	Error        string           `gorm:"type:text" json:"error,omitempty"`
	OutputAmount *decimal.Decimal `gorm:"type:numeric(30,12)" json:"output_amount,omitempty"`

	// Stages holds the per-stage report of the run (executed, simulated, skipped, failed).
	Stages datatypes.JSON `gorm:"type:jsonb" json:"stages,omitempty"`
}

func (Execution) TableName() string {
	return "dca_executions"
}

func NewSucceededExecution(scheduleID, signature string, output decimal.Decimal, stages []byte, at time.Time) Execution {
	out := output
	return Execution{
		ID:           uuid.NewString(),
		ScheduleID:   scheduleID,
		Timestamp:    at.UTC(),
		Success:      true,
		Signature:    signature,
		OutputAmount: &out,
		Stages:       datatypes.JSON(stages),
	}
}

func NewFailedExecution(scheduleID string, err error, stages []byte, at time.Time) Execution {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Execution{
		ID:         uuid.NewString(),
		ScheduleID: scheduleID,
		Timestamp:  at.UTC(),
		Success:    false,
		Error:      msg,
		Stages:     datatypes.JSON(stages),
	}
}
