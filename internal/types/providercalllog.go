package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ProviderCallLog records one upstream generation attempt for auditing and
// quota debugging. Rows are written best-effort; a failed insert never fails
// the generation that produced it.
type ProviderCallLog struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID string         `gorm:"column:conversation_id;index" json:"conversation_id"`
	RequestID      string         `gorm:"column:request_id;index" json:"request_id"`
	Provider       string         `gorm:"column:provider;not null" json:"provider"`
	Model          string         `gorm:"column:model" json:"model"`
	Attempt        int            `gorm:"column:attempt;not null" json:"attempt"`
	Success        bool           `gorm:"column:success;not null" json:"success"`
	ErrorKind      string         `gorm:"column:error_kind" json:"error_kind"`
	Error          string         `gorm:"column:error" json:"error"`
	Usage          datatypes.JSON `gorm:"column:usage" json:"usage"`
	CreatedAt      time.Time      `gorm:"not null" json:"created_at"`
}

func (ProviderCallLog) TableName() string {
	return "provider_call_log"
}
