package types

import (
	"time"

	"github.com/google/uuid"
)

// Credential is one upstream API key scoped to a conversation's pool.
// Eviction deletes the row; a credential that failed stays gone until an
// administrator adds it back.
type Credential struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID string    `gorm:"column:conversation_id;not null;uniqueIndex:uniq_credential_conv_key,priority:1" json:"conversation_id"`
	Provider       string    `gorm:"column:provider;not null" json:"provider"`
	APIKey         string    `gorm:"column:api_key;not null;uniqueIndex:uniq_credential_conv_key,priority:2" json:"-"`
	CreatedAt      time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time `gorm:"not null" json:"updated_at"`
}

func (Credential) TableName() string {
	return "guild_credential"
}
