package types

import (
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one stored message in a conversation's history. The integer
// primary key doubles as the tie-breaker for turns sharing a timestamp, so
// listing and eviction both see insertion order. Rows are hard-deleted;
// a removed turn_id must be re-insertable.
type Turn struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	ConversationID string    `gorm:"column:conversation_id;not null;index:idx_turn_conv_ts,priority:1;uniqueIndex:uniq_turn_conv_msg,priority:1" json:"conversation_id"`
	TurnID         string    `gorm:"column:turn_id;not null;uniqueIndex:uniq_turn_conv_msg,priority:2" json:"turn_id"`
	Role           string    `gorm:"column:role;not null" json:"role"`
	Content        string    `gorm:"column:content" json:"content"`
	Timestamp      time.Time `gorm:"column:timestamp;not null;index:idx_turn_conv_ts,priority:2" json:"timestamp"`
	CreatedAt      time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time `gorm:"not null" json:"updated_at"`
}

func (Turn) TableName() string {
	return "conversation_turn"
}
