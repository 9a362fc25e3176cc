package model

import (
	"fmt"

	"gorm.io/gorm"
)

// ChatThread is a conversation between two users, at most one per pair.
// PairKey is the ordered "low:high" user id pair backing the uniqueness
// constraint regardless of who accepted first.
type ChatThread struct {
	gorm.Model
	UserA    uint   `json:"user_a" gorm:"index"`
	UserB    uint   `json:"user_b" gorm:"index"`
	PairKey  string `json:"-" gorm:"uniqueIndex"`
	ThreadID string `json:"thread_id"`
	Context  string `json:"context"`
}

// ChatPairKey builds the canonical ordered key for a user pair.
func ChatPairKey(a, b uint) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}
