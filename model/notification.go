package model

import (
	"time"

	"gorm.io/gorm"
)

type NotificationEvent string

const (
	NotificationEventOfferReceived   NotificationEvent = "offer_received"
	NotificationEventMatchSealed     NotificationEvent = "match_sealed"
	NotificationEventOfferRejected   NotificationEvent = "offer_rejected"
	NotificationEventOfferReassigned NotificationEvent = "offer_reassigned"
)

// Notification is an outbox row. Delivery is fire-and-forget relative to
// the business transition that produced it; DeliveredAt stays nil until a
// sender succeeds.
type Notification struct {
	gorm.Model
	UserID      uint              `json:"user_id" gorm:"index"`
	Event       NotificationEvent `json:"event"`
	Payload     string            `json:"payload"`
	Attempts    int               `json:"attempts"`
	DeliveredAt *time.Time        `json:"delivered_at,omitempty"`
}
