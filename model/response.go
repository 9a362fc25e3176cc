package model

import (
	"gorm.io/gorm"
)

type PartyStatus string

const (
	PartyStatusPending  PartyStatus = "pending"
	PartyStatusAccepted PartyStatus = "accepted"
	PartyStatusRejected PartyStatus = "rejected"
)

type OverallStatus string

const (
	OverallStatusPending  OverallStatus = "pending"
	OverallStatusPartial  OverallStatus = "partial"
	OverallStatusAccepted OverallStatus = "accepted"
	OverallStatusRejected OverallStatus = "rejected"
	// OverallStatusClosed is a terminal state applied by request-closing
	// workflows, never by the acceptance state machine.
	OverallStatusClosed OverallStatus = "closed"
)

type ResponseKind string

const (
	ResponseKindMatching ResponseKind = "matching"
	ResponseKindManual   ResponseKind = "manual"
)

type Role string

const (
	RoleDeliverer Role = "deliverer"
	RoleSender    Role = "sender"
)

// Response is one candidate pairing between an offer-side and a need-side
// request. Both party identities and both request references are direct
// fields, so role resolution is a field read. Initiator records which
// side's arrival produced the offer and therefore which request is the
// receiving one.
type Response struct {
	gorm.Model
	DelivererID    uint         `json:"deliverer_id" gorm:"index;uniqueIndex:idx_responses_natural_key"`
	SenderID       uint         `json:"sender_id" gorm:"uniqueIndex:idx_responses_natural_key"`
	Initiator      Role         `json:"initiator" gorm:"uniqueIndex:idx_responses_natural_key"`
	OfferRequestID uint         `json:"offer_request_id" gorm:"index;uniqueIndex:idx_responses_natural_key"`
	NeedRequestID  uint         `json:"need_request_id" gorm:"index;uniqueIndex:idx_responses_natural_key"`
	Kind           ResponseKind `json:"kind"`

	DelivererStatus PartyStatus   `json:"deliverer_status"`
	SenderStatus    PartyStatus   `json:"sender_status"`
	OverallStatus   OverallStatus `json:"overall_status" gorm:"index"`

	// ChatThreadID is populated only once both sides accept.
	ChatThreadID string `json:"chat_thread_id,omitempty"`
	// Note carries the reason for system-initiated rejections.
	Note string `json:"note,omitempty"`
}

// DeriveOverallStatus is the single source of truth for the combined
// status. Reject dominates; both accepts seal; a single accept is partial.
func DeriveOverallStatus(deliverer, sender PartyStatus) OverallStatus {
	switch {
	case deliverer == PartyStatusRejected || sender == PartyStatusRejected:
		return OverallStatusRejected
	case deliverer == PartyStatusAccepted && sender == PartyStatusAccepted:
		return OverallStatusAccepted
	case deliverer == PartyStatusAccepted || sender == PartyStatusAccepted:
		return OverallStatusPartial
	default:
		return OverallStatusPending
	}
}

// ActiveOverallStatuses are the states that count against a deliverer's
// capacity and against the one-active-response-per-need-request invariant.
var ActiveOverallStatuses = []OverallStatus{OverallStatusPending, OverallStatusPartial}

// Active reports whether the response still occupies a capacity slot.
func (r Response) Active() bool {
	return r.OverallStatus == OverallStatusPending || r.OverallStatus == OverallStatusPartial
}

// RoleOf resolves which side of the pairing the given user plays.
func (r Response) RoleOf(userID uint) (Role, bool) {
	switch userID {
	case r.DelivererID:
		return RoleDeliverer, true
	case r.SenderID:
		return RoleSender, true
	default:
		return "", false
	}
}

// StatusOf returns the stored status for the given role.
func (r Response) StatusOf(role Role) PartyStatus {
	if role == RoleDeliverer {
		return r.DelivererStatus
	}
	return r.SenderStatus
}

// ReceivingRequestID identifies the request whose owner just received the
// offer: the side opposite the initiator.
func (r Response) ReceivingRequestID() uint {
	if r.Initiator == RoleSender {
		return r.OfferRequestID
	}
	return r.NeedRequestID
}

// OfferingRequestID identifies the initiating side's request.
func (r Response) OfferingRequestID() uint {
	if r.Initiator == RoleSender {
		return r.NeedRequestID
	}
	return r.OfferRequestID
}

// RequestIDForRole maps a party role onto its underlying request.
func (r Response) RequestIDForRole(role Role) uint {
	if role == RoleDeliverer {
		return r.OfferRequestID
	}
	return r.NeedRequestID
}
