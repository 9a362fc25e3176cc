package model

import (
	"time"

	"gorm.io/gorm"
)

type RequestKind string

const (
	// RequestKindOffer is a deliverer announcing capacity on a route/window.
	RequestKindOffer RequestKind = "offer"
	// RequestKindNeed is a sender asking for a parcel to be carried.
	RequestKindNeed RequestKind = "need"
)

type RequestStatus string

const (
	RequestStatusOpen            RequestStatus = "open"
	RequestStatusHasResponses    RequestStatus = "has_responses"
	RequestStatusMatched         RequestStatus = "matched"
	RequestStatusMatchedManually RequestStatus = "matched_manually"
	RequestStatusCompleted       RequestStatus = "completed"
	RequestStatusClosed          RequestStatus = "closed"
)

// SizeUnspecified acts as a wildcard on either side of a pairing.
const SizeUnspecified = ""

// Request is one side of a potential pairing. Its matching attributes
// (route, window, size) are immutable once created; only Status and
// MatchedWith are mutated, and only by the matching pipeline.
type Request struct {
	gorm.Model
	UserID    uint          `json:"user_id" gorm:"index"`
	Kind      RequestKind   `json:"kind" gorm:"index"`
	FromLocID uint          `json:"from_loc_id" gorm:"index"`
	ToLocID   uint          `json:"to_loc_id" gorm:"index"`
	FromDate  time.Time     `json:"from_date"`
	ToDate    time.Time     `json:"to_date"`
	Size      string        `json:"size"`
	Status    RequestStatus `json:"status" gorm:"index"`

	// MatchedWith points at the request this one was sealed against,
	// set only when both parties have accepted.
	MatchedWith *uint `json:"matched_with,omitempty"`
}

// Matchable reports whether the request can still receive offers.
func (r Request) Matchable() bool {
	return r.Status == RequestStatusOpen || r.Status == RequestStatusHasResponses
}

// OppositeKind returns the kind a candidate must have to pair with r.
func (r Request) OppositeKind() RequestKind {
	if r.Kind == RequestKindOffer {
		return RequestKindNeed
	}
	return RequestKindOffer
}

// SizeCompatible reports whether two size classes can pair: equal, or
// either side unspecified.
func SizeCompatible(a, b string) bool {
	return a == SizeUnspecified || b == SizeUnspecified || a == b
}
