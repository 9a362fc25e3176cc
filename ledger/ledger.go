package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/parcelbroker/parcelbroker/model"
	pkgerrors "github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrActiveResponseExists signals that the need-side request already has
// an active response under a different pairing. Creating another would
// break the one-active-offer-per-sender-request invariant, so callers
// treat this as "skip", not as a failure.
var ErrActiveResponseExists = errors.New("need request already has an active response")

// ErrPairingAlreadyTerminal signals that this exact pairing already ran
// its course (rejected or sealed). Re-offering it would only refresh a
// dead row, so callers skip the candidate and try the next one.
var ErrPairingAlreadyTerminal = errors.New("pairing already reached a terminal status")

// Pairing is the natural key plus kind of one candidate match. Roles are
// direct fields; Initiator records which side's arrival produced the
// offer.
type Pairing struct {
	DelivererID    uint
	SenderID       uint
	Initiator      model.Role
	OfferRequestID uint
	NeedRequestID  uint
	Kind           model.ResponseKind
}

func (p Pairing) receivingRequestID() uint {
	if p.Initiator == model.RoleSender {
		return p.OfferRequestID
	}
	return p.NeedRequestID
}

type IManager interface {
	CreateOrUpdateResponse(ctx context.Context, p Pairing) (*model.Response, error)
}

type manager struct {
	db     *gorm.DB
	tracer trace.Tracer
	log    *zap.SugaredLogger
}

func NewManager(db *gorm.DB, log *zap.SugaredLogger) IManager {
	return &manager{
		db:     db,
		tracer: otel.Tracer("response_ledger"),
		log:    log,
	}
}

// CreateOrUpdateResponse idempotently upserts the response for the given
// pairing and flips the receiving request from open to has_responses.
// Calling it again with the same pairing refreshes the stored row instead
// of duplicating it. Every match entering the system — initial matching,
// redistribution and rebalancing alike — goes through here.
func (m *manager) CreateOrUpdateResponse(ctx context.Context, p Pairing) (*model.Response, error) {
	ctx, span := m.tracer.Start(ctx, "createOrUpdateResponse", trace.WithAttributes(
		attribute.Int64("deliverer", int64(p.DelivererID)),
		attribute.Int64("sender", int64(p.SenderID)),
		attribute.Int64("needRequest", int64(p.NeedRequestID)),
	))
	defer span.End()

	var out model.Response
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// A terminal row under this exact pairing is never revived; the
		// parties already settled it.
		var prior model.Response
		err := tx.Where("deliverer_id = ? AND sender_id = ? AND initiator = ? AND offer_request_id = ? AND need_request_id = ?",
			p.DelivererID, p.SenderID, p.Initiator, p.OfferRequestID, p.NeedRequestID).
			First(&prior).Error
		if err == nil && !prior.Active() {
			return ErrPairingAlreadyTerminal
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(err, "checking prior response for pairing")
		}

		// One active offer per need request. An active row under the
		// same pairing is fine, it is about to be refreshed.
		var activeCount int64
		if err := tx.Model(&model.Response{}).
			Where("need_request_id = ?", p.NeedRequestID).
			Where("overall_status IN ?", model.ActiveOverallStatuses).
			Where("NOT (deliverer_id = ? AND sender_id = ? AND initiator = ? AND offer_request_id = ?)",
				p.DelivererID, p.SenderID, p.Initiator, p.OfferRequestID).
			Count(&activeCount).Error; err != nil {
			return pkgerrors.Wrap(err, "checking active responses for need request")
		}
		if activeCount > 0 {
			return ErrActiveResponseExists
		}

		resp := model.Response{
			DelivererID:     p.DelivererID,
			SenderID:        p.SenderID,
			Initiator:       p.Initiator,
			OfferRequestID:  p.OfferRequestID,
			NeedRequestID:   p.NeedRequestID,
			Kind:            p.Kind,
			DelivererStatus: model.PartyStatusPending,
			SenderStatus:    model.PartyStatusPending,
			OverallStatus:   model.OverallStatusPending,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "deliverer_id"},
				{Name: "sender_id"},
				{Name: "initiator"},
				{Name: "offer_request_id"},
				{Name: "need_request_id"},
			},
			DoUpdates: clause.Assignments(map[string]interface{}{"updated_at": time.Now()}),
		}).Create(&resp).Error; err != nil {
			return pkgerrors.Wrap(err, "upserting response")
		}

		// Receiving an offer is what moves a request out of open.
		if err := tx.Model(&model.Request{}).
			Where("id = ? AND status = ?", p.receivingRequestID(), model.RequestStatusOpen).
			Update("status", model.RequestStatusHasResponses).Error; err != nil {
			return pkgerrors.Wrap(err, "marking receiving request as responded")
		}

		// Re-read: on conflict the insert does not report the stored row.
		if err := tx.Where("deliverer_id = ? AND sender_id = ? AND initiator = ? AND offer_request_id = ? AND need_request_id = ?",
			p.DelivererID, p.SenderID, p.Initiator, p.OfferRequestID, p.NeedRequestID).
			First(&out).Error; err != nil {
			return pkgerrors.Wrap(err, "loading upserted response")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.log.Debugw("response upserted", "response", out.ID, "deliverer", p.DelivererID, "sender", p.SenderID)
	return &out, nil
}
