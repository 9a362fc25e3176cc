package acceptance

import (
	"context"
	"errors"
	"fmt"

	"github.com/parcelbroker/parcelbroker/chat"
	"github.com/parcelbroker/parcelbroker/config"
	"github.com/parcelbroker/parcelbroker/metrics"
	"github.com/parcelbroker/parcelbroker/model"
	"github.com/parcelbroker/parcelbroker/notify"
	"github.com/parcelbroker/parcelbroker/rebalance"
	"github.com/parcelbroker/parcelbroker/util"
	pkgerrors "github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Action string

const (
	ActionAccept Action = "accept"
	ActionReject Action = "reject"
)

var (
	ErrResponseNotFound  = errors.New("response not found")
	ErrNotAParty         = errors.New("user is not a party to this response")
	ErrResponseFinalized = errors.New("response already reached a terminal status")
	ErrInvalidAction     = errors.New("action must be accept or reject")
)

type IManager interface {
	// ApplyPartyAction applies one party's accept or reject to a
	// response, derives the combined status and runs the follow-up side
	// effects. The state transition is committed before any side effect
	// is attempted.
	ApplyPartyAction(ctx context.Context, responseID, actingUserID uint, action Action) (*model.Response, error)
}

type manager struct {
	db         *gorm.DB
	cfg        *config.ParcelBroker
	rebalancer rebalance.IManager
	chat       chat.IManager
	notifier   notify.INotifier
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	log        *zap.SugaredLogger
	locks      *util.KeyedMutex

	// run dispatches corrective work after the transition committed; the
	// default runner is asynchronous so accept/reject calls return
	// promptly.
	run func(fn func())
}

func NewManager(
	db *gorm.DB,
	cfg *config.ParcelBroker,
	rebalancer rebalance.IManager,
	chatMgr chat.IManager,
	notifier notify.INotifier,
	m *metrics.Metrics,
	log *zap.SugaredLogger,
) IManager {
	return newManager(db, cfg, rebalancer, chatMgr, notifier, m, log, func(fn func()) { go fn() })
}

func newManager(
	db *gorm.DB,
	cfg *config.ParcelBroker,
	rebalancer rebalance.IManager,
	chatMgr chat.IManager,
	notifier notify.INotifier,
	m *metrics.Metrics,
	log *zap.SugaredLogger,
	run func(fn func()),
) IManager {
	return &manager{
		db:         db,
		cfg:        cfg,
		rebalancer: rebalancer,
		chat:       chatMgr,
		notifier:   notifier,
		metrics:    m,
		tracer:     otel.Tracer("acceptance"),
		log:        log,
		locks:      &util.KeyedMutex{},
		run:        run,
	}
}

func (m *manager) ApplyPartyAction(ctx context.Context, responseID, actingUserID uint, action Action) (*model.Response, error) {
	if action != ActionAccept && action != ActionReject {
		return nil, ErrInvalidAction
	}

	ctx, span := m.tracer.Start(ctx, "applyPartyAction", trace.WithAttributes(
		attribute.Int64("response", int64(responseID)),
		attribute.Int64("user", int64(actingUserID)),
		attribute.String("action", string(action)),
	))
	defer span.End()

	// Same-response transitions are serialized so two simultaneous
	// accept/reject calls cannot race to inconsistent derived state.
	lockKey := fmt.Sprintf("response:%d", responseID)
	m.locks.Lock(lockKey)
	defer m.locks.Unlock(lockKey)

	var resp model.Response
	var role model.Role
	var sealed, transitioned bool
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&resp, responseID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrResponseNotFound
			}
			return pkgerrors.Wrap(err, "loading response")
		}

		var ok bool
		role, ok = resp.RoleOf(actingUserID)
		if !ok {
			return ErrNotAParty
		}

		target := model.PartyStatusAccepted
		if action == ActionReject {
			target = model.PartyStatusRejected
		}

		// Retried callbacks are idempotent: repeating the same action on
		// a settled role changes nothing.
		if resp.StatusOf(role) == target {
			// Re-run the sealing side effects only if a previous attempt
			// committed the transition but failed before finishing them.
			sealed = resp.OverallStatus == model.OverallStatusAccepted && resp.ChatThreadID == ""
			return nil
		}
		if !resp.Active() {
			return ErrResponseFinalized
		}

		if role == model.RoleDeliverer {
			resp.DelivererStatus = target
		} else {
			resp.SenderStatus = target
		}
		resp.OverallStatus = model.DeriveOverallStatus(resp.DelivererStatus, resp.SenderStatus)

		if err := tx.Model(&resp).Updates(map[string]interface{}{
			"deliverer_status": resp.DelivererStatus,
			"sender_status":    resp.SenderStatus,
			"overall_status":   resp.OverallStatus,
		}).Error; err != nil {
			return pkgerrors.Wrap(err, "saving response transition")
		}
		transitioned = true

		// Accepting is itself a "response received" event for the other
		// side: the acceptor's own request leaves open.
		if action == ActionAccept {
			if err := tx.Model(&model.Request{}).
				Where("id = ? AND status = ?", resp.RequestIDForRole(role), model.RequestStatusOpen).
				Update("status", model.RequestStatusHasResponses).Error; err != nil {
				return pkgerrors.Wrap(err, "marking acceptor request as responded")
			}
		}

		if resp.OverallStatus == model.OverallStatusAccepted {
			sealed = true
			if err := m.sealRequests(tx, resp); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Retried callbacks that changed nothing do not count as actions.
	if transitioned {
		m.metrics.PartyActions.WithLabelValues(string(role), string(action)).Inc()
	}

	// Side effects run only after the transition committed. A failing
	// collaborator delays a notification, it never corrupts match state.
	if sealed {
		if err := m.ensureChatThread(ctx, &resp); err != nil {
			return &resp, err
		}
		m.metrics.MatchesSealed.Inc()
		m.run(func() {
			bg := context.Background()
			m.notifier.Notify(bg, resp.DelivererID, model.NotificationEventMatchSealed,
				fmt.Sprintf(`{"response":%d}`, resp.ID))
			m.notifier.Notify(bg, resp.SenderID, model.NotificationEventMatchSealed,
				fmt.Sprintf(`{"response":%d}`, resp.ID))
		})
	}

	if action == ActionAccept && role == model.RoleDeliverer && resp.Kind == model.ResponseKindMatching {
		delivererID := resp.DelivererID
		m.run(func() {
			if err := m.rebalancer.RebalanceDeliverer(context.Background(), delivererID); err != nil {
				m.log.Errorf("rebalancing deliverer %d: %s", delivererID, err)
			}
		})
	}

	if action == ActionReject && resp.Kind == model.ResponseKindMatching {
		declined := resp
		m.run(func() {
			if err := m.rebalancer.RedistributeDeclined(context.Background(), declined); err != nil {
				m.log.Errorf("redistributing declined response %d: %s", declined.ID, err)
			}
		})
	}

	return &resp, nil
}

// sealRequests marks both requests matched and cross-references them.
func (m *manager) sealRequests(tx *gorm.DB, resp model.Response) error {
	if err := tx.Model(&model.Request{}).Where("id = ?", resp.OfferRequestID).
		Updates(map[string]interface{}{
			"status":       model.RequestStatusMatched,
			"matched_with": resp.NeedRequestID,
		}).Error; err != nil {
		return pkgerrors.Wrap(err, "sealing offer request")
	}
	if err := tx.Model(&model.Request{}).Where("id = ?", resp.NeedRequestID).
		Updates(map[string]interface{}{
			"status":       model.RequestStatusMatched,
			"matched_with": resp.OfferRequestID,
		}).Error; err != nil {
		return pkgerrors.Wrap(err, "sealing need request")
	}
	return nil
}

// ensureChatThread creates (or reuses) the conversation for a sealed
// match and stores its id on the response. Safe to call again on retries.
func (m *manager) ensureChatThread(ctx context.Context, resp *model.Response) error {
	if resp.ChatThreadID != "" {
		return nil
	}

	threadID, err := m.chat.CreateOrReuseThread(ctx, resp.DelivererID, resp.SenderID,
		fmt.Sprintf("response:%d", resp.ID))
	if err != nil {
		return pkgerrors.Wrap(err, "creating chat thread for sealed match")
	}

	resp.ChatThreadID = threadID
	if err := m.db.WithContext(ctx).Model(resp).Update("chat_thread_id", threadID).Error; err != nil {
		return pkgerrors.Wrap(err, "storing chat thread id")
	}
	return nil
}
