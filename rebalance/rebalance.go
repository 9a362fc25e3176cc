package rebalance

import (
	"context"
	"fmt"

	"github.com/parcelbroker/parcelbroker/candidate"
	"github.com/parcelbroker/parcelbroker/capacity"
	"github.com/parcelbroker/parcelbroker/config"
	"github.com/parcelbroker/parcelbroker/ledger"
	"github.com/parcelbroker/parcelbroker/metrics"
	"github.com/parcelbroker/parcelbroker/model"
	"github.com/parcelbroker/parcelbroker/notify"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	noteRebalanced    = "reassigned to another deliverer to restore capacity"
	noteNoAlternative = "no alternative deliverer available"
)

type IManager interface {
	// RebalanceDeliverer moves the newest excess pending responses off a
	// deliverer that went over capacity, keeping the oldest ones.
	RebalanceDeliverer(ctx context.Context, delivererID uint) error
	// RedistributeDeclined re-routes the sender request behind a declined
	// response to the least-loaded alternative deliverer.
	RedistributeDeclined(ctx context.Context, resp model.Response) error
}

type manager struct {
	db       *gorm.DB
	cfg      *config.ParcelBroker
	finder   candidate.IFinder
	gate     capacity.IGate
	ledger   ledger.IManager
	notifier notify.INotifier
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	log      *zap.SugaredLogger
}

func NewManager(
	db *gorm.DB,
	cfg *config.ParcelBroker,
	finder candidate.IFinder,
	gate capacity.IGate,
	ledgerMgr ledger.IManager,
	notifier notify.INotifier,
	m *metrics.Metrics,
	log *zap.SugaredLogger,
) IManager {
	return &manager{
		db:       db,
		cfg:      cfg,
		finder:   finder,
		gate:     gate,
		ledger:   ledgerMgr,
		notifier: notifier,
		metrics:  m,
		tracer:   otel.Tracer("rebalancer"),
		log:      log,
	}
}

func (m *manager) RebalanceDeliverer(ctx context.Context, delivererID uint) error {
	if !m.cfg.Matching.Enabled || !m.cfg.Matching.RebalancingEnabled {
		return nil
	}

	ctx, span := m.tracer.Start(ctx, "rebalanceDeliverer", trace.WithAttributes(
		attribute.Int64("deliverer", int64(delivererID)),
	))
	defer span.End()

	max := m.cfg.Matching.MaxDelivererCapacity
	load, err := m.gate.ActiveLoad(ctx, delivererID)
	if err != nil {
		return err
	}
	if load <= max {
		return nil
	}

	var active []model.Response
	if err := m.db.WithContext(ctx).
		Where("deliverer_id = ?", delivererID).
		Where("overall_status IN ?", model.ActiveOverallStatuses).
		Order("created_at asc, id asc").
		Find(&active).Error; err != nil {
		return errors.Wrap(err, "loading active responses")
	}

	// Partially accepted responses are not redistributable; they are
	// kept unconditionally, then the oldest pendings fill the remaining
	// slots. Whatever is left is the newest-first excess.
	kept := 0
	var excess []model.Response
	for _, r := range active {
		if r.OverallStatus == model.OverallStatusPartial {
			kept++
		}
	}
	for _, r := range active {
		if r.OverallStatus != model.OverallStatusPending {
			continue
		}
		if kept < max {
			kept++
			continue
		}
		excess = append(excess, r)
	}

	m.log.Infow("rebalancing deliverer", "deliverer", delivererID, "load", load, "max", max, "excess", len(excess))

	// Newest first.
	for i := len(excess) - 1; i >= 0; i-- {
		if err := m.reassign(ctx, excess[i], delivererID); err != nil {
			return err
		}
	}
	return nil
}

// reassign moves one excess response to an alternative deliverer, or
// auto-rejects it when none exists.
func (m *manager) reassign(ctx context.Context, resp model.Response, overloadedID uint) error {
	var needReq model.Request
	if err := m.db.WithContext(ctx).First(&needReq, resp.NeedRequestID).Error; err != nil {
		return errors.Wrap(err, "loading need request")
	}

	alt, err := m.findAlternative(ctx, needReq, overloadedID)
	if err != nil {
		return err
	}

	if alt == nil {
		if !m.cfg.Matching.AutoRejectNoAlternative {
			m.log.Infow("over capacity but no alternative, leaving response pending", "response", resp.ID)
			return nil
		}
		rejected, err := m.rejectBySystem(ctx, &resp, noteNoAlternative)
		if err != nil {
			return err
		}
		if !rejected {
			return nil
		}
		m.metrics.Redistributed.WithLabelValues("rejected").Inc()
		m.notifier.Notify(ctx, resp.SenderID, model.NotificationEventOfferRejected,
			fmt.Sprintf(`{"response":%d,"reason":%q}`, resp.ID, noteNoAlternative))
		return nil
	}

	// Reject first: the ledger refuses a second active response for the
	// same need request.
	rejected, err := m.rejectBySystem(ctx, &resp, noteRebalanced)
	if err != nil {
		return err
	}
	if !rejected {
		m.log.Infow("response settled since snapshot, skipping reassign", "response", resp.ID)
		return nil
	}

	created, err := m.ledger.CreateOrUpdateResponse(ctx, ledger.Pairing{
		DelivererID:    alt.Request.UserID,
		SenderID:       resp.SenderID,
		Initiator:      model.RoleSender,
		OfferRequestID: alt.Request.ID,
		NeedRequestID:  resp.NeedRequestID,
		Kind:           model.ResponseKindMatching,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrActiveResponseExists) || errors.Is(err, ledger.ErrPairingAlreadyTerminal) {
			m.log.Warnw("alternative pairing not usable, excess stays rejected",
				"response", resp.ID, "alternative", alt.Request.UserID, "err", err)
			m.metrics.Redistributed.WithLabelValues("rejected").Inc()
			m.notifier.Notify(ctx, resp.SenderID, model.NotificationEventOfferRejected,
				fmt.Sprintf(`{"response":%d,"reason":%q}`, resp.ID, noteRebalanced))
			return nil
		}
		return err
	}

	m.metrics.Rebalanced.Inc()
	m.metrics.Redistributed.WithLabelValues("reassigned").Inc()
	m.notifier.Notify(ctx, created.DelivererID, model.NotificationEventOfferReceived,
		fmt.Sprintf(`{"response":%d}`, created.ID))
	m.notifier.Notify(ctx, resp.SenderID, model.NotificationEventOfferReassigned,
		fmt.Sprintf(`{"response":%d,"new_response":%d}`, resp.ID, created.ID))
	return nil
}

func (m *manager) RedistributeDeclined(ctx context.Context, resp model.Response) error {
	if !m.cfg.Matching.Enabled || !m.cfg.Matching.RedistributionEnabled {
		return nil
	}

	ctx, span := m.tracer.Start(ctx, "redistributeDeclined", trace.WithAttributes(
		attribute.Int64("response", int64(resp.ID)),
	))
	defer span.End()

	var needReq model.Request
	if err := m.db.WithContext(ctx).First(&needReq, resp.NeedRequestID).Error; err != nil {
		return errors.Wrap(err, "loading need request")
	}
	if !needReq.Matchable() {
		return nil
	}

	alt, err := m.findAlternative(ctx, needReq, resp.DelivererID)
	if err != nil {
		return err
	}
	if alt == nil {
		// Expected terminal outcome: the sender request stays without an
		// active match until the next matching trigger.
		m.log.Infow("no alternative deliverer after decline", "response", resp.ID, "needRequest", needReq.ID)
		m.metrics.Redistributed.WithLabelValues("rejected").Inc()
		return nil
	}

	created, err := m.ledger.CreateOrUpdateResponse(ctx, ledger.Pairing{
		DelivererID:    alt.Request.UserID,
		SenderID:       resp.SenderID,
		Initiator:      model.RoleSender,
		OfferRequestID: alt.Request.ID,
		NeedRequestID:  resp.NeedRequestID,
		Kind:           model.ResponseKindMatching,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrActiveResponseExists) || errors.Is(err, ledger.ErrPairingAlreadyTerminal) {
			return nil
		}
		return err
	}

	m.metrics.Redistributed.WithLabelValues("reassigned").Inc()
	m.notifier.Notify(ctx, created.DelivererID, model.NotificationEventOfferReceived,
		fmt.Sprintf(`{"response":%d}`, created.ID))
	m.log.Infow("declined match redistributed", "from", resp.DelivererID, "to", created.DelivererID, "needRequest", needReq.ID)
	return nil
}

// findAlternative runs the regular candidate discovery for the need
// request and picks the least-loaded deliverer not excluded.
func (m *manager) findAlternative(ctx context.Context, needReq model.Request, excludeDeliverer uint) (*capacity.Candidate, error) {
	offers, err := m.finder.FindForRequest(ctx, needReq)
	if err != nil {
		return nil, err
	}

	kept := offers[:0]
	for _, o := range offers {
		if o.UserID == excludeDeliverer {
			continue
		}
		kept = append(kept, o)
	}
	if len(kept) == 0 {
		return nil, nil
	}

	if !m.cfg.Matching.CapacityEnabled {
		return &capacity.Candidate{Request: kept[0]}, nil
	}

	available, err := m.gate.FilterAvailable(ctx, kept)
	if err != nil {
		return nil, err
	}
	if len(available) == 0 {
		return nil, nil
	}
	return &available[0], nil
}

// rejectBySystem relinquishes the deliverer side so the derived overall
// status becomes rejected without ever being written independently. The
// write is guarded on the row still being pending: the excess list is a
// snapshot, and a user action may have sealed or finished the response in
// the meantime. Returns false when the row moved on and nothing was
// written.
func (m *manager) rejectBySystem(ctx context.Context, resp *model.Response, note string) (bool, error) {
	res := m.db.WithContext(ctx).Model(&model.Response{}).
		Where("id = ? AND overall_status = ?", resp.ID, model.OverallStatusPending).
		Updates(map[string]interface{}{
			"deliverer_status": model.PartyStatusRejected,
			"overall_status":   model.DeriveOverallStatus(model.PartyStatusRejected, resp.SenderStatus),
			"note":             note,
		})
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "rejecting excess response")
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	resp.DelivererStatus = model.PartyStatusRejected
	resp.OverallStatus = model.DeriveOverallStatus(resp.DelivererStatus, resp.SenderStatus)
	resp.Note = note
	return true, nil
}
