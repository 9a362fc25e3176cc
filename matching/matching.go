package matching

import (
	"context"
	"errors"
	"fmt"

	"github.com/parcelbroker/parcelbroker/candidate"
	"github.com/parcelbroker/parcelbroker/capacity"
	"github.com/parcelbroker/parcelbroker/config"
	"github.com/parcelbroker/parcelbroker/fairness"
	"github.com/parcelbroker/parcelbroker/ledger"
	"github.com/parcelbroker/parcelbroker/metrics"
	"github.com/parcelbroker/parcelbroker/model"
	"github.com/parcelbroker/parcelbroker/notify"
	pkgerrors "github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrRequestNotFound = errors.New("request not found")

type IManager interface {
	// MatchRequest runs candidate discovery and distribution for a newly
	// created (or re-triggered) request and returns the responses it
	// created. A nil result with nil error means nothing matched, which
	// is an expected outcome, not a failure.
	MatchRequest(ctx context.Context, requestID uint) ([]model.Response, error)
}

type manager struct {
	db       *gorm.DB
	cfg      *config.ParcelBroker
	finder   candidate.IFinder
	gate     capacity.IGate
	selector fairness.ISelector
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
	selector fairness.ISelector,
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
		selector: selector,
		ledger:   ledgerMgr,
		notifier: notifier,
		metrics:  m,
		tracer:   otel.Tracer("matching"),
		log:      log,
	}
}

func (m *manager) MatchRequest(ctx context.Context, requestID uint) ([]model.Response, error) {
	if !m.cfg.Matching.Enabled {
		return nil, nil
	}

	ctx, span := m.tracer.Start(ctx, "matchRequest", trace.WithAttributes(
		attribute.Int64("request", int64(requestID)),
	))
	defer span.End()

	var req model.Request
	if err := m.db.WithContext(ctx).First(&req, requestID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, pkgerrors.Wrap(err, "loading request")
	}
	if !req.Matchable() {
		return nil, nil
	}

	candidates, err := m.finder.FindForRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	if req.Kind == model.RequestKindNeed {
		return m.matchNeedRequest(ctx, req, candidates)
	}
	return m.matchOfferRequest(ctx, req, candidates)
}

// matchNeedRequest offers a sender's new request to exactly one
// deliverer, picked by the configured distribution strategy.
func (m *manager) matchNeedRequest(ctx context.Context, req model.Request, offers []model.Request) ([]model.Response, error) {
	var available []capacity.Candidate
	if m.cfg.Matching.CapacityEnabled {
		var err error
		available, err = m.gate.FilterAvailable(ctx, offers)
		if err != nil {
			return nil, err
		}
		if len(available) == 0 {
			// Everyone compatible is at capacity; the request stays open
			// until the next trigger.
			m.metrics.CapacityMisses.Inc()
			m.log.Infow("all compatible deliverers at capacity", "request", req.ID)
			return nil, nil
		}
	} else {
		// Capacity/fairness bypassed: first viable match wins.
		available = make([]capacity.Candidate, 0, len(offers))
		for _, offer := range offers {
			available = append(available, capacity.Candidate{Request: offer})
		}
	}

	// A pairing the parties already settled is skipped, not revived, so a
	// re-trigger keeps looking until it finds a deliverer the sender has
	// not burnt through yet.
	for len(available) > 0 {
		var pick *capacity.Candidate
		if m.cfg.Matching.CapacityEnabled {
			var err error
			pick, err = m.selector.Select(ctx, available)
			if err != nil {
				return nil, err
			}
		} else {
			pick = &available[0]
		}
		if pick == nil {
			return nil, nil
		}

		created, err := m.ledger.CreateOrUpdateResponse(ctx, ledger.Pairing{
			DelivererID:    pick.Request.UserID,
			SenderID:       req.UserID,
			Initiator:      model.RoleSender,
			OfferRequestID: pick.Request.ID,
			NeedRequestID:  req.ID,
			Kind:           model.ResponseKindMatching,
		})
		if err != nil {
			if errors.Is(err, ledger.ErrActiveResponseExists) {
				return nil, nil
			}
			if errors.Is(err, ledger.ErrPairingAlreadyTerminal) {
				available = dropCandidate(available, pick.Request.ID)
				continue
			}
			return nil, err
		}

		m.metrics.MatchesCreated.WithLabelValues(string(model.RoleSender)).Inc()
		m.notifier.Notify(ctx, created.DelivererID, model.NotificationEventOfferReceived,
			fmt.Sprintf(`{"response":%d}`, created.ID))
		return []model.Response{*created}, nil
	}
	return nil, nil
}

func dropCandidate(candidates []capacity.Candidate, requestID uint) []capacity.Candidate {
	out := candidates[:0]
	for _, c := range candidates {
		if c.Request.ID != requestID {
			out = append(out, c)
		}
	}
	return out
}

// matchOfferRequest pairs a newly announced deliverer with waiting sender
// requests, oldest first, up to the deliverer's remaining capacity.
func (m *manager) matchOfferRequest(ctx context.Context, req model.Request, needs []model.Request) ([]model.Response, error) {
	remaining := len(needs)
	if m.cfg.Matching.CapacityEnabled {
		info, err := m.gate.CapacityInfo(ctx, req.UserID)
		if err != nil {
			return nil, err
		}
		if info.AtCapacity {
			m.metrics.CapacityMisses.Inc()
			return nil, nil
		}
		remaining = info.Remaining
	}

	var out []model.Response
	for _, need := range needs {
		if remaining <= 0 {
			break
		}

		created, err := m.ledger.CreateOrUpdateResponse(ctx, ledger.Pairing{
			DelivererID:    req.UserID,
			SenderID:       need.UserID,
			Initiator:      model.RoleDeliverer,
			OfferRequestID: req.ID,
			NeedRequestID:  need.ID,
			Kind:           model.ResponseKindMatching,
		})
		if err != nil {
			if errors.Is(err, ledger.ErrActiveResponseExists) ||
				errors.Is(err, ledger.ErrPairingAlreadyTerminal) {
				continue
			}
			return nil, err
		}

		remaining--
		out = append(out, *created)
		m.metrics.MatchesCreated.WithLabelValues(string(model.RoleDeliverer)).Inc()
		m.notifier.Notify(ctx, created.SenderID, model.NotificationEventOfferReceived,
			fmt.Sprintf(`{"response":%d}`, created.ID))
	}
	return out, nil
}
