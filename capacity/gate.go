package capacity

import (
	"context"
	"sort"

	"github.com/parcelbroker/parcelbroker/config"
	"github.com/parcelbroker/parcelbroker/model"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Info is the point-query capacity read for one deliverer.
type Info struct {
	DelivererID uint `json:"deliverer_id"`
	Load        int  `json:"load"`
	Max         int  `json:"max"`
	Remaining   int  `json:"remaining"`
	AtCapacity  bool `json:"at_capacity"`
}

// Candidate is an offer-side request annotated with its owner's current
// active load.
type Candidate struct {
	Request model.Request
	Load    int
}

type IGate interface {
	ActiveLoad(ctx context.Context, delivererID uint) (int, error)
	CapacityInfo(ctx context.Context, delivererID uint) (*Info, error)
	FilterAvailable(ctx context.Context, offers []model.Request) ([]Candidate, error)
}

type gate struct {
	db     *gorm.DB
	cfg    *config.ParcelBroker
	tracer trace.Tracer
	log    *zap.SugaredLogger
}

func NewGate(db *gorm.DB, cfg *config.ParcelBroker, log *zap.SugaredLogger) IGate {
	return &gate{
		db:     db,
		cfg:    cfg,
		tracer: otel.Tracer("capacity_gate"),
		log:    log,
	}
}

// ActiveLoad counts the deliverer's responses that still occupy a slot
// (overall status pending or partial).
func (g *gate) ActiveLoad(ctx context.Context, delivererID uint) (int, error) {
	var count int64
	if err := g.db.WithContext(ctx).Model(&model.Response{}).
		Where("deliverer_id = ?", delivererID).
		Where("overall_status IN ?", model.ActiveOverallStatuses).
		Count(&count).Error; err != nil {
		return 0, errors.Wrap(err, "counting active responses")
	}
	return int(count), nil
}

func (g *gate) CapacityInfo(ctx context.Context, delivererID uint) (*Info, error) {
	load, err := g.ActiveLoad(ctx, delivererID)
	if err != nil {
		return nil, err
	}

	max := g.cfg.Matching.MaxDelivererCapacity
	remaining := max - load
	if remaining < 0 {
		remaining = 0
	}

	return &Info{
		DelivererID: delivererID,
		Load:        load,
		Max:         max,
		Remaining:   remaining,
		AtCapacity:  load >= max,
	}, nil
}

// FilterAvailable keeps the offers whose deliverer is still under the
// configured capacity and returns them ordered ascending by load, ties
// broken by request id so the ordering is stable.
func (g *gate) FilterAvailable(ctx context.Context, offers []model.Request) ([]Candidate, error) {
	ctx, span := g.tracer.Start(ctx, "filterAvailable", trace.WithAttributes(
		attribute.Int("offers", len(offers)),
	))
	defer span.End()

	max := g.cfg.Matching.MaxDelivererCapacity

	loads := make(map[uint]int)
	out := make([]Candidate, 0, len(offers))
	for _, offer := range offers {
		load, ok := loads[offer.UserID]
		if !ok {
			var err error
			load, err = g.ActiveLoad(ctx, offer.UserID)
			if err != nil {
				return nil, err
			}
			loads[offer.UserID] = load
		}

		if load >= max {
			continue
		}
		out = append(out, Candidate{Request: offer, Load: load})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Load != out[j].Load {
			return out[i].Load < out[j].Load
		}
		return out[i].Request.ID < out[j].Request.ID
	})

	g.log.Debugw("capacity filter", "offers", len(offers), "available", len(out), "max", max)
	return out, nil
}
