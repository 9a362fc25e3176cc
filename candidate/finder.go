package candidate

import (
	"context"

	"github.com/parcelbroker/parcelbroker/model"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type IFinder interface {
	FindForRequest(ctx context.Context, req model.Request) ([]model.Request, error)
}

type finder struct {
	db     *gorm.DB
	tracer trace.Tracer
	log    *zap.SugaredLogger
}

func NewFinder(db *gorm.DB, log *zap.SugaredLogger) IFinder {
	return &finder{
		db:     db,
		tracer: otel.Tracer("candidate_finder"),
		log:    log,
	}
}

// FindForRequest returns the opposite-side requests structurally
// compatible with req: same route, overlapping date windows, compatible
// size class, still open to offers, and owned by someone else. No side
// effects; an empty result is not an error.
func (f *finder) FindForRequest(ctx context.Context, req model.Request) ([]model.Request, error) {
	ctx, span := f.tracer.Start(ctx, "findCandidates", trace.WithAttributes(
		attribute.Int64("request", int64(req.ID)),
		attribute.String("kind", string(req.Kind)),
	))
	defer span.End()

	q := f.db.WithContext(ctx).
		Where("kind = ?", req.OppositeKind()).
		Where("from_loc_id = ? AND to_loc_id = ?", req.FromLocID, req.ToLocID).
		Where("from_date <= ? AND to_date >= ?", req.ToDate, req.FromDate).
		Where("status IN ?", []model.RequestStatus{model.RequestStatusOpen, model.RequestStatusHasResponses}).
		Where("user_id <> ?", req.UserID)

	if req.Size != model.SizeUnspecified {
		q = q.Where("size = ? OR size = ?", req.Size, model.SizeUnspecified)
	}

	var out []model.Request
	if err := q.Order("id asc").Find(&out).Error; err != nil {
		return nil, errors.Wrap(err, "finding candidate requests")
	}

	f.log.Debugw("candidate search", "request", req.ID, "kind", req.Kind, "found", len(out))
	return out, nil
}
