package candidate

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/parcelbroker/parcelbroker/database"
	"github.com/parcelbroker/parcelbroker/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func initDB(t *testing.T) *gorm.DB {
	db, err := database.Open(fmt.Sprintf("sqlite=%s", filepath.Join(t.TempDir(), "test.db")))
	require.NoError(t, err)
	return db
}

func day(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

func seedRequest(t *testing.T, db *gorm.DB, req model.Request) model.Request {
	if req.Status == "" {
		req.Status = model.RequestStatusOpen
	}
	require.NoError(t, db.Create(&req).Error)
	return req
}

func TestFindForRequestRouteAndKind(t *testing.T) {
	db := initDB(t)
	finder := NewFinder(db, zap.NewNop().Sugar())

	need := seedRequest(t, db, model.Request{
		UserID: 1, Kind: model.RequestKindNeed,
		FromLocID: 10, ToLocID: 20, FromDate: day(1), ToDate: day(10),
	})
	match := seedRequest(t, db, model.Request{
		UserID: 2, Kind: model.RequestKindOffer,
		FromLocID: 10, ToLocID: 20, FromDate: day(2), ToDate: day(8),
	})
	// wrong route
	seedRequest(t, db, model.Request{
		UserID: 3, Kind: model.RequestKindOffer,
		FromLocID: 10, ToLocID: 21, FromDate: day(2), ToDate: day(8),
	})
	// same side
	seedRequest(t, db, model.Request{
		UserID: 4, Kind: model.RequestKindNeed,
		FromLocID: 10, ToLocID: 20, FromDate: day(2), ToDate: day(8),
	})

	out, err := finder.FindForRequest(context.Background(), need)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, match.ID, out[0].ID)
}

func TestFindForRequestDateOverlap(t *testing.T) {
	db := initDB(t)
	finder := NewFinder(db, zap.NewNop().Sugar())

	need := seedRequest(t, db, model.Request{
		UserID: 1, Kind: model.RequestKindNeed,
		FromLocID: 10, ToLocID: 20, FromDate: day(5), ToDate: day(10),
	})

	overlapping := seedRequest(t, db, model.Request{
		UserID: 2, Kind: model.RequestKindOffer,
		FromLocID: 10, ToLocID: 20, FromDate: day(8), ToDate: day(15),
	})
	touching := seedRequest(t, db, model.Request{
		UserID: 3, Kind: model.RequestKindOffer,
		FromLocID: 10, ToLocID: 20, FromDate: day(10), ToDate: day(12),
	})
	// window ends before the need starts
	seedRequest(t, db, model.Request{
		UserID: 4, Kind: model.RequestKindOffer,
		FromLocID: 10, ToLocID: 20, FromDate: day(1), ToDate: day(4),
	})
	// window starts after the need ends
	seedRequest(t, db, model.Request{
		UserID: 5, Kind: model.RequestKindOffer,
		FromLocID: 10, ToLocID: 20, FromDate: day(11), ToDate: day(15),
	})

	out, err := finder.FindForRequest(context.Background(), need)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, overlapping.ID, out[0].ID)
	assert.Equal(t, touching.ID, out[1].ID)
}

func TestFindForRequestSizeClass(t *testing.T) {
	db := initDB(t)
	finder := NewFinder(db, zap.NewNop().Sugar())

	need := seedRequest(t, db, model.Request{
		UserID: 1, Kind: model.RequestKindNeed, Size: "m",
		FromLocID: 10, ToLocID: 20, FromDate: day(1), ToDate: day(10),
	})

	sameSize := seedRequest(t, db, model.Request{
		UserID: 2, Kind: model.RequestKindOffer, Size: "m",
		FromLocID: 10, ToLocID: 20, FromDate: day(1), ToDate: day(10),
	})
	wildcard := seedRequest(t, db, model.Request{
		UserID: 3, Kind: model.RequestKindOffer, Size: model.SizeUnspecified,
		FromLocID: 10, ToLocID: 20, FromDate: day(1), ToDate: day(10),
	})
	// incompatible size
	seedRequest(t, db, model.Request{
		UserID: 4, Kind: model.RequestKindOffer, Size: "l",
		FromLocID: 10, ToLocID: 20, FromDate: day(1), ToDate: day(10),
	})

	out, err := finder.FindForRequest(context.Background(), need)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, sameSize.ID, out[0].ID)
	assert.Equal(t, wildcard.ID, out[1].ID)

	// an unspecified need matches every size class
	needAny := seedRequest(t, db, model.Request{
		UserID: 5, Kind: model.RequestKindNeed, Size: model.SizeUnspecified,
		FromLocID: 10, ToLocID: 20, FromDate: day(1), ToDate: day(10),
	})
	out, err = finder.FindForRequest(context.Background(), needAny)
	require.NoError(t, err)
	assert.Len(t, out, 3)
}

func TestFindForRequestLifecycleStatus(t *testing.T) {
	db := initDB(t)
	finder := NewFinder(db, zap.NewNop().Sugar())

	need := seedRequest(t, db, model.Request{
		UserID: 1, Kind: model.RequestKindNeed,
		FromLocID: 10, ToLocID: 20, FromDate: day(1), ToDate: day(10),
	})

	seedRequest(t, db, model.Request{
		UserID: 2, Kind: model.RequestKindOffer, Status: model.RequestStatusHasResponses,
		FromLocID: 10, ToLocID: 20, FromDate: day(1), ToDate: day(10),
	})
	for _, st := range []model.RequestStatus{
		model.RequestStatusMatched,
		model.RequestStatusMatchedManually,
		model.RequestStatusCompleted,
		model.RequestStatusClosed,
	} {
		seedRequest(t, db, model.Request{
			UserID: 3, Kind: model.RequestKindOffer, Status: st,
			FromLocID: 10, ToLocID: 20, FromDate: day(1), ToDate: day(10),
		})
	}

	out, err := finder.FindForRequest(context.Background(), need)
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestFindForRequestEmptyResult(t *testing.T) {
	db := initDB(t)
	finder := NewFinder(db, zap.NewNop().Sugar())

	need := seedRequest(t, db, model.Request{
		UserID: 1, Kind: model.RequestKindNeed,
		FromLocID: 10, ToLocID: 20, FromDate: day(1), ToDate: day(10),
	})

	out, err := finder.FindForRequest(context.Background(), need)
	require.NoError(t, err)
	assert.Empty(t, out)
}
