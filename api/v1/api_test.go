package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/parcelbroker/parcelbroker/acceptance"
	"github.com/parcelbroker/parcelbroker/candidate"
	"github.com/parcelbroker/parcelbroker/capacity"
	"github.com/parcelbroker/parcelbroker/chat"
	"github.com/parcelbroker/parcelbroker/config"
	"github.com/parcelbroker/parcelbroker/database"
	"github.com/parcelbroker/parcelbroker/fairness"
	"github.com/parcelbroker/parcelbroker/ledger"
	"github.com/parcelbroker/parcelbroker/matching"
	"github.com/parcelbroker/parcelbroker/metrics"
	"github.com/parcelbroker/parcelbroker/model"
	"github.com/parcelbroker/parcelbroker/notify"
	"github.com/parcelbroker/parcelbroker/rebalance"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testServer struct {
	db *gorm.DB
	e  *echo.Echo
}

func initServer(t *testing.T) *testServer {
	db, err := database.Open(fmt.Sprintf("sqlite=%s", filepath.Join(t.TempDir(), "test.db")))
	require.NoError(t, err)

	log := zap.NewNop().Sugar()
	cfg := config.NewParcelBroker("test")
	m := metrics.New()
	registry := prometheus.NewRegistry()
	m.Register(registry)

	notifier := notify.NewNotifier(db, notify.LogSender{Log: log}, m, log)
	finder := candidate.NewFinder(db, log)
	gate := capacity.NewGate(db, cfg, log)
	index := fairness.NewMemoryIndex()
	selector := fairness.NewSelector(cfg, index, log)
	ledgerMgr := ledger.NewManager(db, log)
	rebalancer := rebalance.NewManager(db, cfg, finder, gate, ledgerMgr, notifier, m, log)
	chatMgr := chat.NewManager(db, log)
	acceptMgr := acceptance.NewManager(db, cfg, rebalancer, chatMgr, notifier, m, log)
	matcher := matching.NewManager(db, cfg, finder, gate, selector, ledgerMgr, notifier, m, log)

	e := echo.New()
	NewAPIV1(cfg, db, matcher, acceptMgr, gate, index, registry, log).RegisterRoutes(e)
	return &testServer{db: db, e: e}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) seedOffer(t *testing.T, userID uint) *model.Request {
	req := &model.Request{
		UserID:    userID,
		Kind:      model.RequestKindOffer,
		FromLocID: 1,
		ToLocID:   2,
		FromDate:  time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		ToDate:    time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC),
		Status:    model.RequestStatusOpen,
	}
	require.NoError(t, s.db.Create(req).Error)
	return req
}

func TestHealthEndpoint(t *testing.T) {
	s := initServer(t)

	rec := s.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestCreateRequestRunsMatching(t *testing.T) {
	s := initServer(t)
	s.seedOffer(t, 1)

	rec := s.do(t, http.MethodPost, "/v1/requests", `{
		"user_id": 2,
		"kind": "need",
		"from_loc_id": 1,
		"to_loc_id": 2,
		"from_date": "2026-09-02T00:00:00Z",
		"to_date": "2026-09-05T00:00:00Z"
	}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var body struct {
		Request   model.Request    `json:"request"`
		Responses []model.Response `json:"responses"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, model.RequestKindNeed, body.Request.Kind)
	require.Len(t, body.Responses, 1)
	assert.Equal(t, uint(1), body.Responses[0].DelivererID)
}

func TestCreateRequestRejectsBadKind(t *testing.T) {
	s := initServer(t)

	rec := s.do(t, http.MethodPost, "/v1/requests", `{"user_id": 2, "kind": "teleport"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRequestNotFound(t *testing.T) {
	s := initServer(t)

	rec := s.do(t, http.MethodGet, "/v1/requests/999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPartyActionEndpoints(t *testing.T) {
	s := initServer(t)
	offer := s.seedOffer(t, 1)

	need := &model.Request{
		UserID: 2, Kind: model.RequestKindNeed,
		FromLocID: 1, ToLocID: 2,
		FromDate: offer.FromDate, ToDate: offer.ToDate,
		Status: model.RequestStatusHasResponses,
	}
	require.NoError(t, s.db.Create(need).Error)

	resp := &model.Response{
		DelivererID: 1, SenderID: 2,
		Initiator:      model.RoleSender,
		OfferRequestID: offer.ID, NeedRequestID: need.ID,
		Kind:            model.ResponseKindMatching,
		DelivererStatus: model.PartyStatusPending,
		SenderStatus:    model.PartyStatusPending,
		OverallStatus:   model.OverallStatusPending,
	}
	require.NoError(t, s.db.Create(resp).Error)

	// A stranger cannot act on the response.
	rec := s.do(t, http.MethodPost, fmt.Sprintf("/v1/responses/%d/accept", resp.ID), `{"user_id": 99}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Unknown response id.
	rec = s.do(t, http.MethodPost, "/v1/responses/999/accept", `{"user_id": 1}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Deliverer accepts.
	rec = s.do(t, http.MethodPost, fmt.Sprintf("/v1/responses/%d/accept", resp.ID), `{"user_id": 1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var got model.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, model.OverallStatusPartial, got.OverallStatus)

	// Sender rejects, finishing the response; further actions conflict.
	rec = s.do(t, http.MethodPost, fmt.Sprintf("/v1/responses/%d/reject", resp.ID), `{"user_id": 2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodPost, fmt.Sprintf("/v1/responses/%d/accept", resp.ID), `{"user_id": 2}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCapacityEndpoint(t *testing.T) {
	s := initServer(t)

	rec := s.do(t, http.MethodGet, "/v1/deliverers/1/capacity", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var info capacity.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, 0, info.Load)
	assert.False(t, info.AtCapacity)
}

func TestFairnessResetEndpoint(t *testing.T) {
	s := initServer(t)

	rec := s.do(t, http.MethodPost, "/v1/admin/fairness/reset", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
