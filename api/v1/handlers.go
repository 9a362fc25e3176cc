package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/parcelbroker/parcelbroker/acceptance"
	"github.com/parcelbroker/parcelbroker/matching"
	"github.com/parcelbroker/parcelbroker/model"
	"github.com/parcelbroker/parcelbroker/util"
	"gorm.io/gorm"
)

type createRequestBody struct {
	UserID    uint      `json:"user_id"`
	Kind      string    `json:"kind"`
	FromLocID uint      `json:"from_loc_id"`
	ToLocID   uint      `json:"to_loc_id"`
	FromDate  time.Time `json:"from_date"`
	ToDate    time.Time `json:"to_date"`
	Size      string    `json:"size"`
}

type partyActionBody struct {
	UserID uint `json:"user_id"`
}

func (s *apiV1) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": s.cfg.AppVersion})
}

// handleCreateRequest stores a new request and immediately runs the
// matching pipeline for it.
func (s *apiV1) handleCreateRequest(c echo.Context) error {
	var body createRequestBody
	if err := c.Bind(&body); err != nil {
		return &util.HttpError{Code: http.StatusBadRequest, Message: util.ERR_INVALID_INPUT}
	}

	kind := model.RequestKind(body.Kind)
	if kind != model.RequestKindOffer && kind != model.RequestKindNeed {
		return &util.HttpError{Code: http.StatusBadRequest, Message: util.ERR_INVALID_INPUT, Details: "kind must be offer or need"}
	}
	if body.UserID == 0 || body.ToDate.Before(body.FromDate) {
		return &util.HttpError{Code: http.StatusBadRequest, Message: util.ERR_INVALID_INPUT}
	}

	req := model.Request{
		UserID:    body.UserID,
		Kind:      kind,
		FromLocID: body.FromLocID,
		ToLocID:   body.ToLocID,
		FromDate:  body.FromDate,
		ToDate:    body.ToDate,
		Size:      body.Size,
		Status:    model.RequestStatusOpen,
	}
	if err := s.db.Create(&req).Error; err != nil {
		return err
	}

	created, err := s.matcher.MatchRequest(c.Request().Context(), req.ID)
	if err != nil {
		s.log.Errorf("matching new request %d: %s", req.ID, err)
	}

	// Matching failures are invisible to end users; the request is
	// created either way and will be retried on the next trigger.
	if err := s.db.First(&req, req.ID).Error; err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"request":   req,
		"responses": created,
	})
}

func (s *apiV1) handleGetRequest(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	var req model.Request
	if err := s.db.First(&req, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &util.HttpError{Code: http.StatusNotFound, Message: util.ERR_REQUEST_NOT_FOUND}
		}
		return err
	}
	return c.JSON(http.StatusOK, req)
}

// handleMatchRequest re-runs matching for an existing request, the hook
// used by asynchronous re-matching jobs.
func (s *apiV1) handleMatchRequest(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	created, err := s.matcher.MatchRequest(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, matching.ErrRequestNotFound) {
			return &util.HttpError{Code: http.StatusNotFound, Message: util.ERR_REQUEST_NOT_FOUND}
		}
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"responses": created})
}

func (s *apiV1) handleListResponses(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	var responses []model.Response
	if err := s.db.Where("offer_request_id = ? OR need_request_id = ?", id, id).
		Order("created_at asc").Find(&responses).Error; err != nil {
		return err
	}
	return c.JSON(http.StatusOK, responses)
}

func (s *apiV1) handlePartyAction(action acceptance.Action) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := parseID(c)
		if err != nil {
			return err
		}

		var body partyActionBody
		if err := c.Bind(&body); err != nil || body.UserID == 0 {
			return &util.HttpError{Code: http.StatusBadRequest, Message: util.ERR_INVALID_INPUT}
		}

		resp, err := s.acceptMgr.ApplyPartyAction(c.Request().Context(), id, body.UserID, action)
		if err != nil {
			switch {
			case errors.Is(err, acceptance.ErrResponseNotFound):
				return &util.HttpError{Code: http.StatusNotFound, Message: util.ERR_RESPONSE_NOT_FOUND}
			case errors.Is(err, acceptance.ErrNotAParty):
				return &util.HttpError{Code: http.StatusForbidden, Message: util.ERR_NOT_A_PARTY}
			case errors.Is(err, acceptance.ErrResponseFinalized):
				return &util.HttpError{Code: http.StatusConflict, Message: util.ERR_INVALID_INPUT, Details: "response already finalized"}
			default:
				return err
			}
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func (s *apiV1) handleCapacityInfo(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	info, err := s.gate.CapacityInfo(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, info)
}

func (s *apiV1) handleResetFairnessIndex(c echo.Context) error {
	if err := s.index.Reset(c.Request().Context()); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "reset"})
}

func parseID(c echo.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return 0, &util.HttpError{Code: http.StatusBadRequest, Message: util.ERR_INVALID_INPUT, Details: "invalid id"}
	}
	return uint(id), nil
}
