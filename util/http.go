package util

import (
	"errors"

	logging "github.com/ipfs/go-log/v2"
	"github.com/labstack/echo/v4"
)

var log = logging.Logger("util")

const (
	ERR_REQUEST_NOT_FOUND  = "ERR_REQUEST_NOT_FOUND"
	ERR_RESPONSE_NOT_FOUND = "ERR_RESPONSE_NOT_FOUND"
	ERR_NOT_A_PARTY        = "ERR_NOT_A_PARTY"
	ERR_MATCHING_DISABLED  = "ERR_MATCHING_DISABLED"
	ERR_INVALID_INPUT      = "ERR_INVALID_INPUT"
)

type HttpError struct {
	Code    int
	Message string
	Details string
}

func (he HttpError) Error() string {
	return he.Message
}

func ErrorHandler(err error, ctx echo.Context) {
	log.Errorf("handler error: %s", err)
	var herr *HttpError
	if errors.As(err, &herr) {
		res := map[string]string{
			"error": herr.Message,
		}
		if herr.Details != "" {
			res["details"] = herr.Details
		}
		ctx.JSON(herr.Code, res)
		return
	}

	var echoErr *echo.HTTPError
	if errors.As(err, &echoErr) {
		ctx.JSON(echoErr.Code, map[string]interface{}{
			"error": echoErr.Message,
		})
		return
	}

	_ = ctx.JSON(500, map[string]interface{}{
		"error": err.Error(),
	})
}
