package rpc

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/decloud-network/validator/types"
)

var (
	ErrInvalidRoundID  = echo.NewHTTPError(http.StatusBadRequest, "invalid round id")
	ErrInvalidRequest  = echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	ErrNothingToFetch  = echo.NewHTTPError(http.StatusBadRequest, "one of names, category, minimal or all is required")
	ErrUnknownCategory = echo.NewHTTPError(http.StatusNotFound, "unknown dataset category")
)

var statusByKind = map[types.Kind]int{
	types.KindTransient:     http.StatusServiceUnavailable,
	types.KindConflict:      http.StatusConflict,
	types.KindAuthorization: http.StatusForbidden,
	types.KindIntegrity:     http.StatusBadGateway,
	types.KindCapacity:      http.StatusTooManyRequests,
	types.KindConfiguration: http.StatusInternalServerError,
	types.KindNotFound:      http.StatusNotFound,
	types.KindInvalid:       http.StatusBadRequest,
}

// httpError maps err to an HTTP status using its kind.
func httpError(err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	code, ok := statusByKind[types.KindOf(err)]
	if !ok {
		code = http.StatusInternalServerError
	}
	return echo.NewHTTPError(code, err.Error()).SetInternal(err)
}
