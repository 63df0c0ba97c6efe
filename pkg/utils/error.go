package utils

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

var (
	ErrBadRequest = errors.New("Bad request")
	ErrConflict   = errors.New("Conflict")
	ErrNotFound   = errors.New("Not found")
	ErrParse      = errors.New("Parse error")
)

// Convert errors to echo errors with HTTP status codes
func HttpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrParse):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
