package utils

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/srand/jolt/coordinator/pkg/log"
)

var httpLog = log.Component("http")

func HttpLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		status := c.Response().Status
		if httpErr, ok := err.(*echo.HTTPError); ok {
			status = httpErr.Code
		}
		httpLog.Tracef("%4s %s %v (%s)", c.Request().Method, c.Request().URL, status, time.Since(start))
		return err
	}
}
