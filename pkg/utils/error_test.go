package utils

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func TestHttpError(t *testing.T) {
	testCases := []struct {
		err  error
		code int
	}{
		{ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("request 3: %w", ErrConflict), http.StatusConflict},
		{ErrBadRequest, http.StatusBadRequest},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		httpErr, ok := HttpError(tc.err).(*echo.HTTPError)
		assert.True(t, ok)
		assert.Equal(t, tc.code, httpErr.Code, tc.err.Error())
	}
}
