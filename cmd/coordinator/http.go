package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/srand/jolt/coordinator/pkg/log"
	"github.com/srand/jolt/coordinator/pkg/scheduler"
	"github.com/srand/jolt/coordinator/pkg/utils"
)

// Serves the coordinator API on a specific listening address until
// ctx is cancelled.
func serveHttp(ctx context.Context, coordinator *scheduler.Coordinator, uri string) error {
	host, err := utils.ParseHttpUrl(uri)
	if err != nil {
		return err
	}

	log.Info("Listening on http", host)

	r := echo.New()
	r.HideBanner = true
	r.HidePort = true
	r.Use(utils.HttpLogger)
	r.Add(echo.GET, "/debug/pprof/*", echo.WrapHandler(http.DefaultServeMux))

	scheduler.NewHttpHandler(coordinator, r)

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := r.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown:", err)
		}
	}()

	if err := r.Start(host); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
