package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/srand/jolt/coordinator/pkg/protocol"
	"github.com/srand/jolt/coordinator/pkg/store"
	"github.com/srand/jolt/coordinator/pkg/utils"
)

// Translates storage errors to API errors with HTTP status codes.
func apiError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		err = fmt.Errorf("%w: %v", utils.ErrNotFound, err)
	case errors.Is(err, store.ErrAlreadyClaimed), errors.Is(err, store.ErrNotClaimed):
		err = fmt.Errorf("%w: %v", utils.ErrConflict, err)
	case errors.Is(err, store.ErrEmptyRequestSet):
		err = fmt.Errorf("%w: %v", utils.ErrBadRequest, err)
	}
	return utils.HttpError(err)
}

func parseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, utils.HttpError(fmt.Errorf("%w: invalid id %q", utils.ErrBadRequest, c.Param("id")))
	}
	return id, nil
}

func parseBool(c echo.Context, name string) (*bool, error) {
	value := c.QueryParam(name)
	if value == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return nil, utils.HttpError(fmt.Errorf("%w: invalid %s %q", utils.ErrBadRequest, name, value))
	}
	return &b, nil
}

func NewHttpHandler(coordinator *Coordinator, r *echo.Echo) {
	api := r.Group("/api")

	api.POST("/buildsets", func(c echo.Context) error {
		var request protocol.CreateBuildsetRequest
		if err := c.Bind(&request); err != nil {
			return err
		}

		response, err := coordinator.AddBuildset(c.Request().Context(), &request)
		if err != nil {
			return apiError(err)
		}
		return c.JSON(http.StatusCreated, response)
	})

	api.GET("/buildsets/:id", func(c echo.Context) error {
		id, err := parseID(c)
		if err != nil {
			return err
		}

		buildset, err := coordinator.GetBuildset(c.Request().Context(), id)
		if err != nil {
			return apiError(err)
		}
		return c.JSON(http.StatusOK, buildset)
	})

	api.GET("/requests", func(c echo.Context) error {
		filter := store.RequestFilter{
			Builder:   c.QueryParam("builder"),
			ClaimedBy: c.QueryParam("claimed_by"),
		}

		var err error
		if filter.Claimed, err = parseBool(c, "claimed"); err != nil {
			return err
		}
		if filter.Complete, err = parseBool(c, "complete"); err != nil {
			return err
		}
		if bsid := c.QueryParam("buildset"); bsid != "" {
			if filter.BuildsetID, err = strconv.ParseInt(bsid, 10, 64); err != nil {
				return utils.HttpError(fmt.Errorf("%w: invalid buildset %q", utils.ErrBadRequest, bsid))
			}
		}

		requests, err := coordinator.ListRequests(c.Request().Context(), filter)
		if err != nil {
			return apiError(err)
		}
		return c.JSON(http.StatusOK, requests)
	})

	api.POST("/requests/complete", func(c echo.Context) error {
		var request protocol.CompleteRequestsRequest
		if err := c.Bind(&request); err != nil {
			return err
		}

		if err := coordinator.CompleteRequests(c.Request().Context(), request.RequestIDs, request.Result); err != nil {
			return apiError(err)
		}
		return c.NoContent(http.StatusNoContent)
	})

	api.POST("/requests/:id/cancel", func(c echo.Context) error {
		id, err := parseID(c)
		if err != nil {
			return err
		}

		if err := coordinator.CancelRequest(c.Request().Context(), id); err != nil {
			return apiError(err)
		}
		return c.NoContent(http.StatusNoContent)
	})

	api.POST("/reschedule", func(c echo.Context) error {
		var request protocol.RescheduleRequest
		if err := c.Bind(&request); err != nil {
			return err
		}

		for _, builder := range request.Builders {
			if !coordinator.Distributor().HasBuilder(builder) {
				return utils.HttpError(fmt.Errorf("%w: unknown builder %s", utils.ErrBadRequest, builder))
			}
		}

		coordinator.Reschedule(request.Builders...)
		return c.NoContent(http.StatusAccepted)
	})

	// Streams events as JSON lines until the client goes away
	api.GET("/events", func(c echo.Context) error {
		consumer := coordinator.Events().Subscribe()
		defer consumer.Close()

		response := c.Response()
		response.Header().Set(echo.HeaderContentType, "application/x-ndjson")
		response.WriteHeader(http.StatusOK)
		response.Flush()

		encoder := json.NewEncoder(response)
		for {
			select {
			case <-c.Request().Context().Done():
				return nil
			case event, ok := <-consumer.Chan:
				if !ok {
					return nil
				}
				if err := encoder.Encode(event); err != nil {
					return nil
				}
				response.Flush()
			}
		}
	})

	r.GET("/metrics", func(c echo.Context) error {
		return c.String(http.StatusOK, formatMetrics(coordinator.Statistics()))
	})
}

func formatMetrics(stats *StatisticsSnapshot) string {
	var metrics strings.Builder

	metric := func(name, kind, help string, value int64) {
		fmt.Fprintf(&metrics, "# TYPE %s %s\n", name, kind)
		fmt.Fprintf(&metrics, "# HELP %s %s\n", name, help)
		fmt.Fprintf(&metrics, "%s %d\n", name, value)
	}

	metric("jolt_coordinator_claims_total", "counter", "The total number of successful request claims.", stats.Claims)
	metric("jolt_coordinator_claim_conflicts_total", "counter", "The total number of claims lost to another coordinator.", stats.ClaimConflicts)
	metric("jolt_coordinator_dispatches_total", "counter", "The total number of builds started on agents.", stats.Dispatches)
	metric("jolt_coordinator_dispatch_failures_total", "counter", "The total number of builds agents failed to start.", stats.DispatchFailures)
	metric("jolt_coordinator_give_ups_total", "counter", "The total number of builds abandoned after repeated dispatch failures.", stats.GiveUps)
	metric("jolt_coordinator_buildsets_completed_total", "counter", "The total number of buildsets completed by this coordinator.", stats.BuildsetsCompleted)
	metric("jolt_coordinator_completion_races_total", "counter", "The total number of buildset completions lost to another evaluation.", stats.CompletionRaces)
	metric("jolt_coordinator_passes_total", "counter", "The total number of scheduling passes.", stats.Passes)
	metric("jolt_coordinator_passes_active", "gauge", "The number of scheduling passes currently running.", stats.ActivePasses)
	metric("jolt_coordinator_storage_errors_total", "counter", "The total number of scheduling passes ended by an error.", stats.StorageErrors)
	metric("jolt_coordinator_builders_pending", "gauge", "The number of builders waiting for a scheduling pass.", stats.PendingBuilders)

	return metrics.String()
}
