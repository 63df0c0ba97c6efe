package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/srand/jolt/coordinator/pkg/log"
	"github.com/srand/jolt/coordinator/pkg/protocol"
	"github.com/srand/jolt/coordinator/pkg/scheduler"
)

const DefaultDispatchTimeout = 10 * time.Second

// Starts builds by posting them to the agent's webhook.
// Implements scheduler.Dispatcher.
type Dispatcher struct {
	pool        *Pool
	coordinator string
	client      http.Client
	logger      *log.Logger
}

func NewDispatcher(pool *Pool, coordinator string, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultDispatchTimeout
	}
	return &Dispatcher{
		pool:        pool,
		coordinator: coordinator,
		client:      http.Client{Timeout: timeout},
		logger:      log.Component("dispatcher"),
	}
}

func newDispatchRequest(coordinator, builder string, agent scheduler.Agent, requests []*scheduler.Request) *protocol.DispatchRequest {
	dispatch := &protocol.DispatchRequest{
		Coordinator: coordinator,
		Builder:     builder,
		Agent:       agent.Name(),
	}

	buildsets := map[int64]bool{}
	for _, request := range requests {
		dispatch.RequestIDs = append(dispatch.RequestIDs, request.ID)
		buildsets[request.BuildsetID] = true
	}

	for bsid := range buildsets {
		dispatch.BuildsetIDs = append(dispatch.BuildsetIDs, bsid)
	}
	sort.Slice(dispatch.BuildsetIDs, func(i, j int) bool {
		return dispatch.BuildsetIDs[i] < dispatch.BuildsetIDs[j]
	})

	// Merged requests build the same sources
	if len(requests) > 0 {
		dispatch.SourceStamps = requests[0].SourceStamps
		dispatch.Properties = requests[0].Properties
	}

	return dispatch
}

// Implementation of scheduler.Dispatcher
func (d *Dispatcher) Dispatch(ctx context.Context, builder string, agent scheduler.Agent, requests []*scheduler.Request) (bool, error) {
	url, ok := d.pool.url(agent.Name())
	if !ok {
		return false, fmt.Errorf("unknown agent %s", agent.Name())
	}

	if !d.pool.Reserve(agent.Name()) {
		d.logger.Debugf("nok - slot - agent: %s", agent.Name())
		return false, nil
	}

	started, err := d.post(ctx, url, newDispatchRequest(d.coordinator, builder, agent, requests))
	if !started {
		d.pool.ReleaseAgent(agent.Name())
	}
	return started, err
}

func (d *Dispatcher) post(ctx context.Context, url string, dispatch *protocol.DispatchRequest) (bool, error) {
	data, err := json.Marshal(dispatch)
	if err != nil {
		return false, err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return false, err
	}
	request.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	response, err := d.client.Do(request)
	if err != nil {
		return false, err
	}
	defer response.Body.Close()
	io.Copy(io.Discard, response.Body)

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return false, fmt.Errorf("agent %s refused build: %s", dispatch.Agent, response.Status)
	}

	d.logger.Debugf("ack - dispatch - agent: %s, requests: %v", dispatch.Agent, dispatch.RequestIDs)
	return true, nil
}
