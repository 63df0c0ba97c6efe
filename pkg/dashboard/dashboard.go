package dashboard

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/srand/jolt/coordinator/pkg/log"
	"github.com/srand/jolt/coordinator/pkg/protocol"
)

type DashboardConfig interface {
	// The URI of the Dashboard web service
	GetDashboardUri() string
}

// Posts buildset events to the dashboard. Events are queued and
// posted by a background goroutine; events are dropped if the queue
// is full. Implements scheduler.EventSink.
type dashboardHooks struct {
	client http.Client
	config DashboardConfig
	ch     chan *protocol.Event
	done   chan struct{}
	now    func() time.Time
}

func NewDashboardTelemetryHook(config DashboardConfig) *dashboardHooks {
	hooks := &dashboardHooks{
		client: http.Client{Timeout: 10 * time.Second},
		config: config,
		ch:     make(chan *protocol.Event, 1000),
		done:   make(chan struct{}),
		now:    time.Now,
	}
	go hooks.run()
	return hooks
}

func (d *dashboardHooks) formatUri() string {
	return fmt.Sprintf("%s/api/v1/events", strings.TrimRight(d.config.GetDashboardUri(), "/"))
}

func (d *dashboardHooks) postEvent(event *protocol.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	body := bytes.NewReader(data)
	response, err := d.client.Post(d.formatUri(), echo.MIMEApplicationJSON, body)
	if err == nil {
		response.Body.Close()
	} else {
		log.Trace("failed to post event:", err)
	}
	return err
}

func (d *dashboardHooks) send(event *protocol.Event) {
	select {
	case d.ch <- event:
	default:
		log.Debug("failed sending event to dashboard, channel full")
	}
}

// Implementation of scheduler.EventSink
func (d *dashboardHooks) BuildsetComplete(bsid int64, result protocol.Result) {
	d.send(&protocol.Event{
		Type:       protocol.EventBuildsetComplete,
		BuildsetID: bsid,
		Result:     result,
		Time:       d.now(),
	})
}

// Implementation of scheduler.EventSink
func (d *dashboardHooks) RequestRemoved(bsid, brid int64) {
	d.send(&protocol.Event{
		Type:       protocol.EventRequestRemoved,
		BuildsetID: bsid,
		RequestID:  brid,
		Result:     protocol.ResultNone,
		Time:       d.now(),
	})
}

func (d *dashboardHooks) run() {
	defer close(d.done)
	for event := range d.ch {
		d.postEvent(event)
	}
}

// Posts queued events and stops. No events may be sent after Close.
func (d *dashboardHooks) Close() {
	close(d.ch)
	<-d.done
}
