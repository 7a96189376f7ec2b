package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"studysphere-realtime/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStats struct{ rooms, participants int }

func (f fakeStats) Stats() (int, int) { return f.rooms, f.participants }

func TestCollector_ExposesRoomGauges(t *testing.T) {
	c := metrics.NewCollector(fakeStats{rooms: 2, participants: 5})
	c.ConnectionOpened("whiteboard")
	c.EventReceived("whiteboard", "joinRoom")
	c.FramesSent("roomUserList", 3)
	c.FrameDropped()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "studysphere_whiteboard_rooms_open 2")
	assert.Contains(t, body, "studysphere_whiteboard_participants 5")
	assert.Contains(t, body, `studysphere_realtime_connections{namespace="whiteboard"} 1`)
	assert.Contains(t, body, `studysphere_realtime_frames_sent_total{event="roomUserList"} 3`)
	assert.True(t, strings.Contains(body, "studysphere_realtime_frames_dropped_total 1"))
}

func TestCollector_ConnectionGauge(t *testing.T) {
	c := metrics.NewCollector(nil)
	c.ConnectionOpened("chat")
	c.ConnectionOpened("chat")
	c.ConnectionClosed("chat")

	count, err := testutil.GatherAndCount(c.Registry(), "studysphere_realtime_connections")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *metrics.Collector
	assert.NotPanics(t, func() {
		c.ConnectionOpened("whiteboard")
		c.EventReceived("whiteboard", "message")
		c.FramesSent("message", 1)
		c.FrameDropped()
		c.ConnectionClosed("whiteboard")
	})
}
