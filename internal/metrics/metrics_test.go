package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectors_CountersIncrement(t *testing.T) {
	c := New()
	c.ObserveRequest("GET", "ok")
	c.ObserveRequest("GET", "ok")
	c.ObserveReload("applied")
	c.ReconnectScheduled()
	c.MalformedEvent()
	c.SessionTransition("anonymous")

	if got := testutil.ToFloat64(c.requests.WithLabelValues("GET", "ok")); got != 2 {
		t.Fatalf("expected 2 requests, got %v", got)
	}
	if got := testutil.ToFloat64(c.reconnects); got != 1 {
		t.Fatalf("expected 1 reconnect, got %v", got)
	}
	if got := testutil.ToFloat64(c.malformedEvents); got != 1 {
		t.Fatalf("expected 1 malformed event, got %v", got)
	}
}

func TestCollectors_ChannelStateIsExclusive(t *testing.T) {
	c := New()
	all := []string{"disconnected", "connecting", "connected"}
	c.SetChannelState("connecting", all...)
	c.SetChannelState("connected", all...)

	if got := testutil.ToFloat64(c.channelState.WithLabelValues("connected")); got != 1 {
		t.Fatalf("connected gauge should be 1, got %v", got)
	}
	if got := testutil.ToFloat64(c.channelState.WithLabelValues("connecting")); got != 0 {
		t.Fatalf("connecting gauge should be reset, got %v", got)
	}
}

func TestCollectors_NilIsNoop(t *testing.T) {
	var c *Collectors
	c.ObserveRequest("GET", "ok")
	c.ReconnectScheduled()
	c.SetChannelState("connected")
	if c.Registry() != nil {
		t.Fatal("nil collectors should have nil registry")
	}
}

func TestCollectors_HandlerExposesMetrics(t *testing.T) {
	c := New()
	c.ReconnectScheduled()
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	res, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = res.Body.Close() }()
	body, _ := io.ReadAll(res.Body)
	if !strings.Contains(string(body), "taskpilot_realtime_reconnects_scheduled_total 1") {
		t.Fatalf("expected reconnect counter in exposition, got:\n%s", body)
	}
}
