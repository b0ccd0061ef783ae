// Package metrics holds the prometheus collectors shared by the request
// client, session manager, realtime channel and task store. A nil *Collectors
// is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "taskpilot"

type Collectors struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	reloads         *prometheus.CounterVec
	reconnects      prometheus.Counter
	malformedEvents prometheus.Counter
	channelState    *prometheus.GaugeVec
	sessionChanges  *prometheus.CounterVec
}

func New() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "API requests by method and outcome kind.",
		}, []string{"method", "outcome"}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_reloads_total",
			Help:      "Task cache reloads by result.",
		}, []string{"result"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_reconnects_scheduled_total",
			Help:      "Reconnection attempts scheduled by the realtime channel.",
		}),
		malformedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_malformed_events_total",
			Help:      "Push messages dropped because they could not be parsed.",
		}),
		channelState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_state",
			Help:      "1 for the realtime channel's current state, 0 otherwise.",
		}, []string{"state"}),
		sessionChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Session state transitions by target state.",
		}, []string{"state"}),
	}
	c.registry.MustRegister(c.requests, c.reloads, c.reconnects, c.malformedEvents, c.channelState, c.sessionChanges)
	return c
}

func (c *Collectors) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collectors) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collectors) ObserveRequest(method, outcome string) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(method, outcome).Inc()
}

func (c *Collectors) ObserveReload(result string) {
	if c == nil {
		return
	}
	c.reloads.WithLabelValues(result).Inc()
}

func (c *Collectors) ReconnectScheduled() {
	if c == nil {
		return
	}
	c.reconnects.Inc()
}

func (c *Collectors) MalformedEvent() {
	if c == nil {
		return
	}
	c.malformedEvents.Inc()
}

// SetChannelState flips the state gauge so exactly one label reads 1.
func (c *Collectors) SetChannelState(current string, all ...string) {
	if c == nil {
		return
	}
	for _, s := range all {
		c.channelState.WithLabelValues(s).Set(0)
	}
	c.channelState.WithLabelValues(current).Set(1)
}

func (c *Collectors) SessionTransition(state string) {
	if c == nil {
		return
	}
	c.sessionChanges.WithLabelValues(state).Inc()
}
