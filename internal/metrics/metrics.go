// Package metrics exposes sync-engine counters on a private Prometheus
// registry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ResultRemote  = "remote"
	ResultLocal   = "local"
	ResultSkipped = "skipped"
	ResultOK      = "ok"
	ResultFailed  = "failed"
)

type Metrics struct {
	registry *prometheus.Registry

	polls         *prometheus.CounterVec
	saves         *prometheus.CounterVec
	heartbeats    *prometheus.CounterVec
	alerts        prometheus.Counter
	repairs       *prometheus.CounterVec
	onlineMembers *prometheus.GaugeVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldsync_polls_total",
			Help: "Document polls by outcome",
		}, []string{"result"}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldsync_saves_total",
			Help: "Whole-document saves by outcome",
		}, []string{"result"}),
		heartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldsync_heartbeats_total",
			Help: "Presence heartbeats by outcome",
		}, []string{"result"}),
		alerts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fieldsync_alerts_total",
			Help: "Task alerts surfaced to this session",
		}),
		repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldsync_normalization_repairs_total",
			Help: "Legacy or partial document shapes repaired on read",
		}, []string{"kind"}),
		onlineMembers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fieldsync_online_members",
			Help: "Members with a heartbeat inside the online window",
		}, []string{"role"}),
	}
	registry.MustRegister(m.polls, m.saves, m.heartbeats, m.alerts, m.repairs, m.onlineMembers)
	return m
}

func (m *Metrics) Poll(result string) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(result).Inc()
}

func (m *Metrics) Save(ok bool) {
	if m == nil {
		return
	}
	m.saves.WithLabelValues(okLabel(ok)).Inc()
}

func (m *Metrics) Heartbeat(result string) {
	if m == nil {
		return
	}
	m.heartbeats.WithLabelValues(result).Inc()
}

func (m *Metrics) Alert() {
	if m == nil {
		return
	}
	m.alerts.Inc()
}

func (m *Metrics) Repair(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.repairs.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) OnlineMembers(role string, n int) {
	if m == nil {
		return
	}
	m.onlineMembers.WithLabelValues(role).Set(float64(n))
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func okLabel(ok bool) string {
	if ok {
		return ResultOK
	}
	return ResultFailed
}
