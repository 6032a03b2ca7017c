// Package metrics records engine activity. Prometheus backs it in the binary; the no-op
// recorder is the default everywhere else.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Bot check outcomes.
const (
	BotCheckGateClosed   = "gate_closed"
	BotCheckBusy         = "busy"
	BotCheckRateLimited  = "rate_limited"
	BotCheckNoCandidates = "no_candidates"
	BotCheckPlaced       = "placed"
	BotCheckFailed       = "failed"
)

// Recorder defines what the engine reports.
type Recorder interface {
	// RecordBid counts a bid attempt. reason is empty for accepted bids.
	RecordBid(isBot bool, reason string)
	RecordAuctionTransition(status string)
	RecordBotCheck(outcome string)
	SetLiveAuctions(n int)
	SetViewerConnections(n int)
	RecordSchedulerIteration(duration time.Duration, success bool)
}

// NoOp is a Recorder that drops everything.
type NoOp struct{}

func (NoOp) RecordBid(isBot bool, reason string)                            {}
func (NoOp) RecordAuctionTransition(status string)                          {}
func (NoOp) RecordBotCheck(outcome string)                                  {}
func (NoOp) SetLiveAuctions(n int)                                          {}
func (NoOp) SetViewerConnections(n int)                                     {}
func (NoOp) RecordSchedulerIteration(duration time.Duration, success bool) {}

// Prometheus implements Recorder on its own registry.
type Prometheus struct {
	registry *prometheus.Registry

	bids              *prometheus.CounterVec
	transitions       *prometheus.CounterVec
	botChecks         *prometheus.CounterVec
	liveAuctions      prometheus.Gauge
	viewerConnections prometheus.Gauge
	schedulerDuration *prometheus.HistogramVec
}

// NewPrometheus registers the engine's collectors on a fresh registry.
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Prometheus{
		registry: reg,
		bids: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_bids_total",
			Help: "Bid attempts by bidder kind and result",
		}, []string{"bidder", "result"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_transitions_total",
			Help: "Auction status transitions",
		}, []string{"status"}),
		botChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_bot_checks_total",
			Help: "Bot rotation evaluations by outcome",
		}, []string{"outcome"}),
		liveAuctions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "auction_live_auctions",
			Help: "Auctions with a running timer",
		}),
		viewerConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "auction_viewer_connections",
			Help: "Connected websocket viewers",
		}),
		schedulerDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "auction_scheduler_iteration_seconds",
			Help:    "Duration of scheduler loop iterations",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
	}
}

func (p *Prometheus) RecordBid(isBot bool, reason string) {
	bidder := "user"
	if isBot {
		bidder = "bot"
	}
	result := "accepted"
	if reason != "" {
		result = reason
	}
	p.bids.WithLabelValues(bidder, result).Inc()
}

func (p *Prometheus) RecordAuctionTransition(status string) {
	p.transitions.WithLabelValues(status).Inc()
}

func (p *Prometheus) RecordBotCheck(outcome string) {
	p.botChecks.WithLabelValues(outcome).Inc()
}

func (p *Prometheus) SetLiveAuctions(n int) {
	p.liveAuctions.Set(float64(n))
}

func (p *Prometheus) SetViewerConnections(n int) {
	p.viewerConnections.Set(float64(n))
}

func (p *Prometheus) RecordSchedulerIteration(duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	p.schedulerDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
