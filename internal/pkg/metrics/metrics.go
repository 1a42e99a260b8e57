/*
Package metrics declares the Prometheus collectors of the pxplace server.

Collectors register with the default registry at init; cmd exposes them on /metrics.
*/
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pxplace"

// Outcome label values shared by Placements and Undos.
const (
	OutcomeCommitted = "committed"
	OutcomeShadow    = "shadow"
	OutcomeNoop      = "noop"
	OutcomeCaptcha   = "captcha"
	OutcomeDropped   = "dropped"
	OutcomeStale     = "stale"
	OutcomeFailed    = "failed"
)

var (
	// Placements counts place requests that reached the engine's locked section or were dropped at it.
	Placements = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "placements_total",
		Help:      "Place requests by outcome.",
	}, []string{"outcome"})

	// Undos counts undo requests that passed eligibility.
	Undos = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "undos_total",
		Help:      "Undo requests by outcome.",
	}, []string{"outcome"})

	// BonusGrants counts subscriber bonus grants applied by the scheduler.
	BonusGrants = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bonus_grants_total",
		Help:      "Stack bonuses granted after the undo window lapsed.",
	})

	// BonusPending tracks the size of the bonus-pending set.
	BonusPending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "bonus_pending",
		Help:      "Users waiting for their stack bonus.",
	})

	// Connections tracks live websocket connections.
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections",
		Help:      "Live websocket connections.",
	})

	// ActiveUsers tracks connected users that are not idle.
	ActiveUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_users",
		Help:      "Connected users that placed recently.",
	})

	// CaptchaVerifications counts captcha verification results.
	CaptchaVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "captcha_verifications_total",
		Help:      "Captcha verifications by result.",
	}, []string{"result"})
)
