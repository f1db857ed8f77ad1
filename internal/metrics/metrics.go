// Package metrics exposes prometheus counters for the moderation core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "keel",
	Name:      "status_transitions_total",
	Help:      "Beatmapset status transitions by resulting status.",
}, []string{"status"})

var Nominations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "keel",
	Name:      "nominations_total",
	Help:      "Nomination ledger operations.",
}, []string{"action"})

var KudosuExchanges = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "keel",
	Name:      "kudosu_exchanges_total",
	Help:      "Kudosu ledger operations.",
}, []string{"operation"})
