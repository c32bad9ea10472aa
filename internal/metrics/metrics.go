// Package metrics exposes the Prometheus instrumentation for a run.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aftercoin",
		Name:      "actions_total",
		Help:      "Actions dispatched, by kind and outcome.",
	}, []string{"kind", "outcome"})

	Price = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "aftercoin",
		Name:      "price_eur",
		Help:      "Current AFC price in EUR.",
	})

	ActorsRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "aftercoin",
		Name:      "actors_remaining",
		Help:      "Actors not yet eliminated.",
	})

	GameHour = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "aftercoin",
		Name:      "game_hour",
		Help:      "Current game hour.",
	})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aftercoin",
		Name:      "events_published_total",
		Help:      "Broadcast events, by channel.",
	}, []string{"channel"})

	WSClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "aftercoin",
		Name:      "ws_clients",
		Help:      "Connected websocket clients.",
	})

	WSDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aftercoin",
		Name:      "ws_dropped_total",
		Help:      "Events dropped on slow websocket clients.",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
