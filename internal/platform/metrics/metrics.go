// Package metrics exposes Prometheus instrumentation for the dispense paths.
package metrics

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DispenseTotal counts dispense attempts by mode (single|batch) and
// outcome (success|invalid_request|not_found|insufficient_stock|
// version_conflict|error).
var DispenseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "clinic",
	Name:      "dispense_total",
	Help:      "Dispense attempts by mode and outcome.",
}, []string{"mode", "outcome"})

// RestockTotal counts restock operations by outcome.
var RestockTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "clinic",
	Name:      "restock_total",
	Help:      "Restock operations by outcome.",
}, []string{"outcome"})

// Handler serves the Prometheus scrape endpoint.
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}
