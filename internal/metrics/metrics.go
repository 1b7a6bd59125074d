package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FetchCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glucolink_fetch_cycles_total",
		Help: "Completed fetch cycles by terminal result.",
	}, []string{"result"})

	LoginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glucolink_vendor_logins_total",
		Help: "Vendor login attempts by result.",
	}, []string{"result"})

	TicketRenewals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "glucolink_ticket_renewals_total",
		Help: "Auth tickets renewed from piggybacked vendor responses.",
	})

	ReadingsUpserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "glucolink_readings_upserted_total",
		Help: "Canonical readings written to the store.",
	})

	StoreWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "glucolink_store_write_failures_total",
		Help: "Store writes that failed and were skipped.",
	})
)

// Handler exposes the default prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
