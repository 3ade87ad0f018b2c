package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CommandsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "apotekpos",
		Name:      "ledger_commands_total",
		Help:      "Ledger commands applied, by command and whether they changed state.",
	}, []string{"command", "changed"})

	StockValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "apotekpos",
		Name:      "stock_validations_total",
		Help:      "Resolved stock validations by outcome.",
	}, []string{"outcome"})

	PendingActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "apotekpos",
		Name:      "pending_actions_total",
		Help:      "Pending stock-warning actions by resolution.",
	}, []string{"resolution"})

	SnapshotWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "apotekpos",
		Name:      "snapshot_writes_total",
		Help:      "Ledger snapshot writes by operation and result.",
	}, []string{"op", "result"})

	InvoiceCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "apotekpos",
		Name:      "invoice_calls_total",
		Help:      "Calls to the invoice service by endpoint and result.",
	}, []string{"endpoint", "result"})

	AuthAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "apotekpos",
		Name:      "auth_attempts_total",
		Help:      "Login and manager PIN attempts by kind and result.",
	}, []string{"kind", "result"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "apotekpos",
		Name:      "sessions_active",
		Help:      "Sessions currently held in memory.",
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}

func Bool(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

// Result turns an error into a low-cardinality label.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
