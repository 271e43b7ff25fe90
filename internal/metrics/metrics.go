package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Command outcomes used as the "outcome" label.
const (
	OutcomeOK         = "ok"
	OutcomeFailed     = "failed"
	OutcomeTimeout    = "timeout"
	OutcomeSpawnError = "spawn_error"
	OutcomeShortcut   = "shortcut"
)

var (
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xhelldemo_commands_total",
			Help: "Commands relayed to the interpreter, by outcome",
		},
		[]string{"outcome"},
	)

	CommandDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "xhelldemo_command_duration_seconds",
			Help:    "Time to relay a single command",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		},
	)

	RedirectWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xhelldemo_redirect_writes_total",
			Help: "Emulated output redirections, by mode and result",
		},
		[]string{"mode", "result"},
	)

	HistoryEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "xhelldemo_history_entries",
			Help: "Entries currently held by the history ledger",
		},
	)
)

var registerOnce sync.Once

// Register adds all collectors to the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(CommandsTotal, CommandDuration, RedirectWrites, HistoryEntries)
	})
}

func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}
