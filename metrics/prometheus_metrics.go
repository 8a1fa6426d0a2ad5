//go:build metrics

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	violationsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "riskd_violations_total",
		Help: "Policy violations detected, by rule and corrective action",
	}, []string{"rule", "action"})

	ruleFaultsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "riskd_rule_faults_total",
		Help: "Rule evaluations that returned an unexpected error",
	}, []string{"rule"})

	enforcementFailuresCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "riskd_enforcement_failures_total",
		Help: "Enforcement calls rejected by the broker collaborator",
	}, []string{"action"})

	resetsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "riskd_resets_total",
		Help: "Scheduled resets executed, by account and type",
	}, []string{"account_id", "reset_type"})

	lockedOutGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "riskd_locked_out",
		Help: "1 while the account is under an active restriction",
	}, []string{"account_id"})

	evalLatencyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "riskd_eval_latency_ms",
		Help: "Duration of the latest full event evaluation",
	})

	storeLatencyGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "riskd_store_latency_ms",
		Help: "Time spent in the latest durable store operation",
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(
		violationsCounter,
		ruleFaultsCounter,
		enforcementFailuresCounter,
		resetsCounter,
		lockedOutGauge,
		evalLatencyGauge,
		storeLatencyGauge,
	)
}

func IncViolations(rule, action string) {
	violationsCounter.WithLabelValues(rule, action).Inc()
}

func IncRuleFaults(rule string) {
	ruleFaultsCounter.WithLabelValues(rule).Inc()
}

func IncEnforcementFailures(action string) {
	enforcementFailuresCounter.WithLabelValues(action).Inc()
}

func IncResets(accountID, resetType string) {
	resetsCounter.WithLabelValues(accountID, resetType).Inc()
}

func SetLockedOut(accountID string, locked bool) {
	if locked {
		lockedOutGauge.WithLabelValues(accountID).Set(1)
		return
	}
	lockedOutGauge.WithLabelValues(accountID).Set(0)
}

func ObserveEvalLatency(d time.Duration) {
	evalLatencyGauge.Set(d.Seconds() * 1000)
}

func ObserveStoreLatency(op string, d time.Duration) {
	storeLatencyGauge.WithLabelValues(op).Set(d.Seconds() * 1000)
}
