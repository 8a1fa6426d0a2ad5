//go:build !metrics

// Package metrics reports engine health counters. The default build compiles
// to no-ops; build with -tags metrics to register Prometheus collectors.
package metrics

import "time"

func IncViolations(string, string)              {}
func IncRuleFaults(string)                      {}
func IncEnforcementFailures(string)             {}
func IncResets(string, string)                  {}
func SetLockedOut(string, bool)                 {}
func ObserveEvalLatency(time.Duration)          {}
func ObserveStoreLatency(string, time.Duration) {}
