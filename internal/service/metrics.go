package service

import "offchain-settlement/internal/core/ports"

// Outcome labels shared by the services.
const (
	outcomeOK      = "ok"
	outcomeSettled = "settled"
	outcomeNothing = "nothing_to_withdraw"
	cacheHit       = "hit"
	cacheMiss      = "miss"
	cacheError     = "error"
)

type noopMetrics struct{}

func (noopMetrics) ObserveReceipt(string)         {}
func (noopMetrics) ObserveChannel(string, string) {}
func (noopMetrics) ObserveStream(string, string)  {}
func (noopMetrics) ObserveTransfer(string)        {}
func (noopMetrics) ObserveNonceCache(string)      {}

func metricsOrNoop(m ports.Metrics) ports.Metrics {
	if m == nil {
		return noopMetrics{}
	}
	return m
}
