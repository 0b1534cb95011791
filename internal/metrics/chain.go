// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rpcProbes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camanchor_rpc_probes_total",
		Help: "RPC endpoint liveness probes by result",
	}, []string{"endpoint", "result"}) // result=ok|error

	rpcBound = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "camanchor_rpc_endpoint_bound",
		Help: "Currently bound RPC endpoint (1 = bound)",
	}, []string{"endpoint"})

	feeQuoteGwei = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "camanchor_fee_quote_gwei",
		Help: "Last escalated fee quote by fee model and field",
	}, []string{"model", "field"}) // model=dynamic|legacy field=tip_cap|fee_cap|gas_price

	submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camanchor_ledger_submissions_total",
		Help: "Ledger submissions by result",
	}, []string{"result"}) // result=success|reverted|error|no_endpoint|no_signer
)

// RecordRPCProbe counts an endpoint liveness probe.
func RecordRPCProbe(endpoint string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	rpcProbes.WithLabelValues(endpoint, result).Inc()
}

// SetBoundEndpoint marks endpoint as bound and clears the others.
func SetBoundEndpoint(endpoints []string, bound string) {
	for _, ep := range endpoints {
		v := 0.0
		if ep == bound {
			v = 1.0
		}
		rpcBound.WithLabelValues(ep).Set(v)
	}
}

// SetFeeQuote records an escalated fee field in gwei.
func SetFeeQuote(model, field string, gwei float64) {
	feeQuoteGwei.WithLabelValues(model, field).Set(gwei)
}

// RecordSubmission counts a ledger submission result.
func RecordSubmission(result string) {
	submissions.WithLabelValues(result).Inc()
}
