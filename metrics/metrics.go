// Package metrics defines the prometheus instrumentation shared by the
// producer, consumer, and transport layers. Pass a Registerer to New to
// expose the metrics; a nil Registerer yields working but unregistered
// collectors, which keeps tests and metric-indifferent callers simple.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "courier"

type Metrics struct {
	RecordsProduced *prometheus.CounterVec
	BytesProduced   *prometheus.CounterVec
	ProduceErrors   *prometheus.CounterVec
	ProduceRetries  prometheus.Counter

	RecordsFetched *prometheus.CounterVec
	BytesFetched   *prometheus.CounterVec
	FetchErrors    *prometheus.CounterVec

	BatchSizeRecords prometheus.Histogram
	BatchSizeBytes   prometheus.Histogram

	Rebalances       prometheus.Counter
	OffsetCommits    prometheus.Counter
	HeartbeatErrors  prometheus.Counter
	TransactionsUsed *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RecordsProduced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "producer_records_total",
			Help:      "Records acknowledged by the brokers.",
		}, []string{"topic"}),
		BytesProduced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "producer_bytes_total",
			Help:      "Marshaled batch bytes acknowledged by the brokers.",
		}, []string{"topic"}),
		ProduceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "producer_errors_total",
			Help:      "Produce attempts that failed after all retries.",
		}, []string{"topic"}),
		ProduceRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "producer_retries_total",
			Help:      "Produce attempts retried after a retryable error.",
		}),
		RecordsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consumer_records_total",
			Help:      "Records delivered to consumer handlers.",
		}, []string{"topic"}),
		BytesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consumer_bytes_total",
			Help:      "Record set bytes returned by fetch calls.",
		}, []string{"topic"}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consumer_fetch_errors_total",
			Help:      "Fetch calls that returned an error.",
		}, []string{"topic"}),
		BatchSizeRecords: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "producer_batch_records",
			Help:      "Records per produced batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		BatchSizeBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "producer_batch_bytes",
			Help:      "Marshaled bytes per produced batch.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 10),
		}),
		Rebalances: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consumer_rebalances_total",
			Help:      "Consumer group join-sync rounds completed.",
		}),
		OffsetCommits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consumer_offset_commits_total",
			Help:      "Successful offset commit calls.",
		}),
		HeartbeatErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consumer_heartbeat_errors_total",
			Help:      "Heartbeat calls that returned an error.",
		}),
		TransactionsUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "producer_transactions_total",
			Help:      "Transactions finished, by outcome (commit, abort).",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.RecordsProduced, m.BytesProduced, m.ProduceErrors, m.ProduceRetries,
			m.RecordsFetched, m.BytesFetched, m.FetchErrors,
			m.BatchSizeRecords, m.BatchSizeBytes,
			m.Rebalances, m.OffsetCommits, m.HeartbeatErrors, m.TransactionsUsed,
		)
	}
	return m
}
