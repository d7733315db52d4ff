package metrics

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// AMMMetrics groups the collectors exported by the conversion engine.
type AMMMetrics struct {
	conversions    *prometheus.CounterVec
	volume         *prometheus.CounterVec
	fees           *prometheus.CounterVec
	failures       *prometheus.CounterVec
	liquidity      *prometheus.CounterVec
	networkFeeRuns *prometheus.CounterVec
	reserveBalance *prometheus.GaugeVec
	pathHops       *prometheus.HistogramVec
	pathLatency    prometheus.Histogram

	conversionCounter metric.Int64Counter
	failureCounter    metric.Int64Counter
	latencyHistogram  metric.Float64Histogram
}

var (
	ammOnce     sync.Once
	ammRegistry *AMMMetrics
)

// AMM returns the lazily registered conversion engine metrics.
func AMM() *AMMMetrics {
	ammOnce.Do(func() {
		ammRegistry = &AMMMetrics{
			conversions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "convertnet",
				Subsystem: "amm",
				Name:      "conversions_total",
				Help:      "Count of committed single-hop conversions by pool.",
			}, []string{"pool", "source", "target"}),
			volume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "convertnet",
				Subsystem: "amm",
				Name:      "volume_total",
				Help:      "Source amount converted per pool and source asset, in base units.",
			}, []string{"pool", "source"}),
			fees: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "convertnet",
				Subsystem: "amm",
				Name:      "fees_total",
				Help:      "Conversion fees charged per pool and fee recipient.",
			}, []string{"pool", "recipient"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "convertnet",
				Subsystem: "amm",
				Name:      "failures_total",
				Help:      "Count of rejected conversions by reason.",
			}, []string{"reason"}),
			liquidity: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "convertnet",
				Subsystem: "amm",
				Name:      "liquidity_events_total",
				Help:      "Count of liquidity additions and removals by pool.",
			}, []string{"pool", "action"}),
			networkFeeRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "convertnet",
				Subsystem: "amm",
				Name:      "network_fee_payouts_total",
				Help:      "Count of network fee payouts by pool.",
			}, []string{"pool"}),
			reserveBalance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "convertnet",
				Subsystem: "amm",
				Name:      "reserve_balance",
				Help:      "Last committed reserve balance per pool and asset.",
			}, []string{"pool", "asset"}),
			pathHops: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "convertnet",
				Subsystem: "amm",
				Name:      "path_hops",
				Help:      "Number of hops taken by conversion paths.",
				Buckets:   []float64{1, 2, 3, 4, 6, 8, 12, 16},
			}, []string{"outcome"}),
			pathLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "convertnet",
				Subsystem: "amm",
				Name:      "path_duration_seconds",
				Help:      "Wall time spent executing a conversion path.",
				Buckets:   prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(
			ammRegistry.conversions,
			ammRegistry.volume,
			ammRegistry.fees,
			ammRegistry.failures,
			ammRegistry.liquidity,
			ammRegistry.networkFeeRuns,
			ammRegistry.reserveBalance,
			ammRegistry.pathHops,
			ammRegistry.pathLatency,
		)
		ammRegistry.initMeter()
	})
	return ammRegistry
}

// initMeter mirrors the hot counters onto the OTLP meter installed by the
// telemetry package; the global no-op provider applies otherwise.
func (m *AMMMetrics) initMeter() {
	meter := otel.GetMeterProvider().Meter("convertnet/amm")
	fallback := noop.NewMeterProvider().Meter("convertnet/amm")
	var err error
	if m.conversionCounter, err = meter.Int64Counter("convertnet.amm.conversions"); err != nil {
		m.conversionCounter, _ = fallback.Int64Counter("convertnet.amm.conversions")
	}
	if m.failureCounter, err = meter.Int64Counter("convertnet.amm.failures"); err != nil {
		m.failureCounter, _ = fallback.Int64Counter("convertnet.amm.failures")
	}
	if m.latencyHistogram, err = meter.Float64Histogram("convertnet.amm.path_duration_ms"); err != nil {
		m.latencyHistogram, _ = fallback.Float64Histogram("convertnet.amm.path_duration_ms")
	}
}

// ObserveConversion records a committed hop together with its fee split.
func (m *AMMMetrics) ObserveConversion(pool, source, target string, amountIn, poolFee, networkFee, affiliateFee *uint256.Int) {
	if m == nil {
		return
	}
	pool = labelOrUnknown(pool)
	source = labelOrUnknown(source)
	m.conversions.WithLabelValues(pool, source, labelOrUnknown(target)).Inc()
	m.volume.WithLabelValues(pool, source).Add(toFloat(amountIn))
	m.fees.WithLabelValues(pool, "pool").Add(toFloat(poolFee))
	m.fees.WithLabelValues(pool, "network").Add(toFloat(networkFee))
	m.fees.WithLabelValues(pool, "affiliate").Add(toFloat(affiliateFee))
	if m.conversionCounter != nil {
		m.conversionCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("pool", pool)))
	}
}

func (m *AMMMetrics) ObserveConversionFailure(reason string) {
	if m == nil {
		return
	}
	reason = labelOrUnknown(reason)
	m.failures.WithLabelValues(reason).Inc()
	if m.failureCounter != nil {
		m.failureCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}

// ObservePath records the hop count and latency of a path conversion.
func (m *AMMMetrics) ObservePath(hops int, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.pathHops.WithLabelValues(outcome).Observe(float64(hops))
	m.pathLatency.Observe(d.Seconds())
	if m.latencyHistogram != nil {
		m.latencyHistogram.Record(context.Background(), float64(d.Milliseconds()), metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func (m *AMMMetrics) ObserveLiquidity(pool, action string) {
	if m == nil {
		return
	}
	m.liquidity.WithLabelValues(labelOrUnknown(pool), labelOrUnknown(action)).Inc()
}

func (m *AMMMetrics) ObserveNetworkFees(pool string) {
	if m == nil {
		return
	}
	m.networkFeeRuns.WithLabelValues(labelOrUnknown(pool)).Inc()
}

func (m *AMMMetrics) SetReserveBalance(pool, asset string, balance *uint256.Int) {
	if m == nil {
		return
	}
	m.reserveBalance.WithLabelValues(labelOrUnknown(pool), labelOrUnknown(asset)).Set(toFloat(balance))
}

func labelOrUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

func toFloat(v *uint256.Int) float64 {
	if v == nil || v.IsZero() {
		return 0
	}
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}
