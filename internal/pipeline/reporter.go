package pipeline

import (
	"context"
	"errors"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/sanspareilsmyn/sqlitelens/internal/analytics"
)

var (
	firstArrivals = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sqlitelens_first_arrivals",
			Help: "Number of events a participant observed first in the loaded database.",
		},
		[]string{"namespace", "participant"},
	)
	lagSamples = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sqlitelens_lag_samples",
			Help: "Number of lag samples of a participant behind a winner.",
		},
		[]string{"namespace", "winner", "other", "filter"},
	)
	lagMean = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sqlitelens_lag_mean",
			Help: "Mean lag of a participant behind a winner, in timestamp units.",
		},
		[]string{"namespace", "winner", "other", "filter"},
	)
	lagMedian = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sqlitelens_lag_median",
			Help: "Median lag of a participant behind a winner, in timestamp units.",
		},
		[]string{"namespace", "winner", "other", "filter"},
	)
	lagStdDev = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sqlitelens_lag_stddev",
			Help: "Population standard deviation of the lag of a participant behind a winner.",
		},
		[]string{"namespace", "winner", "other", "filter"},
	)
	lagMax = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sqlitelens_lag_max",
			Help: "Maximum lag of a participant behind a winner.",
		},
		[]string{"namespace", "winner", "other", "filter"},
	)
	reportsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlitelens_reports_published_total",
			Help: "Analytics reports handed to the publisher, by outcome.",
		},
		[]string{"result"},
	)
)

const (
	filterDefault    = "default"
	filterNoOutliers = "noOutliers"
)

// Reporter turns analytics reports into log lines, gauges and published
// messages.
type Reporter struct {
	input     <-chan Report
	publisher Publisher
	logger    *zap.Logger
}

func NewReporter(input <-chan Report, publisher Publisher, logger *zap.Logger) *Reporter {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &Reporter{input: input, publisher: publisher, logger: logger}
}

// Run reports every result until the input closes or ctx is done.
func (r *Reporter) Run(ctx context.Context) error {
	sugar := r.logger.Sugar()
	sugar.Info("Starting reporter loop...")
	defer sugar.Info("Reporter loop stopped.")

	for {
		select {
		case report, ok := <-r.input:
			if !ok {
				sugar.Info("Reporter input channel closed.")
				return nil
			}
			r.process(ctx, report)

		case <-ctx.Done():
			sugar.Info("Context cancelled, stopping reporter.")
			return ctx.Err()
		}
	}
}

func (r *Reporter) process(ctx context.Context, report Report) {
	sugar := r.logger.Sugar()

	// Gauges describe the current database only.
	firstArrivals.Reset()
	for _, g := range []*prometheus.GaugeVec{lagSamples, lagMean, lagMedian, lagStdDev, lagMax} {
		g.Reset()
	}

	if report.Unavailable {
		sugar.Infow("Analytics not available, table missing",
			"file", report.Info.Name,
			"load_id", report.Info.LoadID.String(),
			"table", report.Table,
		)
		return
	}

	for _, ns := range sortedKeys(report.Result) {
		stats := report.Result[ns]
		total := 0
		for participant, n := range stats.FirstCounts {
			firstArrivals.WithLabelValues(ns, participant).Set(float64(n))
			total += n
		}
		buckets := 0
		for winner, others := range stats.Lags {
			for other, summary := range others {
				setLagGauges(ns, winner, other, filterDefault, summary.Default)
				setLagGauges(ns, winner, other, filterNoOutliers, summary.NoOutliers)
				buckets++
			}
		}

		sugar.Infow("Namespace analytics",
			"file", report.Info.Name,
			"namespace", ns,
			"events", total,
			"participants", len(stats.FirstCounts),
			"lag_buckets", buckets,
		)
	}

	sugar.Infow("Analytics report ready",
		"file", report.Info.Name,
		"load_id", report.Info.LoadID.String(),
		"table", report.Table,
		"namespaces", len(report.Result),
	)

	if err := r.publisher.Publish(ctx, report); err != nil {
		reportsPublished.WithLabelValues("error").Inc()
		if !errors.Is(err, context.Canceled) {
			sugar.Warnw("Failed to publish analytics report", zap.Error(err))
		}
		return
	}
	reportsPublished.WithLabelValues("ok").Inc()
}

func setLagGauges(ns, winner, other, filter string, s analytics.Summary) {
	lagSamples.WithLabelValues(ns, winner, other, filter).Set(float64(s.Total))
	lagMean.WithLabelValues(ns, winner, other, filter).Set(s.Mean)
	lagMedian.WithLabelValues(ns, winner, other, filter).Set(s.Med)
	lagStdDev.WithLabelValues(ns, winner, other, filter).Set(s.Stdev)
	lagMax.WithLabelValues(ns, winner, other, filter).Set(s.Max)
}

func sortedKeys(res analytics.Result) []string {
	keys := make([]string, 0, len(res))
	for k := range res {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
