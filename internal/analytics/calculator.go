// Package analytics computes first-arrival counts and lag statistics over an
// event table where several participants report the same event.
package analytics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sanspareilsmyn/sqlitelens/internal/config"
	"github.com/sanspareilsmyn/sqlitelens/internal/resultset"
)

// Querier reads whole tables from a loaded database.
type Querier interface {
	SelectAll(ctx context.Context, table string) (resultset.ResultSet, error)
}

// Calculator runs the grouping, winner and lag pipeline over one table.
type Calculator struct {
	table   string
	columns Columns
	logger  *zap.Logger
}

// NewCalculator creates a Calculator for the configured table using the
// EvInfo column layout.
func NewCalculator(cfg config.AnalyticsConfig, logger *zap.Logger) *Calculator {
	c := &Calculator{
		table:   cfg.Table,
		columns: DefaultColumns,
		logger:  logger,
	}
	logger.Debug("Calculator initialized", zap.String("table", c.table))
	return c
}

// Table returns the table the calculator reads.
func (c *Calculator) Table() string { return c.table }

// Stats reads the whole table through q and computes its analytics. Only the
// read can fail; the computation itself is total.
func (c *Calculator) Stats(ctx context.Context, q Querier) (Result, error) {
	start := time.Now()
	c.logger.Info("Computing table stats", zap.String("table", c.table))

	rs, err := q.SelectAll(ctx, c.table)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	result := c.Compute(rs)

	elapsed := time.Since(start)
	computeDuration.Observe(elapsed.Seconds())
	c.logger.Info("Table stats computed",
		zap.String("table", c.table),
		zap.Int("rows", rs.Len()),
		zap.Int("namespaces", len(result)),
		zap.Duration("elapsed", elapsed),
	)
	return result, nil
}

// Compute runs the pipeline over an already materialized result set.
func (c *Calculator) Compute(rs resultset.ResultSet) Result {
	dec := NewDecoder(rs.Columns, c.columns)
	if missing := dec.Missing(); len(missing) > 0 && rs.Len() > 0 {
		c.logger.Warn("Analytics columns missing, defaulting their values",
			zap.String("table", c.table),
			zap.Strings("missing", missing),
			zap.Strings("columns", rs.Columns),
		)
	}

	if ce := c.logger.Check(zap.DebugLevel, "Rows with unreadable values"); ce != nil {
		if issues := c.inspect(rs); issues.NullParticipants > 0 || issues.BadTimestamps > 0 {
			ce.Write(
				zap.String("table", c.table),
				zap.Int("null_participants", issues.NullParticipants),
				zap.Int("bad_timestamps", issues.BadTimestamps),
				zap.String("example", issues.Example),
			)
		}
	}

	groups := Resolve(dec.DecodeAll(rs))
	res := FindWinners(groups)
	if res.Skipped > 0 {
		c.logger.Debug("Skipped groups with a single participant",
			zap.Int("skipped", res.Skipped),
			zap.Int("groups", groups.Len()),
		)
	}

	return Aggregate(res, ComputeLags(groups, res))
}

// rowIssues counts rows that decode to defaults: a NULL participant reads as
// "" and a timestamp without a leading integer reads as 0.
type rowIssues struct {
	NullParticipants int
	BadTimestamps    int
	Example          string // first unreadable timestamp
}

func (c *Calculator) inspect(rs resultset.ResultSet) rowIssues {
	var issues rowIssues
	ts := c.columns.Timestamp
	for i := range rs.Values {
		item := rs.Item(i)
		if !item.HasNonNull(c.columns.Participant) {
			issues.NullParticipants++
		}
		if !item.HasNonNull(ts) {
			continue
		}
		raw := strings.TrimLeft(strings.TrimSpace(item.String(ts)), "+-")
		if raw == "" || raw[0] < '0' || raw[0] > '9' {
			issues.BadTimestamps++
			if issues.Example == "" {
				issues.Example = item.Snippet(ts, 64)
			}
		}
	}
	return issues
}
