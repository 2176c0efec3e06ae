package pipeline

import (
	"time"

	"github.com/sanspareilsmyn/sqlitelens/internal/analytics"
	"github.com/sanspareilsmyn/sqlitelens/internal/session"
)

// Report holds the analytics computed for one loaded database.
type Report struct {
	Info       session.Info
	Table      string
	Result     analytics.Result
	ComputedAt time.Time
	// Unavailable marks a database without the analytics table. Such a
	// report clears the gauges and is never published.
	Unavailable bool
}

// reportMessage is the wire form of a Report.
type reportMessage struct {
	LoadID      string           `json:"loadId"`
	File        string           `json:"file"`
	Origin      string           `json:"origin"`
	Fingerprint string           `json:"fingerprint"`
	Table       string           `json:"table"`
	ComputedAt  time.Time        `json:"computedAt"`
	Analytics   analytics.Result `json:"analytics"`
}

func newReportMessage(r Report) reportMessage {
	return reportMessage{
		LoadID:      r.Info.LoadID.String(),
		File:        r.Info.Name,
		Origin:      string(r.Info.Origin),
		Fingerprint: r.Info.Fingerprint,
		Table:       r.Table,
		ComputedAt:  r.ComputedAt,
		Analytics:   r.Result,
	}
}
