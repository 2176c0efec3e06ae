package analytics

import (
	"github.com/sanspareilsmyn/sqlitelens/internal/resultset"
)

// Columns names the result-set columns that feed an Observation.
type Columns struct {
	Namespace     string
	CorrelationID string
	Participant   string
	Timestamp     string
}

// DefaultColumns is the EvInfo layout.
var DefaultColumns = Columns{
	Namespace:     "network",
	CorrelationID: "tx_hash",
	Participant:   "multi_id",
	Timestamp:     "receive_time",
}

// Decoder turns positional rows into Observations. Column positions are
// resolved once per result set; a missing column decodes to its zero value.
type Decoder struct {
	namespace, correlation, participant, timestamp int
	missing                                        []string
}

// NewDecoder resolves cols against the names in mapping.
func NewDecoder(cols []string, mapping Columns) *Decoder {
	idx := resultset.ResultSet{Columns: cols}.ColumnIndex()
	d := &Decoder{}
	lookup := func(name string) int {
		i, ok := idx[name]
		if !ok {
			d.missing = append(d.missing, name)
			return -1
		}
		return i
	}
	d.namespace = lookup(mapping.Namespace)
	d.correlation = lookup(mapping.CorrelationID)
	d.participant = lookup(mapping.Participant)
	d.timestamp = lookup(mapping.Timestamp)
	return d
}

// Missing lists mapped columns absent from the result set.
func (d *Decoder) Missing() []string { return d.missing }

// Decode reads one row.
func (d *Decoder) Decode(row []any) Observation {
	return Observation{
		Namespace:     resultset.ToString(at(row, d.namespace)),
		CorrelationID: resultset.ToString(at(row, d.correlation)),
		Participant:   resultset.ToString(at(row, d.participant)),
		Timestamp:     resultset.ToInt64(at(row, d.timestamp)),
	}
}

// DecodeAll reads every row of rs.
func (d *Decoder) DecodeAll(rs resultset.ResultSet) []Observation {
	out := make([]Observation, 0, len(rs.Values))
	for _, row := range rs.Values {
		out = append(out, d.Decode(row))
	}
	return out
}

func at(row []any, i int) any {
	if i < 0 || i >= len(row) {
		return nil
	}
	return row[i]
}
