// Package resultset holds the column/value shape returned by the query
// engine and the scalar coercions used to read loosely typed SQLite values.
package resultset

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ResultSet is one statement's output: column names plus positional rows.
type ResultSet struct {
	Columns []string `json:"columns"`
	Values  [][]any  `json:"values"`
}

// Len returns the number of rows.
func (rs ResultSet) Len() int {
	return len(rs.Values)
}

// ColumnIndex maps every column name to its position. When a name repeats
// the first position wins.
func (rs ResultSet) ColumnIndex() map[string]int {
	idx := make(map[string]int, len(rs.Columns))
	for i, name := range rs.Columns {
		if _, exists := idx[name]; !exists {
			idx[name] = i
		}
	}
	return idx
}

// Item zips row i with the column names. It returns nil when i is out of range.
func (rs ResultSet) Item(i int) Item {
	if i < 0 || i >= len(rs.Values) {
		return nil
	}
	row := rs.Values[i]
	item := make(Item, len(rs.Columns))
	for c, name := range rs.Columns {
		if c < len(row) {
			item[name] = row[c]
		} else {
			item[name] = nil
		}
	}
	return item
}

// Items zips every row.
func (rs ResultSet) Items() []Item {
	items := make([]Item, 0, len(rs.Values))
	for i := range rs.Values {
		items = append(items, rs.Item(i))
	}
	return items
}

// Item is a single row keyed by column name.
type Item map[string]any

// HasNonNull checks if a key exists and its value is not NULL.
func (it Item) HasNonNull(key string) bool {
	val, exists := it[key]
	return exists && val != nil
}

// String returns the string form of a column, "" for NULL or a missing column.
func (it Item) String(key string) string {
	return ToString(it[key])
}

// Snippet returns a truncated string form of a column for logging.
func (it Item) Snippet(key string, maxLength int) string {
	value, exists := it[key]
	if !exists {
		return "<missing>"
	}
	if maxLength <= 0 {
		return "..."
	}

	s := fmt.Sprintf("%v", value)
	if len(s) > maxLength {
		return s[:maxLength] + "..."
	}
	return s
}

// ToString renders a scalar the way it reads in the database. NULL becomes "".
// Times are rendered as Unix milliseconds so timestamp columns stay numeric.
func ToString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return strconv.FormatInt(val.UnixMilli(), 10)
	default:
		return fmt.Sprint(val)
	}
}

// ToInt64 reads the leading base-10 integer of a scalar. Fractions are
// truncated toward zero and anything without leading digits reads as 0.
func ToInt64(v any) int64 {
	switch val := v.(type) {
	case nil:
		return 0
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return 0
		}
		if val >= math.MaxInt64 || val <= math.MinInt64 {
			return 0
		}
		return int64(math.Trunc(val))
	case time.Time:
		return val.UnixMilli()
	default:
		return parseLeadingInt(ToString(val))
	}
}

func parseLeadingInt(s string) int64 {
	s = strings.TrimLeft(s, " \t\n\r\v\f")
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digitsStart := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digitsStart {
		return 0
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0
	}
	return n
}
