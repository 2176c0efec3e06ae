package resultset

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestToString(t *testing.T) {
	ts := time.UnixMilli(1700000000123)
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"abc", "abc"},
		{[]byte("0xdead"), "0xdead"},
		{int64(42), "42"},
		{7, "7"},
		{float64(100), "100"},
		{1.5, "1.5"},
		{true, "true"},
		{ts, "1700000000123"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ToString(tt.in), "input %#v", tt.in)
	}
}

func TestToInt64(t *testing.T) {
	tests := []struct {
		in   any
		want int64
	}{
		{nil, 0},
		{int64(1700000000000), 1700000000000},
		{12, 12},
		{123.9, 123},
		{-1.5, -1},
		{math.NaN(), 0},
		{math.Inf(1), 0},
		{"1700", 1700},
		{"  42ms", 42},
		{"-17", -17},
		{"12.75", 12},
		{"abc", 0},
		{"", 0},
		{"-", 0},
		{[]byte("99"), 99},
		{"99999999999999999999", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ToInt64(tt.in), "input %#v", tt.in)
	}
}

func TestResultSetItem(t *testing.T) {
	rs := ResultSet{
		Columns: []string{"id", "network", "receive_time"},
		Values: [][]any{
			{int64(1), "eth", int64(100)},
			{int64(2), nil},
		},
	}

	assert.Equal(t, 2, rs.Len())
	assert.Equal(t, map[string]int{"id": 0, "network": 1, "receive_time": 2}, rs.ColumnIndex())

	first := rs.Item(0)
	assert.Equal(t, "eth", first.String("network"))
	assert.Equal(t, "100", first.String("receive_time"))

	short := rs.Item(1)
	assert.False(t, short.HasNonNull("network"))
	assert.False(t, short.HasNonNull("receive_time"))
	assert.Equal(t, "", short.String("network"))

	assert.Nil(t, rs.Item(5))
	assert.Len(t, rs.Items(), 2)
}

func TestItemSnippet(t *testing.T) {
	it := Item{"hash": "0123456789abcdef"}
	assert.Equal(t, "0123...", it.Snippet("hash", 4))
	assert.Equal(t, "0123456789abcdef", it.Snippet("hash", 64))
	assert.Equal(t, "<missing>", it.Snippet("nope", 4))
	assert.Equal(t, "...", it.Snippet("hash", 0))
}
