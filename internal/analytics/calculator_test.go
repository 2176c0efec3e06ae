package analytics

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sanspareilsmyn/sqlitelens/internal/config"
	"github.com/sanspareilsmyn/sqlitelens/internal/resultset"
	"github.com/sanspareilsmyn/sqlitelens/internal/sqlitedb"
	"github.com/sanspareilsmyn/sqlitelens/internal/testutil"
)

type fakeSource struct {
	fp      string
	rs      resultset.ResultSet
	err     error
	release chan struct{}
	calls   atomic.Int32
	tables  []string
	mu      sync.Mutex
}

func (f *fakeSource) SelectAll(ctx context.Context, table string) (resultset.ResultSet, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.tables = append(f.tables, table)
	f.mu.Unlock()
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return resultset.ResultSet{}, ctx.Err()
		}
	}
	if f.err != nil {
		return resultset.ResultSet{}, f.err
	}
	return f.rs, nil
}

func (f *fakeSource) Fingerprint() string { return f.fp }

func evRows(values ...[]any) resultset.ResultSet {
	return resultset.ResultSet{
		Columns: []string{"id", "network", "tx_hash", "multi_id", "receive_time"},
		Values:  values,
	}
}

func newCalculator() *Calculator {
	return NewCalculator(config.AnalyticsConfig{Table: "EvInfo"}, zap.NewNop())
}

func TestComputeTwoParticipants(t *testing.T) {
	rs := evRows(
		[]any{int64(1), "X", "a", "A", int64(100)},
		[]any{int64(2), "X", "a", "B", int64(150)},
	)

	got := newCalculator().Compute(rs)

	want := Summary{Total: 1, Min: 50, Max: 50, Mean: 50, Med: 50, Stdev: 0}
	require.Contains(t, got, "X")
	assert.Equal(t, map[string]int{"A": 1}, got["X"].FirstCounts)
	assert.Equal(t, LagSummary{Default: want, NoOutliers: want}, got["X"].Lags["A"]["B"])
}

func TestComputeSingleParticipantExcluded(t *testing.T) {
	rs := evRows(
		[]any{int64(1), "X", "a", "A", int64(100)},
		[]any{int64(2), "Y", "b", "B", int64(100)},
	)
	assert.Empty(t, newCalculator().Compute(rs))
}

func TestComputeEmptyAndMalformed(t *testing.T) {
	calc := newCalculator()
	assert.Empty(t, calc.Compute(resultset.ResultSet{}))

	rs := evRows(
		[]any{int64(1), nil, []byte("0xa"), int64(7), "not-a-number"},
		[]any{int64(2), nil, []byte("0xa"), int64(8), "25"},
	)
	got := calc.Compute(rs)
	require.Contains(t, got, "")
	assert.Equal(t, map[string]int{"7": 1}, got[""].FirstCounts)
	assert.Equal(t, 25.0, got[""].Lags["7"]["8"].Default.Mean)
}

func TestComputeMissingColumns(t *testing.T) {
	rs := resultset.ResultSet{
		Columns: []string{"network", "multi_id"},
		Values: [][]any{
			{"X", "A"},
			{"X", "B"},
		},
	}
	got := newCalculator().Compute(rs)
	// every row lands in X|"" with timestamp 0, so A wins the tie
	assert.Equal(t, map[string]int{"A": 1}, got["X"].FirstCounts)
	assert.Equal(t, 0.0, got["X"].Lags["A"]["B"].Default.Max)
}

func TestComputeLogsUnreadableRows(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	calc := NewCalculator(config.AnalyticsConfig{Table: "EvInfo"}, zap.New(core))

	rs := evRows(
		[]any{int64(1), "X", "a", nil, "not-a-number"},
		[]any{int64(2), "X", "a", "B", "25"},
		[]any{int64(3), "X", "b", "A", 12.5},
		[]any{int64(4), "X", "b", "B", "-7"},
	)
	calc.Compute(rs)

	entries := logs.FilterMessage("Rows with unreadable values").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, int64(1), fields["null_participants"])
	assert.Equal(t, int64(1), fields["bad_timestamps"])
	assert.Equal(t, "not-a-number", fields["example"])
}

func TestComputeCleanRowsLogNothing(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	calc := NewCalculator(config.AnalyticsConfig{Table: "EvInfo"}, zap.New(core))

	calc.Compute(evRows(
		[]any{int64(1), "X", "a", "A", int64(100)},
		[]any{int64(2), "X", "a", "B", "150"},
	))
	assert.Zero(t, logs.FilterMessage("Rows with unreadable values").Len())
}

func TestDecoder(t *testing.T) {
	dec := NewDecoder([]string{"receive_time", "multi_id", "network"}, DefaultColumns)
	assert.Equal(t, []string{"tx_hash"}, dec.Missing())

	o := dec.Decode([]any{"1700000000000", int64(3), "eth"})
	assert.Equal(t, Observation{Namespace: "eth", Participant: "3", Timestamp: 1700000000000}, o)

	short := dec.Decode([]any{int64(5)})
	assert.Equal(t, Observation{Timestamp: 5}, short)
}

func TestStatsQueriesConfiguredTable(t *testing.T) {
	src := &fakeSource{fp: "f1", rs: evRows()}
	_, err := newCalculator().Stats(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, []string{"EvInfo"}, src.tables)
}

func TestStatsWrapsQueryError(t *testing.T) {
	src := &fakeSource{fp: "f1", err: errors.New("boom")}
	_, err := newCalculator().Stats(context.Background(), src)
	assert.ErrorIs(t, err, ErrQueryFailed)
}

func TestStatsAgainstSQLite(t *testing.T) {
	data := testutil.BuildEvInfo(t, []testutil.EvRow{
		{Network: "X", TxHash: "a", MultiID: "A", ReceiveTime: 100},
		{Network: "X", TxHash: "a", MultiID: "B", ReceiveTime: 130},
		{Network: "X", TxHash: "b", MultiID: "A", ReceiveTime: 10},
		{Network: "X", TxHash: "b", MultiID: "B", ReceiveTime: 20},
		{Network: "X", TxHash: "c", MultiID: "A", ReceiveTime: 0},
		{Network: "X", TxHash: "c", MultiID: "B", ReceiveTime: 20},
		{Network: "X", TxHash: "d", MultiID: "A", ReceiveTime: 0},
		{Network: "X", TxHash: "d", MultiID: "B", ReceiveTime: 1000},
		{Network: "Y", TxHash: "solo", MultiID: "A", ReceiveTime: 5},
	})
	db, err := sqlitedb.Open(context.Background(), "ev.sqlite", data, t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	got, err := newCalculator().Stats(context.Background(), db)
	require.NoError(t, err)

	assert.NotContains(t, got, "Y")
	assert.Equal(t, map[string]int{"A": 4}, got["X"].FirstCounts)

	ab := got["X"].Lags["A"]["B"]
	assert.Equal(t, 4, ab.Default.Total)
	assert.Equal(t, 10.0, ab.Default.Min)
	assert.Equal(t, 1000.0, ab.Default.Max)
	assert.Equal(t, 265.0, ab.Default.Mean)
	assert.Equal(t, ab.Default, ab.NoOutliers)
}

func TestCacheComputesOncePerKey(t *testing.T) {
	calc := newCalculator()
	cache := NewCache(calc, zap.NewNop())
	src := &fakeSource{
		fp:      "f1",
		rs:      evRows([]any{int64(1), "X", "a", "A", int64(1)}, []any{int64(2), "X", "a", "B", int64(2)}),
		release: make(chan struct{}),
	}

	var wg sync.WaitGroup
	results := make([]Result, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := cache.Get(context.Background(), src)
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(src.release)
	wg.Wait()

	assert.Equal(t, int32(1), src.calls.Load())
	for _, r := range results {
		assert.Equal(t, map[string]int{"A": 1}, r["X"].FirstCounts)
	}
	assert.Equal(t, 1, cache.Len())

	_, err := cache.Get(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestCacheKeysByFingerprint(t *testing.T) {
	cache := NewCache(newCalculator(), zap.NewNop())
	a := &fakeSource{fp: "a", rs: evRows()}
	b := &fakeSource{fp: "b", rs: evRows([]any{int64(1), "X", "a", "A", int64(1)}, []any{int64(2), "X", "a", "B", int64(2)})}

	ra, err := cache.Get(context.Background(), a)
	require.NoError(t, err)
	rb, err := cache.Get(context.Background(), b)
	require.NoError(t, err)

	assert.Empty(t, ra)
	assert.NotEmpty(t, rb)
	assert.Equal(t, 2, cache.Len())

	_, ok := cache.Peek("a")
	assert.True(t, ok)
}

func TestCacheInvalidate(t *testing.T) {
	cache := NewCache(newCalculator(), zap.NewNop())
	src := &fakeSource{fp: "f1", rs: evRows()}

	_, err := cache.Get(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.Invalidate("f1"))
	assert.Equal(t, 0, cache.Invalidate("f1"))

	_, err = cache.Get(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())

	cache.Reset()
	assert.Equal(t, 0, cache.Len())
}

func TestCacheDropsResultInvalidatedInFlight(t *testing.T) {
	cache := NewCache(newCalculator(), zap.NewNop())
	src := &fakeSource{fp: "f1", rs: evRows(), release: make(chan struct{})}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := cache.Get(context.Background(), src)
		assert.NoError(t, err)
	}()

	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)
	cache.Invalidate("f1")
	close(src.release)
	<-done

	_, ok := cache.Peek("f1")
	assert.False(t, ok)
}

func TestCacheSharedComputationSurvivesCallerCancel(t *testing.T) {
	cache := NewCache(newCalculator(), zap.NewNop())
	src := &fakeSource{
		fp:      "f1",
		rs:      evRows([]any{int64(1), "X", "a", "A", int64(1)}, []any{int64(2), "X", "a", "B", int64(4)}),
		release: make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cache.Get(ctx, src)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)

	type outcome struct {
		r   Result
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		r, err := cache.Get(context.Background(), src)
		second <- outcome{r, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(src.release)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, map[string]int{"A": 1}, got.r["X"].FirstCounts)
	assert.Equal(t, int32(1), src.calls.Load())

	cached, ok := cache.Peek("f1")
	require.True(t, ok)
	assert.Equal(t, got.r, cached)
}

func TestCacheErrorsAreNotCached(t *testing.T) {
	cache := NewCache(newCalculator(), zap.NewNop())
	src := &fakeSource{fp: "f1", err: errors.New("locked")}

	_, err := cache.Get(context.Background(), src)
	assert.ErrorIs(t, err, ErrQueryFailed)
	assert.Equal(t, 0, cache.Len())

	_, err = cache.Get(context.Background(), &fakeSource{})
	assert.ErrorIs(t, err, ErrNoFingerprint)
}
