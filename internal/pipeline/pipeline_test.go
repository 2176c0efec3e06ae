package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sanspareilsmyn/sqlitelens/internal/analytics"
	"github.com/sanspareilsmyn/sqlitelens/internal/config"
	"github.com/sanspareilsmyn/sqlitelens/internal/session"
	fixtures "github.com/sanspareilsmyn/sqlitelens/internal/testutil"
)

type fakePublisher struct {
	mu      sync.Mutex
	reports []Report
	err     error
	closed  bool
}

func (f *fakePublisher) Publish(_ context.Context, r Report) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, r)
	return f.err
}

func (f *fakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakePublisher) published() []Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Report(nil), f.reports...)
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{Addr: "127.0.0.1:0", MaxUploadMB: 1, ShutdownTimeout: time.Second},
		Store:     config.StoreConfig{Directory: t.TempDir()},
		Analytics: config.AnalyticsConfig{Table: "EvInfo"},
		Pipeline:  config.PipelineConfig{QueueSize: 4},
	}
}

func twoProviders(t *testing.T) []byte {
	return fixtures.BuildEvInfo(t, []fixtures.EvRow{
		{Network: "X", TxHash: "a", MultiID: "A", ReceiveTime: 100},
		{Network: "X", TxHash: "a", MultiID: "B", ReceiveTime: 150},
		{Network: "X", TxHash: "b", MultiID: "B", ReceiveTime: 300},
		{Network: "X", TxHash: "b", MultiID: "A", ReceiveTime: 310},
	})
}

func startPipeline(t *testing.T, cfg *config.Config, pub Publisher) (*Pipeline, context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	p, err := New(ctx, cfg, zap.NewNop(), WithPublisher(pub))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("pipeline did not stop")
		}
		_ = p.Close()
	})
	return p, cancel, done
}

func TestLoadProducesReport(t *testing.T) {
	pub := &fakePublisher{}
	p, _, _ := startPipeline(t, testConfig(t), pub)

	info, err := p.Load(context.Background(), session.LoadRequest{
		Name: "two.sqlite", Origin: session.OriginUpload, Data: twoProviders(t),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"EvInfo"}, info.Tables)

	require.Eventually(t, func() bool { return len(pub.published()) == 1 }, 5*time.Second, 10*time.Millisecond)
	r := pub.published()[0]
	assert.Equal(t, info.LoadID, r.Info.LoadID)
	assert.Equal(t, "EvInfo", r.Table)
	assert.Equal(t, map[string]int{"A": 1, "B": 1}, r.Result["X"].FirstCounts)
	assert.Equal(t, 50.0, r.Result["X"].Lags["A"]["B"].Default.Mean)
	assert.Equal(t, 10.0, r.Result["X"].Lags["B"]["A"].Default.Mean)

	assert.Equal(t, 1.0, testutil.ToFloat64(firstArrivals.WithLabelValues("X", "A")))
	assert.Equal(t, 50.0, testutil.ToFloat64(lagMean.WithLabelValues("X", "A", "B", filterDefault)))
}

func TestLoadSameContentIsReused(t *testing.T) {
	pub := &fakePublisher{}
	p, _, _ := startPipeline(t, testConfig(t), pub)
	data := twoProviders(t)

	first, err := p.Load(context.Background(), session.LoadRequest{Name: "a.sqlite", Origin: session.OriginUpload, Data: data})
	require.NoError(t, err)
	second, err := p.Load(context.Background(), session.LoadRequest{Name: "a.sqlite", Origin: session.OriginLocal, Data: data})
	require.NoError(t, err)

	assert.Equal(t, first.LoadID, second.LoadID)
	require.Eventually(t, func() bool { return len(pub.published()) == 1 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, pub.published(), 1)
}

func TestDatabaseWithoutTableIsNotReported(t *testing.T) {
	pub := &fakePublisher{}
	p, _, _ := startPipeline(t, testConfig(t), pub)

	other := fixtures.BuildDatabase(t, "CREATE TABLE Other (id INTEGER PRIMARY KEY);")
	_, err := p.Load(context.Background(), session.LoadRequest{Name: "other.sqlite", Origin: session.OriginUpload, Data: other})
	require.NoError(t, err)
	_, err = p.Load(context.Background(), session.LoadRequest{Name: "two.sqlite", Origin: session.OriginUpload, Data: twoProviders(t)})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(pub.published()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "two.sqlite", pub.published()[0].Info.Name)
}

func TestDatabaseWithoutTableClearsGauges(t *testing.T) {
	pub := &fakePublisher{}
	p, _, _ := startPipeline(t, testConfig(t), pub)
	ctx := context.Background()

	_, err := p.Load(ctx, session.LoadRequest{Name: "two.sqlite", Data: twoProviders(t)})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(pub.published()) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, 2, testutil.CollectAndCount(firstArrivals))
	require.Positive(t, testutil.CollectAndCount(lagMean))

	other := fixtures.BuildDatabase(t, "CREATE TABLE Other (id INTEGER PRIMARY KEY);")
	_, err = p.Load(ctx, session.LoadRequest{Name: "other.sqlite", Data: other})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return testutil.CollectAndCount(firstArrivals) == 0 && testutil.CollectAndCount(lagMean) == 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Len(t, pub.published(), 1)
}

func TestCloseDropsCachedAnalytics(t *testing.T) {
	p, _, _ := startPipeline(t, testConfig(t), &fakePublisher{})

	info, err := p.Load(context.Background(), session.LoadRequest{Name: "a.sqlite", Data: twoProviders(t)})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := p.cache.Peek(info.Fingerprint)
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, p.Close())
	assert.Zero(t, p.cache.Len())
	_, err = p.Session().Current()
	assert.ErrorIs(t, err, session.ErrNoDatabase)
}

func TestLoadRejectsInvalidData(t *testing.T) {
	p, _, _ := startPipeline(t, testConfig(t), &fakePublisher{})

	_, err := p.Load(context.Background(), session.LoadRequest{Name: "bad.sqlite", Data: []byte("nope")})
	assert.ErrorIs(t, err, ErrLoadFailed)

	_, err = p.Session().Current()
	assert.ErrorIs(t, err, session.ErrNoDatabase)
}

func TestSubmitLoadsAsynchronously(t *testing.T) {
	pub := &fakePublisher{}
	p, _, _ := startPipeline(t, testConfig(t), pub)

	require.NoError(t, p.Submit(context.Background(), session.LoadRequest{
		Name: "queued.sqlite", Origin: session.OriginLocal, Data: twoProviders(t),
	}))

	require.Eventually(t, func() bool {
		cur, err := p.Session().Current()
		return err == nil && cur.Info.Name == "queued.sqlite"
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(pub.published()) == 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestStartupFileIsLoaded(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "startup.sqlite")
	require.NoError(t, os.WriteFile(path, twoProviders(t), 0o644))
	cfg.Pipeline.LoadFile = path

	pub := &fakePublisher{}
	startPipeline(t, cfg, pub)

	require.Eventually(t, func() bool { return len(pub.published()) == 1 }, 5*time.Second, 10*time.Millisecond)
	r := pub.published()[0]
	assert.Equal(t, "startup.sqlite", r.Info.Name)
	assert.Equal(t, session.OriginFile, r.Info.Origin)
}

func TestWatchedDirectoryIsLoaded(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Watch = true

	pub := &fakePublisher{}
	p, _, _ := startPipeline(t, cfg, pub)
	time.Sleep(100 * time.Millisecond)

	_, err := p.files.Put(context.Background(), "dropped.sqlite", bytes.NewReader(twoProviders(t)))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		cur, err := p.Session().Current()
		return err == nil && cur.Info.Name == "dropped.sqlite" && cur.Info.Origin == session.OriginLocal
	}, 5*time.Second, 20*time.Millisecond)
}

func TestReplacingDatabaseInvalidatesCache(t *testing.T) {
	p, _, _ := startPipeline(t, testConfig(t), &fakePublisher{})
	ctx := context.Background()

	first, err := p.Load(ctx, session.LoadRequest{Name: "a.sqlite", Data: twoProviders(t)})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := p.cache.Peek(first.Fingerprint)
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	other := fixtures.BuildEvInfo(t, []fixtures.EvRow{{Network: "Y", TxHash: "z", MultiID: "A", ReceiveTime: 1}})
	_, err = p.Load(ctx, session.LoadRequest{Name: "b.sqlite", Data: other})
	require.NoError(t, err)

	_, ok := p.cache.Peek(first.Fingerprint)
	assert.False(t, ok)
}

func TestReporterPublishesAndStops(t *testing.T) {
	in := make(chan Report, 1)
	pub := &fakePublisher{}
	r := NewReporter(in, pub, zap.NewNop())

	in <- Report{
		Table: "EvInfo",
		Result: analytics.Result{
			"N": {
				FirstCounts: map[string]int{"P": 3},
				Lags: map[string]map[string]analytics.LagSummary{
					"P": {"Q": {
						Default:    analytics.Summary{Total: 3, Min: 1, Max: 90, Mean: 31, Med: 2, Stdev: 41.7},
						NoOutliers: analytics.Summary{Total: 2, Min: 1, Max: 2, Mean: 1.5, Med: 1.5, Stdev: 0.5},
					}},
				},
			},
		},
	}
	close(in)

	require.NoError(t, r.Run(context.Background()))
	require.Len(t, pub.published(), 1)
	assert.Equal(t, 3.0, testutil.ToFloat64(firstArrivals.WithLabelValues("N", "P")))
	assert.Equal(t, 3.0, testutil.ToFloat64(lagSamples.WithLabelValues("N", "P", "Q", filterDefault)))
	assert.Equal(t, 2.0, testutil.ToFloat64(lagSamples.WithLabelValues("N", "P", "Q", filterNoOutliers)))
	assert.Equal(t, 90.0, testutil.ToFloat64(lagMax.WithLabelValues("N", "P", "Q", filterDefault)))
}

func TestReporterContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewReporter(make(chan Report), nil, zap.NewNop())
	assert.ErrorIs(t, r.Run(ctx), context.Canceled)
}

func TestReportMessageEncoding(t *testing.T) {
	data := twoProviders(t)
	ctx := context.Background()
	sess := session.New(zap.NewNop())
	t.Cleanup(func() { _ = sess.Close() })
	loaded, reused, err := NewLoader(sess, "", zap.NewNop()).Load(ctx, session.LoadRequest{Name: "two.sqlite", Origin: session.OriginS3, Data: data})
	require.NoError(t, err)
	assert.False(t, reused)

	computed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	payload, err := json.Marshal(newReportMessage(Report{Info: loaded.Info, Table: "EvInfo", ComputedAt: computed, Result: analytics.Result{}}))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, loaded.Info.LoadID.String(), got["loadId"])
	assert.Equal(t, "two.sqlite", got["file"])
	assert.Equal(t, "s3", got["origin"])
	assert.Equal(t, loaded.Info.Fingerprint, got["fingerprint"])
	assert.Equal(t, "2024-05-01T12:00:00Z", got["computedAt"])
}

func TestNewKafkaPublisherValidation(t *testing.T) {
	_, err := NewKafkaPublisher(config.KafkaConfig{Topic: "t"}, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidKafkaConfig)

	pub, err := NewKafkaPublisher(config.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "t"}, zap.NewNop())
	require.NoError(t, err)
	assert.NoError(t, pub.Close())
}
