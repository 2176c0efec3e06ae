package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sanspareilsmyn/sqlitelens/internal/analytics"
	"github.com/sanspareilsmyn/sqlitelens/internal/config"
	"github.com/sanspareilsmyn/sqlitelens/internal/server"
	"github.com/sanspareilsmyn/sqlitelens/internal/session"
	"github.com/sanspareilsmyn/sqlitelens/internal/source"
)

const watchSettle = 500 * time.Millisecond

// Pipeline orchestrates the different stages: loading, analytics, reporting,
// plus the HTTP server and directory watcher that feed it.
type Pipeline struct {
	cfg       *config.Config
	session   *session.Session
	loader    *Loader
	cache     *analytics.Cache
	reporter  *Reporter
	publisher Publisher
	files     *source.DirStore
	s3        *source.S3Store
	watcher   *source.Watcher
	server    *server.Server
	logger    *zap.Logger

	loadRequests chan session.LoadRequest
	loaded       chan *session.Loaded
	reports      chan Report
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithPublisher replaces the publisher chosen from the Kafka configuration.
func WithPublisher(pub Publisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

// WithS3Store replaces the S3 store built from the S3 configuration.
func WithS3Store(s *source.S3Store) Option {
	return func(p *Pipeline) { p.s3 = s }
}

// New creates and wires up a new pipeline.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Pipeline, error) {
	initLogger := logger.Named("pipeline.init")
	initLogger.Debug("Creating pipeline components...")

	// Create Channels
	bufferSize := cfg.Pipeline.QueueSize
	p := &Pipeline{
		cfg:          cfg,
		logger:       logger.Named("pipeline"),
		loadRequests: make(chan session.LoadRequest, bufferSize),
		loaded:       make(chan *session.Loaded, bufferSize),
		reports:      make(chan Report, bufferSize),
	}
	initLogger.Debug("Channels created", zap.Int("bufferSize", bufferSize))

	for _, opt := range opts {
		opt(p)
	}

	// Initialize Components
	files, err := source.NewDirStore(cfg.Store.Directory, logger.Named("files"))
	if err != nil {
		initLogger.Error("Failed to create file store", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrStoreCreationFailed, err)
	}
	p.files = files

	if p.s3 == nil && cfg.S3.Enabled {
		maxBytes := cfg.Server.MaxUploadMB << 20
		s3Store, err := source.NewS3Store(ctx, cfg.S3, maxBytes, logger.Named("s3"))
		if err != nil {
			initLogger.Error("Failed to create S3 store", zap.Error(err))
			return nil, fmt.Errorf("%w: %w", ErrS3CreationFailed, err)
		}
		if err := s3Store.Connect(ctx); err != nil {
			initLogger.Error("Failed to connect to S3", zap.Error(err))
			return nil, fmt.Errorf("%w: %w", ErrS3CreationFailed, err)
		}
		p.s3 = s3Store
	}

	if p.publisher == nil {
		if cfg.Kafka.Enabled {
			pub, err := NewKafkaPublisher(cfg.Kafka, logger.Named("publisher"))
			if err != nil {
				initLogger.Error("Failed to create publisher", zap.Error(err))
				return nil, fmt.Errorf("%w: %w", ErrPublisherCreation, err)
			}
			p.publisher = pub
		} else {
			p.publisher = nopPublisher{}
		}
	}

	p.session = session.New(logger.Named("session"))
	p.loader = NewLoader(p.session, "", logger.Named("loader"))

	calc := analytics.NewCalculator(cfg.Analytics, logger.Named("calculator"))
	p.cache = analytics.NewCache(calc, logger.Named("cache"))
	p.session.OnReplace(func(prev *session.Info, next session.Info) {
		if prev != nil && prev.Fingerprint != next.Fingerprint {
			p.cache.Invalidate(prev.Fingerprint)
		}
	})
	initLogger.Debug("Session and analytics cache created")

	p.reporter = NewReporter(p.reports, p.publisher, logger.Named("reporter"))

	if cfg.Store.Watch {
		p.watcher = source.NewWatcher(files.Dir(), watchSettle, logger.Named("watcher"))
		initLogger.Debug("Directory watcher created", zap.String("dir", files.Dir()))
	}

	srvOpts := server.Options{
		Addr:            cfg.Server.Addr,
		MaxUploadBytes:  cfg.Server.MaxUploadMB << 20,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Table:           cfg.Analytics.Table,
		Session:         p.session,
		Cache:           p.cache,
		Loader:          p,
		Files:           files,
	}
	if p.s3 != nil {
		srvOpts.S3 = p.s3
	}
	p.server = server.New(srvOpts, logger.Named("server"))

	initLogger.Info("Pipeline instance created successfully",
		zap.Bool("s3", p.s3 != nil),
		zap.Bool("kafka", cfg.Kafka.Enabled),
		zap.Bool("watch", cfg.Store.Watch),
	)
	return p, nil
}

// Handler exposes the HTTP API without starting a listener.
func (p *Pipeline) Handler() http.Handler { return p.server.Handler() }

// Session returns the session the pipeline loads into.
func (p *Pipeline) Session() *session.Session { return p.session }

// Submit queues req for the loader stage without waiting for it.
func (p *Pipeline) Submit(ctx context.Context, req session.LoadRequest) error {
	select {
	case p.loadRequests <- req:
		p.logger.Debug("Load request queued", zap.String("name", req.Name), zap.String("origin", string(req.Origin)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		p.logger.Warn("Load queue full, dropping request", zap.String("name", req.Name))
		return ErrQueueFull
	}
}

// Load opens req synchronously and hands the new database to the analytics
// stage.
func (p *Pipeline) Load(ctx context.Context, req session.LoadRequest) (session.Info, error) {
	loaded, reused, err := p.loader.Load(ctx, req)
	if err != nil {
		return session.Info{}, err
	}
	if !reused {
		p.enqueueLoaded(loaded)
	}
	return loaded.Info, nil
}

func (p *Pipeline) enqueueLoaded(l *session.Loaded) {
	select {
	case p.loaded <- l:
	default:
		p.logger.Warn("Loaded database channel full, skipping analytics",
			zap.String("name", l.Info.Name),
		)
	}
}

// Run starts all pipeline components and waits for them to complete or context cancellation.
func (p *Pipeline) Run(ctx context.Context) error {
	sugar := p.logger.Sugar()
	var wg sync.WaitGroup

	components := 4 // loader, calculator, reporter, server
	if p.watcher != nil {
		components++
	}
	pipelineErr := make(chan error, components)

	sugar.Info("Pipeline Run: Starting components...")

	// Start components as goroutines
	wg.Add(components)
	go p.runLoader(ctx, &wg)
	go p.runCalculator(ctx, &wg)
	go p.runReporter(ctx, &wg, pipelineErr)
	go p.runServer(ctx, &wg, pipelineErr)
	if p.watcher != nil {
		go p.runWatcher(ctx, &wg, pipelineErr)
	}

	if path := p.cfg.Pipeline.LoadFile; path != "" {
		p.submitFile(ctx, path)
	}

	// Wait for context cancellation or the first error from any component
	var firstErr error
	select {
	case <-ctx.Done():
		sugar.Info("Pipeline Run: Context cancelled. Waiting for components to finish...")
		firstErr = ctx.Err()
	case err := <-pipelineErr:
		sugar.Errorw("Pipeline Run: Received error from a component, initiating shutdown...", zap.Error(err))
		firstErr = err
	}

	sugar.Debug("Pipeline Run: Waiting on WaitGroup...")
	wg.Wait()
	sugar.Info("Pipeline Run: All components finished.")

	if firstErr != nil && !errors.Is(firstErr, context.Canceled) {
		return firstErr
	}
	return nil
}

func (p *Pipeline) submitFile(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		p.logger.Error("Failed to read startup database", zap.String("path", path), zap.Error(err))
		return
	}
	req := session.LoadRequest{Name: filepath.Base(path), Origin: session.OriginFile, Data: data}
	if err := p.Submit(ctx, req); err != nil {
		p.logger.Error("Failed to queue startup database", zap.String("path", path), zap.Error(err))
	}
}

// runLoader opens queued load requests one at a time.
func (p *Pipeline) runLoader(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	loaderLogger := p.logger.Named("loader").Sugar()
	loaderLogger.Debug("Starting loader goroutine...")

	for {
		select {
		case req := <-p.loadRequests:
			if _, err := p.Load(ctx, req); err != nil {
				loaderLogger.Warnw("Failed to load database, skipping",
					"name", req.Name,
					"origin", string(req.Origin),
					zap.Error(err),
				)
			}

		case <-ctx.Done():
			loaderLogger.Debug("Loader context cancelled.", zap.Error(ctx.Err()))
			return
		}
	}
}

// runCalculator computes analytics for every loaded database that has the
// analytics table.
func (p *Pipeline) runCalculator(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	defer func() {
		close(p.reports)
		p.logger.Debug("Reports channel closed")
	}()

	calcLogger := p.logger.Named("calculator").Sugar()
	calcLogger.Debug("Starting calculator goroutine...")
	table := p.cfg.Analytics.Table

	for {
		select {
		case l := <-p.loaded:
			report := Report{Info: l.Info, Table: table}
			if l.Info.HasTable(table) {
				start := time.Now()
				result, err := p.cache.Get(ctx, l.DB)
				if err != nil {
					calcLogger.Warnw("Failed to compute analytics, skipping",
						"name", l.Info.Name,
						zap.Error(err),
					)
					continue
				}
				calcLogger.Debugw("Analytics computed",
					"name", l.Info.Name,
					"elapsed", time.Since(start),
				)
				report.Result = result
			} else {
				report.Unavailable = true
			}
			report.ComputedAt = time.Now()
			select {
			case p.reports <- report:
			case <-ctx.Done():
				calcLogger.Debug("Calculator context cancelled during send.", zap.Error(ctx.Err()))
				return
			}

		case <-ctx.Done():
			calcLogger.Debug("Calculator context cancelled.", zap.Error(ctx.Err()))
			return
		}
	}
}

// runReporter executes the reporter component logic in a goroutine.
func (p *Pipeline) runReporter(ctx context.Context, wg *sync.WaitGroup, errCh chan<- error) {
	defer wg.Done()

	p.logger.Debug("Starting reporter goroutine...")
	if err := p.reporter.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Error("Reporter component exited with error", zap.Error(err))
		errCh <- fmt.Errorf("%w: %w", ErrReporterRunFailed, err)
	} else if err == nil {
		p.logger.Debug("Reporter goroutine finished normally")
	} else {
		p.logger.Debug("Reporter goroutine cancelled gracefully")
	}
}

// runServer executes the HTTP server in a goroutine.
func (p *Pipeline) runServer(ctx context.Context, wg *sync.WaitGroup, errCh chan<- error) {
	defer wg.Done()

	p.logger.Debug("Starting server goroutine...")
	if err := p.server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Error("Server component exited with error", zap.Error(err))
		errCh <- fmt.Errorf("%w: %w", ErrServerRunFailed, err)
	} else {
		p.logger.Debug("Server goroutine finished")
	}
}

// runWatcher feeds database files dropped into the store directory to the loader.
func (p *Pipeline) runWatcher(ctx context.Context, wg *sync.WaitGroup, errCh chan<- error) {
	defer wg.Done()

	p.logger.Debug("Starting watcher goroutine...")
	emit := func(ctx context.Context, name string) {
		f, err := p.files.Fetch(ctx, name)
		if err != nil {
			p.logger.Warn("Failed to read watched file", zap.String("name", name), zap.Error(err))
			return
		}
		req := session.LoadRequest{Name: f.Name, Origin: session.OriginLocal, Data: f.Data}
		if err := p.Submit(ctx, req); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Warn("Failed to queue watched file", zap.String("name", name), zap.Error(err))
		}
	}

	if err := p.watcher.Run(ctx, emit); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Error("Watcher component exited with error", zap.Error(err))
		errCh <- fmt.Errorf("%w: %w", ErrWatcherRunFailed, err)
	} else {
		p.logger.Debug("Watcher goroutine finished")
	}
}

// Close drops cached analytics and releases the current database and the
// publisher.
func (p *Pipeline) Close() error {
	p.logger.Debug("Pipeline Close called")
	p.cache.Reset()
	return errors.Join(p.publisher.Close(), p.session.Close())
}
