package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/mdmcache-go/internal/core/domain"
)

// BadgerConfig contains Badger tuning parameters.
type BadgerConfig struct {
	// Dir is the storage directory.
	Dir string

	// GCInterval is the interval between value log GC runs.
	// Default: 10m
	GCInterval time.Duration

	// GCThreshold is the discard ratio that triggers a value log rewrite.
	// Default: 0.5
	GCThreshold float64

	// CacheSize is the block cache size in bytes.
	// Default: 64MB
	CacheSize int64

	// ValueLogFileSize is the max value log file size in bytes.
	// Default: 256MB
	ValueLogFileSize int64

	// SyncWrites fsyncs after each write.
	SyncWrites bool

	// InMemory keeps everything in memory, for tests.
	InMemory bool
}

// DefaultBadgerConfig returns the default configuration for dir.
func DefaultBadgerConfig(dir string) BadgerConfig {
	return BadgerConfig{
		Dir:              dir,
		GCInterval:       10 * time.Minute,
		GCThreshold:      0.5,
		CacheSize:        64 << 20,
		ValueLogFileSize: 256 << 20,
	}
}

// Badger is a Store backed by Badger v3.
type Badger struct {
	db     *badger.DB
	cfg    BadgerConfig
	logger *slog.Logger

	lastGCTime atomic.Int64

	metricsLSMSize      prometheus.Gauge
	metricsValueLogSize prometheus.Gauge
	metricsLastGCTime   prometheus.Gauge

	closeOnce sync.Once
	closed    atomic.Bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// OpenBadger opens the store and starts the background GC loop.
func OpenBadger(cfg BadgerConfig, logger *slog.Logger) (*Badger, error) {
	if cfg.Dir == "" && !cfg.InMemory {
		return nil, fmt.Errorf("badger: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultBadgerConfig(cfg.Dir)
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = def.GCInterval
	}
	if cfg.GCThreshold <= 0 || cfg.GCThreshold >= 1 {
		cfg.GCThreshold = def.GCThreshold
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	if cfg.ValueLogFileSize <= 0 {
		cfg.ValueLogFileSize = def.ValueLogFileSize
	}

	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = &badgerLogger{logger: logger}
	opts.BlockCacheSize = cfg.CacheSize
	opts.ValueLogFileSize = cfg.ValueLogFileSize
	opts.SyncWrites = cfg.SyncWrites

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open db: %w", err)
	}

	s := &Badger{
		db:     db,
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go s.gcLoop()

	logger.Info("badger store opened",
		"dir", cfg.Dir,
		"in_memory", cfg.InMemory,
		"gc_interval", cfg.GCInterval)
	return s, nil
}

// Put implements Store.
func (s *Badger) Put(ctx context.Context, class domain.ClassName, rec domain.Record) error {
	_, err := s.PutMany(ctx, class, []domain.Record{rec})
	return err
}

// PutMany implements Store. Records are validated first; the batch is
// written in one write batch.
func (s *Badger) PutMany(ctx context.Context, class domain.ClassName, recs []domain.Record) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	values := make([][]byte, len(recs))
	for i, rec := range recs {
		if err := CheckRecord(class, rec); err != nil {
			return 0, err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return 0, domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("%s %s", class, rec.Ref())).Wrap(err)
		}
		values[i] = data
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for i, rec := range recs {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := wb.Set(Key(class, rec.Ref()), values[i]); err != nil {
			return 0, fmt.Errorf("badger: put: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("badger: flush: %w", err)
	}
	return len(recs), nil
}

// Get implements Store.
func (s *Badger) Get(ctx context.Context, class domain.ClassName, ref string) (domain.Record, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var rec domain.Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(Key(class, ref))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrRecordNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete implements Store.
func (s *Badger) Delete(ctx context.Context, class domain.ClassName, ref string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(Key(class, ref))
	})
}

// Scan implements Store. Records are decoded one at a time inside a read
// transaction; fn errors stop the iteration and are returned unchanged.
func (s *Badger) Scan(ctx context.Context, class domain.ClassName, fn func(domain.Record) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = Prefix(class)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec domain.Record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("badger: decode %s: %w", it.Item().Key(), err)
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// Count implements Store.
func (s *Badger) Count(ctx context.Context, class domain.ClassName) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = Prefix(class)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// GC runs value log garbage collection until nothing is left to rewrite.
func (s *Badger) GC() error {
	start := time.Now()
	runs := 0
	for {
		err := s.db.RunValueLogGC(s.cfg.GCThreshold)
		if err != nil {
			if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
				break
			}
			return fmt.Errorf("badger: gc: %w", err)
		}
		runs++
	}
	s.lastGCTime.Store(time.Now().UnixMilli())
	s.logger.Debug("badger gc completed", "rewrites", runs, "elapsed", time.Since(start))
	return nil
}

// Close stops the GC loop and closes the database.
func (s *Badger) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.stopCh)
		<-s.doneCh
		if cerr := s.db.Close(); cerr != nil {
			err = fmt.Errorf("badger: close db: %w", cerr)
		}
		s.logger.Info("badger store closed")
	})
	return err
}

// RegisterMetrics registers the size gauges and starts refreshing them.
func (s *Badger) RegisterMetrics(registry prometheus.Registerer) *Badger {
	s.metricsLSMSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mdm",
		Subsystem: "badger",
		Name:      "lsm_size_bytes",
		Help:      "Badger LSM tree size in bytes",
	})
	s.metricsValueLogSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mdm",
		Subsystem: "badger",
		Name:      "value_log_size_bytes",
		Help:      "Badger value log size in bytes",
	})
	s.metricsLastGCTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mdm",
		Subsystem: "badger",
		Name:      "last_gc_timestamp_seconds",
		Help:      "Unix timestamp of the last Badger value log GC",
	})
	registry.MustRegister(s.metricsLSMSize, s.metricsValueLogSize, s.metricsLastGCTime)
	s.updateMetrics()
	return s
}

func (s *Badger) updateMetrics() {
	if s.metricsLSMSize == nil {
		return
	}
	lsm, vlog := s.db.Size()
	s.metricsLSMSize.Set(float64(lsm))
	s.metricsValueLogSize.Set(float64(vlog))
	if ts := s.lastGCTime.Load(); ts > 0 {
		s.metricsLastGCTime.Set(float64(ts) / 1000.0)
	}
}

// gcLoop runs periodic value log GC and refreshes the gauges.
func (s *Badger) gcLoop() {
	defer close(s.doneCh)

	gc := time.NewTicker(s.cfg.GCInterval)
	defer gc.Stop()
	metrics := time.NewTicker(15 * time.Second)
	defer metrics.Stop()

	for {
		select {
		case <-gc.C:
			if s.cfg.InMemory {
				continue
			}
			if err := s.GC(); err != nil {
				s.logger.Error("badger gc failed", "error", err)
			}
		case <-metrics.C:
			s.updateMetrics()
		case <-s.stopCh:
			return
		}
	}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
