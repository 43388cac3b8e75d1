// Package journal mirrors fills and order transitions from the event log into
// Postgres. It is a recorder.Sink: Append decodes and enqueues, a background
// goroutine writes batches. The event log stays the source of truth; a slow
// or unavailable database only costs journal rows.
package journal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/yanun0323/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"hft/internal/recorder"
	"hft/internal/schema"
	"hft/pkg/exception"
)

const (
	defaultQueueSize     = 4096
	defaultBatchSize     = 256
	defaultFlushInterval = 200 * time.Millisecond
)

// Config tunes the journal writer.
type Config struct {
	RunID         string
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	return c
}

// Store persists batches.
type Store interface {
	Write(ctx context.Context, batch Batch) error
}

// GormStore writes batches with gorm. Rows are unique per (run, seq), so
// replaying a log into the same run is idempotent.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore migrates the journal tables.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errors.Wrap(exception.ErrStoreUnavailable, "journal database is nil")
	}
	if err := db.AutoMigrate(&FillRow{}, &TransitionRow{}); err != nil {
		return nil, errors.Wrapf(exception.ErrStoreUnavailable, "migrate journal: %v", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Write(ctx context.Context, batch Batch) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ignore := tx.Clauses(clause.OnConflict{DoNothing: true})
		if len(batch.Fills) > 0 {
			if err := ignore.Create(&batch.Fills).Error; err != nil {
				return err
			}
		}
		if len(batch.Transitions) > 0 {
			if err := ignore.Create(&batch.Transitions).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Fills returns the journaled fills of a run in sequence order.
func (s *GormStore) Fills(ctx context.Context, runID string) ([]FillRow, error) {
	var rows []FillRow
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("seq").Find(&rows).Error
	return rows, err
}

type entry struct {
	fill *FillRow
	tr   *TransitionRow
}

// Journal is the asynchronous sink.
type Journal struct {
	cfg      Config
	log      zerolog.Logger
	registry *schema.Registry
	store    Store
	ch       chan entry
	wg       sync.WaitGroup

	started atomic.Bool
	closed  atomic.Bool
	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// New creates a journal writing to store.
func New(store Store, registry *schema.Registry, cfg Config, log zerolog.Logger) *Journal {
	cfg = cfg.withDefaults()
	return &Journal{
		cfg:      cfg,
		log:      log,
		registry: registry,
		store:    store,
		ch:       make(chan entry, cfg.QueueSize),
	}
}

// Start runs the writer goroutine until Close.
func (j *Journal) Start(ctx context.Context) error {
	if !j.started.CompareAndSwap(false, true) {
		return recorder.ErrAlreadyStarted
	}
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		j.run(ctx)
	}()
	return nil
}

// Close flushes queued rows and stops the writer.
func (j *Journal) Close() error {
	if j.closed.CompareAndSwap(false, true) {
		close(j.ch)
	}
	j.wg.Wait()
	return nil
}

// Append implements recorder.Sink. Records other than fills and transitions
// are ignored.
func (j *Journal) Append(header schema.EventHeader, payload []byte) error {
	if header.Type != schema.EventFill && header.Type != schema.EventOrderTransition {
		return nil
	}
	if j.closed.Load() {
		return recorder.ErrClosed
	}
	var b Batch
	if !b.add(j.registry, j.cfg.RunID, header, payload) {
		return errors.Wrapf(exception.ErrMalformedEvent, "journal %s seq %d", header.Type, header.Seq)
	}
	e := entry{}
	if len(b.Fills) > 0 {
		e.fill = &b.Fills[0]
	} else {
		e.tr = &b.Transitions[0]
	}
	select {
	case j.ch <- e:
		return nil
	default:
		j.dropped.Add(1)
		return recorder.ErrQueueFull
	}
}

// Stats returns rows written, dropped on a full queue and lost to failed writes.
func (j *Journal) Stats() (written, dropped, failed uint64) {
	return j.written.Load(), j.dropped.Load(), j.failed.Load()
}

func (j *Journal) run(ctx context.Context) {
	ticker := time.NewTicker(j.cfg.FlushInterval)
	defer ticker.Stop()

	var batch Batch
	take := func(e entry) {
		if e.fill != nil {
			batch.Fills = append(batch.Fills, *e.fill)
		}
		if e.tr != nil {
			batch.Transitions = append(batch.Transitions, *e.tr)
		}
	}
	flush := func() {
		if batch.Len() == 0 {
			return
		}
		n := uint64(batch.Len())
		wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := j.store.Write(wctx, batch)
		cancel()
		if err != nil {
			j.failed.Add(n)
			j.log.Error().Err(err).Uint64("rows", n).Msg("journal write failed")
		} else {
			j.written.Add(n)
		}
		batch = Batch{}
	}

	for {
		select {
		case e, ok := <-j.ch:
			if !ok {
				flush()
				return
			}
			take(e)
			if batch.Len() >= j.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case e, ok := <-j.ch:
					if !ok {
						flush()
						return
					}
					take(e)
				default:
					flush()
					return
				}
			}
		}
	}
}
