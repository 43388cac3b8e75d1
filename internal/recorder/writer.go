package recorder

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	yerrors "github.com/yanun0323/errors"

	"hft/internal/bus"
	"hft/internal/schema"
)

var (
	ErrQueueFull      = errors.New("event log: queue full")
	ErrClosed         = errors.New("event log: writer closed")
	ErrNotStarted     = errors.New("event log: writer not started")
	ErrAlreadyStarted = errors.New("event log: writer already started")
)

type entry struct {
	header  schema.EventHeader
	payload []byte
}

// Writer appends frames to rotating segment files. Callers only enqueue;
// one goroutine owns the files.
type Writer struct {
	cfg   Config
	queue *bus.Queue[entry]
	wg    sync.WaitGroup

	started atomic.Bool
	failed  atomic.Pointer[error]
	written atomic.Uint64
	dropped atomic.Uint64
}

// NewWriter validates cfg and creates the target directory.
func NewWriter(cfg Config) (*Writer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, yerrors.Wrapf(err, "create %s", cfg.Dir)
	}
	return &Writer{cfg: cfg, queue: bus.NewQueue[entry](cfg.QueueSize)}, nil
}

// Start runs the write loop until Close, or until ctx is done. Either way
// the frames already queued are written before the loop exits.
func (w *Writer) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop(ctx)
	}()
	return nil
}

// Close stops accepting frames, waits for the queue to drain and returns the
// first write error.
func (w *Writer) Close() error {
	w.queue.Close()
	w.wg.Wait()
	return w.Err()
}

// Err returns the first write error, if any.
func (w *Writer) Err() error {
	if p := w.failed.Load(); p != nil {
		return *p
	}
	return nil
}

// TryAppend enqueues a frame without blocking.
func (w *Writer) TryAppend(header schema.EventHeader, payload []byte) error {
	if !w.started.Load() {
		return ErrNotStarted
	}
	if err := w.Err(); err != nil {
		return err
	}
	if uint64(len(payload)) > maxPayloadLen {
		return ErrPayloadTooLarge
	}
	if header.Version == 0 {
		header.Version = schema.SchemaVersion
	}
	if w.cfg.CopyPayload && len(payload) > 0 {
		payload = append([]byte(nil), payload...)
	}
	switch err := w.queue.TryPublish(entry{header: header, payload: payload}); {
	case err == nil:
		return nil
	case err == bus.ErrQueueFull:
		w.dropped.Add(1)
		return ErrQueueFull
	default:
		return ErrClosed
	}
}

// Append implements Sink.
func (w *Writer) Append(header schema.EventHeader, payload []byte) error {
	return w.TryAppend(header, payload)
}

// Stats returns frames written and frames dropped on a full queue.
func (w *Writer) Stats() (written, dropped uint64) {
	return w.written.Load(), w.dropped.Load()
}

func (w *Writer) loop(ctx context.Context) {
	var (
		seg   *segment
		segID uint64
		frame []byte
	)
	write := func(e entry) bool {
		now := time.Now().UTC()
		frame = AppendRecord(frame[:0], e.header, e.payload)
		if seg.full(w.cfg, now, int64(len(frame))) {
			if err := seg.close(); err != nil {
				w.fail(err)
				return false
			}
			var err error
			if seg, err = createSegment(w.cfg, &segID, now); err != nil {
				w.fail(err)
				return false
			}
		}
		if err := seg.write(frame); err != nil {
			w.fail(err)
			return false
		}
		w.written.Add(1)
		return true
	}
	drain := func() {
		for {
			e, ok := w.queue.TryPop()
			if !ok || !write(e) {
				return
			}
		}
	}

	flushC, stopFlush := ticker(w.cfg.FlushInterval)
	defer stopFlush()
	syncC, stopSync := ticker(w.cfg.SyncInterval)
	defer stopSync()
	defer func() {
		w.queue.Close()
		if err := seg.close(); err != nil {
			w.fail(err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			drain()
			return
		case <-w.queue.Done():
			drain()
			return
		case e := <-w.queue.C():
			if !write(e) {
				return
			}
		case <-flushC:
			if err := seg.flush(); err != nil {
				w.fail(err)
				return
			}
		case <-syncC:
			if err := seg.sync(); err != nil {
				w.fail(err)
				return
			}
		}
	}
}

func (w *Writer) fail(err error) {
	w.failed.CompareAndSwap(nil, &err)
}

func ticker(d time.Duration) (<-chan time.Time, func()) {
	if d <= 0 {
		return nil, func() {}
	}
	t := time.NewTicker(d)
	return t.C, t.Stop
}
