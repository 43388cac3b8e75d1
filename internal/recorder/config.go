package recorder

import (
	"time"

	"github.com/yanun0323/errors"

	"hft/pkg/exception"
)

const (
	defaultFilePrefix               = "events"
	defaultSegmentMaxBytes    int64 = 256 << 20
	defaultSegmentMaxDuration       = 15 * time.Minute
	defaultQueueSize                = 8192
	defaultBufferSize               = 128 << 10
	defaultFlushInterval            = 50 * time.Millisecond
)

// Config controls the event log writer. Zero sizes take defaults; zero
// intervals disable the timed flush or fsync.
type Config struct {
	Dir                string
	FilePrefix         string
	SegmentMaxBytes    int64
	SegmentMaxDuration time.Duration
	QueueSize          int
	BufferSize         int
	FlushInterval      time.Duration
	SyncInterval       time.Duration
	CopyPayload        bool
}

// DefaultConfig returns the writer settings used by the trader.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:                dir,
		FilePrefix:         defaultFilePrefix,
		SegmentMaxBytes:    defaultSegmentMaxBytes,
		SegmentMaxDuration: defaultSegmentMaxDuration,
		QueueSize:          defaultQueueSize,
		BufferSize:         defaultBufferSize,
		FlushInterval:      defaultFlushInterval,
		CopyPayload:        true,
	}
}

func (c Config) withDefaults() Config {
	if c.FilePrefix == "" {
		c.FilePrefix = defaultFilePrefix
	}
	if c.SegmentMaxBytes == 0 {
		c.SegmentMaxBytes = defaultSegmentMaxBytes
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.BufferSize == 0 {
		c.BufferSize = defaultBufferSize
	}
	return c
}

func (c Config) Validate() error {
	checks := []struct {
		bad  bool
		what string
	}{
		{c.Dir == "", "dir is empty"},
		{c.FilePrefix == "", "file prefix is empty"},
		{c.SegmentMaxBytes < int64(RecordSize(0)), "segment max bytes below one frame"},
		{c.SegmentMaxDuration < 0, "negative segment max duration"},
		{c.QueueSize <= 0, "queue size must be positive"},
		{c.BufferSize <= 0, "buffer size must be positive"},
		{c.FlushInterval < 0, "negative flush interval"},
		{c.SyncInterval < 0, "negative sync interval"},
	}
	for _, chk := range checks {
		if chk.bad {
			return errors.Wrapf(exception.ErrConfigInvalidValue, "event log: %s", chk.what)
		}
	}
	return nil
}
