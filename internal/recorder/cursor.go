package recorder

import (
	"errors"
	"io"
	"os"

	yerrors "github.com/yanun0323/errors"

	"hft/internal/schema"
)

// Cursor pulls records lazily across segment files. It can be rewound, which
// makes a recorded directory a restartable historical source.
//
// A frame cut short at the end of the newest segment is what a crash during
// a write leaves behind; the cursor stops there and reports it via Torn. The
// same cut anywhere else is an error.
type Cursor struct {
	cfg    PlaybackConfig
	files  []string
	idx    int
	file   *os.File
	reader *Reader
	torn   bool
}

// NewCursor lists the segments for cfg and positions before the first record.
func NewCursor(cfg PlaybackConfig) (*Cursor, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	files, err := SegmentFiles(cfg.Dir, cfg.FilePrefix)
	if err != nil {
		return nil, yerrors.Wrap(err, "list segments")
	}
	return &Cursor{cfg: cfg, files: files}, nil
}

// Next returns the next record or io.EOF after the last segment.
// The payload is only valid until the next call.
func (c *Cursor) Next() (schema.EventHeader, []byte, error) {
	for {
		if c.reader == nil {
			if c.idx >= len(c.files) {
				return schema.EventHeader{}, nil, io.EOF
			}
			file, err := os.Open(c.files[c.idx])
			if err != nil {
				return schema.EventHeader{}, nil, yerrors.Wrapf(err, "open %s", c.files[c.idx])
			}
			c.file = file
			c.reader = NewReader(file, ReaderOptions{
				DisableChecksum: c.cfg.DisableChecksum,
				MaxPayloadSize:  c.cfg.MaxPayloadSize,
			})
		}
		header, payload, err := c.reader.Next()
		if err == nil {
			return header, payload, nil
		}
		if errors.Is(err, ErrTruncated) && c.idx == len(c.files)-1 {
			c.torn = true
			c.closeFile()
			c.idx++
			return schema.EventHeader{}, nil, io.EOF
		}
		if err != io.EOF {
			return header, nil, yerrors.Wrapf(err, "read %s", c.files[c.idx])
		}
		c.closeFile()
		c.idx++
	}
}

// Torn reports whether the last segment ended in a partial frame.
func (c *Cursor) Torn() bool { return c.torn }

// Rewind restarts from the first segment.
func (c *Cursor) Rewind() {
	c.closeFile()
	c.idx = 0
	c.torn = false
}

// Close releases the open segment.
func (c *Cursor) Close() error {
	c.closeFile()
	return nil
}

func (c *Cursor) closeFile() {
	if c.file != nil {
		_ = c.file.Close()
	}
	c.file = nil
	c.reader = nil
}
