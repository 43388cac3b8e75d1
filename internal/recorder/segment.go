package recorder

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yanun0323/errors"
)

const segmentSuffix = ".wal"

// segment is one open log file. Names sort in write order: prefix, UTC open
// time, then a counter that breaks ties within the same second.
type segment struct {
	file   *os.File
	w      *bufio.Writer
	size   int64
	opened time.Time
}

func segmentName(prefix string, opened time.Time, id uint64) string {
	return fmt.Sprintf("%s-%s-%06d%s", prefix, opened.Format("20060102-150405"), id, segmentSuffix)
}

// createSegment opens the next free segment name, bumping id past files that
// already exist.
func createSegment(cfg Config, id *uint64, now time.Time) (*segment, error) {
	for {
		*id++
		path := filepath.Join(cfg.Dir, segmentName(cfg.FilePrefix, now, *id))
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "create segment %s", path)
		}
		return &segment{file: file, w: bufio.NewWriterSize(file, cfg.BufferSize), opened: now}, nil
	}
}

func (s *segment) write(frame []byte) error {
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	s.size += int64(len(frame))
	return nil
}

func (s *segment) flush() error {
	if s == nil {
		return nil
	}
	return s.w.Flush()
}

func (s *segment) sync() error {
	if s == nil {
		return nil
	}
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.file.Sync()
}

func (s *segment) close() error {
	if s == nil {
		return nil
	}
	err := s.sync()
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// full reports whether n more bytes, or the segment's age, call for a new file.
func (s *segment) full(cfg Config, now time.Time, n int64) bool {
	if s == nil {
		return true
	}
	if cfg.SegmentMaxBytes > 0 && s.size > 0 && s.size+n > cfg.SegmentMaxBytes {
		return true
	}
	return cfg.SegmentMaxDuration > 0 && now.Sub(s.opened) >= cfg.SegmentMaxDuration
}

// SegmentFiles lists segment files for prefix in dir, oldest first.
func SegmentFiles(dir, prefix string) ([]string, error) {
	if prefix == "" {
		prefix = defaultFilePrefix
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix+"-") || !strings.HasSuffix(name, segmentSuffix) {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}
