// ABOUTME: Append-only segmented record log with write-through fsync
// ABOUTME: Open/Append/LoadAll/Compact over numbered segment files

package storage

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/loamdb/loam/internal/logger"
	"github.com/loamdb/loam/pkg/document"
)

const (
	// MaxSegmentSize is the rotation threshold for a single segment file
	MaxSegmentSize = 64 << 20
)

// Log is the durable-storage collaborator: an append-only record log that
// persists document puts and tombstones, replayed in full on startup.
// Every append is fsynced before it returns (write-through).
type Log struct {
	path string // base path; segments are path.NNNNNN

	mu        sync.Mutex
	fd        *os.File
	seq       uint64
	fileSize  int64
	fileIndex int
	segLimit  int64
	closed    bool
	log       *logger.Logger
}

// Open opens or creates the record log at the given base path
func Open(path string, log *logger.Logger) (*Log, error) {
	if log == nil {
		log = logger.Nop()
	}
	l := &Log{path: path, segLimit: MaxSegmentSize, log: log.Component("storage")}

	segments, err := l.findSegments()
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}

	if len(segments) == 0 {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("open log %s: %w", path, err)
		}
		if err := l.openSegment(0); err != nil {
			return nil, err
		}
		return l, nil
	}

	// Establish the last sequence number from a full replay scan
	if err := l.replay(segments, func(rec *Record) {
		l.seq = rec.Seq
	}); err != nil {
		return nil, err
	}

	last := segments[len(segments)-1]
	fd, err := os.OpenFile(last.path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}
	stat, err := fd.Stat()
	if err != nil {
		_ = fd.Close()
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}

	l.fd = fd
	l.fileSize = stat.Size()
	l.fileIndex = last.index
	return l, nil
}

// Persist implements the document backend: durably record a put
func (l *Log) Persist(doc *document.Document) error {
	return l.append(&Record{Kind: KindPut, ID: doc.ID, Rev: doc.Rev, Fields: doc.Fields})
}

// PersistTombstone implements the document backend: durably record a delete
func (l *Log) PersistTombstone(id string, rev uint64) error {
	return l.append(&Record{Kind: KindTombstone, ID: id, Rev: rev})
}

// LoadAll replays every segment in order and returns the live documents
// and tombstones. Replay stops at the first damaged record, tolerating a
// torn tail from a crashed write.
func (l *Log) LoadAll() (map[string]*document.Document, map[string]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, nil, ErrLogClosed
	}

	segments, err := l.findSegments()
	if err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", l.path, err)
	}

	docs := make(map[string]*document.Document)
	dead := make(map[string]uint64)
	err = l.replay(segments, func(rec *Record) {
		switch rec.Kind {
		case KindPut:
			docs[rec.ID] = &document.Document{ID: rec.ID, Rev: rec.Rev, Fields: rec.Fields}
		case KindTombstone:
			delete(docs, rec.ID)
			dead[rec.ID] = rec.Rev
		}
	})
	if err != nil {
		return nil, nil, err
	}
	return docs, dead, nil
}

// Compact rewrites the live set and tombstones into a fresh segment and
// removes the older ones, reclaiming space from overwritten revisions
func (l *Log) Compact(docs []*document.Document, dead map[string]uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLogClosed
	}

	next := l.fileIndex + 1
	tmpPath := l.segmentPath(next) + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("compact %s: %w", l.path, err)
	}

	seq := uint64(0)
	size := int64(0)
	write := func(rec *Record) error {
		seq++
		rec.Seq = seq
		buf, err := rec.Encode()
		if err != nil {
			return err
		}
		n, err := tmp.Write(buf)
		size += int64(n)
		return err
	}

	for _, doc := range docs {
		if err := write(&Record{Kind: KindPut, ID: doc.ID, Rev: doc.Rev, Fields: doc.Fields}); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
			return fmt.Errorf("compact %s: %w", l.path, err)
		}
	}
	for id, rev := range dead {
		if err := write(&Record{Kind: KindTombstone, ID: id, Rev: rev}); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
			return fmt.Errorf("compact %s: %w", l.path, err)
		}
	}

	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("compact %s: %w", l.path, err)
	}
	if err := os.Rename(tmpPath, l.segmentPath(next)); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("compact %s: %w", l.path, err)
	}

	old := l.fd
	oldIndex := l.fileIndex
	l.fd = tmp
	l.fileSize = size
	l.fileIndex = next
	l.seq = seq
	if old != nil {
		_ = old.Close()
	}

	// Older segments are garbage once the new one is durable
	segments, err := l.findSegments()
	if err != nil {
		return nil
	}
	for _, seg := range segments {
		if seg.index <= oldIndex {
			if err := os.Remove(seg.path); err != nil {
				l.log.Warn("failed to remove old segment").Str("segment", seg.path).Err(err).Send()
			}
		}
	}
	l.log.Info("log compacted").Int("segment", next).Uint64("records", seq).Send()
	return nil
}

// Close closes the log
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.fd == nil {
		return nil
	}
	return l.fd.Close()
}

// append encodes, rotates if needed, writes, and fsyncs one record
func (l *Log) append(rec *Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLogClosed
	}

	rec.Seq = l.seq + 1
	buf, err := rec.Encode()
	if err != nil {
		return err
	}

	if l.fileSize+int64(len(buf)) > l.segLimit && l.fileSize > 0 {
		if err := l.rotate(); err != nil {
			return err
		}
	}

	n, err := l.fd.Write(buf)
	l.fileSize += int64(n)
	if err != nil {
		return fmt.Errorf("append record %d: %w", rec.Seq, err)
	}
	if err := l.fd.Sync(); err != nil {
		return fmt.Errorf("append record %d: %w", rec.Seq, err)
	}
	l.seq = rec.Seq
	return nil
}

// rotate closes the current segment and opens the next one
func (l *Log) rotate() error {
	if err := l.fd.Sync(); err != nil {
		return err
	}
	if err := l.fd.Close(); err != nil {
		return err
	}
	return l.openSegment(l.fileIndex + 1)
}

func (l *Log) openSegment(index int) error {
	fd, err := os.OpenFile(l.segmentPath(index), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open segment %d: %w", index, err)
	}
	l.fd = fd
	l.fileSize = 0
	l.fileIndex = index
	return nil
}

// replay streams every record of the given segments, in order, into fn.
// A damaged record ends the replay with a warning rather than an error:
// everything before it was fsynced and is intact.
func (l *Log) replay(segments []segment, fn func(*Record)) error {
	for _, seg := range segments {
		fd, err := os.Open(seg.path)
		if err != nil {
			return fmt.Errorf("replay %s: %w", seg.path, err)
		}

		rd := bufio.NewReader(fd)
		for {
			rec, err := ReadRecord(rd)
			if err == io.EOF {
				break
			}
			if err != nil {
				l.log.Warn("replay stopped at damaged record").
					Str("segment", seg.path).
					Err(err).
					Send()
				_ = fd.Close()
				return nil
			}
			fn(rec)
		}
		_ = fd.Close()
	}
	return nil
}

type segment struct {
	path  string
	index int
}

// findSegments lists the numbered segment files in index order
func (l *Log) findSegments() ([]segment, error) {
	dir := filepath.Dir(l.path)
	base := filepath.Base(l.path) + "."

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var segments []segment
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, base) || strings.HasSuffix(name, ".tmp") {
			continue
		}
		index, err := strconv.Atoi(strings.TrimPrefix(name, base))
		if err != nil {
			continue
		}
		segments = append(segments, segment{path: filepath.Join(dir, name), index: index})
	}
	sort.Slice(segments, func(i, j int) bool {
		return segments[i].index < segments[j].index
	})
	return segments, nil
}

func (l *Log) segmentPath(index int) string {
	return fmt.Sprintf("%s.%06d", l.path, index)
}
