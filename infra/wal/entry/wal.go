// Package entry is the journal of accepted commands. Records are appended to
// size- and age-bounded segment files and replayed in order on startup.
package entry

import (
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"localtrader/infra/memory"
)

// framePool holds encode buffers sized for a typical place record.
var framePool = memory.NewBufferPool(256)

type Config struct {
	Dir             string
	SegmentSize     int64
	SegmentDuration time.Duration
	// Sync fsyncs every append.
	Sync bool
}

type WAL struct {
	mu sync.Mutex

	dir         string
	segSize     int64
	segDuration time.Duration
	sync        bool
	current     *segment
	lastRotate  time.Time
	closed      bool
}

// Open continues the newest segment in cfg.Dir, creating the directory and a
// first segment when needed.
func Open(cfg Config) (*WAL, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create journal dir")
	}

	segs, err := listSegments(cfg.Dir)
	if err != nil {
		return nil, err
	}
	index := 0
	if len(segs) > 0 {
		newest := segs[len(segs)-1]
		index = newest.index
		if _, err := repairTail(newest.path); err != nil {
			return nil, errors.Wrapf(err, "repair %s", newest.path)
		}
	}

	seg, err := openSegment(cfg.Dir, index)
	if err != nil {
		return nil, err
	}

	return &WAL{
		dir:         cfg.Dir,
		segSize:     cfg.SegmentSize,
		segDuration: cfg.SegmentDuration,
		sync:        cfg.Sync,
		current:     seg,
		lastRotate:  time.Now(),
	}, nil
}

func (w *WAL) Dir() string { return w.dir }

// Append writes one record. A record is either fully on disk and synced when
// Append returns nil, or absent: on error the segment is cut back to where it
// was, so a rejected command never reappears on replay.
func (w *WAL) Append(r *Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.New("journal closed")
	}
	if w.shouldRotate() {
		if err := w.rotate(); err != nil {
			return errors.Wrapf(err, "rotate before seq %d", r.Seq)
		}
	}

	buf := framePool.Get()
	defer framePool.Put(buf)
	buf.B = r.appendFrame(buf.B)

	start := w.current.offset
	err := w.current.append(buf.B)
	if err == nil && w.sync {
		err = w.current.sync()
	}
	if err != nil {
		if terr := w.current.truncate(start); terr != nil {
			err = errors.CombineErrors(err, terr)
		}
		return errors.Wrapf(err, "append seq %d", r.Seq)
	}
	return nil
}

func (w *WAL) shouldRotate() bool {
	if w.current.offset == 0 {
		return false
	}
	if w.segSize > 0 && w.current.offset >= w.segSize {
		return true
	}
	return w.segDuration > 0 && time.Since(w.lastRotate) >= w.segDuration
}

// rotate switches to the next segment. The current one stays open until its
// successor exists.
func (w *WAL) rotate() error {
	if err := w.current.sync(); err != nil {
		return errors.Wrap(err, "sync before rotate")
	}
	seg, err := openSegment(w.dir, w.current.index+1)
	if err != nil {
		return err
	}
	_ = w.current.close()
	w.current = seg
	w.lastRotate = time.Now()
	return nil
}

// TruncateBefore removes every closed segment whose records all have a
// sequence number <= seq. The segment being written is never removed.
func (w *WAL) TruncateBefore(seq uint64) (int, error) {
	w.mu.Lock()
	current := w.current.index
	w.mu.Unlock()

	segs, err := listSegments(w.dir)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, s := range segs {
		if s.index >= current {
			continue
		}
		maxSeq, err := maxSeqInSegment(s.path)
		if err != nil {
			return removed, err
		}
		if maxSeq <= seq {
			if err := os.Remove(s.path); err != nil {
				return removed, errors.Wrapf(err, "remove %s", s.path)
			}
			removed++
		}
	}
	return removed, nil
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.current.sync(); err != nil {
		_ = w.current.close()
		return err
	}
	return w.current.close()
}
