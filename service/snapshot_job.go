package service

import (
	"context"
	"time"

	"localtrader/snapshot"
)

// Snapshot captures the book together with the journal sequence it reflects.
func (s *OrderService) Snapshot() *snapshot.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot.New(s.seqGen.Current(), s.book.State())
}

// TakeSnapshot writes a snapshot and drops the journal segments it covers.
func (s *OrderService) TakeSnapshot(w *snapshot.Writer) error {
	snap := s.Snapshot()
	if err := w.Write(snap); err != nil {
		return err
	}

	removed := 0
	if s.entryWAL != nil {
		var err error
		if removed, err = s.entryWAL.TruncateBefore(snap.Seq); err != nil {
			return err
		}
	}
	s.log.WithField("seq", snap.Seq).WithField("segments_removed", removed).Info("snapshot written")
	return nil
}

func (s *OrderService) StartSnapshotJob(ctx context.Context, w *snapshot.Writer, interval time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := s.TakeSnapshot(w); err != nil {
					s.log.WithError(err).Error("snapshot failed")
				}
			}
		}
	}()
}

// StartCompactionJob periodically purges cancelled orders from the book.
func (s *OrderService) StartCompactionJob(ctx context.Context, interval time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := s.Compact(); n > 0 {
					s.log.WithField("purged", n).Debug("book compacted")
				}
			}
		}
	}()
}
