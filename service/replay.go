package service

import (
	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"

	"localtrader/infra/wal"
	entrywal "localtrader/infra/wal/entry"
	"localtrader/snapshot"
)

/*
Recover rebuilds the book from the latest snapshot plus the journal tail.

IMPORTANT:
- This MUST run before accepting traffic
- Trades re-executed during replay go to the outbox (existing entries are
  kept) but are not pushed to subscribers
*/
func (s *OrderService) Recover(snapshotDir, journalDir string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	after, err := snapshot.Load(snapshotDir, s.book)
	if err != nil {
		return 0, errors.Wrap(err, "load snapshot")
	}

	applied := 0
	lastSeq, err := entrywal.Replay(journalDir, after, func(rec *entrywal.Record) error {
		applied++
		return s.apply(rec)
	})
	if err != nil {
		return lastSeq, errors.Wrap(err, "replay journal")
	}

	s.seqGen.Reset(lastSeq)
	s.updateResting()

	s.log.WithFields(log.Fields{
		"snapshot_seq": after,
		"last_seq":     lastSeq,
		"replayed":     applied,
	}).Info("recovery completed")
	return lastSeq, nil
}

func (s *OrderService) apply(rec *entrywal.Record) error {
	switch rec.Type {
	case entrywal.RecordPlace:
		o, err := wal.DecodePlace(rec.Data)
		if err != nil {
			return err
		}
		trades, err := s.book.SubmitAt(o, rec.At())
		if err != nil {
			return err
		}
		s.settle(trades, false)
		return nil

	case entrywal.RecordCancel:
		id, err := wal.DecodeCancel(rec.Data)
		if err != nil {
			return err
		}
		return s.book.Cancel(id)

	default:
		return errors.Newf("unknown record type %d", rec.Type)
	}
}
