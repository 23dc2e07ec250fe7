package snapshot

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"

	"localtrader/domain/orderbook"
)

// Read returns the latest snapshot in dir, or nil when there is none.
func Read(dir string) (*Snapshot, error) {
	b, err := os.ReadFile(filepath.Join(dir, fileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var s Snapshot
	if err := msgpack.Unmarshal(b, &s); err != nil {
		return nil, errors.Wrap(err, "decode snapshot")
	}
	return &s, nil
}

// Load restores the latest snapshot in dir into book and returns the journal
// sequence it covers. Without a snapshot the book is left alone and 0 returned.
func Load(dir string, book *orderbook.OrderBook) (uint64, error) {
	s, err := Read(dir)
	if err != nil || s == nil {
		return 0, err
	}

	st, err := s.State()
	if err != nil {
		return 0, err
	}
	if err := book.Restore(st); err != nil {
		return 0, errors.Wrap(err, "restore snapshot")
	}
	return s.Seq, nil
}
