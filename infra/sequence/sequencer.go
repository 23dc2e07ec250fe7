package sequence

import "sync/atomic"

// Sequencer issues the strictly increasing sequence numbers stamped on journal
// records. After a restart it is moved past everything already journaled.
type Sequencer struct {
	last atomic.Uint64
}

// New creates a sequencer whose first Next returns start+1.
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(start)
	return s
}

// Next returns the next sequence number.
func (s *Sequencer) Next() uint64 {
	return s.last.Add(1)
}

// Current returns the last issued sequence number.
func (s *Sequencer) Current() uint64 {
	return s.last.Load()
}

// Reset sets the last issued number. Only used while restoring.
func (s *Sequencer) Reset(v uint64) {
	s.last.Store(v)
}

// Observe moves the sequencer forward to v if it is behind.
func (s *Sequencer) Observe(v uint64) {
	for {
		cur := s.last.Load()
		if cur >= v || s.last.CompareAndSwap(cur, v) {
			return
		}
	}
}
