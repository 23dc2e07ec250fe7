package entry

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/cockroachdb/errors"
)

var (
	ErrCorrupt      = errors.New("journal corrupt")
	ErrNonMonotonic = errors.New("journal sequence not monotonic")
)

type ReplayHandler func(*Record) error

// Replay feeds every record with a sequence number above after to fn, oldest
// first, and returns the highest sequence number seen. A record cut short at the
// very end of the newest segment is treated as an interrupted write and ends the
// replay cleanly; anything else that fails to decode is ErrCorrupt.
func Replay(dir string, after uint64, fn ReplayHandler) (lastSeq uint64, err error) {
	segs, err := listSegments(dir)
	if err != nil {
		return 0, err
	}

	lastSeq = after
	var prev uint64
	for i, s := range segs {
		tail := i == len(segs)-1
		prev, err = replaySegment(s.path, tail, prev, func(rec *Record) error {
			if rec.Seq <= after {
				return nil
			}
			lastSeq = rec.Seq
			return fn(rec)
		})
		if err != nil {
			return lastSeq, err
		}
	}
	return lastSeq, nil
}

func replaySegment(path string, tail bool, prev uint64, fn ReplayHandler) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return prev, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	for {
		rec, err := readRecord(f)
		switch {
		case err == io.EOF:
			return prev, nil
		case errors.Is(err, io.ErrUnexpectedEOF) && tail:
			return prev, nil
		case err != nil:
			return prev, errors.Wrapf(err, "read %s", path)
		}

		if rec.Seq <= prev {
			return prev, errors.Wrapf(ErrNonMonotonic, "%s: seq %d after %d", path, rec.Seq, prev)
		}
		prev = rec.Seq

		if err := fn(rec); err != nil {
			return prev, errors.Wrapf(err, "apply seq %d", rec.Seq)
		}
	}
}

func readRecord(r io.Reader) (*Record, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	t := RecordType(header[0])
	seq := binary.BigEndian.Uint64(header[1:9])
	ts := binary.BigEndian.Uint64(header[9:17])
	l := binary.BigEndian.Uint32(header[17:21])

	data := make([]byte, int(l)+crcSize)
	if _, err := io.ReadFull(r, data); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	payload := data[:l]
	crc := binary.BigEndian.Uint32(data[l:])

	if !CRC32Valid(append(header, payload...), crc) {
		return nil, errors.Wrapf(ErrCorrupt, "crc mismatch at seq %d", seq)
	}
	if t != RecordPlace && t != RecordCancel {
		return nil, errors.Wrapf(ErrCorrupt, "unknown record type %d at seq %d", t, seq)
	}

	return &Record{
		Type: t,
		Seq:  seq,
		Time: int64(ts),
		Data: payload,
	}, nil
}
