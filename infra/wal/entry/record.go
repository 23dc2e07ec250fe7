package entry

import (
	"encoding/binary"
	"time"
)

type RecordType uint8

const (
	RecordPlace RecordType = iota + 1
	RecordCancel
)

func (t RecordType) String() string {
	switch t {
	case RecordPlace:
		return "place"
	case RecordCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Record is one journaled command. Data is the command payload.
type Record struct {
	Type RecordType
	Seq  uint64
	Time int64
	Data []byte
}

func NewRecord(t RecordType, seq uint64, data []byte) *Record {
	return &Record{
		Type: t,
		Seq:  seq,
		Time: time.Now().UnixNano(),
		Data: data,
	}
}

// At returns the wall time the record was written.
func (r *Record) At() time.Time {
	return time.Unix(0, r.Time)
}

// Frame:
// [type:1][seq:8][time:8][len:4][payload][crc:4]
const (
	headerSize = 1 + 8 + 8 + 4
	crcSize    = 4
)

func (r *Record) frame() []byte {
	return r.appendFrame(nil)
}

// appendFrame writes the frame after dst, reusing its capacity.
func (r *Record) appendFrame(dst []byte) []byte {
	payloadLen := uint32(len(r.Data))
	start := len(dst)
	dst = append(dst, make([]byte, headerSize+int(payloadLen)+crcSize)...)
	buf := dst[start:]

	buf[0] = byte(r.Type)
	binary.BigEndian.PutUint64(buf[1:9], r.Seq)
	binary.BigEndian.PutUint64(buf[9:17], uint64(r.Time))
	binary.BigEndian.PutUint32(buf[17:21], payloadLen)
	copy(buf[headerSize:], r.Data)

	end := headerSize + int(payloadLen)
	binary.BigEndian.PutUint32(buf[end:], CRC32(buf[:end]))
	return dst
}
