package entry

import (
	"encoding/binary"
	"io"
	"os"
)

// maxSeqInSegment returns the highest sequence number in a segment by walking
// the headers. Only truncation uses it, so payloads are skipped unchecked.
func maxSeqInSegment(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var max uint64
	header := make([]byte, headerSize)
	for {
		if _, err := io.ReadFull(f, header); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return max, nil
			}
			return max, err
		}

		if seq := binary.BigEndian.Uint64(header[1:9]); seq > max {
			max = seq
		}

		payloadLen := binary.BigEndian.Uint32(header[17:21])
		if _, err := f.Seek(int64(payloadLen)+crcSize, io.SeekCurrent); err != nil {
			return max, err
		}
	}
}

// repairTail cuts a record left half-written by a crash off the end of a
// segment, so new appends start on a frame boundary. It returns the number of
// bytes dropped.
func repairTail(path string) (int64, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return 0, err
	}

	var good int64
	for {
		rec, err := readRecord(f)
		if err == io.EOF {
			return 0, nil
		}
		if err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return 0, err
		}
		good += int64(headerSize + len(rec.Data) + crcSize)
	}

	if err := f.Truncate(good); err != nil {
		return 0, err
	}
	return st.Size() - good, nil
}
