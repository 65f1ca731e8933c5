package entry

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"spotex/infra/memory"
)

// Frame:
// [type:1][seq:8][time:8][len:4][payload][crc:4]
const headerSize = 21

var ErrCorrupt = errors.New("journal: crc mismatch")

var frames = memory.NewPool(func() *bytes.Buffer { return new(bytes.Buffer) }, (*bytes.Buffer).Reset)

// encodeFrame writes r into a pooled buffer; the caller returns it with frames.Put.
func encodeFrame(r *Record) *bytes.Buffer {
	buf := frames.Get()
	buf.Grow(headerSize + len(r.Data) + 4)

	var header [headerSize]byte
	header[0] = byte(r.Type)
	binary.BigEndian.PutUint64(header[1:9], r.Seq)
	binary.BigEndian.PutUint64(header[9:17], uint64(r.Time))
	binary.BigEndian.PutUint32(header[17:21], uint32(len(r.Data)))
	buf.Write(header[:])
	buf.Write(r.Data)

	buf.Write(binary.BigEndian.AppendUint32(nil, crc32.ChecksumIEEE(buf.Bytes())))
	return buf
}

// readFrame returns io.EOF at a clean end and io.ErrUnexpectedEOF on a torn
// tail.
func readFrame(r io.Reader) (*Record, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	l := binary.BigEndian.Uint32(header[17:21])

	body := make([]byte, l+4)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	h := crc32.NewIEEE()
	h.Write(header)
	h.Write(body[:l])
	if h.Sum32() != binary.BigEndian.Uint32(body[l:]) {
		return nil, fmt.Errorf("%w at seq %d", ErrCorrupt, binary.BigEndian.Uint64(header[1:9]))
	}

	return &Record{
		Type: RecordType(header[0]),
		Seq:  binary.BigEndian.Uint64(header[1:9]),
		Time: int64(binary.BigEndian.Uint64(header[9:17])),
		Data: body[:l],
	}, nil
}
