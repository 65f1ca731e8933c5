package entry

import (
	"fmt"
	"io"
	"os"
)

type ReplayHandler func(*Record) error

// Replay visits every record with Seq > after in order. A torn frame at the
// end of the newest segment is the trace of a crash mid-append and ends the
// replay; anywhere else it is an error.
func Replay(dir string, after uint64, fn ReplayHandler) (lastSeq uint64, err error) {
	idx, err := listSegments(dir)
	if err != nil {
		return 0, err
	}

	for n, i := range idx {
		f, err := os.Open(segmentPath(dir, i))
		if err != nil {
			return lastSeq, err
		}

		for {
			rec, err := readFrame(f)
			if err != nil {
				if err == io.EOF || (err == io.ErrUnexpectedEOF && n == len(idx)-1) {
					break
				}
				_ = f.Close()
				return lastSeq, fmt.Errorf("segment %d: %w", i, err)
			}

			if rec.Seq <= lastSeq {
				_ = f.Close()
				return lastSeq, fmt.Errorf("segment %d: non-monotonic seq %d", i, rec.Seq)
			}
			lastSeq = rec.Seq

			if rec.Seq <= after {
				continue
			}
			if err := fn(rec); err != nil {
				_ = f.Close()
				return lastSeq, err
			}
		}
		_ = f.Close()
	}

	return lastSeq, nil
}
