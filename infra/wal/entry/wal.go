package entry

import (
	"errors"
	"io"
	"os"
	"sync"
)

type Config struct {
	Dir         string
	SegmentSize int64
	// Sync fsyncs after every append.
	Sync bool
}

type WAL struct {
	mu      sync.Mutex
	dir     string
	segSize int64
	sync    bool
	current *segment
	lastSeq uint64
}

// Open resumes appending at the newest segment of dir.
func Open(cfg Config) (*WAL, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	if cfg.SegmentSize <= 0 {
		cfg.SegmentSize = 64 << 20
	}

	idx, err := listSegments(cfg.Dir)
	if err != nil {
		return nil, err
	}
	w := &WAL{dir: cfg.Dir, segSize: cfg.SegmentSize, sync: cfg.Sync}

	start := 0
	if len(idx) > 0 {
		start = idx[len(idx)-1]
		if err := trimTornTail(segmentPath(cfg.Dir, start)); err != nil {
			return nil, err
		}
		last, err := Replay(cfg.Dir, 0, func(*Record) error { return nil })
		if err != nil {
			return nil, err
		}
		w.lastSeq = last
	}

	seg, err := openSegment(cfg.Dir, start)
	if err != nil {
		return nil, err
	}
	w.current = seg
	return w, nil
}

// Append writes r; sequences must increase.
func (w *WAL) Append(r *Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if r.Seq <= w.lastSeq {
		return errors.New("journal: non-monotonic seq")
	}
	frame := encodeFrame(r)
	err := w.current.append(frame.Bytes())
	frames.Put(frame)
	if err != nil {
		return err
	}
	if w.sync {
		if err := w.current.sync(); err != nil {
			return err
		}
	}
	w.lastSeq = r.Seq

	if w.current.offset >= w.segSize {
		return w.rotate()
	}
	return nil
}

func (w *WAL) LastSeq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeq
}

func (w *WAL) rotate() error {
	if err := w.current.close(); err != nil {
		return err
	}
	seg, err := openSegment(w.dir, w.current.index+1)
	if err != nil {
		return err
	}
	w.current = seg
	return nil
}

// TruncateBefore removes closed segments whose records are all at or below
// seq. The active segment is never removed.
func (w *WAL) TruncateBefore(seq uint64) (int, error) {
	w.mu.Lock()
	active := w.current.index
	w.mu.Unlock()

	idx, err := listSegments(w.dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, i := range idx {
		if i >= active {
			break
		}
		path := segmentPath(w.dir, i)
		maxSeq, err := maxSeqInSegment(path)
		if err != nil {
			continue
		}
		if maxSeq <= seq {
			if err := os.Remove(path); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.current.sync(); err != nil {
		return err
	}
	return w.current.close()
}

// trimTornTail cuts a partially written last frame so new appends start on a
// frame boundary.
func trimTornTail(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	var valid int64
	for {
		rec, err := readFrame(f)
		if err != nil {
			_ = f.Close()
			if err == io.EOF {
				return nil
			}
			if err == io.ErrUnexpectedEOF {
				return os.Truncate(path, valid)
			}
			return err
		}
		valid += int64(headerSize + len(rec.Data) + 4)
	}
}

func isEnd(err error) bool {
	return err == io.EOF || err == io.ErrUnexpectedEOF
}
