// Package entry is the per-pair command journal: every accepted command is
// framed, checksummed and appended before the worker applies it.
package entry

import "time"

type RecordType uint8

const (
	RecordPlace RecordType = iota + 1
	RecordCancel
	RecordUpdate
	RecordStopTrigger
	RecordOTCUpdate
	RecordRevert
)

func (t RecordType) String() string {
	switch t {
	case RecordPlace:
		return "place"
	case RecordCancel:
		return "cancel"
	case RecordUpdate:
		return "update"
	case RecordStopTrigger:
		return "stop_trigger"
	case RecordOTCUpdate:
		return "otc_update"
	case RecordRevert:
		return "revert"
	default:
		return "unknown"
	}
}

type Record struct {
	Type RecordType
	Seq  uint64
	Time int64
	Data []byte
}

func NewRecord(t RecordType, seq uint64, at time.Time, data []byte) *Record {
	return &Record{
		Type: t,
		Seq:  seq,
		Time: at.UnixNano(),
		Data: data,
	}
}
