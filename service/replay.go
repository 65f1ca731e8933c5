package service

import (
	"fmt"
	"time"

	entrywal "spotex/infra/wal/entry"
)

// JournalEntry is one decoded journal record.
type JournalEntry struct {
	Type    entrywal.RecordType
	Seq     uint64
	At      time.Time
	Command entrywal.Command
}

/*
ReplayJournal decodes the journal in dir after seq and hands every entry to fn.

The journal is an audit trail: books are rebuilt from the store, never by
re-running these commands.
*/
func ReplayJournal(dir string, after uint64, fn func(JournalEntry) error) (uint64, error) {
	return entrywal.Replay(dir, after, func(rec *entrywal.Record) error {
		cmd, err := entrywal.UnmarshalCommand(rec.Data)
		if err != nil {
			return fmt.Errorf("journal record %d: %w", rec.Seq, err)
		}
		return fn(JournalEntry{
			Type:    rec.Type,
			Seq:     rec.Seq,
			At:      time.Unix(0, rec.Time).UTC(),
			Command: cmd,
		})
	})
}
