package storage

import "time"

// TurnRecord is a journaled conversation turn.
type TurnRecord struct {
	ID        int64
	Provider  string
	Prompt    string
	Response  string
	CreatedAt time.Time
}

type AuditEntry struct {
	Actor    string
	Action   string
	Provider string
	MetaJSON string
}

type AuditRecord struct {
	ID int64
	AuditEntry
	CreatedAt time.Time
}
