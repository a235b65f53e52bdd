package domain

import "time"

// Cursor is the last block whose logs were durably recorded for a stream.
type Cursor struct {
	Stream      string
	BlockNumber uint64
	UpdatedAt   time.Time
}
