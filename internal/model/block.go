package model

import "time"

// Block is the short-lived row that reserves a resource interval for one
// session while its cart is open.  At most one active block exists per
// session, resource and interval.
type Block struct {
	ID         uint64       // bb_block.id
	SessionID  string       // bb_block.session_id
	ResourceID uint64       // bb_block.resource_id
	Interval   TimeInterval // bb_block.from_ / to_
	Active     bool         // bb_block.active
	EntryDate  time.Time    // bb_block.entry_date
}
