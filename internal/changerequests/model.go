// Package changerequests records third-party correction requests for memory pages.
package changerequests

import (
	"time"

	"gorm.io/datatypes"
)

// Status is the moderation state of a request.
type Status string

// StatusPending marks a request nobody has reviewed yet.
const StatusPending Status = "pending"

// Source tells where a record was read from or written to.
type Source string

const (
	// SourcePrimary is the database store.
	SourcePrimary Source = "database"
	// SourceFallback is the JSON file store.
	SourceFallback Source = "fallback"
	// SourceNone means neither store accepted the record.
	SourceNone Source = "none"
)

// Record is one submitted change request.
type Record struct {
	ID             string                      `gorm:"column:id;primaryKey;size:36"`
	CodeUUID       string                      `gorm:"column:code_uuid;size:36;not null;index"`
	MemoryID       uint                        `gorm:"column:memory_id;not null;index"`
	RequesterName  string                      `gorm:"column:requester_name;size:190;not null"`
	RequesterEmail string                      `gorm:"column:requester_email;size:190;not null"`
	Message        string                      `gorm:"column:message;type:text"`
	Attachments    datatypes.JSONSlice[string] `gorm:"column:attachments"`
	Status         Status                      `gorm:"column:status;size:32;not null;default:pending"`
	CreatedAt      time.Time                   `gorm:"column:created_at;not null;index"`
	Source         Source                      `gorm:"-"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "memory_change_requests"
}

// Filter narrows a listing to the given memories or codes. An empty filter matches everything.
type Filter struct {
	MemoryIDs []uint
	CodeUUIDs []string
}

func (f Filter) empty() bool {
	return len(f.MemoryIDs) == 0 && len(f.CodeUUIDs) == 0
}

func (f Filter) matches(record Record) bool {
	if f.empty() {
		return true
	}
	for _, id := range f.MemoryIDs {
		if record.MemoryID == id {
			return true
		}
	}
	for _, codeUUID := range f.CodeUUIDs {
		if record.CodeUUID == codeUUID {
			return true
		}
	}
	return false
}
