package memories

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// CodeStatus is the lifecycle state of a QR code.
type CodeStatus string

const (
	// CodeStatusPrinted marks an issued code that has not been claimed yet.
	CodeStatusPrinted CodeStatus = "printed"
	// CodeStatusPublic marks a claimed code whose memory page is visible.
	CodeStatusPublic CodeStatus = "public"
	// CodeStatusBlocked marks a code taken out of circulation.
	CodeStatusBlocked CodeStatus = "blocked"
)

// QrCode is one printed code. It links to exactly one Memory once claimed.
type QrCode struct {
	ID        uint       `gorm:"column:id;primaryKey"`
	UUID      string     `gorm:"column:uuid;size:36;uniqueIndex;not null"`
	Label     string     `gorm:"column:label;size:190"`
	Status    CodeStatus `gorm:"column:status;size:32;not null;default:printed;index"`
	CreatorID *uint      `gorm:"column:creator_id;index"`
	ClientID  *uint      `gorm:"column:client_id;index"`
	MemoryID  *uint      `gorm:"column:memory_id;uniqueIndex"`
	Memory    *Memory    `gorm:"foreignKey:MemoryID"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (QrCode) TableName() string {
	return "qr_codes"
}

// OwnedBy reports whether the code was claimed by the user.
func (c QrCode) OwnedBy(userID uint) bool {
	return c.ClientID != nil && userID != 0 && *c.ClientID == userID
}

// Memory is one memorial profile. MainPhoto is kept apart from the archive sequence.
type Memory struct {
	ID              uint           `gorm:"column:id;primaryKey"`
	ClientID        uint           `gorm:"column:client_id;not null;index"`
	FirstName       string         `gorm:"column:first_name;size:190"`
	LastName        string         `gorm:"column:last_name;size:190"`
	MiddleName      string         `gorm:"column:middle_name;size:190"`
	BirthDate       string         `gorm:"column:birth_date;size:10"`
	DeathDate       string         `gorm:"column:death_date;size:10"`
	Biography       string         `gorm:"column:biography;type:text"`
	Epitaph         string         `gorm:"column:epitaph;type:text"`
	BurialLatitude  *float64       `gorm:"column:burial_lat"`
	BurialLongitude *float64       `gorm:"column:burial_lng"`
	BurialAddress   string         `gorm:"column:burial_address;size:512"`
	MainPhoto       string         `gorm:"column:main_photo;size:512;not null;default:''"`
	Extended        bool           `gorm:"column:is_extended;not null;default:false"`
	Archive         []ArchivePhoto `gorm:"foreignKey:MemoryID;constraint:OnDelete:CASCADE"`
	CreatedAt       time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt       gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

// TableName provides the explicit table binding for GORM.
func (Memory) TableName() string {
	return "memories"
}

// HasMainPhoto reports whether a main photo is set.
func (m *Memory) HasMainPhoto() bool {
	return strings.TrimSpace(m.MainPhoto) != ""
}

// AttachmentPaths lists every stored file referenced by the memory, main photo first.
func (m *Memory) AttachmentPaths() []string {
	paths := make([]string, 0, len(m.Archive)+1)
	if m.HasMainPhoto() {
		paths = append(paths, m.MainPhoto)
	}
	for _, item := range m.Archive {
		if strings.TrimSpace(item.Photo) != "" {
			paths = append(paths, item.Photo)
		}
	}
	return paths
}

func (m *Memory) nextArchivePosition() int {
	next := 0
	for _, item := range m.Archive {
		if item.Position >= next {
			next = item.Position + 1
		}
	}
	return next
}

// ArchivePhoto is one additional photo of a memory. An empty path marks an empty slot.
type ArchivePhoto struct {
	ID        uint      `gorm:"column:id;primaryKey"`
	MemoryID  uint      `gorm:"column:memory_id;not null;index"`
	Photo     string    `gorm:"column:photo;size:512"`
	Position  int       `gorm:"column:position;not null;default:0"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (ArchivePhoto) TableName() string {
	return "memory_archive_photos"
}

// Profile carries the editable text fields of a memory.
type Profile struct {
	FirstName       string
	LastName        string
	MiddleName      string
	BirthDate       string
	DeathDate       string
	Biography       string
	Epitaph         string
	BurialLatitude  *float64
	BurialLongitude *float64
	BurialAddress   string
}

// Apply copies the profile onto the memory. A burial place without a latitude is dropped.
func (p Profile) Apply(memory *Memory) {
	memory.FirstName = strings.TrimSpace(p.FirstName)
	memory.LastName = strings.TrimSpace(p.LastName)
	memory.MiddleName = strings.TrimSpace(p.MiddleName)
	memory.BirthDate = strings.TrimSpace(p.BirthDate)
	memory.DeathDate = strings.TrimSpace(p.DeathDate)
	memory.Biography = strings.TrimSpace(p.Biography)
	memory.Epitaph = strings.TrimSpace(p.Epitaph)
	if p.BurialLatitude == nil {
		memory.BurialLatitude = nil
		memory.BurialLongitude = nil
		memory.BurialAddress = ""
		return
	}
	memory.BurialLatitude = p.BurialLatitude
	memory.BurialLongitude = p.BurialLongitude
	memory.BurialAddress = strings.TrimSpace(p.BurialAddress)
}

// OwnedMemory identifies a memory together with the code that publishes it.
type OwnedMemory struct {
	MemoryID uint
	CodeUUID string
}
