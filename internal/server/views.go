package server

import (
	"time"

	"github.com/MarcoPoloResearchLab/memorial/backend/internal/changerequests"
	"github.com/MarcoPoloResearchLab/memorial/backend/internal/memories"
	"github.com/MarcoPoloResearchLab/memorial/backend/internal/money"
	"github.com/MarcoPoloResearchLab/memorial/backend/internal/payments"
)

type memoryView struct {
	ID              uint     `json:"id"`
	FirstName       string   `json:"firstName"`
	LastName        string   `json:"lastName"`
	MiddleName      string   `json:"middleName,omitempty"`
	BirthDate       string   `json:"birthDate,omitempty"`
	DeathDate       string   `json:"deathDate,omitempty"`
	Biography       string   `json:"biography,omitempty"`
	Epitaph         string   `json:"epitaph,omitempty"`
	BurialLatitude  *float64 `json:"burialLatitude,omitempty"`
	BurialLongitude *float64 `json:"burialLongitude,omitempty"`
	BurialAddress   string   `json:"burialAddress,omitempty"`
	MainPhoto       string   `json:"mainPhoto,omitempty"`
	Archive         []string `json:"archive"`
	IsExtended      bool     `json:"isExtended"`
}

func newMemoryView(memory memories.Memory) memoryView {
	archive := make([]string, 0, len(memory.Archive))
	for _, item := range memory.Archive {
		if item.Photo != "" {
			archive = append(archive, item.Photo)
		}
	}
	return memoryView{
		ID:              memory.ID,
		FirstName:       memory.FirstName,
		LastName:        memory.LastName,
		MiddleName:      memory.MiddleName,
		BirthDate:       memory.BirthDate,
		DeathDate:       memory.DeathDate,
		Biography:       memory.Biography,
		Epitaph:         memory.Epitaph,
		BurialLatitude:  memory.BurialLatitude,
		BurialLongitude: memory.BurialLongitude,
		BurialAddress:   memory.BurialAddress,
		MainPhoto:       memory.MainPhoto,
		Archive:         archive,
		IsExtended:      memory.Extended,
	}
}

type codePageView struct {
	UUID                string      `json:"uuid"`
	Status              string      `json:"status"`
	Memory              *memoryView `json:"memory,omitempty"`
	PhotoExtensionPrice int64       `json:"photoExtensionPrice"`
	CanEdit             bool        `json:"canEdit"`
}

type codeListItemView struct {
	UUID     string `json:"uuid"`
	Label    string `json:"label,omitempty"`
	Status   string `json:"status"`
	MemoryID *uint  `json:"memoryId,omitempty"`
	Name     string `json:"name,omitempty"`
}

func newCodeListItemView(code memories.QrCode) codeListItemView {
	item := codeListItemView{UUID: code.UUID, Label: code.Label, Status: string(code.Status), MemoryID: code.MemoryID}
	if code.Memory != nil {
		item.Name = fullName(*code.Memory)
	}
	return item
}

func fullName(memory memories.Memory) string {
	name := memory.LastName
	for _, part := range []string{memory.FirstName, memory.MiddleName} {
		if part == "" {
			continue
		}
		if name != "" {
			name += " "
		}
		name += part
	}
	return name
}

type failedFileView struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// quotaView carries the fields a client needs to render the paywall or the upload counter.
type quotaView struct {
	CanUpload    bool  `json:"canUpload"`
	CurrentCount int   `json:"currentCount"`
	IsExtended   bool  `json:"isExtended"`
	FreeLimit    int   `json:"freeLimit"`
	Remaining    int   `json:"remaining"`
	Price        int64 `json:"price"`
}

func newQuotaView(status memories.QuotaStatus) quotaView {
	return quotaView{
		CanUpload:    status.CanUpload,
		CurrentCount: status.CurrentCount,
		IsExtended:   status.Extended,
		FreeLimit:    status.FreeLimit,
		Remaining:    status.Remaining,
		Price:        wholeUnits(status.Price),
	}
}

func newDenialView(denial memories.QuotaExceeded) quotaView {
	return quotaView{
		CanUpload:    false,
		CurrentCount: denial.CurrentCount,
		IsExtended:   denial.Extended,
		FreeLimit:    denial.Limit,
		Remaining:    denial.Remaining,
		Price:        wholeUnits(denial.Price),
	}
}

type uploadView struct {
	Success       bool             `json:"success"`
	UUID          string           `json:"uuid"`
	UploadType    string           `json:"uploadType,omitempty"`
	MainPhoto     string           `json:"mainPhoto,omitempty"`
	Archived      []string         `json:"archived"`
	Denied        []string         `json:"denied,omitempty"`
	Ignored       []string         `json:"ignored,omitempty"`
	Failed        []failedFileView `json:"failed,omitempty"`
	QuotaExceeded *quotaView       `json:"quotaExceeded,omitempty"`
	Extension     string           `json:"extension,omitempty"`
	Memory        memoryView       `json:"memory"`
}

func newUploadView(code memories.QrCode, memory memories.Memory, upload memories.UploadResult) uploadView {
	view := uploadView{
		Success:    !upload.Rejected(),
		UUID:       code.UUID,
		UploadType: string(upload.Intent),
		MainPhoto:  upload.MainPhoto,
		Archived:   append([]string{}, upload.Archived...),
		Denied:     upload.Denied,
		Ignored:    upload.Ignored,
		Memory:     newMemoryView(memory),
	}
	for _, failed := range upload.Failed {
		message := ""
		if failed.Err != nil {
			message = failed.Err.Error()
		}
		view.Failed = append(view.Failed, failedFileView{Name: failed.Name, Error: message})
	}
	if upload.Denial != nil {
		denial := newDenialView(*upload.Denial)
		view.QuotaExceeded = &denial
	}
	return view
}

type previewView struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

func newPreviewViews(previews []memories.Preview) []previewView {
	views := make([]previewView, 0, len(previews))
	for _, preview := range previews {
		views = append(views, previewView{Name: preview.Name, Path: preview.Path, Size: preview.Size})
	}
	return views
}

type changeRequestView struct {
	ID             string   `json:"id"`
	UUID           string   `json:"uuid"`
	MemoryID       uint     `json:"memoryId"`
	RequesterName  string   `json:"requesterName"`
	RequesterEmail string   `json:"requesterEmail"`
	Message        string   `json:"message"`
	Attachments    []string `json:"attachments"`
	Status         string   `json:"status"`
	CreatedAt      string   `json:"createdAt"`
	Source         string   `json:"source"`
}

func newChangeRequestViews(records []changerequests.Record) []changeRequestView {
	views := make([]changeRequestView, 0, len(records))
	for _, record := range records {
		attachments := []string(record.Attachments)
		if attachments == nil {
			attachments = []string{}
		}
		views = append(views, changeRequestView{
			ID:             record.ID,
			UUID:           record.CodeUUID,
			MemoryID:       record.MemoryID,
			RequesterName:  record.RequesterName,
			RequesterEmail: record.RequesterEmail,
			Message:        record.Message,
			Attachments:    attachments,
			Status:         string(record.Status),
			CreatedAt:      record.CreatedAt.UTC().Format(time.RFC3339),
			Source:         string(record.Source),
		})
	}
	return views
}

type transactionView struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	Amount       string    `json:"amount"`
	BalanceAfter string    `json:"balanceAfter"`
	MemoryID     *uint     `json:"memoryId,omitempty"`
	Note         string    `json:"note,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

func newTransactionViews(transactions []payments.Transaction) []transactionView {
	views := make([]transactionView, 0, len(transactions))
	for _, entry := range transactions {
		views = append(views, transactionView{
			ID:           entry.UUID,
			Kind:         string(entry.Kind),
			Amount:       entry.Amount().String(),
			BalanceAfter: entry.BalanceAfter().String(),
			MemoryID:     entry.MemoryID,
			Note:         entry.Note,
			CreatedAt:    entry.CreatedAt.UTC(),
		})
	}
	return views
}

// wholeUnits renders a price as the integer the paywall displays.
func wholeUnits(amount money.Amount) int64 {
	return amount.Cents() / 100
}
