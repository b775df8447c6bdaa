package changerequests

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const fallbackFilePrefix = "mcr_"

// Store persists change requests.
type Store interface {
	Save(ctx context.Context, record Record) error
	Latest(ctx context.Context, filter Filter, limit int) ([]Record, error)
}

// DatabaseStore keeps change requests in the memory_change_requests table.
type DatabaseStore struct {
	db *gorm.DB
}

// NewDatabaseStore wraps a gorm handle.
func NewDatabaseStore(db *gorm.DB) (*DatabaseStore, error) {
	if db == nil {
		return nil, errors.New("changerequests: database handle is required")
	}
	return &DatabaseStore{db: db}, nil
}

// Save inserts the record.
func (s *DatabaseStore) Save(ctx context.Context, record Record) error {
	return s.db.WithContext(ctx).Create(&record).Error
}

// Latest returns matching records, newest first.
func (s *DatabaseStore) Latest(ctx context.Context, filter Filter, limit int) ([]Record, error) {
	query := s.db.WithContext(ctx).Order("created_at DESC, id DESC")
	switch {
	case len(filter.MemoryIDs) > 0 && len(filter.CodeUUIDs) > 0:
		query = query.Where("memory_id IN ? OR code_uuid IN ?", filter.MemoryIDs, filter.CodeUUIDs)
	case len(filter.MemoryIDs) > 0:
		query = query.Where("memory_id IN ?", filter.MemoryIDs)
	case len(filter.CodeUUIDs) > 0:
		query = query.Where("code_uuid IN ?", filter.CodeUUIDs)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var records []Record
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	for index := range records {
		records[index].Source = SourcePrimary
	}
	return records, nil
}

// fileRecord is the on-disk JSON layout of a fallback request.
type fileRecord struct {
	ID             string   `json:"id"`
	CodeUUID       string   `json:"uuid"`
	MemoryID       uint     `json:"memoryId"`
	RequesterName  string   `json:"requesterName"`
	RequesterEmail string   `json:"requesterEmail"`
	Message        string   `json:"message"`
	Attachments    []string `json:"attachments"`
	Status         Status   `json:"status"`
	CreatedAt      string   `json:"createdAt"`
}

// FileStore writes one JSON document per request into a directory.
type FileStore struct {
	dir string
}

// NewFileStore prepares the fallback directory.
func NewFileStore(dir string) (*FileStore, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, errors.New("changerequests: fallback directory is required")
	}
	if err := os.MkdirAll(trimmed, 0o755); err != nil {
		return nil, fmt.Errorf("changerequests: create fallback directory: %w", err)
	}
	return &FileStore{dir: trimmed}, nil
}

// Save writes the record to mcr_<id>.json.
func (s *FileStore) Save(_ context.Context, record Record) error {
	if strings.TrimSpace(record.ID) == "" || strings.ContainsAny(record.ID, `/\`) {
		return fmt.Errorf("changerequests: invalid record id %q", record.ID)
	}
	attachments := []string(record.Attachments)
	if attachments == nil {
		attachments = []string{}
	}
	payload, err := json.MarshalIndent(fileRecord{
		ID:             record.ID,
		CodeUUID:       record.CodeUUID,
		MemoryID:       record.MemoryID,
		RequesterName:  record.RequesterName,
		RequesterEmail: record.RequesterEmail,
		Message:        record.Message,
		Attachments:    attachments,
		Status:         record.Status,
		CreatedAt:      record.CreatedAt.UTC().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return err
	}

	target := filepath.Join(s.dir, fallbackFilePrefix+record.ID+".json")
	temp, err := os.CreateTemp(s.dir, ".mcr-*")
	if err != nil {
		return err
	}
	tempName := temp.Name()
	if _, err := temp.Write(payload); err != nil {
		temp.Close()
		os.Remove(tempName)
		return err
	}
	if err := temp.Close(); err != nil {
		os.Remove(tempName)
		return err
	}
	return os.Rename(tempName, target)
}

// Latest decodes every fallback document, skipping unreadable ones, and returns matching
// records sorted by createdAt descending.
func (s *FileStore) Latest(_ context.Context, filter Filter, limit int) ([]Record, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, fallbackFilePrefix+"*.json"))
	if err != nil {
		return nil, err
	}
	type entry struct {
		createdAt string
		record    Record
	}
	entries := make([]entry, 0, len(paths))
	for _, path := range paths {
		payload, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var decoded fileRecord
		if err := json.Unmarshal(payload, &decoded); err != nil {
			continue
		}
		record := decoded.toRecord()
		if !filter.matches(record) {
			continue
		}
		entries = append(entries, entry{createdAt: decoded.CreatedAt, record: record})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].createdAt == entries[j].createdAt {
			return entries[i].record.ID > entries[j].record.ID
		}
		return entries[i].createdAt > entries[j].createdAt
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	records := make([]Record, 0, len(entries))
	for _, item := range entries {
		records = append(records, item.record)
	}
	return records, nil
}

func (r fileRecord) toRecord() Record {
	createdAt, _ := time.Parse(time.RFC3339, r.CreatedAt)
	status := r.Status
	if status == "" {
		status = StatusPending
	}
	return Record{
		ID:             r.ID,
		CodeUUID:       r.CodeUUID,
		MemoryID:       r.MemoryID,
		RequesterName:  r.RequesterName,
		RequesterEmail: r.RequesterEmail,
		Message:        r.Message,
		Attachments:    datatypes.NewJSONSlice(r.Attachments),
		Status:         status,
		CreatedAt:      createdAt,
		Source:         SourceFallback,
	}
}
