package changerequests

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/memorial/backend/internal/filestore"
	"github.com/MarcoPoloResearchLab/memorial/backend/internal/memories"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const (
	defaultAttachmentDirectory = "requests"
	// OwnerListLimit caps the owner listing.
	OwnerListLimit = 200
	// DashboardLimit caps the admin dashboard listing.
	DashboardLimit = 10
)

var (
	// ErrValidation indicates a submission without requester name or e-mail.
	ErrValidation = errors.New("changerequests: name and email are required")

	noOpLogger = zap.NewNop()
)

// AttachmentFiles stores request attachments and returns their public paths.
type AttachmentFiles interface {
	Save(ctx context.Context, directory string, upload filestore.Upload) (string, error)
}

// IDProvider issues request identifiers.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return uuidProvider{}
}

func (uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// RecorderConfig describes the dependencies of the recorder.
type RecorderConfig struct {
	Primary    Store
	Fallback   Store
	Files      AttachmentFiles
	Directory  string
	IDProvider IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Recorder accepts change requests and writes them to the primary store, falling back to the
// secondary store when the primary rejects the write.
type Recorder struct {
	primary    Store
	fallback   Store
	files      AttachmentFiles
	directory  string
	idProvider IDProvider
	clock      func() time.Time
	logger     *zap.Logger
}

// Submission is a validated-on-submit change request.
type Submission struct {
	CodeUUID string
	MemoryID uint
	Name     string
	Email    string
	Message  string
	Files    []filestore.Upload
}

// NewRecorder validates the configuration.
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if cfg.Primary == nil || cfg.Fallback == nil {
		return nil, errors.New("changerequests: primary and fallback stores are required")
	}
	if cfg.Files == nil {
		return nil, errors.New("changerequests: attachment storage is required")
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	directory := cfg.Directory
	if directory == "" {
		directory = defaultAttachmentDirectory
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Recorder{
		primary:    cfg.Primary,
		fallback:   cfg.Fallback,
		files:      cfg.Files,
		directory:  directory,
		idProvider: idProvider,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Submit records a request. Storage failures never reach the caller: the returned record's
// Source tells where it ended up.
func (r *Recorder) Submit(ctx context.Context, submission Submission) (Record, error) {
	name := strings.TrimSpace(submission.Name)
	email := strings.TrimSpace(submission.Email)
	if name == "" || email == "" {
		return Record{}, ErrValidation
	}
	id, err := r.idProvider.NewID()
	if err != nil {
		id = fmt.Sprintf("ts-%d", r.clock().UTC().UnixNano())
		r.logger.Warn("change request id generation failed", zap.String("fallback_id", id), zap.Error(err))
	}

	attachments := make([]string, 0, len(submission.Files))
	for _, file := range submission.Files {
		if !file.Eligible() {
			continue
		}
		publicPath, err := r.files.Save(ctx, r.directory, file)
		if err != nil {
			r.logger.Warn("change request attachment skipped", zap.String("file", file.Name), zap.Error(err))
			continue
		}
		attachments = append(attachments, publicPath)
	}

	record := Record{
		ID:             id,
		CodeUUID:       strings.TrimSpace(submission.CodeUUID),
		MemoryID:       submission.MemoryID,
		RequesterName:  name,
		RequesterEmail: email,
		Message:        strings.TrimSpace(submission.Message),
		Attachments:    datatypes.NewJSONSlice(attachments),
		Status:         StatusPending,
		CreatedAt:      r.clock().UTC().Truncate(time.Second),
	}

	primaryErr := r.primary.Save(ctx, record)
	if primaryErr == nil {
		record.Source = SourcePrimary
		return record, nil
	}
	r.logger.Warn("change request primary store failed", zap.String("request_id", id), zap.Error(primaryErr))

	if err := r.fallback.Save(ctx, record); err != nil {
		r.logger.Error("change request fallback store failed",
			zap.String("request_id", id),
			zap.String("code", record.CodeUUID),
			zap.Error(err))
		record.Source = SourceNone
		return record, nil
	}
	record.Source = SourceFallback
	return record, nil
}

// FindLatest lists the newest requests across all memories.
func (r *Recorder) FindLatest(ctx context.Context, limit int) ([]Record, error) {
	return r.latest(ctx, Filter{}, limit)
}

// FindLatestForOwner lists the newest requests addressed to the given memories.
func (r *Recorder) FindLatestForOwner(ctx context.Context, owned []memories.OwnedMemory, limit int) ([]Record, error) {
	if len(owned) == 0 {
		return []Record{}, nil
	}
	filter := Filter{}
	for _, item := range owned {
		filter.MemoryIDs = append(filter.MemoryIDs, item.MemoryID)
		if item.CodeUUID != "" {
			filter.CodeUUIDs = append(filter.CodeUUIDs, item.CodeUUID)
		}
	}
	return r.latest(ctx, filter, limit)
}

func (r *Recorder) latest(ctx context.Context, filter Filter, limit int) ([]Record, error) {
	records, err := r.primary.Latest(ctx, filter, limit)
	if err == nil && len(records) > 0 {
		return records, nil
	}
	if err != nil {
		r.logger.Warn("change request primary listing failed", zap.Error(err))
	}
	fallbackRecords, fallbackErr := r.fallback.Latest(ctx, filter, limit)
	if fallbackErr != nil {
		r.logger.Warn("change request fallback listing failed", zap.Error(fallbackErr))
		if err != nil {
			return nil, errors.Join(err, fallbackErr)
		}
		return records, nil
	}
	return fallbackRecords, nil
}
