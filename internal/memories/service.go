package memories

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/MarcoPoloResearchLab/memorial/backend/internal/filestore"
	"github.com/MarcoPoloResearchLab/memorial/backend/internal/users"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxIssuedCodes = 1000

var (
	// ErrCodeNotFound indicates an unknown QR code.
	ErrCodeNotFound = errors.New("memories: code not found")
	// ErrCodeNotClaimable indicates a code that is no longer printed or already has a memory.
	ErrCodeNotClaimable = errors.New("memories: code is not claimable")
	// ErrMemoryNotFound indicates a code without a memory.
	ErrMemoryNotFound = errors.New("memories: memory not found")
	// ErrForbidden indicates that the principal may not modify the memory.
	ErrForbidden = errors.New("memories: access denied")
	// ErrInvalidCount indicates an unusable number of codes to issue.
	ErrInvalidCount = errors.New("memories: invalid code count")

	errMissingDatabase    = errors.New("database handle is required")
	errMissingUsers       = errors.New("user service is required")
	errMissingAttachments = errors.New("attachment service is required")
	noOpLogger            = zap.NewNop()
)

// ServiceError carries a stable operation.reason code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew   = "memories.service.new"
	opClaim        = "memories.claim"
	opUploadPhotos = "memories.upload_photos"
	opEdit         = "memories.edit"
	opClearPhotos  = "memories.clear_photos"
	opFindCode     = "memories.find_code"
	opListCodes    = "memories.list_codes"
	opIssueCodes   = "memories.issue_codes"
	opOwned        = "memories.owned_memories"
)

var profileColumns = []string{
	"first_name", "last_name", "middle_name", "birth_date", "death_date",
	"biography", "epitaph", "burial_lat", "burial_lng", "burial_address",
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the dependencies of the memory service.
type ServiceConfig struct {
	Database    *gorm.DB
	Users       *users.Service
	Attachments *Attachments
	Locks       *KeyedLocks
	Logger      *zap.Logger
}

// Service owns QR codes and memories and orchestrates photo uploads.
type Service struct {
	db          *gorm.DB
	users       *users.Service
	attachments *Attachments
	locks       *KeyedLocks
	logger      *zap.Logger
}

// NewService validates the configuration and constructs the service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Users == nil {
		return nil, newServiceError(opServiceNew, "missing_users", errMissingUsers)
	}
	if cfg.Attachments == nil {
		return nil, newServiceError(opServiceNew, "missing_attachments", errMissingAttachments)
	}
	locks := cfg.Locks
	if locks == nil {
		locks = NewKeyedLocks()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:          cfg.Database,
		users:       cfg.Users,
		attachments: cfg.Attachments,
		locks:       locks,
		logger:      logger,
	}, nil
}

// Policy exposes the quota policy in force.
func (s *Service) Policy() QuotaPolicy {
	return s.attachments.Policy()
}

// ClaimRequest is the payload of a first submission on a printed code.
type ClaimRequest struct {
	Email   string
	Profile Profile
	Files   []filestore.Upload
	Intent  IntentInput
}

// ClaimResult describes a claimed code.
type ClaimResult struct {
	Code   QrCode
	Memory Memory
	Client users.User
	Upload UploadResult
}

// PhotoResult describes a follow-up upload or an edit.
type PhotoResult struct {
	Code   QrCode
	Memory Memory
	Upload UploadResult
}

// EditRequest is the payload of the edit form. A nil profile leaves the text fields untouched;
// eligible files replace every existing photo.
type EditRequest struct {
	Profile *Profile
	Files   []filestore.Upload
	Intent  IntentInput
}

// Claim creates the memory behind a printed code, attaches the client and publishes the code.
func (s *Service) Claim(ctx context.Context, codeUUID string, request ClaimRequest) (ClaimResult, error) {
	email, err := users.NormalizeEmail(request.Email)
	if err != nil {
		return ClaimResult{}, err
	}
	code, err := s.FindCode(ctx, codeUUID)
	if err != nil {
		return ClaimResult{}, err
	}
	if code.Status != CodeStatusPrinted || code.MemoryID != nil {
		return ClaimResult{}, ErrCodeNotClaimable
	}

	var memory Memory
	request.Profile.Apply(&memory)
	input := request.Intent
	input.HasMainPhoto = false
	upload, err := s.attachments.Upload(ctx, &memory, request.Files, ResolveIntent(input))
	if err != nil {
		s.attachments.Discard(context.WithoutCancel(ctx), upload.Written)
		return ClaimResult{}, err
	}

	var client users.User
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.users.FindOrCreateClient(tx, email)
		if err != nil {
			s.logError(opClaim, "client_resolve_failed", err, zap.String("code", code.UUID))
			return newServiceError(opClaim, "client_resolve_failed", err)
		}
		client = user
		memory.ClientID = user.ID
		if err := tx.Create(&memory).Error; err != nil {
			s.logError(opClaim, "memory_insert_failed", err, zap.String("code", code.UUID))
			return newServiceError(opClaim, "memory_insert_failed", err)
		}
		update := tx.Model(&QrCode{}).
			Where("id = ? AND status = ? AND memory_id IS NULL", code.ID, CodeStatusPrinted).
			Updates(map[string]any{
				"status":    CodeStatusPublic,
				"memory_id": memory.ID,
				"client_id": user.ID,
			})
		if update.Error != nil {
			s.logError(opClaim, "code_update_failed", update.Error, zap.String("code", code.UUID))
			return newServiceError(opClaim, "code_update_failed", update.Error)
		}
		if update.RowsAffected == 0 {
			return ErrCodeNotClaimable
		}
		return nil
	})
	if txErr != nil {
		s.attachments.Discard(context.WithoutCancel(ctx), upload.Written)
		return ClaimResult{}, txErr
	}

	code.Status = CodeStatusPublic
	code.MemoryID = &memory.ID
	code.ClientID = &client.ID
	code.Memory = &memory
	return ClaimResult{Code: code, Memory: memory, Client: client, Upload: upload}, nil
}

// UploadPhotos adds photos to an existing memory. A quota denial leaves the memory untouched and
// is reported through the result.
func (s *Service) UploadPhotos(ctx context.Context, principal users.Principal, codeUUID string, files []filestore.Upload, input IntentInput) (PhotoResult, error) {
	code, err := s.editableCode(ctx, principal, codeUUID)
	if err != nil {
		return PhotoResult{}, err
	}
	release := s.locks.Lock(*code.MemoryID)
	defer release()

	memory, err := s.loadMemory(ctx, opUploadPhotos, *code.MemoryID)
	if err != nil {
		return PhotoResult{}, err
	}
	input.HasMainPhoto = memory.HasMainPhoto()
	upload, err := s.attachments.Upload(ctx, &memory, files, ResolveIntent(input))
	if err != nil {
		s.attachments.Discard(context.WithoutCancel(ctx), upload.Written)
		return PhotoResult{}, err
	}
	if upload.Changed() {
		if err := s.persistPhotos(ctx, opUploadPhotos, &memory, nil, []string{"main_photo"}); err != nil {
			s.attachments.Discard(context.WithoutCancel(ctx), upload.Written)
			return PhotoResult{}, err
		}
		s.attachments.Discard(ctx, []string{upload.Replaced})
	}
	code.Memory = &memory
	return PhotoResult{Code: code, Memory: memory, Upload: upload}, nil
}

// Edit updates the profile and, when files are posted, replaces every photo. New files are
// written before the old ones are removed.
func (s *Service) Edit(ctx context.Context, principal users.Principal, codeUUID string, request EditRequest) (PhotoResult, error) {
	code, err := s.editableCode(ctx, principal, codeUUID)
	if err != nil {
		return PhotoResult{}, err
	}
	release := s.locks.Lock(*code.MemoryID)
	defer release()

	memory, err := s.loadMemory(ctx, opEdit, *code.MemoryID)
	if err != nil {
		return PhotoResult{}, err
	}
	columns := []string{}
	if request.Profile != nil {
		request.Profile.Apply(&memory)
		columns = append(columns, profileColumns...)
	}

	var (
		upload     UploadResult
		previous   []string
		removedIDs []uint
	)
	if eligibleCount(request.Files) > 0 {
		previousMain, previousArchive := memory.MainPhoto, memory.Archive
		memory.MainPhoto = ""
		memory.Archive = nil
		input := request.Intent
		input.HasMainPhoto = false
		upload, err = s.attachments.Upload(ctx, &memory, request.Files, ResolveIntent(input))
		if err != nil {
			s.attachments.Discard(context.WithoutCancel(ctx), upload.Written)
			return PhotoResult{}, err
		}
		if upload.Changed() {
			previous = (&Memory{MainPhoto: previousMain, Archive: previousArchive}).AttachmentPaths()
			for _, item := range previousArchive {
				removedIDs = append(removedIDs, item.ID)
			}
			columns = append(columns, "main_photo")
		} else {
			memory.MainPhoto, memory.Archive = previousMain, previousArchive
		}
	}

	if len(columns) > 0 {
		if err := s.persistPhotos(ctx, opEdit, &memory, removedIDs, columns); err != nil {
			s.attachments.Discard(context.WithoutCancel(ctx), upload.Written)
			return PhotoResult{}, err
		}
	}
	s.attachments.Discard(ctx, previous)
	code.Memory = &memory
	return PhotoResult{Code: code, Memory: memory, Upload: upload}, nil
}

// ClearPhotos removes the main photo and the whole archive of a memory.
func (s *Service) ClearPhotos(ctx context.Context, principal users.Principal, codeUUID string) (Memory, error) {
	code, err := s.editableCode(ctx, principal, codeUUID)
	if err != nil {
		return Memory{}, err
	}
	release := s.locks.Lock(*code.MemoryID)
	defer release()

	memory, err := s.loadMemory(ctx, opClearPhotos, *code.MemoryID)
	if err != nil {
		return Memory{}, err
	}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("memory_id = ?", memory.ID).Delete(&ArchivePhoto{}).Error; err != nil {
			s.logError(opClearPhotos, "archive_delete_failed", err, zap.Uint("memory_id", memory.ID))
			return newServiceError(opClearPhotos, "archive_delete_failed", err)
		}
		if err := tx.Model(&Memory{}).Where("id = ?", memory.ID).Update("main_photo", "").Error; err != nil {
			s.logError(opClearPhotos, "memory_update_failed", err, zap.Uint("memory_id", memory.ID))
			return newServiceError(opClearPhotos, "memory_update_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return Memory{}, txErr
	}
	s.attachments.DeleteAttachments(ctx, &memory)
	return memory, nil
}

// FindCode loads a code with its memory and ordered archive.
func (s *Service) FindCode(ctx context.Context, codeUUID string) (QrCode, error) {
	trimmed := strings.TrimSpace(codeUUID)
	if trimmed == "" {
		return QrCode{}, ErrCodeNotFound
	}
	var code QrCode
	err := s.db.WithContext(ctx).
		Preload("Memory").
		Preload("Memory.Archive", orderArchive).
		Where("uuid = ?", trimmed).
		Take(&code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return QrCode{}, ErrCodeNotFound
	}
	if err != nil {
		s.logError(opFindCode, "query_failed", err, zap.String("code", trimmed))
		return QrCode{}, newServiceError(opFindCode, "query_failed", err)
	}
	return code, nil
}

// QuotaStatus reports the upload limit of a code. The boolean is false when the code has no
// memory yet, in which case the status carries the defaults.
func (s *Service) QuotaStatus(ctx context.Context, codeUUID string) (QuotaStatus, bool, error) {
	code, err := s.FindCode(ctx, codeUUID)
	if err != nil {
		return QuotaStatus{}, false, err
	}
	policy := s.Policy()
	if code.Memory == nil {
		return policy.Status(nil), false, nil
	}
	return policy.Status(code.Memory), true, nil
}

// CanEdit reports whether principal may modify the memory behind code.
func (s *Service) CanEdit(principal users.Principal, code QrCode) bool {
	if !principal.Authenticated() {
		return false
	}
	return principal.IsStaff() || code.OwnedBy(principal.UserID)
}

// PreviewKind selects which photos a preview lists.
type PreviewKind int

const (
	// PreviewMainPhoto lists the main photo.
	PreviewMainPhoto PreviewKind = iota
	// PreviewArchive lists the archive photos.
	PreviewArchive
)

// Preview describes one stored photo for the upload widget.
type Preview struct {
	Name string
	Path string
	Size int64
}

// Previews lists stored photos of a memory. Paths missing from the store are skipped.
func (s *Service) Previews(ctx context.Context, principal users.Principal, codeUUID string, kind PreviewKind) ([]Preview, error) {
	code, err := s.editableCode(ctx, principal, codeUUID)
	if err != nil {
		return nil, err
	}
	var paths []string
	switch kind {
	case PreviewMainPhoto:
		if code.Memory.HasMainPhoto() {
			paths = append(paths, code.Memory.MainPhoto)
		}
	default:
		for _, item := range code.Memory.Archive {
			if strings.TrimSpace(item.Photo) != "" {
				paths = append(paths, item.Photo)
			}
		}
	}

	previews := make([]Preview, 0, len(paths))
	for _, publicPath := range paths {
		info, err := s.attachments.Describe(ctx, publicPath)
		if err != nil {
			if !errors.Is(err, filestore.ErrNotFound) {
				s.logger.Warn("photo stat failed", zap.String("path", publicPath), zap.Error(err))
			}
			continue
		}
		previews = append(previews, Preview{Name: path.Base(publicPath), Path: publicPath, Size: info.Size})
	}
	return previews, nil
}

// ListCodes returns the codes created by a staff member or owned by a client.
func (s *Service) ListCodes(ctx context.Context, principal users.Principal) ([]QrCode, error) {
	if !principal.Authenticated() {
		return nil, ErrForbidden
	}
	query := s.db.WithContext(ctx).Preload("Memory").Order("id DESC")
	if principal.IsStaff() {
		query = query.Where("creator_id = ?", principal.UserID)
	} else {
		query = query.Where("client_id = ?", principal.UserID)
	}
	var codes []QrCode
	if err := query.Find(&codes).Error; err != nil {
		s.logError(opListCodes, "query_failed", err, zap.Uint("user_id", principal.UserID))
		return nil, newServiceError(opListCodes, "query_failed", err)
	}
	return codes, nil
}

// IssueCodes creates count printed codes attributed to creatorID.
func (s *Service) IssueCodes(ctx context.Context, creatorID uint, count int, labelPrefix string) ([]QrCode, error) {
	if count < 1 || count > maxIssuedCodes {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCount, count)
	}
	prefix := strings.TrimSpace(labelPrefix)
	codes := make([]QrCode, 0, count)
	for index := 0; index < count; index++ {
		value, err := uuid.NewRandom()
		if err != nil {
			s.logError(opIssueCodes, "id_generation_failed", err)
			return nil, newServiceError(opIssueCodes, "id_generation_failed", err)
		}
		code := QrCode{UUID: value.String(), Status: CodeStatusPrinted}
		if creatorID != 0 {
			creator := creatorID
			code.CreatorID = &creator
		}
		if prefix != "" {
			code.Label = fmt.Sprintf("%s-%04d", prefix, index+1)
		}
		codes = append(codes, code)
	}
	if err := s.db.WithContext(ctx).Create(&codes).Error; err != nil {
		s.logError(opIssueCodes, "insert_failed", err, zap.Int("count", count))
		return nil, newServiceError(opIssueCodes, "insert_failed", err)
	}
	return codes, nil
}

// OwnedMemories lists the memories a client owns together with their code identifiers.
func (s *Service) OwnedMemories(ctx context.Context, principal users.Principal) ([]OwnedMemory, error) {
	if !principal.Authenticated() {
		return nil, ErrForbidden
	}
	var rows []struct {
		MemoryID uint
		UUID     string
	}
	err := s.db.WithContext(ctx).
		Model(&QrCode{}).
		Select("memory_id, uuid").
		Where("client_id = ? AND memory_id IS NOT NULL", principal.UserID).
		Scan(&rows).Error
	if err != nil {
		s.logError(opOwned, "query_failed", err, zap.Uint("user_id", principal.UserID))
		return nil, newServiceError(opOwned, "query_failed", err)
	}
	owned := make([]OwnedMemory, 0, len(rows))
	for _, row := range rows {
		owned = append(owned, OwnedMemory{MemoryID: row.MemoryID, CodeUUID: row.UUID})
	}
	return owned, nil
}

func (s *Service) editableCode(ctx context.Context, principal users.Principal, codeUUID string) (QrCode, error) {
	code, err := s.FindCode(ctx, codeUUID)
	if err != nil {
		return QrCode{}, err
	}
	if code.MemoryID == nil || code.Memory == nil {
		return QrCode{}, ErrMemoryNotFound
	}
	if !s.CanEdit(principal, code) {
		return QrCode{}, ErrForbidden
	}
	return code, nil
}

func (s *Service) loadMemory(ctx context.Context, operation string, memoryID uint) (Memory, error) {
	var memory Memory
	err := s.db.WithContext(ctx).Preload("Archive", orderArchive).Take(&memory, memoryID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Memory{}, ErrMemoryNotFound
	}
	if err != nil {
		s.logError(operation, "memory_select_failed", err, zap.Uint("memory_id", memoryID))
		return Memory{}, newServiceError(operation, "memory_select_failed", err)
	}
	return memory, nil
}

// persistPhotos stores new archive rows, drops removedIDs and updates columns of memory in one
// transaction holding the memory row lock.
func (s *Service) persistPhotos(ctx context.Context, operation string, memory *Memory, removedIDs []uint, columns []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locked Memory
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").Take(&locked, memory.ID).Error; err != nil {
			s.logError(operation, "memory_lock_failed", err, zap.Uint("memory_id", memory.ID))
			return newServiceError(operation, "memory_lock_failed", err)
		}
		if len(removedIDs) > 0 {
			if err := tx.Where("memory_id = ? AND id IN ?", memory.ID, removedIDs).Delete(&ArchivePhoto{}).Error; err != nil {
				s.logError(operation, "archive_delete_failed", err, zap.Uint("memory_id", memory.ID))
				return newServiceError(operation, "archive_delete_failed", err)
			}
		}
		for index := range memory.Archive {
			item := &memory.Archive[index]
			if item.ID != 0 {
				continue
			}
			item.MemoryID = memory.ID
			if err := tx.Create(item).Error; err != nil {
				s.logError(operation, "archive_insert_failed", err, zap.Uint("memory_id", memory.ID))
				return newServiceError(operation, "archive_insert_failed", err)
			}
		}
		if len(columns) > 0 {
			if err := tx.Model(memory).Omit(clause.Associations).Select(columns).Updates(memory).Error; err != nil {
				s.logError(operation, "memory_update_failed", err, zap.Uint("memory_id", memory.ID))
				return newServiceError(operation, "memory_update_failed", err)
			}
		}
		return nil
	})
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("memories service error", attrs...)
}

func orderArchive(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC, id ASC")
}

func eligibleCount(files []filestore.Upload) int {
	count := 0
	for _, file := range files {
		if file.Eligible() {
			count++
		}
	}
	return count
}
