package memories

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/memorial/backend/internal/filestore"
	"go.uber.org/zap"
)

const defaultPhotoDirectory = "memories"

var (
	errMissingPhotoFiles = errors.New("photo file storage is required")
	errEmptyUpload       = errors.New("upload has no name or content")
)

// PhotoFiles is the storage surface the attachment service writes through.
type PhotoFiles interface {
	Save(ctx context.Context, directory string, upload filestore.Upload) (string, error)
	Remove(ctx context.Context, publicPath string) error
	Describe(ctx context.Context, publicPath string) (filestore.Info, error)
}

// AttachmentsConfig describes the dependencies of the attachment service.
type AttachmentsConfig struct {
	Files     PhotoFiles
	Quota     QuotaPolicy
	Directory string
	Logger    *zap.Logger
}

// Attachments writes uploaded files and mutates a memory's main photo and archive in memory.
// Callers persist the memory and then discard the replaced files.
type Attachments struct {
	files     PhotoFiles
	quota     QuotaPolicy
	directory string
	logger    *zap.Logger
}

// FileFailure records one file that could not be stored.
type FileFailure struct {
	Name string
	Err  error
}

// UploadResult summarises an attachment batch.
type UploadResult struct {
	Intent    Intent
	MainPhoto string
	Replaced  string
	Archived  []string
	Written   []string
	Denied    []string
	Ignored   []string
	Failed    []FileFailure
	Denial    *QuotaExceeded
}

// Rejected reports whether the quota refused the batch before anything was written.
func (r UploadResult) Rejected() bool {
	return r.Denial != nil && len(r.Written) == 0
}

// Changed reports whether the memory was mutated.
func (r UploadResult) Changed() bool {
	return len(r.Written) > 0
}

// NewAttachments validates the configuration.
func NewAttachments(cfg AttachmentsConfig) (*Attachments, error) {
	if cfg.Files == nil {
		return nil, errMissingPhotoFiles
	}
	quota := cfg.Quota
	if quota.FreeLimit <= 0 {
		quota = DefaultQuotaPolicy()
	}
	directory := cfg.Directory
	if directory == "" {
		directory = defaultPhotoDirectory
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Attachments{files: cfg.Files, quota: quota, directory: directory, logger: logger}, nil
}

// Policy exposes the quota policy the service enforces.
func (a *Attachments) Policy() QuotaPolicy {
	return a.quota
}

// Upload applies a batch to memory according to intent. Ineligible files and write failures
// are reported per file and never abort the batch; only a cancelled context does.
func (a *Attachments) Upload(ctx context.Context, memory *Memory, files []filestore.Upload, intent Intent) (UploadResult, error) {
	if err := ctx.Err(); err != nil {
		return UploadResult{}, err
	}
	result := UploadResult{Intent: intent}
	eligible := make([]filestore.Upload, 0, len(files))
	for _, file := range files {
		if !file.Eligible() {
			result.Failed = append(result.Failed, FileFailure{Name: file.Name, Err: errEmptyUpload})
			continue
		}
		eligible = append(eligible, file)
	}
	if len(eligible) == 0 {
		return result, nil
	}

	switch intent {
	case IntentAvatar:
		a.uploadAvatar(ctx, memory, eligible, &result)
	case IntentArchive:
		authorization := a.quota.Authorize(memory, IntentArchive, len(eligible))
		if !authorization.Allowed {
			result.Denial = a.quota.exceeded(authorization)
			result.Denied = uploadNames(eligible)
			return result, nil
		}
		for _, file := range eligible {
			a.appendArchive(ctx, memory, file, &result)
		}
	default:
		remaining := eligible
		for !memory.HasMainPhoto() && len(remaining) > 0 {
			a.replaceMainPhoto(ctx, memory, remaining[0], &result)
			remaining = remaining[1:]
		}
		for index, file := range remaining {
			authorization := a.quota.Authorize(memory, IntentArchive, len(remaining)-index)
			if !authorization.Allowed {
				result.Denial = a.quota.exceeded(authorization)
				result.Denied = uploadNames(remaining[index:])
				break
			}
			a.appendArchive(ctx, memory, file, &result)
		}
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// Discard removes stored files, logging failures. It is used after a commit for replaced files
// and after a failed commit for files written by the batch.
func (a *Attachments) Discard(ctx context.Context, paths []string) {
	for _, publicPath := range paths {
		if publicPath == "" {
			continue
		}
		if err := a.files.Remove(ctx, publicPath); err != nil && !errors.Is(err, filestore.ErrNotFound) {
			a.logger.Warn("photo removal failed", zap.String("path", publicPath), zap.Error(err))
		}
	}
}

// DeleteAttachments removes every file referenced by memory and clears the fields in memory.
// It returns the removed paths.
func (a *Attachments) DeleteAttachments(ctx context.Context, memory *Memory) []string {
	paths := memory.AttachmentPaths()
	a.Discard(ctx, paths)
	memory.MainPhoto = ""
	memory.Archive = nil
	return paths
}

// Describe returns stored metadata for a public path.
func (a *Attachments) Describe(ctx context.Context, publicPath string) (filestore.Info, error) {
	return a.files.Describe(ctx, publicPath)
}

func (a *Attachments) uploadAvatar(ctx context.Context, memory *Memory, files []filestore.Upload, result *UploadResult) {
	for index, file := range files {
		if a.replaceMainPhoto(ctx, memory, file, result) {
			result.Ignored = uploadNames(files[index+1:])
			return
		}
	}
}

func (a *Attachments) replaceMainPhoto(ctx context.Context, memory *Memory, file filestore.Upload, result *UploadResult) bool {
	publicPath, ok := a.write(ctx, file, result)
	if !ok {
		return false
	}
	if memory.HasMainPhoto() && result.Replaced == "" {
		result.Replaced = memory.MainPhoto
	}
	memory.MainPhoto = publicPath
	result.MainPhoto = publicPath
	return true
}

func (a *Attachments) appendArchive(ctx context.Context, memory *Memory, file filestore.Upload, result *UploadResult) {
	publicPath, ok := a.write(ctx, file, result)
	if !ok {
		return
	}
	memory.Archive = append(memory.Archive, ArchivePhoto{
		MemoryID: memory.ID,
		Photo:    publicPath,
		Position: memory.nextArchivePosition(),
	})
	result.Archived = append(result.Archived, publicPath)
}

func (a *Attachments) write(ctx context.Context, file filestore.Upload, result *UploadResult) (string, bool) {
	publicPath, err := a.files.Save(ctx, a.directory, file)
	if err != nil {
		a.logger.Warn("photo write failed", zap.String("file", file.Name), zap.Error(err))
		result.Failed = append(result.Failed, FileFailure{Name: file.Name, Err: err})
		return "", false
	}
	result.Written = append(result.Written, publicPath)
	return publicPath, true
}

func uploadNames(files []filestore.Upload) []string {
	names := make([]string, 0, len(files))
	for _, file := range files {
		names = append(names, file.Name)
	}
	return names
}
