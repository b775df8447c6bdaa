package memories

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Intent classifies an incoming batch of files.
type Intent string

const (
	// IntentAvatar replaces the main photo.
	IntentAvatar Intent = "avatar"
	// IntentArchive appends to the archive and is subject to the quota.
	IntentArchive Intent = "archive"
	// IntentAuto makes the first file the main photo when none exists and archives the rest.
	IntentAuto Intent = "auto"
)

const metadataUploadTypeKey = "uploadType"

// ErrMalformedMetadata is returned by ResolveIntentStrict for unusable metadata blobs.
var ErrMalformedMetadata = errors.New("memories: malformed upload metadata")

// IntentInput is the normalised view of every request field that can carry an upload type.
type IntentInput struct {
	// UploadType is the flat uploadType form field.
	UploadType string
	// Metadata is a JSON object that may hold an uploadType key (uppyMeta).
	Metadata string
	// FieldUploadType is the uploadType nested under the files form field.
	FieldUploadType string
	// HasMainPhoto reports whether the memory already has a main photo.
	HasMainPhoto bool
}

// intentRule yields a raw upload type when it applies.
type intentRule func(input IntentInput, strict bool) (string, bool, error)

var intentRules = []intentRule{
	explicitUploadType,
	metadataUploadType,
	fieldUploadType,
	mainPhotoDefault,
}

// ResolveIntent classifies the upload, ignoring malformed metadata.
func ResolveIntent(input IntentInput) Intent {
	intent, _ := resolveIntent(input, false)
	return intent
}

// ResolveIntentStrict classifies the upload and fails on malformed metadata.
func ResolveIntentStrict(input IntentInput) (Intent, error) {
	return resolveIntent(input, true)
}

func resolveIntent(input IntentInput, strict bool) (Intent, error) {
	intent := IntentAuto
	for _, rule := range intentRules {
		value, ok, err := rule(input, strict)
		if err != nil {
			return "", err
		}
		if ok {
			intent = intentFromValue(value)
			break
		}
	}
	// An existing main photo forces every non-avatar batch through the archive quota.
	if input.HasMainPhoto && intent != IntentAvatar {
		intent = IntentArchive
	}
	return intent, nil
}

func intentFromValue(value string) Intent {
	switch strings.TrimSpace(value) {
	case string(IntentAvatar):
		return IntentAvatar
	case string(IntentArchive):
		return IntentArchive
	default:
		return IntentAuto
	}
}

func explicitUploadType(input IntentInput, _ bool) (string, bool, error) {
	value := strings.TrimSpace(input.UploadType)
	if value == string(IntentAvatar) || value == string(IntentArchive) {
		return value, true, nil
	}
	return "", false, nil
}

func metadataUploadType(input IntentInput, strict bool) (string, bool, error) {
	raw := strings.TrimSpace(input.Metadata)
	if raw == "" {
		return "", false, nil
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		if strict {
			return "", false, fmt.Errorf("%w: %v", ErrMalformedMetadata, err)
		}
		return "", false, nil
	}
	value, present := decoded[metadataUploadTypeKey]
	if !present || value == nil {
		return "", false, nil
	}
	text, ok := value.(string)
	if !ok {
		if strict {
			return "", false, fmt.Errorf("%w: uploadType is %T", ErrMalformedMetadata, value)
		}
		return "", false, nil
	}
	if strings.TrimSpace(text) == "" {
		return "", false, nil
	}
	return text, true, nil
}

func fieldUploadType(input IntentInput, _ bool) (string, bool, error) {
	value := strings.TrimSpace(input.FieldUploadType)
	return value, value != "", nil
}

func mainPhotoDefault(input IntentInput, _ bool) (string, bool, error) {
	if input.HasMainPhoto {
		return string(IntentArchive), true, nil
	}
	return "", false, nil
}
