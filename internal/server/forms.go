package server

import (
	"io"
	"math"
	"mime/multipart"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/memorial/backend/internal/filestore"
	"github.com/MarcoPoloResearchLab/memorial/backend/internal/memories"
	"github.com/gin-gonic/gin"
)

const (
	fieldAvatar          = "avatar"
	fieldArchive         = "archive"
	fieldUploadType      = "uploadType"
	fieldUppyMeta        = "uppyMeta"
	fieldFilesUploadType = "files[uploadType]"
	fieldPhotos          = "photos"
	fieldWantExtension   = "wantPhotoExtension"
)

var profileFields = []string{
	"firstName", "lastName", "middleName", "birthDate", "deathDate",
	"biography", "epitaph", "burialLatitude", "burialLongitude", "burialAddress",
}

// requestForm is a parsed form body; multipart bodies also carry files.
type requestForm struct {
	values url.Values
	files  map[string][]*multipart.FileHeader
}

func readForm(c *gin.Context) (requestForm, error) {
	contentType := c.ContentType()
	if contentType == gin.MIMEMultipartPOSTForm {
		multipartForm, err := c.MultipartForm()
		if err != nil {
			return requestForm{}, err
		}
		return requestForm{values: url.Values(multipartForm.Value), files: multipartForm.File}, nil
	}
	if err := c.Request.ParseForm(); err != nil {
		return requestForm{}, err
	}
	return requestForm{values: c.Request.PostForm}, nil
}

func (f requestForm) value(key string) string {
	return strings.TrimSpace(f.values.Get(key))
}

func (f requestForm) has(key string) bool {
	_, ok := f.values[key]
	return ok
}

// intentInput collects every field that may carry the upload type.
func (f requestForm) intentInput() memories.IntentInput {
	return memories.IntentInput{
		UploadType:      f.value(fieldUploadType),
		Metadata:        f.values.Get(fieldUppyMeta),
		FieldUploadType: f.value(fieldFilesUploadType),
	}
}

// photoUploads returns the avatar file followed by the archive files. When neither field is
// present every posted file is used in field-name order.
func (f requestForm) photoUploads() []filestore.Upload {
	var headers []*multipart.FileHeader
	headers = append(headers, f.fileField(fieldAvatar)...)
	headers = append(headers, f.fileField(fieldArchive)...)
	if len(headers) == 0 {
		names := make([]string, 0, len(f.files))
		for name := range f.files {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			headers = append(headers, f.files[name]...)
		}
	}
	return toUploads(headers)
}

// namedUploads returns the files posted under field.
func (f requestForm) namedUploads(field string) []filestore.Upload {
	return toUploads(f.fileField(field))
}

func (f requestForm) fileField(field string) []*multipart.FileHeader {
	if len(f.files) == 0 {
		return nil
	}
	var headers []*multipart.FileHeader
	headers = append(headers, f.files[field]...)
	headers = append(headers, f.files[field+"[]"]...)
	return headers
}

// profile reads the memory text fields. The boolean is false when none was posted.
func (f requestForm) profile() (memories.Profile, bool) {
	present := false
	for _, field := range profileFields {
		if f.has(field) {
			present = true
			break
		}
	}
	profile := memories.Profile{
		FirstName:       f.value("firstName"),
		LastName:        f.value("lastName"),
		MiddleName:      f.value("middleName"),
		BirthDate:       f.value("birthDate"),
		DeathDate:       f.value("deathDate"),
		Biography:       f.value("biography"),
		Epitaph:         f.value("epitaph"),
		BurialLatitude:  parseCoordinate(f.value("burialLatitude"), maxLatitude),
		BurialLongitude: parseCoordinate(f.value("burialLongitude"), maxLongitude),
		BurialAddress:   f.value("burialAddress"),
	}
	return profile, present
}

func (f requestForm) flag(key string) bool {
	switch strings.ToLower(f.value(key)) {
	case "1", "true", "on", "yes":
		return true
	default:
		return false
	}
}

const (
	maxLatitude  = 90
	maxLongitude = 180
)

// parseCoordinate accepts a decimal comma; anything unparsable, non-finite or outside
// [-limit, limit] is treated as absent.
func parseCoordinate(raw string, limit float64) *float64 {
	if raw == "" {
		return nil
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) || math.Abs(value) > limit {
		return nil
	}
	return &value
}

func toUploads(headers []*multipart.FileHeader) []filestore.Upload {
	uploads := make([]filestore.Upload, 0, len(headers))
	for _, header := range headers {
		if header == nil {
			continue
		}
		fileHeader := header
		uploads = append(uploads, filestore.Upload{
			Name: fileHeader.Filename,
			Size: fileHeader.Size,
			Open: func() (io.ReadCloser, error) {
				return fileHeader.Open()
			},
		})
	}
	return uploads
}
