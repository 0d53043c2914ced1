package attachment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
)

type Type string

const (
	TypeImage    Type = "image"
	TypePDF      Type = "pdf"
	TypeDocument Type = "document"
	TypeText     Type = "text"
	TypeVideo    Type = "video"
	TypeOther    Type = "other"
)

var extensionTypes = map[string]Type{
	".jpg":  TypeImage,
	".jpeg": TypeImage,
	".png":  TypeImage,
	".gif":  TypeImage,
	".webp": TypeImage,
	".svg":  TypeImage,
	".heic": TypeImage,
	".pdf":  TypePDF,
	".doc":  TypeDocument,
	".docx": TypeDocument,
	".xls":  TypeDocument,
	".xlsx": TypeDocument,
	".ppt":  TypeDocument,
	".pptx": TypeDocument,
	".odt":  TypeDocument,
	".ods":  TypeDocument,
	".txt":  TypeText,
	".csv":  TypeText,
	".md":   TypeText,
	".rtf":  TypeText,
	".mp4":  TypeVideo,
	".mov":  TypeVideo,
	".avi":  TypeVideo,
	".mkv":  TypeVideo,
	".webm": TypeVideo,
}

// TypeFromFilename classifies a file by its extension.
func TypeFromFilename(name string) Type {
	if t, ok := extensionTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return t
	}
	return TypeOther
}

// Attachment describes an uploaded file stored on a business record.
// URL is an opaque storage reference: a full URL or a store pathname.
type Attachment struct {
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	Size       int64     `json:"size"`
	Type       Type      `json:"type"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// UnmarshalJSON also accepts the legacy "link" key for the storage reference.
func (a *Attachment) UnmarshalJSON(data []byte) error {
	type plain Attachment
	var aux struct {
		plain
		Link string `json:"link"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*a = Attachment(aux.plain)
	if a.URL == "" {
		a.URL = aux.Link
	}
	if a.Type == "" && a.Name != "" {
		a.Type = TypeFromFilename(a.Name)
	}
	return nil
}

func (a Attachment) Ref() string {
	return a.URL
}

// Upload is a raw file accompanying a mutation.
type Upload struct {
	Filename    string
	Size        int64
	ContentType string
	Body        io.Reader
}

type StoredObject struct {
	URL      string `json:"url"`
	Pathname string `json:"pathname"`
}

// BlobStore is the file storage collaborator used for attachments.
type BlobStore interface {
	Upload(ctx context.Context, file Upload, folder string) (StoredObject, error)
	Delete(ctx context.Context, ref string) error
}

// Dedupe drops entries whose reference was already seen, keeping the first occurrence.
func Dedupe(list []Attachment) []Attachment {
	seen := make(map[string]struct{}, len(list))
	out := make([]Attachment, 0, len(list))
	for _, a := range list {
		if _, dup := seen[a.Ref()]; dup {
			continue
		}
		seen[a.Ref()] = struct{}{}
		out = append(out, a)
	}
	return out
}

func refSet(list []Attachment) map[string]struct{} {
	set := make(map[string]struct{}, len(list))
	for _, a := range list {
		set[a.Ref()] = struct{}{}
	}
	return set
}

// SameRefs reports whether both lists reference the same blobs in the same order.
func SameRefs(a, b []Attachment) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Ref() != b[i].Ref() {
			return false
		}
	}
	return true
}

// Without returns the entries of list whose reference is absent from exclude.
func Without(list, exclude []Attachment) []Attachment {
	skip := refSet(exclude)
	out := make([]Attachment, 0, len(list))
	for _, a := range list {
		if _, ok := skip[a.Ref()]; !ok {
			out = append(out, a)
		}
	}
	return out
}

// Decode converts a loosely typed record value (as found in JSON maps) into attachments.
func Decode(v any) ([]Attachment, error) {
	if v == nil {
		return nil, nil
	}
	if list, ok := v.([]Attachment); ok {
		return list, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode attachments: %w", err)
	}
	var list []Attachment
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decode attachments: %w", err)
	}
	return list, nil
}
