package attachment

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/frahmantamala/rental-management/internal"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// FileStore keeps blobs on an afero filesystem under baseDir and addresses them
// as publicURL + "/" + pathname.
type FileStore struct {
	fs        afero.Fs
	baseDir   string
	publicURL string
	timeout   time.Duration
}

// NewFileStore creates a blob store rooted at baseDir whose files are served under publicURL
func NewFileStore(fs afero.Fs, baseDir, publicURL string, timeout time.Duration) *FileStore {
	return &FileStore{
		fs:        fs,
		baseDir:   baseDir,
		publicURL: strings.TrimRight(publicURL, "/"),
		timeout:   timeout,
	}
}

// Upload writes the file under folder with a unique name
func (s *FileStore) Upload(ctx context.Context, file Upload, folder string) (StoredObject, error) {
	ctx, cancel := internal.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := ctx.Err(); err != nil {
		return StoredObject{}, internal.NewStorageError("upload cancelled", err)
	}
	if file.Body == nil {
		return StoredObject{}, internal.NewValidationError("file "+file.Filename+" has no content", internal.ErrCodeInvalidPayload)
	}

	name := unsafeNameChars.ReplaceAllString(filepath.Base(file.Filename), "_")
	pathname := path.Join(cleanFolder(folder), uuid.NewString()+"-"+name)
	full := filepath.Join(s.baseDir, filepath.FromSlash(pathname))

	if err := s.fs.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return StoredObject{}, internal.NewStorageError("failed to prepare upload folder", err)
	}
	if err := afero.WriteReader(s.fs, full, file.Body); err != nil {
		return StoredObject{}, internal.NewStorageError("failed to write "+file.Filename, err)
	}

	return StoredObject{URL: s.publicURL + "/" + pathname, Pathname: pathname}, nil
}

// Delete removes the blob behind ref. A blob that is already gone counts as deleted.
func (s *FileStore) Delete(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return internal.NewStorageError("delete cancelled", err)
	}
	pathname, err := s.pathname(ref)
	if err != nil {
		return err
	}

	err = s.fs.Remove(filepath.Join(s.baseDir, filepath.FromSlash(pathname)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return internal.NewStorageError("failed to delete "+pathname, err)
	}
	return nil
}

// Exists reports whether ref still points at a stored blob.
func (s *FileStore) Exists(ref string) bool {
	pathname, err := s.pathname(ref)
	if err != nil {
		return false
	}
	ok, err := afero.Exists(s.fs, filepath.Join(s.baseDir, filepath.FromSlash(pathname)))
	return err == nil && ok
}

// Ping reports whether the base directory is reachable.
func (s *FileStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := s.fs.Stat(s.baseDir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New(s.baseDir + " is not a directory")
	}
	return nil
}

// FileSystem exposes the stored blobs for serving over HTTP.
func (s *FileStore) FileSystem() http.FileSystem {
	return afero.NewHttpFs(s.fs).Dir(s.baseDir)
}

func (s *FileStore) pathname(ref string) (string, error) {
	p := ref
	if u, err := url.Parse(ref); err == nil && u.Scheme != "" {
		p = u.Path
	}

	prefix := s.publicURL
	if u, err := url.Parse(s.publicURL); err == nil && u.Scheme != "" {
		prefix = u.Path
	}
	// Only whole path segments count as the public prefix.
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix != "" && (p == prefix || strings.HasPrefix(p, prefix+"/")) {
		p = p[len(prefix):]
	}
	p = path.Clean("/" + p)
	p = strings.TrimPrefix(p, "/")

	if p == "" || p == "." {
		return "", internal.NewValidationError("invalid attachment reference", internal.ErrCodeInvalidPayload)
	}
	return p, nil
}

func cleanFolder(folder string) string {
	f := strings.TrimPrefix(path.Clean("/"+folder), "/")
	if f == "" || f == "." {
		return "misc"
	}
	return f
}
