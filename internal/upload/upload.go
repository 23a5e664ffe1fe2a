// Package upload stores user-supplied images on local disk.
package upload

import (
	"bytes"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// DefaultMaxBytes is the largest accepted upload.
const DefaultMaxBytes = 10 << 20

var (
	ErrTooLarge        = errors.New("file exceeds size limit")
	ErrUnsupportedType = errors.New("only JPG, PNG and GIF images are accepted")
	ErrEmpty           = errors.New("file is empty")
)

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
}

// Config configures a Store.
type Config struct {
	Dir        string `default:"uploads" usage:"directory for uploaded files"`
	PublicPath string `default:"/uploads/" usage:"URL prefix uploaded files are served under"`
	MaxBytes   int64  `default:"10485760" usage:"maximum upload size in bytes"`
}

// Store saves images under Dir and serves them under PublicPath.
type Store struct {
	dir      string
	public   string
	maxBytes int64
}

// NewStore creates the upload directory if needed.
func NewStore(cfg Config) (*Store, error) {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create upload dir")
	}
	return &Store{dir: cfg.Dir, public: cfg.PublicPath, maxBytes: cfg.MaxBytes}, nil
}

// MaxBytes is the configured size limit.
func (s *Store) MaxBytes() int64 { return s.maxBytes }

// PublicPath is the URL prefix files are served under.
func (s *Store) PublicPath() string { return s.public }

// Save validates r as a supported image and writes it to disk. It returns
// the public URL of the stored file.
func (s *Store) Save(r io.Reader) (string, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	switch {
	case errors.Is(err, io.EOF):
		return "", ErrEmpty
	case err != nil && !errors.Is(err, io.ErrUnexpectedEOF):
		return "", errors.Wrap(err, "read upload")
	}
	head = head[:n]

	ext, ok := extensions[http.DetectContentType(head)]
	if !ok {
		return "", ErrUnsupportedType
	}

	name := uuid.NewString() + ext
	dst := filepath.Join(s.dir, name)
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", errors.Wrap(err, "create file")
	}

	// Read one byte past the limit to detect oversize bodies.
	body := io.MultiReader(bytes.NewReader(head), r)
	written, err := io.Copy(f, io.LimitReader(body, s.maxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && written > s.maxBytes {
		err = ErrTooLarge
	}
	if err != nil {
		_ = os.Remove(dst)
		if errors.Is(err, ErrTooLarge) {
			return "", err
		}
		return "", errors.Wrap(err, "write file")
	}
	return path.Join(s.public, name), nil
}

// Remove deletes a file previously returned by Save. Unknown URLs and
// files already gone are not errors.
func (s *Store) Remove(url string) error {
	name, ok := strings.CutPrefix(url, s.public)
	name = strings.TrimPrefix(name, "/")
	if !ok || name == "" || name != path.Base(name) {
		return nil
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrap(err, "remove file")
	}
	return nil
}

// Handler serves stored files. Mount it under PublicPath.
func (s *Store) Handler() http.Handler {
	return http.StripPrefix(s.public, http.FileServer(noDirFS{http.Dir(s.dir)}))
}

// noDirFS hides directory listings.
type noDirFS struct {
	fs http.FileSystem
}

func (n noDirFS) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if st.IsDir() {
		_ = f.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}
