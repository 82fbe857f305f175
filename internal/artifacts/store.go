package artifacts

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/photon-dev/photon/internal/errors"
)

// Store receives published files.
type Store interface {
	// Put stores body under key, replacing any previous object.
	Put(ctx context.Context, key string, body io.Reader, contentType string) error

	// Location returns where key is stored, for display.
	Location(key string) string
}

// FSStore stores files under a directory.
type FSStore struct {
	dir string
}

// NewFSStore creates the directory if needed.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &FSStore{dir: dir}, nil
}

// Put writes body to a temp file next to the target and renames it into
// place, so readers never see a partial file.
func (s *FSStore) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := os.CreateTemp(filepath.Dir(path), ".photon-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Location returns the absolute file path of key.
func (s *FSStore) Location(key string) string {
	path, err := s.path(key)
	if err != nil {
		return ""
	}
	return path
}

func (s *FSStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash("/" + key))
	if clean == string(filepath.Separator) {
		return "", fmt.Errorf("artifacts: empty key %q", key)
	}
	return filepath.Join(s.dir, clean), nil
}

// Open parses a publish target. Supported forms:
//
//	file:///abs/dir
//	file://relative/dir
//	s3://bucket/prefix?region=us-east-1&endpoint=http://localhost:9000&path-style=true
func Open(target string) (Store, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, errors.New("P181").WithDetail(target).Wrap(err)
	}

	switch u.Scheme {
	case "file":
		dir := filepath.FromSlash(u.Host + u.Path)
		if dir == "" {
			return nil, errors.New("P181").WithDetail(target + " has no directory")
		}
		return NewFSStore(dir)

	case "s3":
		if u.Host == "" {
			return nil, errors.New("P181").WithDetail(target + " has no bucket")
		}
		opts, err := S3OptionsFromEnv()
		if err != nil {
			return nil, errors.New("P181").Wrap(err)
		}
		q := u.Query()
		if v := q.Get("region"); v != "" {
			opts.Region = v
		}
		if v := q.Get("endpoint"); v != "" {
			opts.Endpoint = v
		}
		if v := q.Get("path-style"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, errors.New("P181").WithDetail("path-style: " + v)
			}
			opts.PathStyle = b
		}
		return NewS3Store(NewS3Client(opts), u.Host, strings.TrimPrefix(u.Path, "/")), nil

	default:
		return nil, errors.New("P181").WithDetail("unsupported scheme in " + strconv.Quote(target))
	}
}
