package memory

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/firepwn/firepwn/pkg/backend"
	"github.com/google/uuid"
)

type object struct {
	data        []byte
	contentType string
	created     time.Time
	updated     time.Time
	generation  int64
	token       string
}

// PutObject stores data at bucket/p without recording a call.
func (b *Backend) PutObject(bucket, p, contentType string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.putObject(bucket, p, contentType, data)
}

// Object returns the stored bytes at bucket/p.
func (b *Backend) Object(bucket, p string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.objects[objectKey(bucket, p)]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), o.data...), true
}

// SetProgressChunk sets the number of bytes between upload progress calls.
func (b *Backend) SetProgressChunk(n int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > 0 {
		b.progressChunk = n
	}
}

// putObject stores an object. b.mu must be held.
func (b *Backend) putObject(bucket, p, contentType string, data []byte) *object {
	now := time.Now().UTC()
	key := objectKey(bucket, p)
	o, ok := b.objects[key]
	if !ok {
		o = &object{created: now, token: uuid.NewString()}
		b.objects[key] = o
	}
	o.data = data
	o.contentType = contentType
	o.updated = now
	o.generation++
	return o
}

func objectKey(bucket, p string) string {
	return bucket + "/" + strings.Trim(p, "/")
}

type storage struct {
	b      *Backend
	bucket string
}

func (s *storage) Bucket() string { return s.bucket }

func (s *storage) List(ctx context.Context, p string) (*backend.ListResult, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	if err := s.b.enter("Storage.List"); err != nil {
		return nil, err
	}

	prefix := s.bucket + "/"
	if dir := strings.Trim(p, "/"); dir != "" {
		prefix += dir + "/"
	}

	res := &backend.ListResult{}
	folders := make(map[string]bool)
	for key := range s.b.objects {
		rest, ok := strings.CutPrefix(key, prefix)
		if !ok {
			continue
		}
		full := strings.TrimPrefix(key, s.bucket+"/")
		if i := strings.Index(rest, "/"); i >= 0 {
			folder := strings.TrimSuffix(full, rest) + rest[:i]
			if !folders[folder] {
				folders[folder] = true
				res.Prefixes = append(res.Prefixes, folder)
			}
			continue
		}
		res.Items = append(res.Items, full)
	}
	sort.Strings(res.Items)
	sort.Strings(res.Prefixes)
	return res, nil
}

func (s *storage) Upload(ctx context.Context, p string, r io.Reader, size int64, contentType string, progress backend.ProgressFunc) (*backend.ObjectMetadata, error) {
	s.b.mu.Lock()
	if err := s.b.enter("Storage.Upload"); err != nil {
		s.b.mu.Unlock()
		return nil, err
	}
	chunk := s.b.progressChunk
	s.b.mu.Unlock()

	var data []byte
	buf := make([]byte, chunk)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := io.ReadFull(r, buf)
		data = append(data, buf[:n]...)
		if n > 0 && progress != nil {
			progress(int64(len(data)), size)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return nil, &backend.Error{Code: backend.CodeUnknown, Message: err.Error(), Err: err}
		}
	}
	if len(data) == 0 && progress != nil {
		progress(0, size)
	}

	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	o := s.b.putObject(s.bucket, p, contentType, data)
	return s.metadata(p, o), nil
}

func (s *storage) DownloadURL(ctx context.Context, p string) (string, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	if err := s.b.enter("Storage.DownloadURL"); err != nil {
		return "", err
	}
	o, err := s.lookup(p)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("memory://%s/%s?token=%s", s.bucket, strings.Trim(p, "/"), o.token), nil
}

func (s *storage) Delete(ctx context.Context, p string) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	if err := s.b.enter("Storage.Delete"); err != nil {
		return err
	}
	if _, err := s.lookup(p); err != nil {
		return err
	}
	delete(s.b.objects, objectKey(s.bucket, p))
	return nil
}

func (s *storage) Metadata(ctx context.Context, p string) (*backend.ObjectMetadata, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	if err := s.b.enter("Storage.Metadata"); err != nil {
		return nil, err
	}
	o, err := s.lookup(p)
	if err != nil {
		return nil, err
	}
	return s.metadata(p, o), nil
}

// lookup finds an object. s.b.mu must be held.
func (s *storage) lookup(p string) (*object, error) {
	o, ok := s.b.objects[objectKey(s.bucket, p)]
	if !ok {
		return nil, backend.NewError(backend.CodeObjectNotFound,
			"Firebase Storage: Object '%s' does not exist. (%s)", strings.Trim(p, "/"), backend.CodeObjectNotFound)
	}
	return o, nil
}

func (s *storage) metadata(p string, o *object) *backend.ObjectMetadata {
	full := strings.Trim(p, "/")
	sum := md5.Sum(o.data)
	return &backend.ObjectMetadata{
		Bucket:         s.bucket,
		FullPath:       full,
		Name:           path.Base(full),
		Size:           int64(len(o.data)),
		ContentType:    o.contentType,
		TimeCreated:    o.created,
		Updated:        o.updated,
		MD5Hash:        base64.StdEncoding.EncodeToString(sum[:]),
		Generation:     fmt.Sprint(o.generation),
		Metageneration: "1",
	}
}
