package firebase

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/firepwn/firepwn/pkg/backend"
)

// progressInterval is the number of bytes between upload progress calls.
const progressInterval = 256 * 1024

// storage implements backend.Storage over the Firebase Storage REST API.
type storage struct {
	s      *session
	bucket string
}

type objectResource struct {
	Name           string            `json:"name"`
	Bucket         string            `json:"bucket"`
	Generation     string            `json:"generation"`
	Metageneration string            `json:"metageneration"`
	ContentType    string            `json:"contentType"`
	TimeCreated    string            `json:"timeCreated"`
	Updated        string            `json:"updated"`
	Size           string            `json:"size"`
	MD5Hash        string            `json:"md5Hash"`
	DownloadTokens string            `json:"downloadTokens"`
	Metadata       map[string]string `json:"metadata"`
}

func (o *objectResource) metadata() *backend.ObjectMetadata {
	size, _ := strconv.ParseInt(o.Size, 10, 64)
	created, _ := time.Parse(time.RFC3339Nano, o.TimeCreated)
	updated, _ := time.Parse(time.RFC3339Nano, o.Updated)

	name := o.Name
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return &backend.ObjectMetadata{
		Bucket:         o.Bucket,
		FullPath:       o.Name,
		Name:           name,
		Size:           size,
		ContentType:    o.ContentType,
		TimeCreated:    created,
		Updated:        updated,
		MD5Hash:        o.MD5Hash,
		Generation:     o.Generation,
		Metageneration: o.Metageneration,
		CustomMetadata: o.Metadata,
	}
}

func (st *storage) Bucket() string { return st.bucket }

func (st *storage) objectsURL() string {
	return fmt.Sprintf("%s/v0/b/%s/o", st.s.cfg.StorageURL, url.PathEscape(st.bucket))
}

func (st *storage) objectURL(p string) string {
	return st.objectsURL() + "/" + url.PathEscape(strings.Trim(p, "/"))
}

func (st *storage) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	header, err := st.s.authHeader(ctx, "Firebase")
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	return req, nil
}

func (st *storage) List(ctx context.Context, p string) (*backend.ListResult, error) {
	prefix := strings.Trim(p, "/")
	if prefix != "" {
		prefix += "/"
	}

	res := &backend.ListResult{}
	pageToken := ""
	for {
		q := url.Values{"prefix": {prefix}, "delimiter": {"/"}}
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		req, err := st.newRequest(ctx, http.MethodGet, st.objectsURL()+"?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}

		var page struct {
			Prefixes      []string         `json:"prefixes"`
			Items         []objectResource `json:"items"`
			NextPageToken string           `json:"nextPageToken"`
		}
		if err := do(st.s.cfg.HTTPClient, req, &page, storageError); err != nil {
			return nil, err
		}
		for _, pre := range page.Prefixes {
			res.Prefixes = append(res.Prefixes, strings.TrimSuffix(pre, "/"))
		}
		for _, item := range page.Items {
			res.Items = append(res.Items, item.Name)
		}

		if page.NextPageToken == "" {
			return res, nil
		}
		pageToken = page.NextPageToken
	}
}

// progressReader reports cumulative reads every progressInterval bytes and
// once more when the last byte is read.
type progressReader struct {
	r        io.Reader
	total    int64
	progress backend.ProgressFunc

	mu       sync.Mutex
	read     int64
	reported int64
	done     bool
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)

	pr.mu.Lock()
	defer pr.mu.Unlock()

	pr.read += int64(n)
	if pr.progress != nil && !pr.done {
		if err == io.EOF || pr.total > 0 && pr.read >= pr.total {
			pr.done = true
			pr.progress(pr.read, pr.total)
		} else if pr.read-pr.reported >= progressInterval {
			pr.reported = pr.read
			pr.progress(pr.read, pr.total)
		}
	}
	return n, err
}

func (st *storage) Upload(ctx context.Context, p string, r io.Reader, size int64, contentType string, progress backend.ProgressFunc) (*backend.ObjectMetadata, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	pr := &progressReader{r: r, total: size, progress: progress}

	q := url.Values{"name": {strings.Trim(p, "/")}}
	req, err := st.newRequest(ctx, http.MethodPost, st.objectsURL()+"?"+q.Encode(), pr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	if size > 0 {
		req.ContentLength = size
	}

	var obj objectResource
	if err := do(st.s.cfg.HTTPClient, req, &obj, storageError); err != nil {
		return nil, err
	}
	return obj.metadata(), nil
}

func (st *storage) resource(ctx context.Context, p string) (*objectResource, error) {
	req, err := st.newRequest(ctx, http.MethodGet, st.objectURL(p), nil)
	if err != nil {
		return nil, err
	}
	var obj objectResource
	if err := do(st.s.cfg.HTTPClient, req, &obj, storageError); err != nil {
		return nil, err
	}
	return &obj, nil
}

func (st *storage) DownloadURL(ctx context.Context, p string) (string, error) {
	obj, err := st.resource(ctx, p)
	if err != nil {
		return "", err
	}
	token, _, _ := strings.Cut(obj.DownloadTokens, ",")
	if token == "" {
		return "", backend.NewError("storage/no-download-url",
			"Firebase Storage: The given file does not have any download URLs. (storage/no-download-url)")
	}
	q := url.Values{"alt": {"media"}, "token": {token}}
	return st.objectURL(p) + "?" + q.Encode(), nil
}

func (st *storage) Delete(ctx context.Context, p string) error {
	req, err := st.newRequest(ctx, http.MethodDelete, st.objectURL(p), nil)
	if err != nil {
		return err
	}
	return do(st.s.cfg.HTTPClient, req, nil, storageError)
}

func (st *storage) Metadata(ctx context.Context, p string) (*backend.ObjectMetadata, error) {
	obj, err := st.resource(ctx, p)
	if err != nil {
		return nil, err
	}
	return obj.metadata(), nil
}

