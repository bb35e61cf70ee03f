package console

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/firepwn/firepwn/pkg/backend"
	"github.com/firepwn/firepwn/pkg/observability"
)

// BlobAction is a blob storage operation.
type BlobAction string

const (
	BlobList     BlobAction = "list"
	BlobUpload   BlobAction = "upload"
	BlobDownload BlobAction = "download"
	BlobDelete   BlobAction = "delete"
	BlobMetadata BlobAction = "get-metadata"
)

// UploadFile is a local file selected for upload.
type UploadFile struct {
	Name string
	// Size is the byte length of Reader, or 0 when unknown.
	Size        int64
	ContentType string
	Reader      io.Reader
}

// BlobRequest is one blob storage operation.
type BlobRequest struct {
	Path   string
	Action BlobAction
	// Limit caps the files and the folders listed, independently.
	// 0 means no cap.
	Limit int
	File  *UploadFile
}

// Blob runs one blob storage operation.
func (c *Console) Blob(ctx context.Context, req BlobRequest) error {
	action := string(req.Action)
	sess := c.session()
	if !sess.initialized {
		return c.reject(SubsystemStorage, action, "Storage service not initialized", ErrNotInitialized)
	}
	if sess.storage == nil {
		return c.reject(SubsystemStorage, action,
			"Storage service not initialized. Please provide a storageBucket in configuration.", ErrNoBlobStorage)
	}

	storage := sess.storage
	p := strings.TrimSpace(req.Path)

	switch req.Action {
	case BlobList:
		c.dispatch(ctx, SubsystemStorage, action, func(ctx context.Context) error {
			return c.list(ctx, storage, p, req.Limit)
		})

	case BlobUpload:
		if req.File == nil || req.File.Reader == nil {
			return c.invalid(SubsystemStorage, action, "Please select a file to upload")
		}
		if p == "" {
			return c.invalid(SubsystemStorage, action, "Please specify a storage path for the upload")
		}
		file := *req.File
		c.log.Info(fmt.Sprintf("Uploading file: %s to %s...", file.Name, p))
		c.dispatch(ctx, SubsystemStorage, action, func(ctx context.Context) error {
			return c.upload(ctx, storage, p, file)
		})

	case BlobDownload:
		if p == "" {
			return c.invalid(SubsystemStorage, action, "Please specify a storage path to download")
		}
		c.dispatch(ctx, SubsystemStorage, action, func(ctx context.Context) error {
			link, err := storage.DownloadURL(ctx, p)
			if err != nil {
				c.log.Error("Download error: " + err.Error())
				return err
			}
			c.log.Success(fmt.Sprintf("Download URL for: %s\nURL: %s", p, link))
			return nil
		})

	case BlobDelete:
		if p == "" {
			return c.invalid(SubsystemStorage, action, "Please specify a storage path to delete")
		}
		c.dispatch(ctx, SubsystemStorage, action, func(ctx context.Context) error {
			if err := storage.Delete(ctx, p); err != nil {
				c.log.Error("Delete error: " + err.Error())
				return err
			}
			c.log.Success("Deleted: " + p)
			return nil
		})

	case BlobMetadata:
		if p == "" {
			return c.invalid(SubsystemStorage, action, "Please specify a storage path to get metadata")
		}
		c.dispatch(ctx, SubsystemStorage, action, func(ctx context.Context) error {
			meta, err := storage.Metadata(ctx, p)
			if err != nil {
				c.log.Error("Metadata error: " + err.Error())
				return err
			}
			c.log.Success(fmt.Sprintf("Metadata for: %s\n%s", p, prettyJSON(meta)))
			return nil
		})

	default:
		return c.invalid(SubsystemStorage, action, "Invalid storage operation")
	}
	return nil
}

func (c *Console) list(ctx context.Context, storage backend.Storage, p string, limit int) error {
	res, err := storage.List(ctx, p)
	if err != nil {
		c.log.Error("Error listing storage: " + err.Error())
		return err
	}

	items := capList(res.Items, limit)
	prefixes := capList(res.Prefixes, limit)

	shown := p
	if shown == "" {
		shown = "(root)"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Listing storage contents\nPath: %s\n", shown)
	fmt.Fprintf(&b, "Files (%d/%d):\n", len(items), len(res.Items))
	for _, item := range items {
		b.WriteString("  " + item + "\n")
	}
	fmt.Fprintf(&b, "Folders (%d/%d):\n", len(prefixes), len(res.Prefixes))
	for _, prefix := range prefixes {
		b.WriteString("  " + prefix + "\n")
	}
	c.log.Success(b.String())
	return nil
}

func capList(s []string, limit int) []string {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}

func (c *Console) upload(ctx context.Context, storage backend.Storage, p string, file UploadFile) error {
	contentType := file.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(path.Ext(file.Name))
	}

	progress := func(transferred, total int64) {
		if total > 0 {
			pct := float64(transferred) / float64(total) * 100
			c.log.Info(fmt.Sprintf("Upload progress: %.1f%%", pct))
		}
	}

	meta, err := storage.Upload(ctx, p, file.Reader, file.Size, contentType, progress)
	if err != nil {
		c.log.Error("Upload error: " + err.Error())
		return err
	}
	observability.RecordUploadBytes(meta.Size)

	link, err := storage.DownloadURL(ctx, p)
	if err != nil {
		c.log.Error("Upload error: " + err.Error())
		return err
	}
	c.log.Success(fmt.Sprintf("Upload successful!\nFile: %s\nSize: %d bytes\nDownload URL: %s", p, meta.Size, link))
	return nil
}
