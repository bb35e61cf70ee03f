package console

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firepwn/firepwn/pkg/backend"
	"github.com/firepwn/firepwn/pkg/oplog"
)

const testBucket = "demo.appspot.com"

func TestBlob_NoBucket(t *testing.T) {
	c, mem := newTestConsole(t, "")

	err := c.Blob(context.Background(), BlobRequest{Action: BlobList})
	assert.ErrorIs(t, err, ErrNoBlobStorage)
	assert.Equal(t, "Storage service not initialized. Please provide a storageBucket in configuration.", lastEntry(t, c.Log()).Body)
	assert.Zero(t, mem.TotalCalls())
}

func TestBlob_ListCapsIndependently(t *testing.T) {
	c, mem := newTestConsole(t, testBucket)
	for i := 1; i <= 5; i++ {
		mem.PutObject(testBucket, fmt.Sprintf("docs/f%d.txt", i), "text/plain", []byte("x"))
	}
	mem.PutObject(testBucket, "docs/sub/inner.txt", "text/plain", []byte("y"))

	require.NoError(t, c.Blob(context.Background(), BlobRequest{Path: "docs", Action: BlobList, Limit: 2}))
	c.Wait()

	e := lastEntry(t, c.Log())
	assert.Equal(t, oplog.ClassSuccess, e.Class)
	assert.Equal(t, "Listing storage contents\nPath: docs\n"+
		"Files (2/5):\n  docs/f1.txt\n  docs/f2.txt\n"+
		"Folders (1/1):\n  docs/sub\n", e.Body)
}

func TestBlob_ListRoot(t *testing.T) {
	c, mem := newTestConsole(t, testBucket)
	mem.PutObject(testBucket, "a.txt", "text/plain", []byte("x"))

	require.NoError(t, c.Blob(context.Background(), BlobRequest{Action: BlobList}))
	c.Wait()
	assert.Equal(t, "Listing storage contents\nPath: (root)\nFiles (1/1):\n  a.txt\nFolders (0/0):\n", lastEntry(t, c.Log()).Body)
}

func TestBlob_Upload(t *testing.T) {
	c, mem := newTestConsole(t, testBucket)
	mem.SetProgressChunk(4)

	data := "0123456789"
	require.NoError(t, c.Blob(context.Background(), BlobRequest{
		Path:   "uploads/n.txt",
		Action: BlobUpload,
		File:   &UploadFile{Name: "n.txt", Size: int64(len(data)), Reader: strings.NewReader(data)},
	}))
	c.Wait()

	got := bodies(c.Log())
	require.Len(t, got, 5)
	assert.Equal(t, "Uploading file: n.txt to uploads/n.txt...", got[0])
	assert.Equal(t, []string{"Upload progress: 40.0%", "Upload progress: 80.0%", "Upload progress: 100.0%"}, got[1:4])
	assert.True(t, strings.HasPrefix(got[4], "Upload successful!\nFile: uploads/n.txt\nSize: 10 bytes\nDownload URL: memory://demo.appspot.com/uploads/n.txt?token="), got[4])

	stored, ok := mem.Object(testBucket, "uploads/n.txt")
	require.True(t, ok)
	assert.Equal(t, data, string(stored))
}

func TestBlob_UploadFailure(t *testing.T) {
	c, mem := newTestConsole(t, testBucket)
	mem.FailNext("Storage.Upload", backend.NewError(backend.CodeUnauthorized, "Firebase Storage: User does not have permission."))

	require.NoError(t, c.Blob(context.Background(), BlobRequest{
		Path: "x", Action: BlobUpload,
		File: &UploadFile{Name: "x", Reader: strings.NewReader("x")},
	}))
	c.Wait()

	e := lastEntry(t, c.Log())
	assert.Equal(t, oplog.ClassError, e.Class)
	assert.Equal(t, "Upload error: Firebase Storage: User does not have permission.", e.Body)
}

func TestBlob_DownloadDeleteMetadata(t *testing.T) {
	c, mem := newTestConsole(t, testBucket)
	mem.PutObject(testBucket, "img/cat.png", "image/png", []byte("png"))
	ctx := context.Background()

	require.NoError(t, c.Blob(ctx, BlobRequest{Path: "img/cat.png", Action: BlobDownload}))
	c.Wait()
	assert.True(t, strings.HasPrefix(lastEntry(t, c.Log()).Body, "Download URL for: img/cat.png\nURL: memory://"))

	require.NoError(t, c.Blob(ctx, BlobRequest{Path: "img/cat.png", Action: BlobMetadata}))
	c.Wait()
	e := lastEntry(t, c.Log())
	assert.Equal(t, oplog.ClassSuccess, e.Class)
	assert.True(t, strings.HasPrefix(e.Body, "Metadata for: img/cat.png\n{"))
	assert.Contains(t, e.Body, `"contentType": "image/png"`)
	assert.True(t, oplog.HasJSON(e.Body))

	require.NoError(t, c.Blob(ctx, BlobRequest{Path: "img/cat.png", Action: BlobDelete}))
	c.Wait()
	assert.Equal(t, "Deleted: img/cat.png", lastEntry(t, c.Log()).Body)

	require.NoError(t, c.Blob(ctx, BlobRequest{Path: "img/cat.png", Action: BlobDelete}))
	c.Wait()
	assert.True(t, strings.HasPrefix(lastEntry(t, c.Log()).Body, "Delete error: "))

	require.NoError(t, c.Blob(ctx, BlobRequest{Path: "img/cat.png", Action: BlobDownload}))
	c.Wait()
	assert.True(t, strings.HasPrefix(lastEntry(t, c.Log()).Body, "Download error: "))

	require.NoError(t, c.Blob(ctx, BlobRequest{Path: "img/cat.png", Action: BlobMetadata}))
	c.Wait()
	assert.True(t, strings.HasPrefix(lastEntry(t, c.Log()).Body, "Metadata error: "))
}

func TestBlob_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  BlobRequest
		want string
	}{
		{"upload without file", BlobRequest{Path: "a", Action: BlobUpload}, "Please select a file to upload"},
		{"upload without path", BlobRequest{Action: BlobUpload, File: &UploadFile{Name: "a", Reader: strings.NewReader("")}}, "Please specify a storage path for the upload"},
		{"download without path", BlobRequest{Action: BlobDownload}, "Please specify a storage path to download"},
		{"delete without path", BlobRequest{Path: "  ", Action: BlobDelete}, "Please specify a storage path to delete"},
		{"metadata without path", BlobRequest{Action: BlobMetadata}, "Please specify a storage path to get metadata"},
		{"unknown action", BlobRequest{Path: "a", Action: "move"}, "Invalid storage operation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, mem := newTestConsole(t, testBucket)

			err := c.Blob(context.Background(), tt.req)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, []string{tt.want}, bodies(c.Log()))
			assert.Zero(t, mem.TotalCalls())
		})
	}
}
