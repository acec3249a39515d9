package services

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"beyondink/internal/models"
	"beyondink/pkg/storage"
)

// Upload defaults used by the booking form.
const (
	DefaultAssetBucket = "booking_ref_images"
	DefaultAssetFolder = "refs"

	DefaultMaxPendingFiles = 10
	DefaultMaxPendingBytes = 50 << 20
)

// AssetUploader buffers reference images for one booking form and uploads
// them to object storage one at a time.
type AssetUploader struct {
	store  storage.Store
	bucket string
	folder string
	now    func() time.Time
	log    *slog.Logger

	maxFiles int
	maxBytes int

	mu           sync.Mutex
	pending      []models.AssetFile
	pendingBytes int
}

// NewAssetUploader creates an uploader writing to bucket/folder.
func NewAssetUploader(store storage.Store, bucket, folder string) *AssetUploader {
	if bucket == "" {
		bucket = DefaultAssetBucket
	}
	if folder == "" {
		folder = DefaultAssetFolder
	}
	return &AssetUploader{
		store:  store,
		bucket: bucket,
		folder: strings.Trim(folder, "/"),
		now:      time.Now,
		log:      slog.Default().With("component", "asset_uploader"),
		maxFiles: DefaultMaxPendingFiles,
		maxBytes: DefaultMaxPendingBytes,
	}
}

// WithLimits caps how many files and how many bytes may wait in the buffer.
// Non-positive values keep the defaults.
func (u *AssetUploader) WithLimits(maxFiles, maxBytes int) *AssetUploader {
	if maxFiles > 0 {
		u.maxFiles = maxFiles
	}
	if maxBytes > 0 {
		u.maxBytes = maxBytes
	}
	return u
}

// Add appends the image files among files to the buffer, in order, and
// returns how many were accepted. Files that are not images are ignored.
// Images that would push the buffer past its file or byte cap are returned in
// rejected. Both the drop zone and the file picker feed this.
func (u *AssetUploader) Add(files ...models.AssetFile) (accepted int, rejected []string) {
	images := make([]models.AssetFile, 0, len(files))
	for _, f := range files {
		f.ContentType = contentType(f)
		if !strings.HasPrefix(f.ContentType, "image/") {
			u.log.Debug("ignoring non-image file", "file", f.Name, "content_type", f.ContentType)
			continue
		}
		images = append(images, f)
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	for _, f := range images {
		if len(u.pending) >= u.maxFiles || u.pendingBytes+len(f.Data) > u.maxBytes {
			rejected = append(rejected, f.Name)
			continue
		}
		u.pending = append(u.pending, f)
		u.pendingBytes += len(f.Data)
		accepted++
	}
	if len(rejected) > 0 {
		u.log.Info("upload buffer full", "rejected", len(rejected), "pending", len(u.pending), "pending_bytes", u.pendingBytes)
	}
	return accepted, rejected
}

// Pending returns the number of buffered files.
func (u *AssetUploader) Pending() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.pending)
}

// Clear drops every buffered file.
func (u *AssetUploader) Clear() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.pending = nil
	u.pendingBytes = 0
}

// UploadAll uploads every buffered file sequentially and returns the ones that
// made it, in buffer order. A failed file is logged and skipped. The buffer is
// emptied once every file has been attempted.
func (u *AssetUploader) UploadAll(ctx context.Context) []models.UploadedAsset {
	u.mu.Lock()
	files := u.pending
	u.pending = nil
	u.pendingBytes = 0
	u.mu.Unlock()

	out := make([]models.UploadedAsset, 0, len(files))
	for i, f := range files {
		if ctx.Err() != nil {
			u.log.Warn("upload batch cancelled", "remaining", len(files)-i)
			break
		}
		p := u.objectPath(f.Name)
		if err := u.store.Upload(ctx, u.bucket, p, f.ContentType, f.Data); err != nil {
			u.log.Warn("skipping file", "error", &UploadError{File: f.Name, Path: p, Err: err})
			continue
		}
		out = append(out, models.UploadedAsset{
			OriginalName: f.Name,
			StoragePath:  p,
			PublicURL:    u.store.PublicURL(u.bucket, p),
		})
	}
	return out
}

// URLs extracts the public URLs from a batch result.
func URLs(assets []models.UploadedAsset) []string {
	urls := make([]string, 0, len(assets))
	for _, a := range assets {
		if a.PublicURL != "" {
			urls = append(urls, a.PublicURL)
		}
	}
	return urls
}

// objectPath is folder/<unix millis>-<random>.<ext>; the extension comes from
// the original name and defaults to jpg.
func (u *AssetUploader) objectPath(name string) string {
	ext := "jpg"
	if i := strings.LastIndex(name, "."); i >= 0 && i < len(name)-1 {
		ext = strings.ToLower(name[i+1:])
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return path.Join(u.folder, fmt.Sprintf("%d-%s.%s", u.now().UnixMilli(), suffix, ext))
}

// contentType trusts the declared type and sniffs the bytes only when none was
// given.
func contentType(f models.AssetFile) string {
	declared := strings.TrimSpace(strings.ToLower(f.ContentType))
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return mimetype.Detect(f.Data).String()
}
