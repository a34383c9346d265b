// Package input places request images on local disk for the engines.
package input

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/joseph-ayodele/ocr-service/constants"
	"github.com/joseph-ayodele/ocr-service/internal/common"
)

// File is an acquired image on local disk. Close removes it.
type File struct {
	Path   string
	Size   int64
	Format string // decoder name ("jpeg", "png", ...) or "heic"
}

func (f *File) Close() error {
	if f == nil || f.Path == "" {
		return nil
	}
	err := os.Remove(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Acquirer writes uploads and downloads to temporary files, enforcing the size ceiling.
type Acquirer struct {
	MaxBytes   int64
	HTTPClient *http.Client
	TempDir    string // "" = os.TempDir()
	log        *slog.Logger
}

func NewAcquirer(maxBytes int64, downloadTimeout time.Duration, logger *slog.Logger) *Acquirer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Acquirer{
		MaxBytes:   maxBytes,
		HTTPClient: &http.Client{Timeout: downloadTimeout},
		log:        logger,
	}
}

// FromUpload stores an uploaded file. filename only contributes its extension.
func (a *Acquirer) FromUpload(ctx context.Context, r io.Reader, filename string) (*File, error) {
	return a.store(ctx, r, filepath.Ext(filename))
}

// FromURL downloads rawURL over http(s) and stores the body.
func (a *Acquirer) FromURL(ctx context.Context, rawURL string) (*File, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, common.ValidationError("file_url must be an absolute http or https URL")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, common.ValidationErrorf("invalid file_url: %v", err)
	}
	client := a.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		a.log.Error("input.download.failed", "url", u.Redacted(), "error", err)
		return nil, common.InternalErrorf("failed to download file_url: %v", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			a.log.Warn("download response body close error", "error", err)
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		a.log.Error("input.download.status", "url", u.Redacted(), "status", resp.StatusCode)
		return nil, common.InternalErrorf("failed to download file_url: status %d", resp.StatusCode)
	}
	if a.MaxBytes > 0 && resp.ContentLength > a.MaxBytes {
		return nil, common.PayloadTooLargeError(a.MaxBytes)
	}
	return a.store(ctx, resp.Body, path.Ext(u.Path))
}

func (a *Acquirer) store(ctx context.Context, r io.Reader, ext string) (*File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ext = constants.NormalizeExt(ext)
	if !constants.IsAllowedImageExt(ext) {
		ext = constants.DefaultImageExt
	}

	f, err := os.CreateTemp(a.TempDir, "ocr-"+uuid.NewString()+"-*."+ext)
	if err != nil {
		return nil, common.InternalErrorf("create temp file: %v", err)
	}
	out := &File{Path: f.Name()}

	src := r
	if a.MaxBytes > 0 {
		src = io.LimitReader(r, a.MaxBytes+1)
	}
	n, copyErr := io.Copy(f, src)
	closeErr := f.Close()
	out.Size = n

	switch {
	case copyErr != nil:
		_ = out.Close()
		var tooBig *http.MaxBytesError
		if errors.As(copyErr, &tooBig) {
			return nil, common.PayloadTooLargeError(a.MaxBytes)
		}
		return nil, common.InternalErrorf("write temp file: %v", copyErr)
	case closeErr != nil:
		_ = out.Close()
		return nil, common.InternalErrorf("write temp file: %v", closeErr)
	case a.MaxBytes > 0 && n > a.MaxBytes:
		_ = out.Close()
		return nil, common.PayloadTooLargeError(a.MaxBytes)
	case n == 0:
		_ = out.Close()
		return nil, common.ValidationError("file is empty")
	}

	format, err := sniff(out.Path, ext)
	if err != nil {
		_ = out.Close()
		return nil, err
	}
	out.Format = format
	a.log.Debug("input.acquired", "path", out.Path, "bytes", n, "format", format)
	return out, nil
}

// sniff identifies the image format from its header. HEIC has no registered
// decoder and is trusted by extension.
func sniff(p, ext string) (string, error) {
	if constants.IsHEICExt(ext) {
		return "heic", nil
	}
	f, err := os.Open(p)
	if err != nil {
		return "", common.InternalErrorf("open temp file: %v", err)
	}
	defer f.Close()
	_, format, err := image.DecodeConfig(f)
	if err != nil {
		return "", common.ValidationError(fmt.Sprintf("unsupported or corrupt image: %v", err))
	}
	return format, nil
}
