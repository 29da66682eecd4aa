// Package fetcher handles page downloading, content fingerprinting, and
// size-capped file downloads.
package fetcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const maxPageBytes = 10 * 1024 * 1024

// ErrTooLarge is returned when a file exceeds the configured size cap.
var ErrTooLarge = errors.New("file exceeds size limit")

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Download is a file fetched to local disk, ready for delivery.
// The caller is responsible for removing Path when done.
type Download struct {
	Path string
	Size int64
}

// Fetcher downloads pages and files over HTTP.
type Fetcher struct {
	client      HTTPClient
	timeout     time.Duration
	maxFileSize int64
	dir         string
}

// New creates a Fetcher with the given HTTP client and file size cap.
// Downloads are written to the system temp directory.
func New(client HTTPClient, maxFileSize int64) *Fetcher {
	return &Fetcher{
		client:      client,
		timeout:     30 * time.Second,
		maxFileSize: maxFileSize,
		dir:         os.TempDir(),
	}
}

// SetDownloadDir overrides the directory downloads are written to.
func (f *Fetcher) SetDownloadDir(dir string) {
	f.dir = dir
}

// FetchPage downloads the body of a web page. Any network error, timeout,
// or non-2xx status is returned as an error; the body is never partially
// hashed on failure.
func (f *Fetcher) FetchPage(ctx context.Context, pageURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "WebWatchBot/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// Fingerprint returns a stable hash of a page body.
func Fingerprint(body []byte) string {
	h := sha256.Sum256(body)
	return fmt.Sprintf("%x", h)
}

// Changed reports whether the current fingerprint differs from the
// previous one. A never-polled target (empty previous) always counts
// as changed.
func Changed(prev, cur string) bool {
	return prev == "" || prev != cur
}

// DownloadFile fetches a single file to local disk, rejecting anything
// over the size cap. The cap is enforced twice: via Content-Length when
// the server advertises one, and again while streaming, so a lying or
// silent server cannot push an oversized file through.
func (f *Fetcher) DownloadFile(ctx context.Context, fileURL, name string) (*Download, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "WebWatchBot/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if resp.ContentLength > f.maxFileSize {
		return nil, ErrTooLarge
	}

	filename := buildFilename(fileURL, name, resp.Header.Get("Content-Type"))
	dst := filepath.Join(f.dir, filename)

	out, err := os.Create(dst)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	written, err := io.Copy(out, io.LimitReader(resp.Body, f.maxFileSize+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst)
		return nil, fmt.Errorf("write file: %w", err)
	}
	if written > f.maxFileSize {
		_ = os.Remove(dst)
		return nil, ErrTooLarge
	}

	return &Download{Path: dst, Size: written}, nil
}

var unsafeRunes = regexp.MustCompile(`[\\/*?:"<>|]`)

// buildFilename derives a safe local filename from the preferred display
// name (or the URL's last path segment), attaching an extension inferred
// from the URL or, failing that, from the response content type.
func buildFilename(fileURL, name, contentType string) string {
	var urlPath string
	if u, err := url.Parse(fileURL); err == nil {
		urlPath = u.Path
	}

	base := name
	if base == "" {
		base = path.Base(urlPath)
	}
	base = unsafeRunes.ReplaceAllString(base, "")
	if base == "" || base == "." {
		base = "download"
	}

	if path.Ext(base) != "" {
		return base
	}
	ext := strings.ToLower(path.Ext(urlPath))
	if ext == "" {
		switch {
		case strings.Contains(contentType, "image"):
			ext = ".jpg"
		case strings.Contains(contentType, "audio"):
			ext = ".mp3"
		case strings.Contains(contentType, "video"):
			ext = ".mp4"
		default:
			ext = ".bin"
		}
	}
	return base + ext
}
