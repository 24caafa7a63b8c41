package report

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrDownload wraps every failure to fetch a report over HTTP.
var ErrDownload = errors.New("report download failed")

// DownloaderConfig configures the HTTP client used for report files.
type DownloaderConfig struct {
	Timeout      time.Duration
	MaxRedirects int
	Dir          string
	// HTTPClient replaces the default transport, mainly for tests.
	HTTPClient *http.Client
}

// Downloader fetches report files with the processor's API key.
type Downloader struct {
	client *resty.Client
	dir    string
	logger *zap.Logger
}

// Download is a report body stored on local disk.
type Download struct {
	Path     string
	FileName string
	Size     int64
}

func NewDownloader(cfg DownloaderConfig, logger *zap.Logger) *Downloader {
	var client *resty.Client
	if cfg.HTTPClient != nil {
		client = resty.NewWithClient(cfg.HTTPClient)
	} else {
		client = resty.New()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 10
	}
	client.
		SetTimeout(cfg.Timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(cfg.MaxRedirects)).
		SetHeader("Accept", "text/csv, text/plain, */*")

	return &Downloader{client: client, dir: cfg.Dir, logger: logger.Named("downloader")}
}

// Download performs an authenticated GET and streams the body to a temporary
// file. Non-2xx responses and transport errors are returned, never retried.
// The caller owns the returned file.
func (d *Downloader) Download(ctx context.Context, rawURL, apiKey string) (*Download, error) {
	resp, err := d.client.R().
		SetContext(ctx).
		SetHeader("x-api-key", apiKey).
		SetDoNotParseResponse(true).
		Get(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownload, err)
	}
	body := resp.RawBody()
	defer body.Close()

	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: HTTP %d", ErrDownload, resp.StatusCode())
	}

	f, err := os.CreateTemp(d.dir, "settlement_*.csv")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	n, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("%w: read body: %v", ErrDownload, err)
	}

	finalURL := rawURL
	if raw := resp.RawResponse; raw != nil && raw.Request != nil {
		finalURL = raw.Request.URL.String()
	}
	name := fileNameFor(resp.Header().Get("Content-Disposition"), finalURL, rawURL)
	d.logger.Info("report downloaded",
		zap.String("file", name),
		zap.Int64("bytes", n),
		zap.Int("status", resp.StatusCode()),
	)
	return &Download{Path: f.Name(), FileName: name, Size: n}, nil
}

// fileNameFor resolves a report file name from the Content-Disposition header,
// then the final URL path, then a hash of the requested URL.
func fileNameFor(contentDisposition, finalURL, rawURL string) string {
	if contentDisposition != "" {
		if _, params, err := mime.ParseMediaType(contentDisposition); err == nil {
			if name := filepath.Base(params["filename"]); params["filename"] != "" && name != "." && name != "/" {
				return name
			}
		}
	}
	if name := urlBase(finalURL); name != "" {
		return name
	}
	sum := md5.Sum([]byte(rawURL))
	return "settlement_" + hex.EncodeToString(sum[:]) + ".csv"
}
