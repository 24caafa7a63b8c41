package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

var (
	ErrNoSource      = errors.New("no file path or download url available")
	ErrMissingAPIKey = errors.New("report api key required to download https reports")
)

// Source is a readable report file. Release removes it when it was downloaded.
type Source struct {
	Path       string
	FileName   string
	Downloaded bool
}

// Release deletes a downloaded file. Local files are left alone.
func (s *Source) Release() {
	if s.Downloaded {
		os.Remove(s.Path)
	}
}

// Fetcher is implemented by Downloader.
type Fetcher interface {
	Download(ctx context.Context, rawURL, apiKey string) (*Download, error)
}

// Locator turns a catalog entry into a local file.
type Locator struct {
	fetcher Fetcher
	apiKey  string
	logger  *zap.Logger
}

func NewLocator(fetcher Fetcher, apiKey string, logger *zap.Logger) *Locator {
	return &Locator{fetcher: fetcher, apiKey: apiKey, logger: logger.Named("locator")}
}

// Locate prefers a readable local path and otherwise downloads the URL.
func (l *Locator) Locate(ctx context.Context, filePath, downloadURL string) (*Source, error) {
	if filePath != "" {
		if f, err := os.Open(filePath); err == nil {
			f.Close()
			return &Source{Path: filePath, FileName: filepath.Base(filePath)}, nil
		}
		l.logger.Debug("local report not readable", zap.String("path", filePath))
	}
	if downloadURL == "" {
		return nil, ErrNoSource
	}
	if l.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	dl, err := l.fetcher.Download(ctx, downloadURL, l.apiKey)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", downloadURL, err)
	}
	return &Source{Path: dl.Path, FileName: dl.FileName, Downloaded: true}, nil
}
