package manifest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"hlsrelay/logger"
)

//go:generate mockgen -source=fetcher.go -destination=mocks/resolver.go -package=mocks

// Resolver maps an opaque source locator to the URL of its manifest document.
type Resolver interface {
	ResolveManifestURL(ctx context.Context, locator string) (string, error)
}

// DefaultContentTypes 默认接受的清单媒体类型
var DefaultContentTypes = []string{
	"audio/mpegurl",
	"audio/x-mpegurl",
	"application/vnd.apple.mpegurl",
	"application/x-mpegurl",
}

const maxManifestSize = 4 << 20

// Fetcher 解析定位符并下载、解析清单
type Fetcher struct {
	resolver     Resolver
	httpClient   *http.Client
	contentTypes map[string]struct{}
}

// NewFetcher creates a Fetcher. Empty contentTypes falls back to DefaultContentTypes.
func NewFetcher(resolver Resolver, httpClient *http.Client, contentTypes []string) *Fetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if len(contentTypes) == 0 {
		contentTypes = DefaultContentTypes
	}
	allowed := make(map[string]struct{}, len(contentTypes))
	for _, ct := range contentTypes {
		allowed[strings.ToLower(strings.TrimSpace(ct))] = struct{}{}
	}
	return &Fetcher{resolver: resolver, httpClient: httpClient, contentTypes: allowed}
}

// Fetch resolves locator, downloads the manifest and extracts its segments.
// Each step is attempted once.
func (f *Fetcher) Fetch(ctx context.Context, locator string) (*Manifest, error) {
	if strings.TrimSpace(locator) == "" {
		return nil, fmt.Errorf("%w: empty locator", ErrResolution)
	}

	manifestURL, err := f.resolver.ResolveManifestURL(ctx, locator)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %q: %w", ErrResolution, locator, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build manifest request: %v", ErrResolution, err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: get manifest: %w", ErrResolution, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: manifest returned status %d", ErrResolution, resp.StatusCode)
	}

	if !f.acceptable(resp.Header.Get("Content-Type")) {
		return nil, fmt.Errorf("%w: unexpected content type %q", ErrInvalidManifest, resp.Header.Get("Content-Type"))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read manifest: %w", ErrResolution, err)
	}
	if len(body) > maxManifestSize {
		return nil, fmt.Errorf("%w: manifest exceeds %d bytes", ErrInvalidManifest, maxManifestSize)
	}

	m, err := Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	logger.Debug("清单解析完成",
		logger.String("locator", locator),
		logger.Int("segments", m.Len()))
	return m, nil
}

func (f *Fetcher) acceptable(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	_, ok := f.contentTypes[mediaType]
	return ok
}
