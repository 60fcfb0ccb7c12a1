package manifest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

var (
	// ErrResolution 定位符无法解析，或清单文档无法获取
	ErrResolution = errors.New("manifest resolution failed")
	// ErrInvalidManifest 清单类型不对或没有任何分片
	ErrInvalidManifest = errors.New("invalid manifest")
)

const segmentPrefix = "https://"

// Manifest 按播放顺序排列的分片地址
type Manifest struct {
	SegmentURLs []string
}

// Len returns the number of segments.
func (m *Manifest) Len() int {
	return len(m.SegmentURLs)
}

// Parse extracts every line that is an absolute https URL, in document order.
// Tags and relative references are ignored. An empty result is ErrInvalidManifest.
func Parse(r io.Reader) (*Manifest, error) {
	var segments []string

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if isSegmentURL(line) {
			segments = append(segments, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: read manifest: %v", ErrInvalidManifest, err)
	}

	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: no segment urls", ErrInvalidManifest)
	}
	return &Manifest{SegmentURLs: segments}, nil
}

// isSegmentURL reports whether line is, as a whole, an absolute https URL with a host.
func isSegmentURL(line string) bool {
	if !strings.HasPrefix(line, segmentPrefix) {
		return false
	}
	u, err := url.Parse(line)
	return err == nil && u.Scheme == "https" && u.Host != ""
}
