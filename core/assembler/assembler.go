package assembler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"hlsrelay/core/manifest"
	"hlsrelay/logger"
	"hlsrelay/metrics"
)

// Flusher is implemented by sinks that buffer, e.g. http.ResponseWriter.
type Flusher interface {
	Flush()
}

// Assembler 按清单顺序逐个拉取分片并拼接
type Assembler struct {
	httpClient *http.Client
	metrics    *metrics.Metrics
}

// New creates an Assembler. m may be nil.
func New(httpClient *http.Client, m *metrics.Metrics) *Assembler {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Assembler{httpClient: httpClient, metrics: m}
}

// Assemble fetches the segments strictly in order and appends each one to sink.
// It stops at the first failure; bytes already written stay written.
// ctx is checked before every segment, so a cancelled request stops the loop.
func (a *Assembler) Assemble(ctx context.Context, m *manifest.Manifest, sink io.Writer) (int64, error) {
	start := time.Now()
	written, err := a.assemble(ctx, m, sink)
	a.metrics.AssemblyFinished(err == nil, time.Since(start))

	if err != nil {
		logger.Warn("分片拼接中断",
			logger.Int("segments", m.Len()),
			logger.Int64("bytes", written),
			logger.ErrorField(err))
		return written, err
	}
	logger.Debug("分片拼接完成",
		logger.Int("segments", m.Len()),
		logger.Int64("bytes", written),
		logger.Duration("elapsed", time.Since(start)))
	return written, nil
}

// AssembleBytes builds the whole payload in memory.
func (a *Assembler) AssembleBytes(ctx context.Context, m *manifest.Manifest) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := a.Assemble(ctx, m, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (a *Assembler) assemble(ctx context.Context, m *manifest.Manifest, sink io.Writer) (int64, error) {
	var total int64
	flusher, _ := sink.(Flusher)

	for i, segmentURL := range m.SegmentURLs {
		if err := ctx.Err(); err != nil {
			return total, fmt.Errorf("assembly stopped before segment %d: %w", i, err)
		}

		n, err := a.copySegment(ctx, i, segmentURL, sink)
		total += n
		if err != nil {
			a.metrics.SegmentFetched(false, 0)
			return total, err
		}
		a.metrics.SegmentFetched(true, n)

		if flusher != nil {
			flusher.Flush()
		}
	}
	return total, nil
}

func (a *Assembler) copySegment(ctx context.Context, index int, segmentURL string, sink io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, segmentURL, nil)
	if err != nil {
		return 0, &SegmentFetchError{Index: index, URL: segmentURL, Err: err}
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return 0, &SegmentFetchError{Index: index, URL: segmentURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, &SegmentFetchError{
			Index:      index,
			URL:        segmentURL,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("status %s", resp.Status),
		}
	}

	sw := &sinkWriter{w: sink}
	n, err := io.Copy(sw, resp.Body)
	if err != nil {
		if sw.err != nil {
			return n, fmt.Errorf("%w: segment %d: %w", ErrSinkWrite, index, sw.err)
		}
		return n, &SegmentFetchError{Index: index, URL: segmentURL, Err: err}
	}
	return n, nil
}

// sinkWriter remembers write errors so they are not reported as fetch failures.
type sinkWriter struct {
	w   io.Writer
	err error
}

func (s *sinkWriter) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	if err != nil {
		s.err = err
	}
	return n, err
}
