package assembler

import (
	"errors"
	"fmt"
)

// ErrSinkWrite 输出端写入失败（通常是客户端断开）
var ErrSinkWrite = errors.New("sink write failed")

// SegmentFetchError names the segment that could not be retrieved.
// StatusCode is zero for transport errors.
type SegmentFetchError struct {
	Index      int
	URL        string
	StatusCode int
	Err        error
}

func (e *SegmentFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("segment %d (%s): unexpected status %d", e.Index, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("segment %d (%s): %v", e.Index, e.URL, e.Err)
}

func (e *SegmentFetchError) Unwrap() error {
	return e.Err
}
