package model

// Transcoding 上游提供的一种转码格式
type Transcoding struct {
	URL    string            `json:"url"`
	Format TranscodingFormat `json:"format"`
}

// TranscodingFormat describes how a transcoding is delivered.
type TranscodingFormat struct {
	Protocol string `json:"protocol"`  // hls | progressive
	MimeType string `json:"mime_type"` // e.g. audio/mpeg
}

// TrackInfo is the subset of the provider's resolve response the relay uses.
type TrackInfo struct {
	Title      string `json:"title"`
	ArtworkURL string `json:"artwork_url"`
	Media      struct {
		Transcodings []Transcoding `json:"transcodings"`
	} `json:"media"`
}

// DownloadableTranscoding returns the first HLS transcoding with mimeType.
func (t *TrackInfo) DownloadableTranscoding(mimeType string) (Transcoding, bool) {
	for _, tc := range t.Media.Transcodings {
		if tc.Format.MimeType == mimeType && tc.Format.Protocol == "hls" {
			return tc, true
		}
	}
	return Transcoding{}, false
}
