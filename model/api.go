package model

// DownloadResponse /download 的响应
type DownloadResponse struct {
	DownloadURL  string `json:"downloadUrl"`
	WebsocketURL string `json:"websocketUrl"`
	ExpiresAt    int64  `json:"expiresAt"`
}

// TrackInfoRequest is the body of POST /getInfo.
type TrackInfoRequest struct {
	URL      string `json:"url" validate:"required,url"`
	ClientID string `json:"clientId" validate:"omitempty,min=8,max=128,alphanum"`
}

// TrackInfoResponse /getInfo 的响应，uri 只在存在可下载转码时返回
type TrackInfoResponse struct {
	Title   string `json:"title"`
	Artwork string `json:"art_work"`
	URI     string `json:"uri,omitempty"`
	Message string `json:"message"`
}

// CredentialHealthRequest is the body of PUT /admin/credentials/{id}/health.
type CredentialHealthRequest struct {
	Healthy *bool `json:"healthy" validate:"required"`
}

// ErrorResponse 统一错误响应
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}
