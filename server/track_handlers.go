package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"hlsrelay/core/credential"
	"hlsrelay/core/signer"
	"hlsrelay/core/upstream"
	"hlsrelay/logger"
	"hlsrelay/model"
)

var validate = validator.New()

const maxBodySize = 64 << 10

// GetInfoHandler POST /getInfo
// Looks the track up upstream and, when an mp3 HLS transcoding exists, returns
// a signed /downloadTrack link for it.
func (h *APIHandler) GetInfoHandler(w http.ResponseWriter, r *http.Request) {
	var req model.TrackInfoRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", errBadBody, err))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", errBadBody, err))
		return
	}

	// 请求自带 clientId 时优先使用，只有池内凭证才回报结果
	clientID := req.ClientID
	var handle credential.Handle
	fromPool := false
	if clientID == "" {
		hd, err := h.pool.Select()
		if err != nil {
			writeError(w, r, err)
			return
		}
		handle, clientID, fromPool = hd, hd.ID, true
	} else if h.pool.Contains(clientID) {
		handle, fromPool = credential.Handle{ID: clientID}, true
	}

	info, err := h.tracks.GetTrackInfo(r.Context(), req.URL, clientID)
	if fromPool {
		switch {
		case err == nil:
			h.pool.ReportOutcome(handle, true)
		case errors.Is(err, upstream.ErrCredentialRejected):
			h.pool.ReportOutcome(handle, false)
		}
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := model.TrackInfoResponse{
		Title:   info.Title,
		Artwork: info.ArtworkURL,
		Message: "Track is not downloadable",
	}
	if _, ok := info.DownloadableTranscoding(audioMimeType); ok {
		signed, _, err := h.signer.Sign("/downloadTrack", signer.Params{{Key: paramURL, Value: req.URL}}, h.cfg.SignedURLTTL)
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp.URI = h.cfg.PublicBaseURL + signed
		resp.Message = "Track is downloadable"
	}

	writeJSON(w, http.StatusOK, resp)
}

// DownloadTrackHandler redeems a signed /downloadTrack link: it looks the track
// up again, picks the mp3 transcoding and streams it as track.mp3.
func (h *APIHandler) DownloadTrackHandler(w http.ResponseWriter, r *http.Request) {
	sr, _ := SignedRequestFromContext(r.Context())
	trackURL, ok := sr.Params.Get(paramURL)
	if !ok || trackURL == "" {
		writeError(w, r, errMissingParam)
		return
	}

	hd, err := h.pool.Select()
	if err != nil {
		writeError(w, r, err)
		return
	}
	info, err := h.tracks.GetTrackInfo(r.Context(), trackURL, hd.ID)
	if err != nil {
		if errors.Is(err, upstream.ErrCredentialRejected) {
			h.pool.ReportOutcome(hd, false)
		}
		writeError(w, r, err)
		return
	}
	h.pool.ReportOutcome(hd, true)

	tc, ok := info.DownloadableTranscoding(audioMimeType)
	if !ok {
		writeError(w, r, fmt.Errorf("track %q has no mp3 transcoding", trackURL))
		return
	}

	m, err := h.fetcher.Fetch(r.Context(), tc.URL)
	if err != nil {
		writeError(w, r, err)
		return
	}

	logger.Info("开始下载曲目",
		logger.String("request_id", RequestIDFromContext(r.Context())),
		logger.String("title", info.Title),
		logger.Int("segments", m.Len()))
	h.serveStreaming(w, r, m, "track.mp3")
}
