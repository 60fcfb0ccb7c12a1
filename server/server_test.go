package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hlsrelay/cache"
	"hlsrelay/config"
	"hlsrelay/core/assembler"
	"hlsrelay/core/auth"
	"hlsrelay/core/credential"
	"hlsrelay/core/manifest"
	"hlsrelay/core/signer"
	"hlsrelay/core/upstream"
	"hlsrelay/metrics"
	"hlsrelay/model"
)

const publicBase = "http://relay.test"

type resolverFunc func(ctx context.Context, locator string) (string, error)

func (f resolverFunc) ResolveManifestURL(ctx context.Context, locator string) (string, error) {
	return f(ctx, locator)
}

type fakeTracks struct {
	info  *model.TrackInfo
	err   error
	calls []string
}

func (f *fakeTracks) GetTrackInfo(ctx context.Context, trackURL, clientID string) (*model.TrackInfo, error) {
	f.calls = append(f.calls, clientID)
	return f.info, f.err
}

// cdn serves one manifest and its segments over TLS.
type cdn struct {
	srv      *httptest.Server
	segments []string
	failAt   int
	hits     int32
}

func newCDN(t *testing.T, segments ...string) *cdn {
	t.Helper()
	c := &cdn{segments: segments, failAt: -1}
	mux := http.NewServeMux()
	mux.HandleFunc("/playlist.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpegurl")
		var b strings.Builder
		b.WriteString("#EXTM3U\n")
		for i := range c.segments {
			fmt.Fprintf(&b, "#EXTINF:10.0,\n%s/seg/%d\n", c.srv.URL, i)
		}
		b.WriteString("#EXT-X-ENDLIST\n")
		_, _ = w.Write([]byte(b.String()))
	})
	mux.HandleFunc("/seg/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&c.hits, 1)
		i, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/seg/"))
		if err != nil || i >= len(c.segments) {
			http.NotFound(w, r)
			return
		}
		if i == c.failAt {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(c.segments[i]))
	})
	c.srv = httptest.NewTLSServer(mux)
	t.Cleanup(c.srv.Close)
	return c
}

type testEnv struct {
	router  http.Handler
	now     *time.Time
	cdn     *cdn
	cfg     *config.Config
	signer  *signer.Signer
	cache   *cache.MemoryStore
	pool    *credential.Pool
	tracks  *fakeTracks
	tokens  *auth.TokenIssuer
	resolve resolverFunc
}

func newTestEnv(t *testing.T, segments ...string) *testEnv {
	t.Helper()
	if len(segments) == 0 {
		segments = []string{"AA", "BB", "CC"}
	}

	now := time.Unix(1_700_000_000, 0)
	env := &testEnv{now: &now, cdn: newCDN(t, segments...)}
	clock := func() time.Time { return *env.now }

	env.cfg = &config.Config{
		PublicBaseURL: publicBase,
		SignedURLTTL:  time.Hour,
		CacheTTL:      10 * time.Second,
	}
	env.signer = signer.New([]byte("test-url-key")).WithClock(clock)
	env.cache = cache.NewMemoryStore().WithClock(clock)
	env.pool = credential.NewPool([]string{"cid-pool-1"}, nil)
	env.tracks = &fakeTracks{}
	env.tokens = auth.NewTokenIssuer([]byte("test-operator-key"))
	env.resolve = func(ctx context.Context, locator string) (string, error) {
		if strings.Contains(locator, "unresolvable") {
			return "", errors.New("provider said no")
		}
		if strings.Contains(locator, "elsewhere") {
			return "", fmt.Errorf("%w: https://elsewhere.example", upstream.ErrForeignLocator)
		}
		return env.cdn.srv.URL + "/playlist.m3u8", nil
	}

	m := metrics.New()
	h := NewAPIHandler(Deps{
		Config:    env.cfg,
		Signer:    env.signer,
		Tokens:    env.tokens,
		Cache:     env.cache,
		Fetcher:   manifest.NewFetcher(env.resolve, env.cdn.srv.Client(), nil),
		Assembler: assembler.New(env.cdn.srv.Client(), m),
		Tracks:    env.tracks,
		Pool:      env.pool,
		Metrics:   m,
	})
	env.router = NewRouter(h)
	return env
}

func (e *testEnv) do(t *testing.T, method, target string, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	target = strings.TrimPrefix(target, publicBase)
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) download(t *testing.T, query string) model.DownloadResponse {
	t.Helper()
	rec := e.do(t, http.MethodGet, "/download?"+query, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp model.DownloadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func locatorQuery(locator string) string {
	return "url=" + url.QueryEscape(locator)
}

func TestDownloadThenStream(t *testing.T) {
	env := newTestEnv(t)

	resp := env.download(t, locatorQuery("https://api.example.com/media/1/stream/hls"))
	assert.True(t, strings.HasPrefix(resp.DownloadURL, publicBase+"/stream?"), resp.DownloadURL)
	assert.True(t, strings.HasPrefix(resp.WebsocketURL, "ws://relay.test/ws/stream?"), resp.WebsocketURL)
	assert.Equal(t, env.now.Add(time.Hour).Unix(), resp.ExpiresAt)

	rec := env.do(t, http.MethodGet, resp.DownloadURL, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="audio.mp3"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "AABBCC", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	// 有效期内可以重复兑换
	rec = env.do(t, http.MethodGet, resp.DownloadURL, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStreamAfterExpiry(t *testing.T) {
	env := newTestEnv(t)
	resp := env.download(t, locatorQuery("https://api.example.com/media/1/stream/hls"))

	*env.now = time.Unix(resp.ExpiresAt, 0)
	rec := env.do(t, http.MethodGet, resp.DownloadURL, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "still valid at the expiry second")

	*env.now = time.Unix(resp.ExpiresAt+1, 0)
	rec = env.do(t, http.MethodGet, resp.DownloadURL, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "URL has expired")
}

func TestStreamRejectsTamperedLinks(t *testing.T) {
	env := newTestEnv(t)
	resp := env.download(t, locatorQuery("https://api.example.com/media/1/stream/hls"))

	last := resp.DownloadURL[len(resp.DownloadURL)-1:]
	flipped := "0"
	if last == "0" {
		flipped = "1"
	}

	testCases := []struct {
		name   string
		target string
		status int
	}{
		{
			name:   "swapped_locator",
			target: strings.Replace(resp.DownloadURL, "media%2F1", "media%2F2", 1),
			status: http.StatusUnauthorized,
		},
		{
			name:   "signature_changed",
			target: resp.DownloadURL[:len(resp.DownloadURL)-1] + flipped,
			status: http.StatusUnauthorized,
		},
		{
			name:   "output_type_injected",
			target: strings.Replace(resp.DownloadURL, "&expires=", "&outputType=stream&expires=", 1),
			status: http.StatusUnauthorized,
		},
		{
			name:   "signature_missing",
			target: resp.DownloadURL[:strings.Index(resp.DownloadURL, "&signature=")],
			status: http.StatusBadRequest,
		},
		{
			name:   "unsigned",
			target: "/stream?url=x",
			status: http.StatusBadRequest,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tc.target, "", nil)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.Zero(t, atomic.LoadInt32(&env.cdn.hits))
		})
	}
}

func TestDownloadErrors(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/download", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/download?"+locatorQuery("https://api/unresolvable")+"&outputType=stream", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "provider said no", "details stay in the log")

	rec = env.do(t, http.MethodGet, "/download?"+locatorQuery("https://api/x")+"&outputType=flac", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/download?"+locatorQuery("https://elsewhere.example/steal"), "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDownloadRejectsEmptyManifest(t *testing.T) {
	env := newTestEnv(t)
	env.cdn.segments = nil

	rec := env.do(t, http.MethodGet, "/download?"+locatorQuery("https://api/x"), "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStreamTruncatesAfterFirstByte(t *testing.T) {
	env := newTestEnv(t)
	resp := env.download(t, locatorQuery("https://api/x"))
	env.cdn.failAt = 1

	rec := env.do(t, http.MethodGet, resp.DownloadURL, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "AA", rec.Body.String())
	assert.Equal(t, int32(2), atomic.LoadInt32(&env.cdn.hits))
}

func TestStreamFailsBeforeFirstByte(t *testing.T) {
	env := newTestEnv(t)
	resp := env.download(t, locatorQuery("https://api/x"))
	env.cdn.failAt = 0

	rec := env.do(t, http.MethodGet, resp.DownloadURL, "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), genericFailure)
}

func TestStreamBufferedModes(t *testing.T) {
	testCases := []struct {
		outputType  string
		disposition string
	}{
		{outputType: "stream", disposition: ""},
		{outputType: "file", disposition: `attachment; filename="audio_nice.mp3"`},
	}

	for _, tc := range testCases {
		t.Run(tc.outputType, func(t *testing.T) {
			env := newTestEnv(t)
			resp := env.download(t, locatorQuery("https://api/x")+"&outputType="+tc.outputType)
			assert.Contains(t, resp.DownloadURL, "outputType="+tc.outputType)

			rec := env.do(t, http.MethodGet, resp.DownloadURL, "", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
			assert.Equal(t, "6", rec.Header().Get("Content-Length"))
			assert.Equal(t, tc.disposition, rec.Header().Get("Content-Disposition"))
			assert.Equal(t, "AABBCC", rec.Body.String())
		})
	}
}

func TestStreamBufferedFailureSendsNoAudio(t *testing.T) {
	env := newTestEnv(t)
	resp := env.download(t, locatorQuery("https://api/x")+"&outputType=stream")
	env.cdn.failAt = 2

	rec := env.do(t, http.MethodGet, resp.DownloadURL, "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "AABB")
}

func TestProtectedRequiresSignature(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/protected", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	signed, _, err := env.signer.Sign("/protected", signer.Params{{Key: "param1", Value: "value1"}}, 10*time.Second)
	require.NoError(t, err)

	*env.now = env.now.Add(11 * time.Second)
	rec = env.do(t, http.MethodGet, signed, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedIsCached(t *testing.T) {
	env := newTestEnv(t)
	signed, _, err := env.signer.Sign("/protected", signer.Params{{Key: "param1", Value: "value1"}}, time.Minute)
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, signed, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, protectedPayload, rec.Body.String())

	cached, ok, err := env.cache.Get(context.Background(), "response-"+signed)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, protectedPayload, string(cached))

	rec = env.do(t, http.MethodGet, signed, "", nil)
	assert.Equal(t, protectedPayload, rec.Body.String())

	// 缓存过期后按未命中处理
	*env.now = env.now.Add(11 * time.Second)
	_, ok, _ = env.cache.Get(context.Background(), "response-"+signed)
	assert.False(t, ok)
}

func TestGenerateSignedURL(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/generate-signed-url", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.True(t, strings.HasPrefix(body, "Visit this URL: "+publicBase+"/protected?param1=value1&expires="), body)
	link := strings.TrimPrefix(body, "Visit this URL: ")

	rec = env.do(t, http.MethodGet, link, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, protectedPayload, rec.Body.String())

	// 缓存期内返回同一个链接
	*env.now = env.now.Add(5 * time.Second)
	rec = env.do(t, http.MethodGet, "/generate-signed-url", "", nil)
	assert.Equal(t, body, rec.Body.String())

	*env.now = env.now.Add(6 * time.Second)
	rec = env.do(t, http.MethodGet, "/generate-signed-url", "", nil)
	assert.NotEqual(t, body, rec.Body.String())
}

func TestSignedURLCacheTTL(t *testing.T) {
	assert.Equal(t, 10*time.Second, signedURLCacheTTL(10*time.Second, time.Hour))
	assert.Equal(t, 5*time.Second, signedURLCacheTTL(10*time.Second, 10*time.Second))
	assert.Equal(t, 500*time.Millisecond, signedURLCacheTTL(10*time.Second, time.Second))
}

func downloadableInfo() *model.TrackInfo {
	info := &model.TrackInfo{Title: "Out of Time", ArtworkURL: "https://img/1.jpg"}
	info.Media.Transcodings = []model.Transcoding{
		{URL: "https://api/1/stream/hls", Format: model.TranscodingFormat{Protocol: "hls", MimeType: "audio/mpeg"}},
	}
	return info
}

func TestGetInfoThenDownloadTrack(t *testing.T) {
	env := newTestEnv(t)
	env.tracks.info = downloadableInfo()

	rec := env.do(t, http.MethodPost, "/getInfo", `{"url":"https://soundcloud.com/a/b"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp model.TrackInfoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Out of Time", resp.Title)
	assert.Equal(t, "https://img/1.jpg", resp.Artwork)
	assert.Equal(t, "Track is downloadable", resp.Message)
	require.True(t, strings.HasPrefix(resp.URI, publicBase+"/downloadTrack?url="), resp.URI)
	assert.Equal(t, []string{"cid-pool-1"}, env.tracks.calls)

	rec = env.do(t, http.MethodGet, resp.URI, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="track.mp3"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "AABBCC", rec.Body.String())
}

func TestGetInfoNotDownloadable(t *testing.T) {
	env := newTestEnv(t)
	env.tracks.info = &model.TrackInfo{Title: "Preview only"}

	rec := env.do(t, http.MethodPost, "/getInfo", `{"url":"https://soundcloud.com/a/b"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Equal(t, "Track is not downloadable", raw["message"])
	assert.NotContains(t, raw, "uri")
}

func TestGetInfoProgressiveOnlyIsNotDownloadable(t *testing.T) {
	env := newTestEnv(t)
	env.tracks.info = &model.TrackInfo{Title: "Progressive only"}
	env.tracks.info.Media.Transcodings = []model.Transcoding{
		{URL: "https://api/1/stream/progressive", Format: model.TranscodingFormat{Protocol: "progressive", MimeType: "audio/mpeg"}},
	}

	rec := env.do(t, http.MethodPost, "/getInfo", `{"url":"https://soundcloud.com/a/b"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp model.TrackInfoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Track is not downloadable", resp.Message)
	assert.Empty(t, resp.URI)
}

func TestGetInfoClientOverride(t *testing.T) {
	env := newTestEnv(t)
	env.tracks.info = downloadableInfo()

	rec := env.do(t, http.MethodPost, "/getInfo", `{"url":"https://soundcloud.com/a/b","clientId":"OwnClient123"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"OwnClient123"}, env.tracks.calls)
}

func TestGetInfoErrors(t *testing.T) {
	testCases := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{name: "not_json", body: `{url`, status: http.StatusBadRequest},
		{name: "missing_url", body: `{"clientId":"abcdefgh"}`, status: http.StatusBadRequest},
		{name: "not_a_url", body: `{"url":"soundcloud"}`, status: http.StatusBadRequest},
		{name: "bad_client_id", body: `{"url":"https://soundcloud.com/a","clientId":"x"}`, status: http.StatusBadRequest},
		{name: "upstream_failure", body: `{"url":"https://soundcloud.com/a"}`, err: upstream.ErrNotFound, status: http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.tracks.err = tc.err

			rec := env.do(t, http.MethodPost, "/getInfo", tc.body, nil)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}
}

func TestGetInfoRejectedCredentialMarkedUnhealthy(t *testing.T) {
	env := newTestEnv(t)
	env.tracks.err = fmt.Errorf("%w: status 401", upstream.ErrCredentialRejected)

	rec := env.do(t, http.MethodPost, "/getInfo", `{"url":"https://soundcloud.com/a"}`, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, env.pool.Snapshot()[0].Healthy)

	// 池已空
	rec = env.do(t, http.MethodPost, "/getInfo", `{"url":"https://soundcloud.com/a"}`, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Len(t, env.tracks.calls, 1)
}

func TestAdminEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/admin/credentials", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/admin/credentials", "", http.Header{"Authorization": {"Bearer nope"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := env.tokens.Issue("ops", time.Hour)
	require.NoError(t, err)
	authz := http.Header{"Authorization": {"Bearer " + token}}

	rec = env.do(t, http.MethodGet, "/admin/credentials", "", authz)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"cid-pool-1"`)

	rec = env.do(t, http.MethodPut, "/admin/credentials/cid-pool-1/health", `{"healthy":false}`, authz)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, env.pool.Snapshot()[0].Healthy)

	rec = env.do(t, http.MethodPut, "/admin/credentials/unknown/health", `{"healthy":true}`, authz)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPut, "/admin/credentials/cid-pool-1/health", `{}`, authz)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthMetricsAndCORS(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	env.do(t, http.MethodGet, "/stream?url=x", "", nil)
	rec = env.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `hlsrelay_signatures_verified_total{result="malformed"} 1`)

	rec = env.do(t, http.MethodOptions, "/stream", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestIDPropagation(t *testing.T) {
	env := newTestEnv(t)
	id := "0b0c6f7e-7f3e-4c7a-9b1f-6f1d2b3c4d5e"

	rec := env.do(t, http.MethodGet, "/download", "", http.Header{requestIDHeader: {id}})
	assert.Equal(t, id, rec.Header().Get(requestIDHeader))
	assert.Contains(t, rec.Body.String(), id)

	rec = env.do(t, http.MethodGet, "/healthz", "", http.Header{requestIDHeader: {"not-a-uuid"}})
	assert.NotEqual(t, "not-a-uuid", rec.Header().Get(requestIDHeader))
}
