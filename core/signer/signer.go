package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

const (
	// ExpiresParam 过期时间参数名（unix 秒）
	ExpiresParam = "expires"
	// SignatureParam 签名参数名（小写十六进制 HMAC-SHA256）
	SignatureParam = "signature"
)

var (
	ErrMalformedRequest = errors.New("malformed signed request")
	ErrExpired          = errors.New("signed url has expired")
	ErrInvalidSignature = errors.New("invalid signature")
)

// SignedRequest 验签通过后的请求内容
type SignedRequest struct {
	Path      string
	Params    Params // 不含 signature
	ExpiresAt int64
	Signature string
}

// Signer 生成和校验带过期时间的签名 URL
type Signer struct {
	key []byte
	now func() time.Time
}

// New 使用给定密钥创建 Signer
func New(key []byte) *Signer {
	return &Signer{key: key, now: time.Now}
}

// WithClock 替换时钟，主要用于测试
func (s *Signer) WithClock(now func() time.Time) *Signer {
	s.now = now
	return s
}

// Sign returns path?params&expires=..&signature=.. valid for ttl.
// A caller supplied expires is replaced; signature is reserved.
func (s *Signer) Sign(path string, params Params, ttl time.Duration) (string, int64, error) {
	if ttl <= 0 {
		return "", 0, fmt.Errorf("ttl must be positive, got %s", ttl)
	}
	if params.Count(SignatureParam) > 0 {
		return "", 0, fmt.Errorf("parameter %q is reserved", SignatureParam)
	}

	expiresAt := s.now().Add(ttl).Unix()
	signed := params.Without(ExpiresParam).With(ExpiresParam, strconv.FormatInt(expiresAt, 10))

	canonical := canonicalString(path, signed)
	sig := s.mac(canonical)
	return canonical + "&" + SignatureParam + "=" + sig, expiresAt, nil
}

// Verify checks a received URL (absolute or path-only).
func (s *Signer) Verify(receivedURL string) (*SignedRequest, error) {
	u, err := url.Parse(receivedURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	return s.VerifyParts(u.Path, u.RawQuery)
}

// VerifyParts 对已拆分的路径和原始查询串验签，HTTP 中间件直接使用
func (s *Signer) VerifyParts(path, rawQuery string) (*SignedRequest, error) {
	params, err := ParseQuery(rawQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}

	if params.Count(ExpiresParam) != 1 || params.Count(SignatureParam) != 1 {
		return nil, fmt.Errorf("%w: exactly one %s and one %s parameter required",
			ErrMalformedRequest, ExpiresParam, SignatureParam)
	}

	expiresRaw, _ := params.Get(ExpiresParam)
	received, _ := params.Get(SignatureParam)

	expiresAt, err := strconv.ParseInt(expiresRaw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: expires is not an integer", ErrMalformedRequest)
	}

	// now == expires 仍然有效
	if s.now().Unix() > expiresAt {
		return nil, ErrExpired
	}

	unsigned := params.Without(SignatureParam)
	expected := s.mac(canonicalString(path, unsigned))
	if !hmac.Equal([]byte(expected), []byte(received)) {
		return nil, ErrInvalidSignature
	}

	return &SignedRequest{
		Path:      path,
		Params:    unsigned,
		ExpiresAt: expiresAt,
		Signature: received,
	}, nil
}

func (s *Signer) mac(message string) string {
	h := hmac.New(sha256.New, s.key)
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

func canonicalString(path string, params Params) string {
	return path + "?" + params.Encode()
}
