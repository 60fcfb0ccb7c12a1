package signer

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// LabelURLSigning 用于签名 URL 的子密钥
	LabelURLSigning = "hlsrelay/url-signing/v1"
	// LabelOperatorToken 用于运维 JWT 的子密钥
	LabelOperatorToken = "hlsrelay/operator-token/v1"

	keySize = 32
)

// DeriveKey derives an independent 32-byte subkey from the process secret.
func DeriveKey(secret []byte, label string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("signing secret is empty")
	}

	reader := hkdf.New(sha256.New, secret, nil, []byte(label))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", label, err)
	}
	return key, nil
}
