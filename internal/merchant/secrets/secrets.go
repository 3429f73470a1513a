// Package secrets seals webhook signing secrets at rest with AES-256-GCM.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"strings"

	"github.com/smallbiznis/loyaltyrail/internal/config"
	"github.com/smallbiznis/loyaltyrail/internal/merchant/domain"
	"golang.org/x/crypto/hkdf"
	"gorm.io/datatypes"
)

const (
	payloadVersion = 1
	hkdfInfo       = "loyaltyrail/webhook-signing-secret/v1"
)

type encryptedPayload struct {
	Version    int    `json:"version"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Box seals and opens secrets with a key derived from the configured master key.
type Box struct {
	key []byte
}

func NewBox(cfg config.Config) (*Box, error) {
	return New(cfg.Webhook.SecretKey)
}

// New derives the AES key from master. An empty master yields a Box that
// refuses every operation with ErrEncryptionKeyMissing.
func New(master string) (*Box, error) {
	master = strings.TrimSpace(master)
	if master == "" {
		return &Box{}, nil
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(master), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, err
	}
	return &Box{key: key}, nil
}

func (b *Box) Seal(secret string) (datatypes.JSON, error) {
	if b == nil || len(b.key) == 0 {
		return nil, domain.ErrEncryptionKeyMissing
	}
	if strings.TrimSpace(secret) == "" {
		return nil, domain.ErrInvalidSecret
	}

	gcm, err := b.aead()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	ciphertext := gcm.Seal(nil, nonce, []byte(secret), nil)

	raw, err := json.Marshal(encryptedPayload{
		Version:    payloadVersion,
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawStdEncoding.EncodeToString(ciphertext),
	})
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func (b *Box) Open(sealed datatypes.JSON) (string, error) {
	if b == nil || len(b.key) == 0 {
		return "", domain.ErrEncryptionKeyMissing
	}
	if len(sealed) == 0 {
		return "", domain.ErrInvalidSecret
	}

	var payload encryptedPayload
	if err := json.Unmarshal(sealed, &payload); err != nil {
		return "", domain.ErrInvalidSecret
	}
	if payload.Version != payloadVersion {
		return "", domain.ErrInvalidSecret
	}

	nonce, err := base64.RawStdEncoding.DecodeString(payload.Nonce)
	if err != nil {
		return "", domain.ErrInvalidSecret
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(payload.Ciphertext)
	if err != nil {
		return "", domain.ErrInvalidSecret
	}

	gcm, err := b.aead()
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", domain.ErrInvalidSecret
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", domain.ErrInvalidSecret
	}
	return string(plain), nil
}

func (b *Box) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
