package irp

import (
	"crypto"
	"crypto/sha256"
	"encoding/base64"
	"os"

	"github.com/alapierre/go-irp-client/irp/keys"
)

// Signer produces the X-Digital-Signature header value for a request body.
type Signer interface {
	Sign(body []byte) (string, error)
	// Name describes the signing method for health reports.
	Name() string
}

// PlaceholderSigner sends base64(SHA-256(body)) where a certificate based
// signature belongs. It is NOT a digital signature and must not be used in production.
type PlaceholderSigner struct{}

// NewPlaceholderSigner requires the configured certificate file to exist,
// even though its contents are not used.
func NewPlaceholderSigner(certPath string) (*PlaceholderSigner, error) {
	if _, err := os.Stat(certPath); err != nil {
		return nil, &ApiError{Kind: KindSignature, Message: "certificate not readable", Err: err}
	}
	logger.Warn("placeholder signer in use: X-Digital-Signature carries a SHA-256 hash, NOT a real digital signature; not production-grade")
	return &PlaceholderSigner{}, nil
}

func (PlaceholderSigner) Sign(body []byte) (string, error) {
	sum := sha256.Sum256(body)
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}

func (PlaceholderSigner) Name() string {
	return "placeholder (not production-grade)"
}

// KeySigner signs SHA-256(body) with an RSA (PSS) or ECDSA private key.
type KeySigner struct {
	key crypto.Signer
}

func NewKeySigner(key crypto.Signer) *KeySigner {
	return &KeySigner{key: key}
}

func NewKeySignerFromFile(path string, password []byte) (*KeySigner, error) {
	key, err := keys.LoadSignerFromFile(path, password)
	if err != nil {
		return nil, &ApiError{Kind: KindSignature, Message: "load signing key", Err: err}
	}
	return NewKeySigner(key), nil
}

func (s *KeySigner) Sign(body []byte) (string, error) {
	sig, err := keys.Sign(s.key, body)
	if err != nil {
		return "", &ApiError{Kind: KindSignature, Message: "sign request body", Err: err}
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

func (s *KeySigner) Name() string {
	return "pkcs8 " + keys.Algorithm(s.key)
}

// NewSignerFromConfig returns nil when no signature is configured.
// Without an explicit mode a certificate path selects the placeholder.
func NewSignerFromConfig(cfg Config) (Signer, error) {
	switch cfg.SignatureMode {
	case SignatureNone:
		return nil, nil
	case SignaturePKCS8:
		s, err := NewKeySignerFromFile(cfg.CertificatePath, []byte(cfg.CertificatePassword))
		if err != nil {
			return nil, err
		}
		return s, nil
	case SignaturePlaceholder, "":
		if cfg.CertificatePath == "" && cfg.SignatureMode == "" {
			return nil, nil
		}
		s, err := NewPlaceholderSigner(cfg.CertificatePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, &ApiError{Kind: KindConfig, Message: "unknown signature mode " + string(cfg.SignatureMode), Err: ErrInvalidConfig}
}
