package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/youmark/pkcs8"
)

// LoadSignerFromFile reads a PEM file holding a PKCS#8 key, encrypted or not, and returns a crypto.Signer.
func LoadSignerFromFile(path string, password []byte) (crypto.Signer, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return LoadSignerFromPEM(b, password)
}

// LoadEncryptedPKCS8SignerFromFile accepts only ENCRYPTED PRIVATE KEY blocks.
func LoadEncryptedPKCS8SignerFromFile(path string, password []byte) (crypto.Signer, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return LoadEncryptedPKCS8SignerFromPEM(b, password)
}

// LoadEncryptedPKCS8SignerFromPEM loads the first ENCRYPTED PRIVATE KEY block.
func LoadEncryptedPKCS8SignerFromPEM(pemBytes []byte, password []byte) (crypto.Signer, error) {
	if len(password) == 0 {
		return nil, errors.New("password is required for ENCRYPTED PRIVATE KEY")
	}
	return loadFirst(pemBytes, password, "ENCRYPTED PRIVATE KEY")
}

// LoadSignerFromPEM loads the first ENCRYPTED PRIVATE KEY or PRIVATE KEY block.
func LoadSignerFromPEM(pemBytes []byte, password []byte) (crypto.Signer, error) {
	return loadFirst(pemBytes, password, "ENCRYPTED PRIVATE KEY", "PRIVATE KEY")
}

func loadFirst(pemBytes []byte, password []byte, types ...string) (crypto.Signer, error) {
	for len(pemBytes) > 0 {
		var block *pem.Block
		block, pemBytes = pem.Decode(pemBytes)
		if block == nil {
			break
		}
		if !accepted(block.Type, types) {
			continue
		}

		var (
			keyAny any
			err    error
		)
		if block.Type == "ENCRYPTED PRIVATE KEY" {
			if len(password) == 0 {
				return nil, errors.New("password is required for ENCRYPTED PRIVATE KEY")
			}
			keyAny, err = pkcs8.ParsePKCS8PrivateKey(block.Bytes, password)
		} else {
			keyAny, err = pkcs8.ParsePKCS8PrivateKey(block.Bytes)
		}
		if err != nil {
			return nil, fmt.Errorf("parse PKCS#8 private key: %w", err)
		}

		switch k := keyAny.(type) {
		case *rsa.PrivateKey:
			return k, nil
		case *ecdsa.PrivateKey:
			return k, nil
		default:
			return nil, fmt.Errorf("unsupported key type in PKCS#8: %T (expected RSA or ECDSA)", keyAny)
		}
	}

	return nil, fmt.Errorf("no %v block found in PEM", types)
}

func accepted(t string, types []string) bool {
	for _, a := range types {
		if t == a {
			return true
		}
	}
	return false
}

// Sign signs SHA-256(body): RSA keys use PSS, ECDSA keys produce an ASN.1 signature.
func Sign(signer crypto.Signer, body []byte) ([]byte, error) {
	digest := sha256.Sum256(body)

	var opts crypto.SignerOpts = crypto.SHA256
	if _, ok := signer.Public().(*rsa.PublicKey); ok {
		opts = &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: crypto.SHA256}
	}
	return signer.Sign(rand.Reader, digest[:], opts)
}

// Verify checks a signature produced by Sign against pub.
func Verify(pub crypto.PublicKey, body, sig []byte) error {
	digest := sha256.Sum256(body)
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return rsa.VerifyPSS(k, crypto.SHA256, digest[:], sig,
			&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: crypto.SHA256})
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(k, digest[:], sig) {
			return errors.New("ecdsa signature verification failed")
		}
		return nil
	}
	return fmt.Errorf("unsupported public key type %T", pub)
}

// Algorithm names the signature scheme Sign uses for signer.
func Algorithm(signer crypto.Signer) string {
	switch signer.Public().(type) {
	case *rsa.PublicKey:
		return "RSA-PSS-SHA256"
	case *ecdsa.PublicKey:
		return "ECDSA-SHA256"
	}
	return "unknown"
}
