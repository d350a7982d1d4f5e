// Package envelope seals form submissions for transport to the backend using
// a session-scoped RSA public key and a one-shot AES-256 key.
//
// The payload shape, the AES mode and the RSA-OAEP/SHA-1 padding are a wire
// contract with the backend decryptor. OAEP with SHA-1 is kept for
// compatibility only.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// KeySize is the AES key length in bytes (AES-256).
	KeySize = 32
	// MinRSABits is the smallest RSA modulus accepted for key wrapping.
	MinRSABits = 2048
)

// Scheme names the symmetric cipher used for encryptedData.
type Scheme string

const (
	// SchemeCBC is base64(IV || AES-256-CBC(PKCS#7(json))).
	SchemeCBC Scheme = "aes-256-cbc"
	// SchemeGCM is base64(nonce || AES-256-GCM(json)).
	SchemeGCM Scheme = "aes-256-gcm"
)

// ParseScheme validates a configured scheme name.
func ParseScheme(name string) (Scheme, error) {
	switch s := Scheme(strings.ToLower(strings.TrimSpace(name))); s {
	case SchemeCBC, SchemeGCM:
		return s, nil
	case "":
		return SchemeCBC, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownScheme, name)
	}
}

// Payload is the only artifact that leaves the portal for sensitive submissions.
type Payload struct {
	EncryptedAESKey string `json:"encryptedAesKey"` // base64 RSA-OAEP ciphertext of the AES key
	SessionID       string `json:"sessionId"`       // Server session the key pair belongs to
	EncryptedData   string `json:"encryptedData"`   // base64 AES ciphertext of the JSON record
}

var (
	ErrInvalidPublicKey = errors.New("envelope: invalid RSA public key")
	ErrWeakKey          = errors.New("envelope: RSA key is smaller than 2048 bits")
	ErrEmptyCiphertext  = errors.New("envelope: encryption produced no output")
	ErrUnknownScheme    = errors.New("envelope: unknown cipher scheme")
	ErrMalformed        = errors.New("envelope: malformed payload")
	ErrMissingSession   = errors.New("envelope: session id is required")
)

// EncryptionError reports which step of sealing or opening failed.
type EncryptionError struct {
	Op  string // "parse key", "marshal", "encrypt data", "wrap key", ...
	Err error
}

func (e *EncryptionError) Error() string {
	return fmt.Sprintf("envelope: %s: %v", e.Op, e.Err)
}

func (e *EncryptionError) Unwrap() error { return e.Err }

// Seal encrypts record with AES-256-CBC under a fresh key and wraps the key
// with the session public key.
func Seal[T any](record T, publicKeyPEM, sessionID string) (Payload, error) {
	return SealWith(SchemeCBC, record, publicKeyPEM, sessionID)
}

// SealWith is Seal with an explicit symmetric scheme. On any failure it
// returns the zero Payload.
func SealWith[T any](scheme Scheme, record T, publicKeyPEM, sessionID string) (Payload, error) {
	if sessionID == "" {
		return Payload{}, &EncryptionError{Op: "validate", Err: ErrMissingSession}
	}
	pub, err := ParsePublicKey(publicKeyPEM)
	if err != nil {
		return Payload{}, &EncryptionError{Op: "parse key", Err: err}
	}
	plaintext, err := json.Marshal(record)
	if err != nil {
		return Payload{}, &EncryptionError{Op: "marshal", Err: err}
	}
	return seal(rand.Reader, scheme, plaintext, pub, sessionID)
}

func seal(random io.Reader, scheme Scheme, plaintext []byte, pub *rsa.PublicKey, sessionID string) (Payload, error) {
	key := make([]byte, KeySize)
	defer clear(key)
	if _, err := io.ReadFull(random, key); err != nil {
		return Payload{}, &EncryptionError{Op: "generate key", Err: err}
	}

	var data []byte
	var err error
	switch scheme {
	case SchemeCBC:
		data, err = encryptCBC(random, key, plaintext)
	case SchemeGCM:
		data, err = encryptGCM(random, key, plaintext)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}
	if err != nil {
		return Payload{}, &EncryptionError{Op: "encrypt data", Err: err}
	}

	wrapped, err := rsa.EncryptOAEP(sha1.New(), random, pub, key, nil)
	if err != nil {
		return Payload{}, &EncryptionError{Op: "wrap key", Err: err}
	}
	if len(wrapped) == 0 {
		return Payload{}, &EncryptionError{Op: "wrap key", Err: ErrEmptyCiphertext}
	}

	return Payload{
		EncryptedAESKey: base64.StdEncoding.EncodeToString(wrapped),
		SessionID:       sessionID,
		EncryptedData:   base64.StdEncoding.EncodeToString(data),
	}, nil
}

// ParsePublicKey accepts a PKIX "PUBLIC KEY", a PKCS#1 "RSA PUBLIC KEY" or a
// "CERTIFICATE" PEM block. Escaped newlines, as some JSON encoders emit them,
// are tolerated.
func ParsePublicKey(publicKeyPEM string) (*rsa.PublicKey, error) {
	raw := strings.TrimSpace(strings.ReplaceAll(publicKeyPEM, `\n`, "\n"))
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrInvalidPublicKey)
	}

	var key any
	var err error
	switch block.Type {
	case "PUBLIC KEY":
		key, err = x509.ParsePKIXPublicKey(block.Bytes)
	case "RSA PUBLIC KEY":
		key, err = x509.ParsePKCS1PublicKey(block.Bytes)
	case "CERTIFICATE":
		var cert *x509.Certificate
		cert, err = x509.ParseCertificate(block.Bytes)
		if err == nil {
			key = cert.PublicKey
		}
	default:
		return nil, fmt.Errorf("%w: unsupported PEM block %q", ErrInvalidPublicKey, block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}

	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: key type %T is not RSA", ErrInvalidPublicKey, key)
	}
	if pub.N.BitLen() < MinRSABits {
		return nil, fmt.Errorf("%w (got %d)", ErrWeakKey, pub.N.BitLen())
	}
	return pub, nil
}

func encryptCBC(random io.Reader, key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, aes.BlockSize+len(padded))
	iv := out[:aes.BlockSize]
	if _, err := io.ReadFull(random, iv); err != nil {
		return nil, err
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return out, nil
}

func encryptGCM(random io.Reader, key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(random, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	out := make([]byte, len(b)+n)
	copy(out, b)
	for i := len(b); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, ErrMalformed
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize {
		return nil, ErrMalformed
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, ErrMalformed
		}
	}
	return b[:len(b)-n], nil
}
