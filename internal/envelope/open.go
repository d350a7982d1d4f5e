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
	"fmt"
)

// Open reverses SealWith: it unwraps the AES key with priv and decrypts
// encryptedData. It is the reference decryptor for the wire contract.
func Open(scheme Scheme, p Payload, priv *rsa.PrivateKey) ([]byte, error) {
	wrapped, err := base64.StdEncoding.DecodeString(p.EncryptedAESKey)
	if err != nil {
		return nil, &EncryptionError{Op: "decode key", Err: ErrMalformed}
	}
	key, err := rsa.DecryptOAEP(sha1.New(), nil, priv, wrapped, nil)
	if err != nil {
		return nil, &EncryptionError{Op: "unwrap key", Err: err}
	}
	defer clear(key)
	if len(key) != KeySize {
		return nil, &EncryptionError{Op: "unwrap key", Err: ErrMalformed}
	}

	data, err := base64.StdEncoding.DecodeString(p.EncryptedData)
	if err != nil {
		return nil, &EncryptionError{Op: "decode data", Err: ErrMalformed}
	}
	var plaintext []byte
	switch scheme {
	case SchemeCBC:
		plaintext, err = decryptCBC(key, data)
	case SchemeGCM:
		plaintext, err = decryptGCM(key, data)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}
	if err != nil {
		return nil, &EncryptionError{Op: "decrypt data", Err: err}
	}
	return plaintext, nil
}

// OpenInto opens p and decodes the JSON record into a T.
func OpenInto[T any](scheme Scheme, p Payload, priv *rsa.PrivateKey) (T, error) {
	var out T
	plaintext, err := Open(scheme, p, priv)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(plaintext, &out); err != nil {
		return out, &EncryptionError{Op: "unmarshal", Err: err}
	}
	return out, nil
}

// GenerateSessionKey creates an RSA key pair and returns the private key with
// its PKIX PEM public half, the form the key service hands out.
func GenerateSessionKey(bits int) (*rsa.PrivateKey, string, error) {
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, "", fmt.Errorf("envelope: failed to generate RSA key: %w", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, "", fmt.Errorf("envelope: failed to marshal public key: %w", err)
	}
	return priv, string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

func decryptCBC(key, data []byte) ([]byte, error) {
	if len(data) < 2*aes.BlockSize || len(data)%aes.BlockSize != 0 {
		return nil, ErrMalformed
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	iv, ct := data[:aes.BlockSize], data[aes.BlockSize:]
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ct)
	return pkcs7Unpad(out, aes.BlockSize)
}

func decryptGCM(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(data) < gcm.NonceSize()+gcm.Overhead() {
		return nil, ErrMalformed
	}
	nonce, ct := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ct, nil)
}
