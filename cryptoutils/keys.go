package cryptoutils

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/programandonocosmos/cashtools-api/interfaces"
)

// KeyBits is the size of every generated key.
const KeyBits = 2048

// KeyPair is an RSA key pair owned by a single enrollment attempt.
// It is never persisted except inside the identity archive.
type KeyPair struct {
	Private *rsa.PrivateKey
}

// GenerateKeypair creates a fresh 2048-bit RSA key pair.
func GenerateKeypair() (*KeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrKeyGenerationFailed, err)
	}
	return &KeyPair{Private: key}, nil
}

// Public returns the public half of the pair.
func (kp *KeyPair) Public() *rsa.PublicKey {
	return &kp.Private.PublicKey
}

// ExportPublicPEM encodes the public key as a PKIX "PUBLIC KEY" PEM block.
func ExportPublicPEM(kp *KeyPair) (PublicKeyPEM, error) {
	if kp == nil || kp.Private == nil {
		return nil, fmt.Errorf("%w: no key", interfaces.ErrKeyEncodingFailed)
	}

	der, err := x509.MarshalPKIXPublicKey(kp.Public())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrKeyEncodingFailed, err)
	}

	return PublicKeyPEM(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}
