package cryptoutils

import (
	"crypto"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/programandonocosmos/cashtools-api/interfaces"
	"software.sslmate.com/src/go-pkcs12"
)

// archivePassword protects the identity archive. The provider's client uses none.
const archivePassword = ""

// BundleIdentity combines the issued certificate and its private key into a
// PKCS#12 archive with an empty password.
func BundleIdentity(certPEM []byte, key *rsa.PrivateKey) ([]byte, error) {
	cert, err := NewTLSCert(certPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrCertificateBundlingFailed, err)
	}

	x509Cert, err := cert.GetX509Cert()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrCertificateBundlingFailed, err)
	}

	if key == nil {
		return nil, fmt.Errorf("%w: no private key", interfaces.ErrCertificateBundlingFailed)
	}

	if err := VerifyKeyMatchesCertificate(x509Cert, key); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrCertificateBundlingFailed, err)
	}

	der, err := pkcs12.LegacyDES.Encode(key, x509Cert, nil, archivePassword)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrCertificateBundlingFailed, err)
	}

	return der, nil
}

// DecodeIdentity returns the private key and certificate stored in an archive.
func DecodeIdentity(der []byte) (crypto.Signer, *x509.Certificate, error) {
	privateKey, cert, _, err := pkcs12.DecodeChain(der, archivePassword)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", interfaces.ErrIdentityInvalid, err)
	}

	signer, ok := privateKey.(crypto.Signer)
	if !ok {
		return nil, nil, fmt.Errorf("%w: unsupported private key type %T", interfaces.ErrIdentityInvalid, privateKey)
	}

	if err := VerifyKeyMatchesCertificate(cert, signer); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", interfaces.ErrIdentityInvalid, err)
	}

	return signer, cert, nil
}

// LoadIdentity decodes an archive into a TLS client certificate.
func LoadIdentity(der []byte) (tls.Certificate, error) {
	key, cert, err := DecodeIdentity(der)
	if err != nil {
		return tls.Certificate{}, err
	}

	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
		Leaf:        cert,
	}, nil
}

// VerifyKeyMatchesCertificate checks that the certificate binds the public half of key.
func VerifyKeyMatchesCertificate(cert *x509.Certificate, key crypto.Signer) error {
	if cert == nil {
		return errors.New("no certificate")
	}

	pub, ok := key.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok {
		return fmt.Errorf("unsupported key type: %T", key)
	}

	if !pub.Equal(cert.PublicKey) {
		return errors.New("private key doesn't match certificate")
	}
	return nil
}
