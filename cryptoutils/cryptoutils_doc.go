// Package cryptoutils holds the key and certificate operations of device
// enrollment.
//
// # Device Keys
//
// Every enrollment attempt generates two 2048-bit RSA key pairs:
//
//   - the primary key, bound by the issued client certificate
//   - the "crypto" key, whose public half the enrollment protocol requires
//     but which has no local use
//
// Public keys travel as PKIX "PUBLIC KEY" PEM blocks (see ExportPublicPEM).
//
// # Identity Archive
//
// The issued certificate and the primary private key are bundled into a
// PKCS#12 archive with an empty password:
//
//	archive, err := cryptoutils.BundleIdentity(certPEM, keyPair.Private)
//	...
//	identity, err := cryptoutils.LoadIdentity(archive)
//	client := cfg.MTLSClient(identity)
//
// BundleIdentity refuses a certificate that does not bind the given key.
//
// # Authority
//
// Authority is a throwaway certificate authority used by the simulated
// provider to issue device certificates and its own TLS server certificate.
package cryptoutils
