// Package interfaces defines the shared types and contracts of the device
// certificate client, separating them from implementations.
//
// # Protocol Types
//
// DiscoveryDocument: the flat service-name to URL mapping fetched from the
// provider's bootstrap discovery endpoint.
//
// EnrollmentPayload: the JSON body of the certificate enrollment request,
// built once per attempt and echoed unmodified in the code exchange.
//
// ChallengeState: the encrypted challenge and masked destination recovered
// from the enrollment response's WWW-Authenticate header.
//
// AuthSession: bearer token plus the per-service URLs returned by the
// mutual-TLS login.
//
// # Storage Interfaces
//
// ArchiveStore: persists identity archives (PKCS#12) across backends
// (file, S3, Vault, SQL).
//
// # Errors
//
// Every failing stage returns a distinct sentinel error from errors.go, so
// callers can test with errors.Is which stage failed. Errors that must carry
// the raw remote response are wrapped in ResponseError.
package interfaces
