package interfaces

import (
	"errors"
	"fmt"
	"strings"
)

// Discovery errors.
var (
	// ErrDiscoveryUnreachable is returned when the discovery document cannot be fetched or read.
	ErrDiscoveryUnreachable = errors.New("discovery document unreachable")

	// ErrDiscoveryMalformed is returned when the discovery document is not a flat JSON object of URLs.
	ErrDiscoveryMalformed = errors.New("discovery document malformed")

	// ErrServiceNameNotFound is returned when a service name is absent from the discovery document.
	ErrServiceNameNotFound = errors.New("service name not found in discovery document")
)

// Challenge errors.
var (
	// ErrMalformedChallengeHeader is returned when a challenge header chunk is not a key=value pair.
	ErrMalformedChallengeHeader = errors.New("malformed challenge header")

	// ErrChallengeHeaderAbsent is returned when the enrollment response carries no challenge header.
	ErrChallengeHeaderAbsent = errors.New("challenge header absent")

	// ErrChallengeFieldsMissing is returned when the challenge header lacks the encrypted code or destination.
	ErrChallengeFieldsMissing = errors.New("challenge header is missing required fields")
)

// Cryptographic errors. None of these are retried.
var (
	ErrKeyGenerationFailed       = errors.New("key generation failed")
	ErrKeyEncodingFailed         = errors.New("key encoding failed")
	ErrCertificateBundlingFailed = errors.New("certificate bundling failed")
	ErrIdentityInvalid           = errors.New("identity archive invalid")
)

// Enrollment errors.
var (
	ErrEnrollmentRequestFailed      = errors.New("enrollment request failed")
	ErrExchangeBeforeRequest        = errors.New("certificate exchange attempted before code request")
	ErrExchangeRequestFailed        = errors.New("certificate exchange request failed")
	ErrCertificateResponseMalformed = errors.New("certificate response malformed")
	ErrArchivePersistFailed         = errors.New("identity archive could not be persisted")
)

// Session errors.
var (
	ErrIdentityUnreadable    = errors.New("identity archive unreadable")
	ErrAuthRequestFailed     = errors.New("authentication request failed")
	ErrAuthResponseMalformed = errors.New("authentication response malformed")
	ErrRequiredLinksMissing  = errors.New("required links missing from authentication response")
)

// ErrCertificateRequestedBeforeCodeRequest is returned by the client facade
// when a certificate is requested without a pending code request.
var ErrCertificateRequestedBeforeCodeRequest = errors.New("certificate requested before code request")

// ResponseError carries the raw remote response that caused a protocol error,
// so a server-side protocol change can be diagnosed.
type ResponseError struct {
	// Err is one of the sentinel errors of this package.
	Err error

	// StatusCode is the HTTP status of the response, zero if unknown.
	StatusCode int

	// Body is the raw response body, or the raw header value for header errors.
	Body string

	// Missing lists the names of absent fields or links, if any.
	Missing []string
}

func (e *ResponseError) Error() string {
	var b strings.Builder
	b.WriteString(e.Err.Error())
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, " (missing: %s)", strings.Join(e.Missing, ", "))
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " [status %d]", e.StatusCode)
	}
	if e.Body != "" {
		fmt.Fprintf(&b, ": %s", e.Body)
	}
	return b.String()
}

func (e *ResponseError) Unwrap() error {
	return e.Err
}
