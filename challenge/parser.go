// Package challenge parses the enrollment challenge carried in the
// WWW-Authenticate response header.
//
// The provider answers the code request with a header such as
//
//	device-authorization encrypted-code="Zm9v...==", sent-to="j***@example.com"
//
// which normalizes to the keys "device-authorization_encrypted-code" and
// "sent-to".
package challenge

import (
	"strings"

	"github.com/programandonocosmos/cashtools-api/api"
	"github.com/programandonocosmos/cashtools-api/interfaces"
)

// Parse splits header into normalized key/value pairs.
//
// Chunks are separated by "," and split once on the first "=", so values may
// themselves contain "=" (base64 padding). A chunk without "=" fails the
// whole header.
func Parse(header string) (map[string]string, error) {
	chunks := strings.Split(header, ",")
	fields := make(map[string]string, len(chunks))

	for _, chunk := range chunks {
		key, value, ok := strings.Cut(chunk, "=")
		if !ok {
			return nil, &interfaces.ResponseError{Err: interfaces.ErrMalformedChallengeHeader, Body: header}
		}
		fields[normalizeKey(key)] = normalizeValue(value)
	}

	return fields, nil
}

// Extract parses header and returns the encrypted code and the masked
// destination of the one-time code.
func Extract(header string) (interfaces.ChallengeState, error) {
	fields, err := Parse(header)
	if err != nil {
		return interfaces.ChallengeState{}, err
	}

	var missing []string
	encryptedCode, ok := fields[api.EncryptedCodeKey]
	if !ok {
		missing = append(missing, api.EncryptedCodeKey)
	}
	sentTo, ok := fields[api.SentToKey]
	if !ok {
		missing = append(missing, api.SentToKey)
	}
	if len(missing) > 0 {
		return interfaces.ChallengeState{}, &interfaces.ResponseError{
			Err:     interfaces.ErrChallengeFieldsMissing,
			Body:    header,
			Missing: missing,
		}
	}

	return interfaces.ChallengeState{
		EncryptedCode: encryptedCode,
		SentTo:        sentTo,
	}, nil
}

func normalizeKey(key string) string {
	return strings.ReplaceAll(strings.TrimSpace(key), " ", "_")
}

func normalizeValue(value string) string {
	value = strings.TrimSpace(value)
	if len(value) >= 2 && strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) {
		value = value[1 : len(value)-1]
	}
	return strings.ReplaceAll(value, " ", "_")
}
