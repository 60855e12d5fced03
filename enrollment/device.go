package enrollment

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	deviceIDAlphabet = "abcdefghijklmnopqrstuvwxyz1234567890"
	DeviceIDLength   = 12
)

// NewDeviceID returns a random device identifier of DeviceIDLength characters from [a-z0-9].
func NewDeviceID() (string, error) {
	max := big.NewInt(int64(len(deviceIDAlphabet)))
	id := make([]byte, DeviceIDLength)
	for i := range id {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate device id: %w", err)
		}
		id[i] = deviceIDAlphabet[n.Int64()]
	}
	return string(id), nil
}

// DeviceModel formats the human-readable model string sent on enrollment.
func DeviceModel(prefix, deviceID string) string {
	return fmt.Sprintf("%s (%s)", prefix, deviceID)
}
