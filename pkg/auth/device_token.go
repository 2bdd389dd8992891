package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// DeviceTokenBytes is the entropy of a device token. Device endpoints accept
// the token as the only proof of identity, so it must stay unguessable.
const DeviceTokenBytes = 32

// NewDeviceToken returns a URL-safe random token with 256 bits of entropy.
func NewDeviceToken() (string, error) {
	buf := make([]byte, DeviceTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
