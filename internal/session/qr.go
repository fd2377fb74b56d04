// ABOUTME: QR rendering for pairing codes
// ABOUTME: Produces a PNG data URL suitable for embedding in API responses

package session

import (
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// qrImageSize is the rendered QR edge length in pixels.
const qrImageSize = 256

// renderQRDataURL encodes a pairing code as a PNG QR image and returns it as
// a base64 data URL.
func renderQRDataURL(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, qrImageSize)
	if err != nil {
		return "", fmt.Errorf("encoding QR image: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
