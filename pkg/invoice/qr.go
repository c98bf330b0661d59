package invoice

import (
	"fmt"

	"github.com/skip2/go-qrcode"
)

// DefaultQRSize is the edge length in pixels of rendered codes
const DefaultQRSize = 256

// RenderQR encodes a verification link as a PNG image.
func RenderQR(link string, size int) ([]byte, error) {
	if link == "" {
		return nil, fmt.Errorf("empty verification link")
	}
	if size <= 0 {
		size = DefaultQRSize
	}
	png, err := qrcode.Encode(link, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("failed to render QR code: %w", err)
	}
	return png, nil
}
