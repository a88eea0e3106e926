// Package png renders QR payloads to PNG images.
package png

import (
	"github.com/alapierre/go-irp-client/irp/qr"
	"github.com/skip2/go-qrcode"
)

// DefaultSize is the image edge in pixels.
const DefaultSize = 300

func Qr(content string) ([]byte, error) {
	return qrcode.Encode(content, qrcode.Medium, DefaultSize)
}

// Payload renders p with the given edge size; size <= 0 uses DefaultSize.
func Payload(p *qr.Payload, size int) ([]byte, error) {
	content, err := p.Encode()
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = DefaultSize
	}
	return qrcode.Encode(content, qrcode.Medium, size)
}
