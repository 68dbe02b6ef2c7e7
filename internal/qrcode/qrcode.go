// Package qrcode renders join URLs as QR codes for the /api/qrcode endpoint.
package qrcode

import (
	"encoding/base64"
	"fmt"

	goqrcode "github.com/skip2/go-qrcode"
)

const pngSize = 256

// DataURI renders url as a PNG QR code and returns it as a base64
// data: URI suitable for direct use in an <img> src attribute.
func DataURI(url string) (string, error) {
	png, err := goqrcode.Encode(url, goqrcode.Medium, pngSize)
	if err != nil {
		return "", fmt.Errorf("encode qr code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
