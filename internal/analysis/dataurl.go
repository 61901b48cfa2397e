package analysis

import (
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoImage is returned when a request carries no image.
var ErrNoImage = errors.New("analysis: no image")

var dataURLPrefix = regexp.MustCompile(`^data:(image/[\w.+-]+);base64,`)

// EncodeDataURL builds a base64 data URL.
func EncodeDataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURL returns the MIME type and bytes of an image data URL.
// Bare base64 without a prefix is taken as JPEG.
func DecodeDataURL(s string) (string, []byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil, ErrNoImage
	}

	mimeType := "image/jpeg"
	if m := dataURLPrefix.FindStringSubmatch(s); m != nil {
		mimeType = m[1]
		s = s[len(m[0]):]
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// some encoders drop the padding
		if data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); err != nil {
			return "", nil, fmt.Errorf("decode image: %w", err)
		}
	}
	if len(data) == 0 {
		return "", nil, ErrNoImage
	}
	return mimeType, data, nil
}
