package domain

import (
	"encoding/base64"
	"strings"
)

// DecodeImage decodes a base64 payload, optionally wrapped in a data URL
// ("data:image/svg+xml;base64,...").
func DecodeImage(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if strings.HasPrefix(payload, "data:") {
		i := strings.IndexByte(payload, ',')
		if i < 0 {
			return nil, Errorf(KindInvalidEncoding, "Invalid base64 image data: malformed data URL")
		}
		payload = payload[i+1:]
	}
	if payload == "" {
		return nil, Errorf(KindInvalidEncoding, "Invalid base64 image data: empty payload")
	}
	// Line-wrapped base64 is common when the payload was produced by a CLI.
	payload = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, payload)

	enc := base64.StdEncoding
	if !strings.HasSuffix(payload, "=") && len(payload)%4 != 0 {
		enc = base64.RawStdEncoding
	}
	data, err := enc.DecodeString(payload)
	if err != nil {
		return nil, Wrap(KindInvalidEncoding, "Invalid base64 image data", err)
	}
	if len(data) == 0 {
		return nil, Errorf(KindInvalidEncoding, "Invalid base64 image data: empty image")
	}
	return data, nil
}
