package wavcodec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// DataURI encodes payload as "data:<mimeType>;base64,..."
func DataURI(mimeType string, payload []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(payload)
}

// DecodeBase64 turns a base64 payload, optionally prefixed with a data URI
// header such as "data:audio/mpeg;base64,", into raw bytes.
func DecodeBase64(encoded string) ([]byte, error) {
	payload := strings.TrimSpace(encoded)
	if strings.HasPrefix(payload, "data:") {
		comma := strings.IndexByte(payload, ',')
		if comma < 0 {
			return nil, errors.New("malformed data URI")
		}
		payload = payload[comma+1:]
	}
	if payload == "" {
		return nil, errors.New("empty audio payload")
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// Some encoders drop the padding
		raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if rawErr != nil {
			return nil, fmt.Errorf("failed to decode base64 audio: %w", err)
		}
		data = raw
	}
	return data, nil
}
