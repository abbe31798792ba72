package service

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	appErrors "github.com/noah-isme/esign-api/pkg/errors"
)

const defaultMaxArtifactBytes = 5 * 1024 * 1024

// artifact is a decoded signer image.
type artifact struct {
	Name        string
	Data        []byte
	ContentType string
	Extension   string
}

// decodeArtifact accepts raw base64 or a data URL and only admits PNG or JPEG.
// The declared data URL type is ignored; the bytes are sniffed.
func decodeArtifact(name, encoded string, maxBytes int64) (*artifact, error) {
	raw := strings.TrimSpace(encoded)
	if raw == "" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "data:") {
		comma := strings.IndexByte(raw, ',')
		if comma < 0 || !strings.Contains(raw[:comma], ";base64") {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s must be a base64 data url", name))
		}
		raw = raw[comma+1:]
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxArtifactBytes
	}
	if int64(base64.StdEncoding.DecodedLen(len(raw))) > maxBytes+3 {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s exceeds %d bytes", name, maxBytes))
	}

	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(raw, "="))
	}
	if err != nil || len(data) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s is not valid base64", name))
	}
	if int64(len(data)) > maxBytes {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s exceeds %d bytes", name, maxBytes))
	}

	mt := mimetype.Detect(data)
	switch {
	case mt.Is("image/png"):
		return &artifact{Name: name, Data: data, ContentType: "image/png", Extension: ".png"}, nil
	case mt.Is("image/jpeg"):
		return &artifact{Name: name, Data: data, ContentType: "image/jpeg", Extension: ".jpg"}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s must be a png or jpeg image, got %s", name, mt.String()))
	}
}
