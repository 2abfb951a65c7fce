package inbound

import (
	"bytes"
	"encoding/base64"
	"image/jpeg"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
)

// maxImageDimension is the largest edge vision models accept without
// server-side downscaling; larger inputs just waste tokens.
const maxImageDimension = 1568

// encodeImageBase64 downscales oversized images and returns base64 bytes plus
// the effective media type. Undecodable images pass through untouched.
func encodeImageBase64(raw []byte, mimeType string) (string, string) {
	mediaType := normalizeImageMime(mimeType)

	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return base64.StdEncoding.EncodeToString(raw), mediaType
	}

	bounds := img.Bounds()
	if bounds.Dx() <= maxImageDimension && bounds.Dy() <= maxImageDimension {
		return base64.StdEncoding.EncodeToString(raw), mediaType
	}

	resized := imaging.Fit(img, maxImageDimension, maxImageDimension, imaging.Lanczos)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
		logrus.WithError(err).Warn("[MEDIA] Downscale re-encode failed, using original")
		return base64.StdEncoding.EncodeToString(raw), mediaType
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), "image/jpeg"
}

// normalizeImageMime maps inbound MIME types onto the set vision providers
// accept, defaulting to JPEG.
func normalizeImageMime(mimeType string) string {
	if idx := strings.Index(mimeType, ";"); idx > 0 {
		mimeType = mimeType[:idx]
	}
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/png":
		return "image/png"
	case "image/gif":
		return "image/gif"
	case "image/webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
