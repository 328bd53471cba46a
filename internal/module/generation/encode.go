package generation

import (
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// NewImageAsset reads an uploaded image, rejecting empty, oversized and
// non-image payloads. The MIME type is sniffed from content; declaredMIME is
// used only when sniffing cannot name an image type.
func NewImageAsset(r io.Reader, fileName, declaredMIME string, maxBytes int64) (*ImageAsset, error) {
	if r == nil {
		return nil, NewError(KindEncoding, "image file could not be read", nil)
	}
	if maxBytes > 0 {
		r = io.LimitReader(r, maxBytes+1)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, NewError(KindEncoding, "image file could not be read", err)
	}
	if len(data) == 0 {
		return nil, NewError(KindEncoding, "image file is empty", nil)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, NewError(KindValidation, fmt.Sprintf("image exceeds %d bytes", maxBytes), nil)
	}

	mimeType := detectImageMIME(data, declaredMIME)
	if mimeType == "" {
		return nil, NewError(KindValidation, "file is not a supported image", nil)
	}

	return &ImageAsset{Data: data, MIMEType: mimeType, FileName: fileName}, nil
}

func detectImageMIME(data []byte, declared string) string {
	mt := mimetype.Detect(data)
	for m := mt; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "image/") {
			return m.String()
		}
	}
	declared = strings.TrimSpace(strings.SplitN(declared, ";", 2)[0])
	if strings.HasPrefix(declared, "image/") && mt.Is("application/octet-stream") {
		return declared
	}
	return ""
}

// encodeImage converts an asset into the provider's transport encoding.
func encodeImage(asset *ImageAsset) (EncodedImage, error) {
	if asset == nil || len(asset.Data) == 0 {
		return EncodedImage{}, NewError(KindEncoding, "image file could not be read", nil)
	}

	mimeType := asset.MIMEType
	if mimeType == "" {
		mimeType = detectImageMIME(asset.Data, "")
		if mimeType == "" {
			return EncodedImage{}, NewError(KindEncoding, "image type could not be determined", nil)
		}
	}

	return EncodedImage{
		Base64:   base64.StdEncoding.EncodeToString(asset.Data),
		MIMEType: mimeType,
	}, nil
}
