package verifier

import (
	"fmt"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const MaxImageSize = 10 * 1024 * 1024

// ValidateImage checks size and type locally so bad uploads never reach the
// provider. Both the declared content type and the sniffed one must be an
// image type.
func ValidateImage(img SlipImage) error {
	if len(img.Data) == 0 {
		return fmt.Errorf("%w: empty file", ErrInvalidImage)
	}
	if len(img.Data) > MaxImageSize {
		return fmt.Errorf("%w: %d bytes", ErrImageTooLarge, len(img.Data))
	}

	if img.ContentType != "" {
		declared, _, err := mime.ParseMediaType(img.ContentType)
		if err != nil || !isImageType(declared) {
			return fmt.Errorf("%w: declared %q", ErrInvalidImage, img.ContentType)
		}
	}

	detected := mimetype.Detect(img.Data)
	if !isImageType(detected.String()) {
		return fmt.Errorf("%w: detected %q", ErrInvalidImage, detected.String())
	}
	return nil
}

func isImageType(mediaType string) bool {
	return strings.HasPrefix(strings.ToLower(mediaType), "image/")
}
