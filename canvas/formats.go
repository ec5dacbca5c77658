package canvas

// Decoders registered for image.DecodeConfig in every build, so upload sizes
// are known before decoding.
import (
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)
