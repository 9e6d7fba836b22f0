package types

import "strings"

// Supported output aspect ratios.
const (
	Ratio9x16 = "9:16"
	Ratio16x9 = "16:9"
	Ratio1x1  = "1:1"
	Ratio4x5  = "4:5"
)

// Dimensions is a pixel size.
type Dimensions struct {
	Width  int
	Height int
}

// Ratio returns width over height.
func (d Dimensions) Ratio() float64 {
	if d.Height == 0 {
		return 0
	}
	return float64(d.Width) / float64(d.Height)
}

// DimensionsFor returns the exact canvas for an aspect ratio. Unknown
// ratios fall back to vertical short-form.
func DimensionsFor(ratio string) Dimensions {
	switch strings.TrimSpace(ratio) {
	case Ratio16x9:
		return Dimensions{Width: 1920, Height: 1080}
	case Ratio1x1:
		return Dimensions{Width: 1080, Height: 1080}
	case Ratio4x5:
		return Dimensions{Width: 1080, Height: 1350}
	default:
		return Dimensions{Width: 1080, Height: 1920}
	}
}

// ClassifyAspect names the orientation of a width x height image.
func ClassifyAspect(width, height int) string {
	if width <= 0 || height <= 0 {
		return "unknown"
	}
	r := float64(width) / float64(height)
	switch {
	case r > 1.1:
		return "landscape"
	case r < 0.9:
		return "portrait"
	default:
		return "square"
	}
}
