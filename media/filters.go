package media

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"shorts-pipeline/types"
)

// NormalizeFilter fills dim exactly (scale up, center crop) and pins the
// frame rate and pixel format.
func NormalizeFilter(dim types.Dimensions, fps int) string {
	return fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,setsar=1,fps=%d,format=yuv420p",
		dim.Width, dim.Height, dim.Width, dim.Height, fps,
	)
}

// KenBurnsFilter zooms slowly from 1.0 to zoom over seconds. The source is
// upscaled 2x first so the zoom does not jitter.
func KenBurnsFilter(dim types.Dimensions, fps int, seconds, zoom float64) string {
	if zoom < 1 {
		zoom = 1
	}
	frames := int(math.Ceil(seconds * float64(fps)))
	if frames < 1 {
		frames = 1
	}
	step := (zoom - 1) / float64(frames)
	return fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,"+
			"zoompan=z='min(zoom+%.6f,%.3f)':x='iw/2-(iw/zoom/2)':y='ih/2-(ih/zoom/2)':d=%d:s=%dx%d:fps=%d,"+
			"setsar=1,format=yuv420p",
		dim.Width*2, dim.Height*2, dim.Width*2, dim.Height*2,
		step, zoom, frames, dim.Width, dim.Height, fps,
	)
}

// AtempoChain expresses a tempo ratio as chained atempo filters, each
// within the 0.5-2.0 range every ffmpeg build accepts.
func AtempoChain(ratio float64) string {
	if ratio <= 0 {
		return "anull"
	}
	var parts []string
	for ratio > 2.0 {
		parts = append(parts, "atempo=2.0")
		ratio /= 2.0
	}
	for ratio < 0.5 {
		parts = append(parts, "atempo=0.5")
		ratio /= 0.5
	}
	parts = append(parts, "atempo="+strconv.FormatFloat(ratio, 'f', 4, 64))
	return strings.Join(parts, ",")
}
