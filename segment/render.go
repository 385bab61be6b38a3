package segment

import (
	"image"
	"image/color"

	colorful "github.com/lucasb-eyer/go-colorful"
)

const (
	highlightFactor   = 1.2
	boundaryThickness = 2
)

var boundaryColor = color.NRGBA{R: 255, G: 0, B: 255, A: 255}

// highlight Increase saturation and brightness inside the mask, make it opaque and outline it
func highlight(img *image.NRGBA, mask *Mask) {
	bounds := img.Bounds()
	for y := 0; y < bounds.Dy() && y < mask.Height; y++ {
		for x := 0; x < bounds.Dx() && x < mask.Width; x++ {
			if !mask.Pix[y*mask.Width+x] {
				continue
			}
			offset := img.PixOffset(x, y)
			pix := img.Pix[offset : offset+4 : offset+4]
			c := colorful.Color{
				R: float64(pix[0]) / 255.0,
				G: float64(pix[1]) / 255.0,
				B: float64(pix[2]) / 255.0,
			}
			h, s, v := c.Hsv()
			s = clip01(s * highlightFactor)
			v = clip01(v * highlightFactor)
			r, g, b := colorful.Hsv(h, s, v).Clamped().RGB255()
			pix[0], pix[1], pix[2], pix[3] = r, g, b, 255
		}
	}

	edge := mask.Boundary(boundaryThickness)
	for y := 0; y < bounds.Dy() && y < edge.Height; y++ {
		for x := 0; x < bounds.Dx() && x < edge.Width; x++ {
			if edge.Pix[y*edge.Width+x] {
				img.SetNRGBA(x, y, boundaryColor)
			}
		}
	}
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func cloneNRGBA(img *image.NRGBA) *image.NRGBA {
	out := image.NewNRGBA(img.Bounds())
	copy(out.Pix, img.Pix)
	return out
}

// RenderOverlay Draw all masks on top of the original image, where everything outside the masks is half transparent.
// Returns the overlay and the union of all masks.
func RenderOverlay(origin *image.NRGBA, masks []MaskEntry) (*image.NRGBA, *Mask) {
	bounds := origin.Bounds()
	union := NewMask(bounds.Dx(), bounds.Dy())
	if len(masks) == 0 || masks[0].Mask == nil {
		return origin, union
	}

	overlay := cloneNRGBA(origin)
	for i := 3; i < len(overlay.Pix); i += 4 {
		overlay.Pix[i] = uint8(float64(overlay.Pix[i]) * 0.5)
	}
	for _, entry := range masks {
		highlight(overlay, entry.Mask)
		union.Union(entry.Mask)
	}
	return overlay, union
}

// RenderColoredMasks Draw the masks on a black transparent image of the same size as origin
func RenderColoredMasks(origin *image.NRGBA, masks []MaskEntry) *image.NRGBA {
	dark := image.NewNRGBA(origin.Bounds())
	for _, entry := range masks {
		highlight(dark, entry.Mask)
	}
	return dark
}

// RenderCutout Keep the pixels of origin under the union mask, everything else becomes transparent
func RenderCutout(origin *image.NRGBA, union *Mask) *image.NRGBA {
	out := image.NewNRGBA(origin.Bounds())
	bounds := origin.Bounds()
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			if union.At(x, y) {
				offset := origin.PixOffset(x, y)
				copy(out.Pix[offset:offset+4], origin.Pix[offset:offset+4])
			}
		}
	}
	return out
}
