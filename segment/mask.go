package segment

import (
	"image"
	"image/color"
)

// Mask is a binary per-pixel region, stored row major.
type Mask struct {
	Width  int
	Height int
	Pix    []bool
}

// NewMask Create an empty mask of the given size
func NewMask(width int, height int) *Mask {
	return &Mask{Width: width, Height: height, Pix: make([]bool, width*height)}
}

// MaskFromImage Every pixel with a non zero gray value (or alpha for transparent images) is part of the mask
func MaskFromImage(img image.Image) *Mask {
	bounds := img.Bounds()
	mask := NewMask(bounds.Dx(), bounds.Dy())
	for y := 0; y < mask.Height; y++ {
		for x := 0; x < mask.Width; x++ {
			c := color.GrayModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray)
			_, _, _, a := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			mask.Pix[y*mask.Width+x] = c.Y > 0 && a > 0
		}
	}
	return mask
}

func (m *Mask) inside(x int, y int) bool {
	return x >= 0 && y >= 0 && x < m.Width && y < m.Height
}

// At Return whether (x, y) is in the mask, coordinates outside the mask are never set
func (m *Mask) At(x int, y int) bool {
	if !m.inside(x, y) {
		return false
	}
	return m.Pix[y*m.Width+x]
}

func (m *Mask) Set(x int, y int, v bool) {
	if !m.inside(x, y) {
		return
	}
	m.Pix[y*m.Width+x] = v
}

// Area Number of pixels in the mask
func (m *Mask) Area() int {
	n := 0
	for _, v := range m.Pix {
		if v {
			n++
		}
	}
	return n
}

// Union Set every pixel that is set in other. Masks of a different size are combined on their overlap.
func (m *Mask) Union(other *Mask) {
	if other == nil {
		return
	}
	for y := 0; y < m.Height && y < other.Height; y++ {
		for x := 0; x < m.Width && x < other.Width; x++ {
			if other.Pix[y*other.Width+x] {
				m.Pix[y*m.Width+x] = true
			}
		}
	}
}

// Boundary Return the outer contour of the mask drawn with the given thickness.
// A pixel is on the contour when it is set and one of its 4-neighbours is not.
func (m *Mask) Boundary(thickness int) *Mask {
	edge := NewMask(m.Width, m.Height)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			if !m.Pix[y*m.Width+x] {
				continue
			}
			if !m.At(x-1, y) || !m.At(x+1, y) || !m.At(x, y-1) || !m.At(x, y+1) {
				edge.Pix[y*m.Width+x] = true
			}
		}
	}
	for i := 1; i < thickness; i++ {
		edge = edge.dilate()
	}
	return edge
}

// dilate grow the mask by one pixel in every direction (3x3 structuring element)
func (m *Mask) dilate() *Mask {
	out := NewMask(m.Width, m.Height)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			if !m.Pix[y*m.Width+x] {
				continue
			}
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					out.Set(x+dx, y+dy, true)
				}
			}
		}
	}
	return out
}

// ToImage Render the mask as a gray image, 255 inside the mask
func (m *Mask) ToImage() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for i, v := range m.Pix {
		if v {
			img.Pix[i] = 255
		}
	}
	return img
}
