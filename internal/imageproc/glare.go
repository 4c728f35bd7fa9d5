// Package imageproc prepares camera frames for inspection.
package imageproc

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

const (
	// GlareThreshold is the HSV value above which a pixel counts as a specular highlight.
	GlareThreshold = 240
	// OpenKernelSize is the diameter of the elliptical structuring element used to drop speckles.
	OpenKernelSize = 7
	// InpaintRadius bounds the neighbourhood sampled when filling a highlight.
	InpaintRadius = 5
	// ThumbnailSize is the bounding box edge for operator previews.
	ThumbnailSize = 400
	jpegQuality   = 90
)

// LoadImage decodes the image stored at path.
func LoadImage(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("cannot read image %s: %w", path, err)
	}
	return img, nil
}

// EncodeJPEG serialises img as a JPEG.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Thumbnail scales img down to fit inside a size x size box, preserving aspect ratio.
func Thumbnail(img image.Image, size int) *image.NRGBA {
	b := img.Bounds()
	if b.Dx() <= size && b.Dy() <= size {
		return imaging.Clone(img)
	}
	return imaging.Fit(img, size, size, imaging.Lanczos)
}

// RemoveGlare masks bright specular highlights and fills them from the
// surrounding pixels. The returned image always has a zero-origin bounds.
func RemoveGlare(img image.Image) *image.NRGBA {
	out := imaging.Clone(img)
	m := GlareMask(out)
	if m.Count() == 0 {
		return out
	}
	inpaint(out, m, InpaintRadius)
	return out
}

// GlareMask returns the opened highlight mask of img. Mask coordinates are
// relative to img.Bounds().Min.
func GlareMask(img *image.NRGBA) *Mask {
	m := thresholdValue(img, GlareThreshold)
	k := ellipseKernel(OpenKernelSize)
	return m.erode(k).dilate(k)
}

// Mask is a binary image with the same dimensions as its source.
type Mask struct {
	w, h int
	bits []bool
}

func newMask(w, h int) *Mask {
	return &Mask{w: w, h: h, bits: make([]bool, w*h)}
}

// At reports whether (x, y) is set; points outside the mask are unset.
func (m *Mask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.w || y >= m.h {
		return false
	}
	return m.bits[y*m.w+x]
}

func (m *Mask) set(x, y int, v bool) {
	m.bits[y*m.w+x] = v
}

// Count returns the number of set pixels.
func (m *Mask) Count() int {
	n := 0
	for _, b := range m.bits {
		if b {
			n++
		}
	}
	return n
}

type offset struct{ dx, dy int }

func ellipseKernel(size int) []offset {
	r := size / 2
	// matches the filled-disc shape of an elliptical kernel with equal axes
	limit := float64(r)*float64(r) + float64(r)/2
	var k []offset
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if float64(dx*dx+dy*dy) <= limit {
				k = append(k, offset{dx, dy})
			}
		}
	}
	return k
}

func thresholdValue(img *image.NRGBA, threshold uint8) *Mask {
	b := img.Bounds()
	m := newMask(b.Dx(), b.Dy())
	for y := 0; y < m.h; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
		for x := 0; x < m.w; x++ {
			p := row[x*4 : x*4+3]
			v := max(p[0], p[1], p[2])
			if v > threshold {
				m.set(x, y, true)
			}
		}
	}
	return m
}

// erode treats pixels outside the image as set so highlights touching the border survive.
func (m *Mask) erode(k []offset) *Mask {
	out := newMask(m.w, m.h)
	for y := 0; y < m.h; y++ {
		for x := 0; x < m.w; x++ {
			if !m.At(x, y) {
				continue
			}
			keep := true
			for _, o := range k {
				nx, ny := x+o.dx, y+o.dy
				if nx < 0 || ny < 0 || nx >= m.w || ny >= m.h {
					continue
				}
				if !m.bits[ny*m.w+nx] {
					keep = false
					break
				}
			}
			out.set(x, y, keep)
		}
	}
	return out
}

func (m *Mask) dilate(k []offset) *Mask {
	out := newMask(m.w, m.h)
	for y := 0; y < m.h; y++ {
		for x := 0; x < m.w; x++ {
			if !m.At(x, y) {
				continue
			}
			for _, o := range k {
				nx, ny := x+o.dx, y+o.dy
				if nx < 0 || ny < 0 || nx >= m.w || ny >= m.h {
					continue
				}
				out.set(nx, ny, true)
			}
		}
	}
	return out
}

// inpaint fills masked pixels layer by layer from the boundary inward. Each
// pixel becomes the inverse-distance weighted mean of the known pixels within radius.
func inpaint(img *image.NRGBA, m *Mask, radius int) {
	unknown := newMask(m.w, m.h)
	copy(unknown.bits, m.bits)
	remaining := unknown.Count()

	for remaining > 0 {
		var front []offset
		for y := 0; y < m.h; y++ {
			for x := 0; x < m.w; x++ {
				if unknown.At(x, y) && hasKnownNeighbour(unknown, x, y) {
					front = append(front, offset{x, y})
				}
			}
		}
		if len(front) == 0 {
			// nothing known to sample from
			return
		}

		fills := make([]color.NRGBA, len(front))
		for i, p := range front {
			fills[i] = sampleKnown(img, unknown, p.dx, p.dy, radius)
		}
		for i, p := range front {
			img.SetNRGBA(p.dx, p.dy, fills[i])
			unknown.set(p.dx, p.dy, false)
		}
		remaining -= len(front)
	}
}

func hasKnownNeighbour(unknown *Mask, x, y int) bool {
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			nx, ny := x+dx, y+dy
			if nx < 0 || ny < 0 || nx >= unknown.w || ny >= unknown.h {
				continue
			}
			if !unknown.bits[ny*unknown.w+nx] {
				return true
			}
		}
	}
	return false
}

func sampleKnown(img *image.NRGBA, unknown *Mask, x, y, radius int) color.NRGBA {
	var r, g, b, a, total float64
	r2 := radius * radius
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			d2 := dx*dx + dy*dy
			if d2 == 0 || d2 > r2 {
				continue
			}
			nx, ny := x+dx, y+dy
			if nx < 0 || ny < 0 || nx >= unknown.w || ny >= unknown.h {
				continue
			}
			if unknown.bits[ny*unknown.w+nx] {
				continue
			}
			c := img.NRGBAAt(nx, ny)
			w := 1 / float64(d2)
			r += w * float64(c.R)
			g += w * float64(c.G)
			b += w * float64(c.B)
			a += w * float64(c.A)
			total += w
		}
	}
	if total == 0 {
		return img.NRGBAAt(x, y)
	}
	return color.NRGBA{
		R: uint8(r/total + 0.5),
		G: uint8(g/total + 0.5),
		B: uint8(b/total + 0.5),
		A: uint8(a/total + 0.5),
	}
}
