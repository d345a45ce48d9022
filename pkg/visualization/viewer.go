// Package visualization renders flow fields as images: the direction colour
// code, the displacement magnitude and the single components.
package visualization

import (
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"tvflow/pkg/flow"
)

// Viewer renders one flow field
type Viewer struct {
	field *flow.Field

	// maxDisplacement is the length that maps to full brightness
	maxDisplacement float64
}

// NewViewer creates a viewer for f. A non-positive maxDisplacement scales the
// colour code to the longest vector of the field.
func NewViewer(f *flow.Field, maxDisplacement float64) (*Viewer, error) {
	if err := f.Validate(); err != nil {
		return nil, errors.Wrap(err, "visualization")
	}
	if maxDisplacement <= 0 {
		maxDisplacement = f.Stats().MaxMagnitude
	}
	return &Viewer{field: f, maxDisplacement: maxDisplacement}, nil
}

// MaxDisplacement returns the displacement length shown at full brightness.
func (v *Viewer) MaxDisplacement() float64 { return v.maxDisplacement }

// ColorImage returns the direction colour code of the field.
func (v *Viewer) ColorImage() image.Image {
	return ColorCode(v.field, v.maxDisplacement)
}

// MagnitudeImage returns the displacement length as a 16-bit gray image where
// zero is black and maxDisplacement is white.
func (v *Viewer) MagnitudeImage() image.Image {
	hi := v.maxDisplacement
	if hi <= 0 {
		hi = 1
	}
	return v.field.Magnitude().ToGray16(0, hi)
}

// ComponentImage returns one flow component ("u" or "v") as a 16-bit gray
// image where mid gray is zero displacement.
func (v *Viewer) ComponentImage(axis string) (image.Image, error) {
	span := v.maxDisplacement
	if span <= 0 {
		span = 1
	}

	switch axis {
	case "u", "U", "x", "X":
		return v.field.U.ToGray16(-span, span), nil
	case "v", "V", "y", "Y":
		return v.field.V.ToGray16(-span, span), nil
	default:
		return nil, errors.Errorf("invalid axis: %s (must be u or v)", axis)
	}
}

// SaveImage writes img to filename. The extension selects PNG or JPEG.
func SaveImage(img image.Image, filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext != ".jpg" && ext != ".jpeg" && ext != ".png" {
		return errors.Errorf("unsupported image format: %s", filename)
	}

	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "creating %s", filename)
	}

	if ext == ".png" {
		err = png.Encode(file, img)
	} else {
		err = jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	}
	if err != nil {
		file.Close()
		return errors.Wrapf(err, "encoding %s", filename)
	}
	return errors.Wrapf(file.Close(), "closing %s", filename)
}

// SaveAll writes the colour code to outputDir as <prefix>_flow.png and, when
// requested, the magnitude and the two components next to it. It returns the
// written paths.
func (v *Viewer) SaveAll(outputDir, prefix string, magnitude, components bool) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating %s", outputDir)
	}

	images := map[string]image.Image{"flow": v.ColorImage()}
	order := []string{"flow"}
	if magnitude {
		images["magnitude"] = v.MagnitudeImage()
		order = append(order, "magnitude")
	}
	if components {
		for _, axis := range []string{"u", "v"} {
			img, err := v.ComponentImage(axis)
			if err != nil {
				return nil, err
			}
			images[axis] = img
			order = append(order, axis)
		}
	}

	var written []string
	for _, name := range order {
		filename := filepath.Join(outputDir, prefix+"_"+name+".png")
		if err := SaveImage(images[name], filename); err != nil {
			return written, err
		}
		written = append(written, filename)
	}
	return written, nil
}
