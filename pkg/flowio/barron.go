// Package flowio reads and writes flow fields in the Barron binary format.
//
// A file holds little-endian float32 values: a six value header
// (total width, total height, width, height, offset x, offset y) followed by
// the interleaved (u, v) pairs of the total area in row-major order. Readers
// return the width x height window starting at the offset.
package flowio

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"

	"tvflow/pkg/flow"
	"tvflow/pkg/grid"
)

// ErrBadHeader is returned for headers that do not describe a valid window.
var ErrBadHeader = errors.New("flowio: invalid header")

const (
	// MaxDimension bounds every header value.
	MaxDimension = 1 << 20
	// MaxPixels bounds the stored area.
	MaxPixels = 1 << 28
)

// Header describes the stored area and the window that is returned on read.
type Header struct {
	TotalWidth, TotalHeight int
	Width, Height           int
	OffsetX, OffsetY        int
}

func (h Header) validate() error {
	switch {
	case h.TotalWidth <= 0 || h.TotalHeight <= 0:
		return errors.Wrapf(ErrBadHeader, "total size %dx%d", h.TotalWidth, h.TotalHeight)
	case h.Width <= 0 || h.Height <= 0:
		return errors.Wrapf(ErrBadHeader, "window size %dx%d", h.Width, h.Height)
	case h.OffsetX < 0 || h.OffsetY < 0:
		return errors.Wrapf(ErrBadHeader, "offset %d,%d", h.OffsetX, h.OffsetY)
	case h.TotalWidth*h.TotalHeight > MaxPixels:
		return errors.Wrapf(ErrBadHeader, "total size %dx%d exceeds %d pixels",
			h.TotalWidth, h.TotalHeight, MaxPixels)
	case h.OffsetX+h.Width > h.TotalWidth || h.OffsetY+h.Height > h.TotalHeight:
		return errors.Wrapf(ErrBadHeader, "window %dx%d at %d,%d exceeds %dx%d",
			h.Width, h.Height, h.OffsetX, h.OffsetY, h.TotalWidth, h.TotalHeight)
	}
	return nil
}

// Write stores f without border offset.
func Write(w io.Writer, f *flow.Field) error {
	if err := f.Validate(); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	nx, ny := f.Width(), f.Height()
	header := []float32{float32(nx), float32(ny), float32(nx), float32(ny), 0, 0}
	if err := binary.Write(bw, binary.LittleEndian, header); err != nil {
		return errors.Wrap(err, "flowio: writing header")
	}

	row := make([]float32, 2*nx)
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			row[2*x] = float32(f.U.At(x, y))
			row[2*x+1] = float32(f.V.At(x, y))
		}
		if err := binary.Write(bw, binary.LittleEndian, row); err != nil {
			return errors.Wrapf(err, "flowio: writing row %d", y)
		}
	}
	return errors.Wrap(bw.Flush(), "flowio: flushing")
}

// ReadHeader decodes the six value header.
func ReadHeader(r io.Reader) (Header, error) {
	var raw [6]float32
	if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
		return Header{}, errors.Wrap(err, "flowio: reading header")
	}
	vals := make([]int, 6)
	for i, v := range raw {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) || v != float32(math.Trunc(float64(v))) {
			return Header{}, errors.Wrapf(ErrBadHeader, "value %d is %v", i, v)
		}
		if math.Abs(float64(v)) > MaxDimension {
			return Header{}, errors.Wrapf(ErrBadHeader, "value %d is %v, limit %d", i, v, MaxDimension)
		}
		vals[i] = int(v)
	}
	h := Header{
		TotalWidth:  vals[0],
		TotalHeight: vals[1],
		Width:       vals[2],
		Height:      vals[3],
		OffsetX:     vals[4],
		OffsetY:     vals[5],
	}
	return h, h.validate()
}

// Read decodes a field and crops it to the window given in the header. When r
// can seek, a payload shorter than the header announces is rejected before
// any buffer is allocated.
func Read(r io.Reader) (*flow.Field, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	if s, ok := r.(io.Seeker); ok {
		if err := checkPayload(s, h); err != nil {
			return nil, err
		}
	}
	br := bufio.NewReader(r)

	u := grid.New(h.Width, h.Height)
	v := grid.New(h.Width, h.Height)
	row := make([]float32, 2*h.TotalWidth)
	for y := 0; y < h.TotalHeight; y++ {
		if err := binary.Read(br, binary.LittleEndian, row); err != nil {
			return nil, errors.Wrapf(err, "flowio: reading row %d of %d", y, h.TotalHeight)
		}
		wy := y - h.OffsetY
		if wy < 0 || wy >= h.Height {
			continue
		}
		for x := 0; x < h.Width; x++ {
			sx := x + h.OffsetX
			u.Set(x, wy, float64(row[2*sx]))
			v.Set(x, wy, float64(row[2*sx+1]))
		}
	}
	return flow.FromGrids(u, v)
}

// checkPayload compares the bytes left in s with the size of the stored area
func checkPayload(s io.Seeker, h Header) error {
	cur, err := s.Seek(0, io.SeekCurrent)
	if err != nil {
		return errors.Wrap(err, "flowio: seeking")
	}
	end, err := s.Seek(0, io.SeekEnd)
	if err != nil {
		return errors.Wrap(err, "flowio: seeking")
	}
	if _, err := s.Seek(cur, io.SeekStart); err != nil {
		return errors.Wrap(err, "flowio: seeking")
	}

	need := 8 * int64(h.TotalWidth) * int64(h.TotalHeight)
	if end-cur < need {
		return errors.Wrapf(io.ErrUnexpectedEOF, "flowio: payload holds %d bytes, %dx%d needs %d",
			end-cur, h.TotalWidth, h.TotalHeight, need)
	}
	return nil
}

// WriteFile writes f to path.
func WriteFile(path string, f *flow.Field) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "flowio: creating %s", path)
	}
	if err := Write(file, f); err != nil {
		file.Close()
		return errors.Wrapf(err, "flowio: writing %s", path)
	}
	return errors.Wrapf(file.Close(), "flowio: closing %s", path)
}

// ReadFile reads the field stored at path.
func ReadFile(path string) (*flow.Field, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "flowio: opening %s", path)
	}
	defer file.Close()

	f, err := Read(file)
	if err != nil {
		return nil, errors.Wrapf(err, "flowio: reading %s", path)
	}
	return f, nil
}
