package raster

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
)

const ppmMaxValue = 255

// ErrBadPPM is returned by DecodePPM for input that is not an 8-bit P6 file.
var ErrBadPPM = errors.New("raster: malformed PPM")

// EncodePPM writes buf as a binary PPM (P6): a text header with the format
// tag, width, height and maximum channel value, then packed R,G,B bytes.
// buf stores pixels as B,G,R so every pixel is reordered on write.
func EncodePPM(w io.Writer, g Geometry, buf []byte) error {
	if err := g.Validate(); err != nil {
		return err
	}
	if err := g.Check(buf); err != nil {
		return err
	}

	bw := bufio.NewWriterSize(w, 64*1024)
	if _, err := fmt.Fprintf(bw, "P6\n%d %d\n%d\n", g.Width, g.Height, ppmMaxValue); err != nil {
		return fmt.Errorf("failed to write PPM header: %w", err)
	}

	var px [3]byte
	for i := 0; i < g.Height; i++ {
		for j := 0; j < g.Width; j++ {
			idx := g.Offset(i, j)
			px[0] = buf[idx+2] // R
			px[1] = buf[idx+1] // G
			px[2] = buf[idx+0] // B
			if _, err := bw.Write(px[:]); err != nil {
				return fmt.Errorf("failed to write PPM pixels: %w", err)
			}
		}
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush PPM: %w", err)
	}
	return nil
}

// WritePPM encodes buf into a new file at path.
func WritePPM(path string, g Geometry, buf []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("unable to open output file %s: %w", path, err)
	}

	if err := EncodePPM(f, g, buf); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close output file %s: %w", path, err)
	}

	slog.Info("Wrote image", "path", path, "width", g.Width, "height", g.Height)
	return nil
}

// DecodePPM reads an 8-bit P6 image and returns it as a B,G,R buffer with
// Dim 3, the inverse of EncodePPM.
func DecodePPM(r io.Reader) (Geometry, []byte, error) {
	br := bufio.NewReader(r)

	magic, err := readToken(br)
	if err != nil {
		return Geometry{}, nil, err
	}
	if magic != "P6" {
		return Geometry{}, nil, fmt.Errorf("%w: unexpected magic %q", ErrBadPPM, magic)
	}

	var fields [3]int
	for n := range fields {
		tok, err := readToken(br)
		if err != nil {
			return Geometry{}, nil, err
		}
		v, err := strconv.Atoi(tok)
		if err != nil || v <= 0 {
			return Geometry{}, nil, fmt.Errorf("%w: bad header field %q", ErrBadPPM, tok)
		}
		fields[n] = v
	}
	if fields[2] != ppmMaxValue {
		return Geometry{}, nil, fmt.Errorf("%w: max value %d not supported", ErrBadPPM, fields[2])
	}

	g := Geometry{Width: fields[0], Height: fields[1], Dim: 3}
	if err := g.Validate(); err != nil {
		return Geometry{}, nil, fmt.Errorf("%w: %v", ErrBadPPM, err)
	}

	// Grow with the data actually present rather than trusting the header.
	rgb, err := io.ReadAll(io.LimitReader(br, int64(g.Size())))
	if err != nil {
		return Geometry{}, nil, fmt.Errorf("%w: reading pixel data: %v", ErrBadPPM, err)
	}
	if len(rgb) != g.Size() {
		return Geometry{}, nil, fmt.Errorf("%w: short pixel data: have %d bytes, want %d", ErrBadPPM, len(rgb), g.Size())
	}

	for i := 0; i < len(rgb); i += 3 {
		rgb[i], rgb[i+2] = rgb[i+2], rgb[i]
	}
	return g, rgb, nil
}

// readToken returns the next whitespace-delimited header token, skipping
// comments. It consumes exactly one whitespace byte after the token, which
// is what separates the max value from the pixel data.
func readToken(br *bufio.Reader) (string, error) {
	var tok []byte
	for {
		c, err := br.ReadByte()
		if err != nil {
			if err == io.EOF && len(tok) > 0 {
				return string(tok), nil
			}
			return "", fmt.Errorf("%w: truncated header: %v", ErrBadPPM, err)
		}
		switch {
		case c == '#' && len(tok) == 0:
			if _, err := br.ReadString('\n'); err != nil {
				return "", fmt.Errorf("%w: truncated comment: %v", ErrBadPPM, err)
			}
		case isSpace(c):
			if len(tok) > 0 {
				return string(tok), nil
			}
		default:
			tok = append(tok, c)
		}
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}
