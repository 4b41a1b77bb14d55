package raster

// FillGradient writes the deterministic fallback test pattern into buf.
//
// For pixel (i, j):
//
//	B = (i*255) / H
//	G = (j*255) / W
//	R = ((i+j)*255) / (H+W)
//
// using integer division (floor). Channels past R are zeroed. The result is
// a pure function of the geometry, so tests can compare against golden bytes.
func FillGradient(g Geometry, buf []byte) error {
	if err := g.Validate(); err != nil {
		return err
	}
	if err := g.Check(buf); err != nil {
		return err
	}

	h, w := g.Height, g.Width
	for i := 0; i < h; i++ {
		for j := 0; j < w; j++ {
			idx := g.Offset(i, j)
			buf[idx+0] = byte((i * 255) / h)
			buf[idx+1] = byte((j * 255) / w)
			buf[idx+2] = byte(((i + j) * 255) / (h + w))
			for c := 3; c < g.Dim; c++ {
				buf[idx+c] = 0
			}
		}
	}
	return nil
}

// Gradient allocates a buffer and fills it with the fallback pattern.
func Gradient(g Geometry) ([]byte, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, g.Size())
	if err := FillGradient(g, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
