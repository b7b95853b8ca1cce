package mapasset

import (
	"context"
	"errors"
	"fmt"
	"runtime"
)

var (
	ErrUnsupportedFormat = errors.New("mapasset: unsupported raster format, want binary PGM (P5)")
	ErrMalformedHeader   = errors.New("mapasset: malformed raster header")
	ErrTruncatedRaster   = errors.New("mapasset: raster shorter than width*height")
)

// Buffer is the normalized map image: RGBA bytes, one intensity per channel,
// alpha always 255. Replaced wholesale on reload, never mutated in place.
type Buffer struct {
	Width  int
	Height int
	Pixels []byte
	Meta   Metadata
}

// chunkPixels is how many source pixels are converted between cooperative
// yield points on the chunked path.
const chunkPixels = 64 * 1024

type pgmHeader struct {
	width  int
	height int
	maxval int
	offset int
}

// parsePGMHeader reads the P5 magic and the whitespace/comment-tolerant ASCII
// width, height and maxval fields, returning the offset of the first raster
// byte.
func parsePGMHeader(data []byte) (pgmHeader, error) {
	if len(data) < 2 {
		return pgmHeader{}, ErrUnsupportedFormat
	}
	if data[0] != 'P' || data[1] != '5' {
		return pgmHeader{}, fmt.Errorf("%w: magic %q", ErrUnsupportedFormat, string(data[:2]))
	}

	pos := 2
	fields := make([]int, 0, 3)
	for len(fields) < 3 {
		// Skip whitespace and '#' comments between fields.
		for pos < len(data) {
			c := data[pos]
			if c == '#' {
				for pos < len(data) && data[pos] != '\n' {
					pos++
				}
				continue
			}
			if c == ' ' || c == '\t' || c == '\r' || c == '\n' {
				pos++
				continue
			}
			break
		}
		if pos >= len(data) {
			return pgmHeader{}, ErrMalformedHeader
		}

		start := pos
		for pos < len(data) && data[pos] >= '0' && data[pos] <= '9' {
			pos++
		}
		if pos == start {
			return pgmHeader{}, fmt.Errorf("%w: non-numeric field", ErrMalformedHeader)
		}
		n := 0
		for _, c := range data[start:pos] {
			n = n*10 + int(c-'0')
			if n > 1<<30 {
				return pgmHeader{}, fmt.Errorf("%w: field overflow", ErrMalformedHeader)
			}
		}
		fields = append(fields, n)
	}

	// Exactly one whitespace byte separates maxval from the raster. Anything
	// else would silently shift the raster by a byte.
	if pos >= len(data) {
		return pgmHeader{}, ErrMalformedHeader
	}
	switch data[pos] {
	case ' ', '\t', '\r', '\n':
		pos++
	default:
		return pgmHeader{}, fmt.Errorf("%w: raster separator %q", ErrMalformedHeader, data[pos])
	}

	h := pgmHeader{width: fields[0], height: fields[1], maxval: fields[2], offset: pos}
	if h.width <= 0 || h.height <= 0 {
		return pgmHeader{}, fmt.Errorf("%w: dimensions %dx%d", ErrMalformedHeader, h.width, h.height)
	}
	if h.maxval <= 0 || h.maxval > 255 {
		return pgmHeader{}, fmt.Errorf("%w: maxval %d", ErrMalformedHeader, h.maxval)
	}
	return h, nil
}

// decodeRaster converts raw PGM bytes into a normalized RGBA Buffer.
//
// Intensities are rescaled to 0..255 when maxval differs, and inverted when
// the metadata negate flag is set. When chunked is true the conversion yields
// between chunks so a long decode never monopolizes the scheduler, and checks
// ctx so an abandoned load stops early. sample > 1 downsamples by that integer
// factor with nearest-neighbor; the returned dimensions reflect the reduction.
func decodeRaster(ctx context.Context, data []byte, meta Metadata, chunked bool, sample int) (*Buffer, error) {
	h, err := parsePGMHeader(data)
	if err != nil {
		return nil, err
	}
	raster := data[h.offset:]
	if len(raster) < h.width*h.height {
		return nil, fmt.Errorf("%w: have %d, want %d", ErrTruncatedRaster, len(raster), h.width*h.height)
	}

	if sample < 1 {
		sample = 1
	}
	outW := (h.width + sample - 1) / sample
	outH := (h.height + sample - 1) / sample

	meta.Width = outW
	meta.Height = outH
	buf := &Buffer{
		Width:  outW,
		Height: outH,
		Pixels: make([]byte, outW*outH*4),
		Meta:   meta,
	}

	scale := 1.0
	if h.maxval != 255 {
		scale = 255.0 / float64(h.maxval)
	}

	sinceYield := 0
	for oy := 0; oy < outH; oy++ {
		sy := oy * sample
		for ox := 0; ox < outW; ox++ {
			sx := ox * sample
			v := raster[sy*h.width+sx]

			iv := int(float64(v)*scale + 0.5)
			if iv > 255 {
				iv = 255
			}
			if meta.Negate {
				iv = 255 - iv
			}

			o := (oy*outW + ox) * 4
			buf.Pixels[o] = byte(iv)
			buf.Pixels[o+1] = byte(iv)
			buf.Pixels[o+2] = byte(iv)
			buf.Pixels[o+3] = 255

			if chunked {
				sinceYield++
				if sinceYield >= chunkPixels {
					sinceYield = 0
					if err := ctx.Err(); err != nil {
						return nil, err
					}
					runtime.Gosched()
				}
			}
		}
	}
	return buf, nil
}

// sampleFactor derives an integer downsample factor from a 1..100 quality
// value. Quality 100 keeps full resolution; quality 25 keeps every 4th pixel.
func sampleFactor(quality int) int {
	if quality <= 0 || quality >= 100 {
		return 1
	}
	f := 100 / quality
	if f < 1 {
		f = 1
	}
	return f
}
