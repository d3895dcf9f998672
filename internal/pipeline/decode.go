package pipeline

import (
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// TextDecoder converts decompressed bytes to text incrementally. A multi-byte
// UTF-8 sequence split across chunk boundaries is held back and completed on
// the next call. Ill-formed sequences are replaced with U+FFFD and decoding
// continues: on a multi-hour extraction, finishing the run outweighs a
// handful of mangled characters in legacy records, and the replacement is
// visible in the output rather than silently dropped.
type TextDecoder struct {
	dec   *encoding.Decoder
	carry []byte
	dst   []byte
}

// NewTextDecoder returns a decoder ready for the first chunk.
func NewTextDecoder() *TextDecoder {
	return &TextDecoder{
		dec: unicode.UTF8.NewDecoder(),
		dst: make([]byte, 32*1024),
	}
}

// Decode converts the next run of bytes. final must be true exactly once, on
// the terminal call after the source is exhausted, so any held-back partial
// sequence is flushed (as U+FFFD if it never completed).
func (d *TextDecoder) Decode(p []byte, final bool) string {
	src := p
	if len(d.carry) > 0 {
		src = append(d.carry, p...)
		d.carry = nil
	}
	if len(src) == 0 && !final {
		return ""
	}

	var sb strings.Builder
	for {
		nDst, nSrc, err := d.dec.Transform(d.dst, src, final)
		sb.Write(d.dst[:nDst])
		src = src[nSrc:]

		switch err {
		case nil:
			if len(src) > 0 {
				continue
			}
			return sb.String()
		case transform.ErrShortDst:
			continue
		case transform.ErrShortSrc:
			// Incomplete trailing sequence; hold it for the next chunk.
			d.carry = append(d.carry, src...)
			return sb.String()
		default:
			// The UTF-8 decoder substitutes rather than fails; any other
			// error would be a transformer bug. Drop the remainder of this
			// chunk rather than aborting the run.
			return sb.String()
		}
	}
}
