package pipeline

// The dump is one top-level JSON array of entity objects, far too large to
// parse whole. The framer recovers complete `{...}` members from buffered
// text one forward pass at a time, keeping only the current partial object
// in memory. That bound is what makes a multi-hundred-GiB dump processable
// at a fixed footprint.

type frameState int

const (
	// stateSeeking skips array punctuation and whitespace between objects.
	stateSeeking frameState = iota
	// stateInObject tracks brace depth inside an object, outside strings.
	stateInObject
	// stateInString ignores structural characters until the closing quote.
	stateInString
	// stateEscaped consumes exactly one character after a backslash.
	stateEscaped
)

// Framer extracts complete top-level object literals from an incrementally
// fed text stream. State survives across feeds, so an object, a string, or
// even a single escape sequence may be split at any chunk boundary.
type Framer struct {
	buf   []byte
	state frameState
	depth int
	start int // offset of the current object's '{' in buf
	pos   int // scan position in buf
}

// NewFramer returns a framer positioned before the first object.
func NewFramer() *Framer {
	return &Framer{}
}

// Feed appends text and returns every object completed by it, in order.
// Emitted substrings are inclusive of both braces and never contain the
// surrounding array brackets, commas or whitespace. Consumed input is
// discarded, so the internal buffer is bounded by the largest single object.
func (f *Framer) Feed(text string) []string {
	f.buf = append(f.buf, text...)

	var objects []string

scan:
	for f.pos < len(f.buf) {
		c := f.buf[f.pos]

		switch f.state {
		case stateSeeking:
			switch {
			case c == '{':
				f.state = stateInObject
				f.depth = 1
				f.start = f.pos
			case c == '[' || c == ',' || c == ']' || isJSONSpace(c):
				// Top-level array punctuation, not part of any object.
			default:
				// Unexpected character at the top level. Stop here; it
				// stays in the remainder and is reported at end of stream.
				break scan
			}
		case stateInObject:
			switch c {
			case '"':
				f.state = stateInString
			case '{':
				f.depth++
			case '}':
				f.depth--
				if f.depth == 0 {
					objects = append(objects, string(f.buf[f.start:f.pos+1]))
					f.state = stateSeeking
				}
			}
		case stateInString:
			switch c {
			case '\\':
				f.state = stateEscaped
			case '"':
				f.state = stateInObject
			}
		case stateEscaped:
			// \uXXXX and every other escape: the escaped character itself
			// is never quote- or brace-significant.
			f.state = stateInString
		}

		f.pos++
	}

	f.compact()
	return objects
}

// Remainder returns the buffered text not yet part of any completed object.
// Non-empty at end of stream means the dump was cut off mid-record.
func (f *Framer) Remainder() string {
	return string(f.buf)
}

// compact drops consumed input from the front of the buffer. While seeking,
// everything before pos is separator text already consumed; inside an object,
// everything before its opening brace is.
func (f *Framer) compact() {
	cut := f.pos
	if f.state != stateSeeking {
		cut = f.start
	}
	if cut == 0 {
		return
	}
	n := copy(f.buf, f.buf[cut:])
	f.buf = f.buf[:n]
	f.pos -= cut
	f.start -= cut
	if f.state == stateSeeking {
		f.start = 0
	}
}

func isJSONSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
