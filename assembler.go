package push

// retainLimit caps the capacity kept by an idle assembler buffer, so one
// large frame does not pin its memory for the life of the connection.
const retainLimit = 64 * 1024

// Assembler turns an arbitrarily chunked byte stream into frames.
//
// Headers and bodies may be split across any number of chunks, and one chunk
// may carry several frames. After a malformed header the assembler fails
// permanently; it never skips bytes to find the next frame.
//
// An Assembler is not safe for concurrent use.
type Assembler struct {
	codec *Codec
	buf   []byte

	header     Header
	haveHeader bool

	err error
}

// NewAssembler returns an assembler validating headers with codec.
func NewAssembler(codec *Codec) *Assembler {
	return &Assembler{codec: codec}
}

// Feed appends chunk to the stream and returns every frame it completes.
// The chunk is copied; the caller may reuse it after Feed returns.
//
// On a malformed header Feed returns the frames completed before it along
// with a *ProtocolError. Every later call returns the same error.
func (a *Assembler) Feed(chunk []byte) ([]Frame, error) {
	if a.err != nil {
		return nil, a.err
	}

	a.buf = append(a.buf, chunk...)

	var frames []Frame
	off := 0
	for {
		if !a.haveHeader {
			if len(a.buf)-off < HeaderLen {
				break
			}
			h, err := a.codec.DecodeHeader(a.buf[off:])
			if err != nil {
				a.err = &ProtocolError{Err: err}
				a.buf = nil
				return frames, a.err
			}
			a.header, a.haveHeader = h, true
			off += HeaderLen
		}

		n := int(a.header.BodyLength)
		if len(a.buf)-off < n {
			break
		}

		body := make([]byte, n)
		copy(body, a.codec.DecodeBody(a.buf[off:], a.header))
		frames = append(frames, Frame{Header: a.header, Body: body})
		off += n
		a.haveHeader = false
	}

	a.consume(off)
	return frames, nil
}

// consume drops the first n buffered bytes.
func (a *Assembler) consume(n int) {
	if n == 0 {
		return
	}
	remaining := len(a.buf) - n
	if remaining == 0 && cap(a.buf) > retainLimit {
		a.buf = nil
		return
	}
	a.buf = append(a.buf[:0], a.buf[n:]...)
}

// Buffered returns the number of bytes held for the next frame. While a
// header is in progress this counts body bytes only.
func (a *Assembler) Buffered() int {
	return len(a.buf)
}

// Pending reports the header awaiting its body, if any.
func (a *Assembler) Pending() (Header, bool) {
	return a.header, a.haveHeader
}

// Err returns the error that stopped the assembler, or nil.
func (a *Assembler) Err() error {
	return a.err
}

// Reset discards buffered bytes and any failure, ready for a new stream.
func (a *Assembler) Reset() {
	a.buf = a.buf[:0]
	if cap(a.buf) > retainLimit {
		a.buf = nil
	}
	a.header, a.haveHeader = Header{}, false
	a.err = nil
}
