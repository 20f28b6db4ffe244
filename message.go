package push

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Wire layout, big-endian:
//
//	[0]    signal       uint8
//	[1-4]  body length  uint32
//	[5-]   body         body length bytes of UTF-8 text
const (
	// HeaderLen is the fixed size of a frame header.
	HeaderLen = 5
	// DefaultMaxBodyLength is the default upper bound for a frame body (1MB).
	DefaultMaxBodyLength = 1024 * 1024
)

// Header is the fixed-size prefix of every frame.
type Header struct {
	Signal     Signal
	BodyLength uint32
}

// Frame is one complete protocol message.
// Body is owned by the frame and must not be modified.
type Frame struct {
	Header Header
	Body   []byte
}

// Signal returns the frame's message kind.
func (f Frame) Signal() Signal { return f.Header.Signal }

// Text returns the body as UTF-8 text.
func (f Frame) Text() string { return string(f.Body) }

// Codec encodes frames and decodes frame headers.
// A Codec holds only its limit and is safe for concurrent use.
type Codec struct {
	maxBodyLength uint32
}

// NewCodec returns a codec that rejects bodies longer than maxBodyLength.
// A zero limit selects DefaultMaxBodyLength.
func NewCodec(maxBodyLength uint32) *Codec {
	if maxBodyLength == 0 {
		maxBodyLength = DefaultMaxBodyLength
	}
	return &Codec{maxBodyLength: maxBodyLength}
}

// MaxBodyLength returns the largest body the codec accepts.
func (c *Codec) MaxBodyLength() uint32 {
	return c.maxBodyLength
}

// AppendHeader appends the wire form of h to dst.
func AppendHeader(dst []byte, h Header) []byte {
	dst = append(dst, byte(h.Signal))
	return binary.BigEndian.AppendUint32(dst, h.BodyLength)
}

// EncodeFrame returns the header for payload followed by payload itself.
// The caller guarantees len(payload) <= MaxBodyLength.
func (c *Codec) EncodeFrame(signal Signal, payload []byte) []byte {
	buf := make([]byte, 0, HeaderLen+len(payload))
	buf = AppendHeader(buf, Header{Signal: signal, BodyLength: uint32(len(payload))})
	return append(buf, payload...)
}

// DecodeHeader parses the first HeaderLen bytes of b.
// It fails with ErrMalformedHeader on an unknown signal code or a body
// length above the limit.
func (c *Codec) DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, errors.Wrapf(ErrMalformedHeader, "short header: %d bytes", len(b))
	}

	signal, ok := ParseSignal(b[0])
	if !ok {
		return Header{}, errors.Wrapf(ErrMalformedHeader, "unknown signal code 0x%02x", b[0])
	}

	length := binary.BigEndian.Uint32(b[1:HeaderLen])
	if length > c.maxBodyLength {
		return Header{}, errors.Wrapf(ErrMalformedHeader, "body length %d exceeds %d", length, c.maxBodyLength)
	}

	return Header{Signal: signal, BodyLength: length}, nil
}

// DecodeBody slices the body described by h out of b.
// The length has already been validated during assembly.
func (c *Codec) DecodeBody(b []byte, h Header) []byte {
	return b[:h.BodyLength]
}
