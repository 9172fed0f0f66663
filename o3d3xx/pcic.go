package o3d3xx

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// PCIC chunk types found in asynchronous result messages.
const (
	ChunkRadialDistance = 100
	ChunkNormAmplitude  = 101
	ChunkAmplitude      = 103
	ChunkCartesianX     = 200
	ChunkCartesianY     = 201
	ChunkCartesianZ     = 202
	ChunkUnitVectorAll  = 223
	ChunkConfidence     = 300
	ChunkExtrinsics     = 400
	ChunkJSONModel      = 500
)

// Pixel formats used in chunk headers.
const (
	PixelFormat8U  = 0
	PixelFormat8S  = 1
	PixelFormat16U = 2
	PixelFormat16S = 3
	PixelFormat32U = 4
	PixelFormat32S = 5
	PixelFormat32F = 6
	PixelFormat64U = 7
	PixelFormat64F = 8
)

// AsyncResultTicket marks frames the device pushes on its own, as opposed
// to replies to explicit commands.
const AsyncResultTicket = "0000"

// ChunkHeaderSize is the fixed preamble length of every image chunk.
const ChunkHeaderSize = 36

// ChunkHeader is the preamble of one image chunk, nine little-endian
// uint32 words on the wire.
type ChunkHeader struct {
	Type          uint32
	ChunkSize     uint32 // header plus payload
	HeaderSize    uint32
	HeaderVersion uint32
	Width         uint32
	Height        uint32
	PixelFormat   uint32
	TimeStamp     uint32
	FrameCount    uint32
}

// ParseChunkHeader decodes a chunk preamble from b.
func ParseChunkHeader(b []byte) (ChunkHeader, error) {
	if len(b) < ChunkHeaderSize {
		return ChunkHeader{}, newError(CodePCICFormat, "short chunk header")
	}
	h := ChunkHeader{
		Type:          binary.LittleEndian.Uint32(b[0:]),
		ChunkSize:     binary.LittleEndian.Uint32(b[4:]),
		HeaderSize:    binary.LittleEndian.Uint32(b[8:]),
		HeaderVersion: binary.LittleEndian.Uint32(b[12:]),
		Width:         binary.LittleEndian.Uint32(b[16:]),
		Height:        binary.LittleEndian.Uint32(b[20:]),
		PixelFormat:   binary.LittleEndian.Uint32(b[24:]),
		TimeStamp:     binary.LittleEndian.Uint32(b[28:]),
		FrameCount:    binary.LittleEndian.Uint32(b[32:]),
	}
	if h.HeaderSize < ChunkHeaderSize || h.ChunkSize < h.HeaderSize {
		return ChunkHeader{}, newError(CodePCICFormat, "inconsistent chunk header sizes")
	}
	return h, nil
}

// AppendChunk appends one chunk, header plus payload, to dst. The size
// fields of h are filled in from the payload.
func AppendChunk(dst []byte, h ChunkHeader, payload []byte) []byte {
	h.HeaderSize = ChunkHeaderSize
	h.ChunkSize = ChunkHeaderSize + uint32(len(payload))
	var hdr [ChunkHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:], h.Type)
	binary.LittleEndian.PutUint32(hdr[4:], h.ChunkSize)
	binary.LittleEndian.PutUint32(hdr[8:], h.HeaderSize)
	binary.LittleEndian.PutUint32(hdr[12:], h.HeaderVersion)
	binary.LittleEndian.PutUint32(hdr[16:], h.Width)
	binary.LittleEndian.PutUint32(hdr[20:], h.Height)
	binary.LittleEndian.PutUint32(hdr[24:], h.PixelFormat)
	binary.LittleEndian.PutUint32(hdr[28:], h.TimeStamp)
	binary.LittleEndian.PutUint32(hdr[32:], h.FrameCount)
	dst = append(dst, hdr[:]...)
	return append(dst, payload...)
}

// NextChunk splits the first chunk off b and returns the remainder.
func NextChunk(b []byte) (ChunkHeader, []byte, []byte, error) {
	h, err := ParseChunkHeader(b)
	if err != nil {
		return ChunkHeader{}, nil, nil, err
	}
	if uint32(len(b)) < h.ChunkSize {
		return ChunkHeader{}, nil, nil, newError(CodePCICFormat, "truncated chunk")
	}
	return h, b[h.HeaderSize:h.ChunkSize], b[h.ChunkSize:], nil
}

var (
	resultStart = []byte("star")
	resultStop  = []byte("stop")
)

// WrapResult brackets chunk bytes with the result sentinels.
func WrapResult(chunks []byte) []byte {
	out := make([]byte, 0, len(resultStart)+len(chunks)+len(resultStop))
	out = append(out, resultStart...)
	out = append(out, chunks...)
	return append(out, resultStop...)
}

// SplitResult validates the result sentinels and returns the chunk bytes
// between them.
func SplitResult(content []byte) ([]byte, error) {
	if len(content) < len(resultStart)+len(resultStop) ||
		!bytes.HasPrefix(content, resultStart) || !bytes.HasSuffix(content, resultStop) {
		return nil, newError(CodePCICFormat, "result missing star/stop sentinels")
	}
	return content[len(resultStart) : len(content)-len(resultStop)], nil
}

// envelopeHeaderSize covers "TTTTL%09d\r\n": four ticket digits, the
// length marker and CRLF.
const envelopeHeaderSize = 16

// WriteEnvelope frames content in one PCIC envelope:
//
//	<ticket:4>L<length:9>\r\n<ticket:4><content>\r\n
//
// where length counts the repeated ticket, the content and the trailing
// CRLF.
func WriteEnvelope(w io.Writer, ticket string, content []byte) error {
	if len(ticket) != 4 {
		return newError(CodeValueError, "ticket must be four digits")
	}
	var buf bytes.Buffer
	buf.Grow(envelopeHeaderSize + len(ticket) + len(content) + 2)
	fmt.Fprintf(&buf, "%sL%09d\r\n%s", ticket, len(ticket)+len(content)+2, ticket)
	buf.Write(content)
	buf.WriteString("\r\n")
	_, err := w.Write(buf.Bytes())
	return errors.Wrap(err, "write pcic envelope")
}

// ReadEnvelope reads one complete envelope off br and returns its ticket
// and content. Malformed framing is unrecoverable for the stream; callers
// should drop the connection and redial.
func ReadEnvelope(br *bufio.Reader) (string, []byte, error) {
	hdr := make([]byte, envelopeHeaderSize)
	if _, err := io.ReadFull(br, hdr); err != nil {
		return "", nil, errors.Wrap(err, "read envelope header")
	}
	if hdr[4] != 'L' || hdr[14] != '\r' || hdr[15] != '\n' {
		return "", nil, newError(CodePCICFormat, "malformed envelope header")
	}
	var n int
	for _, d := range hdr[5:14] {
		if d < '0' || d > '9' {
			return "", nil, newError(CodePCICFormat, "malformed envelope length")
		}
		n = n*10 + int(d-'0')
	}
	if n < 6 {
		return "", nil, newError(CodePCICFormat, "envelope length too small")
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(br, body); err != nil {
		return "", nil, errors.Wrap(err, "read envelope body")
	}
	ticket := string(hdr[:4])
	if string(body[:4]) != ticket {
		return "", nil, newError(CodePCICFormat, "envelope ticket mismatch")
	}
	if body[n-2] != '\r' || body[n-1] != '\n' {
		return "", nil, newError(CodePCICFormat, "envelope missing terminator")
	}
	return ticket, body[4 : n-2], nil
}
