package o3d3xx_test

import (
	"bufio"
	"bytes"
	"io"
	"testing"

	"go.viam.com/test"

	"github.com/shaun-edwards/o3d3xx-ros/o3d3xx"
)

func TestWriteEnvelopeWireFormat(t *testing.T) {
	var buf bytes.Buffer
	err := o3d3xx.WriteEnvelope(&buf, "1234", []byte("abc"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, buf.String(), test.ShouldEqual, "1234L000000009\r\n1234abc\r\n")

	err = o3d3xx.WriteEnvelope(io.Discard, "123", nil)
	test.That(t, err, test.ShouldNotBeNil)
	derr, ok := o3d3xx.AsError(err)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, derr.Code, test.ShouldEqual, o3d3xx.CodeValueError)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	content := o3d3xx.WrapResult([]byte("payload"))
	var wire bytes.Buffer
	test.That(t, o3d3xx.WriteEnvelope(&wire, o3d3xx.AsyncResultTicket, content), test.ShouldBeNil)
	test.That(t, o3d3xx.WriteEnvelope(&wire, "0012", []byte("?")), test.ShouldBeNil)

	br := bufio.NewReader(&wire)
	ticket, got, err := o3d3xx.ReadEnvelope(br)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ticket, test.ShouldEqual, o3d3xx.AsyncResultTicket)
	test.That(t, got, test.ShouldResemble, content)

	ticket, got, err = o3d3xx.ReadEnvelope(br)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ticket, test.ShouldEqual, "0012")
	test.That(t, got, test.ShouldResemble, []byte("?"))
}

func TestReadEnvelopeMalformed(t *testing.T) {
	valid := func() []byte {
		var wire bytes.Buffer
		test.That(t, o3d3xx.WriteEnvelope(&wire, "0000", []byte("hello!")), test.ShouldBeNil)
		return wire.Bytes()
	}

	for _, tc := range []struct {
		name    string
		corrupt func([]byte) []byte
	}{
		{"missing length marker", func(b []byte) []byte { b[4] = 'X'; return b }},
		{"non-digit length", func(b []byte) []byte { b[7] = 'A'; return b }},
		{"missing header terminator", func(b []byte) []byte { b[14] = ' '; return b }},
		{"ticket mismatch", func(b []byte) []byte { b[16] = '9'; return b }},
		{"missing body terminator", func(b []byte) []byte { b[len(b)-1] = 'x'; return b }},
		{"truncated body", func(b []byte) []byte { return b[:len(b)-3] }},
		{"length too small", func(b []byte) []byte {
			return []byte("0000L000000002\r\nxx")
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			wire := tc.corrupt(valid())
			_, _, err := o3d3xx.ReadEnvelope(bufio.NewReader(bytes.NewReader(wire)))
			test.That(t, err, test.ShouldNotBeNil)
		})
	}
}

func TestChunkRoundTrip(t *testing.T) {
	payload1 := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	b := o3d3xx.AppendChunk(nil, o3d3xx.ChunkHeader{
		Type:          o3d3xx.ChunkRadialDistance,
		HeaderVersion: 1,
		Width:         2,
		Height:        2,
		PixelFormat:   o3d3xx.PixelFormat16U,
		TimeStamp:     77,
		FrameCount:    9,
	}, payload1)
	payload2 := []byte{0xFF}
	b = o3d3xx.AppendChunk(b, o3d3xx.ChunkHeader{
		Type:        o3d3xx.ChunkConfidence,
		Width:       1,
		Height:      1,
		PixelFormat: o3d3xx.PixelFormat8U,
	}, payload2)

	h, body, rest, err := o3d3xx.NextChunk(b)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, h.Type, test.ShouldEqual, o3d3xx.ChunkRadialDistance)
	test.That(t, h.HeaderSize, test.ShouldEqual, o3d3xx.ChunkHeaderSize)
	test.That(t, h.ChunkSize, test.ShouldEqual, o3d3xx.ChunkHeaderSize+len(payload1))
	test.That(t, h.Width, test.ShouldEqual, 2)
	test.That(t, h.Height, test.ShouldEqual, 2)
	test.That(t, h.TimeStamp, test.ShouldEqual, 77)
	test.That(t, h.FrameCount, test.ShouldEqual, 9)
	test.That(t, body, test.ShouldResemble, payload1)

	h, body, rest, err = o3d3xx.NextChunk(rest)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, h.Type, test.ShouldEqual, o3d3xx.ChunkConfidence)
	test.That(t, body, test.ShouldResemble, payload2)
	test.That(t, rest, test.ShouldBeEmpty)
}

func TestChunkMalformed(t *testing.T) {
	b := o3d3xx.AppendChunk(nil, o3d3xx.ChunkHeader{
		Type:        o3d3xx.ChunkConfidence,
		Width:       2,
		Height:      1,
		PixelFormat: o3d3xx.PixelFormat8U,
	}, []byte{1, 2})

	_, err := o3d3xx.ParseChunkHeader(b[:o3d3xx.ChunkHeaderSize-1])
	test.That(t, err, test.ShouldNotBeNil)
	derr, ok := o3d3xx.AsError(err)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, derr.Code, test.ShouldEqual, o3d3xx.CodePCICFormat)

	_, _, _, err = o3d3xx.NextChunk(b[:len(b)-1])
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSplitResult(t *testing.T) {
	chunks := []byte("chunkbytes")
	got, err := o3d3xx.SplitResult(o3d3xx.WrapResult(chunks))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, chunks)

	got, err = o3d3xx.SplitResult(o3d3xx.WrapResult(nil))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldBeEmpty)

	for _, bad := range [][]byte{
		nil,
		[]byte("sta"),
		[]byte("starnostopx"),
		[]byte("xstarstop"),
	} {
		_, err := o3d3xx.SplitResult(bad)
		test.That(t, err, test.ShouldNotBeNil)
	}
}
