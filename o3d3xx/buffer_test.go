package o3d3xx_test

import (
	"encoding/binary"
	"testing"

	"go.viam.com/test"

	"github.com/shaun-edwards/o3d3xx-ros/o3d3xx"
)

func packUint16(vals []uint16) []byte {
	out := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint16(out[2*i:], v)
	}
	return out
}

func packInt16(vals []int16) []byte {
	out := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}

// testFrame describes one synthetic frame assembled chunk by chunk.
type testFrame struct {
	width, height int
	frameCount    uint32
	timeStamp     uint32
	dist, amp     []uint16
	conf          []uint8
	x, y, z       []int16
	skipAmp       bool
	skipCartesian bool
}

func (f testFrame) content() []byte {
	hdr := func(typ, format uint32) o3d3xx.ChunkHeader {
		return o3d3xx.ChunkHeader{
			Type:          typ,
			HeaderVersion: 1,
			Width:         uint32(f.width),
			Height:        uint32(f.height),
			PixelFormat:   format,
			TimeStamp:     f.timeStamp,
			FrameCount:    f.frameCount,
		}
	}
	var b []byte
	b = o3d3xx.AppendChunk(b, hdr(o3d3xx.ChunkRadialDistance, o3d3xx.PixelFormat16U), packUint16(f.dist))
	if !f.skipAmp {
		b = o3d3xx.AppendChunk(b, hdr(o3d3xx.ChunkAmplitude, o3d3xx.PixelFormat16U), packUint16(f.amp))
	}
	b = o3d3xx.AppendChunk(b, hdr(o3d3xx.ChunkConfidence, o3d3xx.PixelFormat8U), f.conf)
	if !f.skipCartesian {
		b = o3d3xx.AppendChunk(b, hdr(o3d3xx.ChunkCartesianX, o3d3xx.PixelFormat16S), packInt16(f.x))
		b = o3d3xx.AppendChunk(b, hdr(o3d3xx.ChunkCartesianY, o3d3xx.PixelFormat16S), packInt16(f.y))
		b = o3d3xx.AppendChunk(b, hdr(o3d3xx.ChunkCartesianZ, o3d3xx.PixelFormat16S), packInt16(f.z))
	}
	return o3d3xx.WrapResult(b)
}

func fullTestFrame() testFrame {
	return testFrame{
		width:      2,
		height:     2,
		frameCount: 42,
		timeStamp:  555,
		dist:       []uint16{1000, 1001, 1002, 1003},
		amp:        []uint16{10, 20, 30, 40},
		conf:       []uint8{0, 1, 0, 2},
		x:          []int16{100, -200, 300, 400},
		y:          []int16{50, 60, -70, 80},
		z:          []int16{1000, 1000, 1500, 2000},
	}
}

func TestOrganize(t *testing.T) {
	f := fullTestFrame()
	buf := o3d3xx.NewImageBuffer()
	test.That(t, buf.Organize(f.content()), test.ShouldBeNil)

	test.That(t, buf.Width, test.ShouldEqual, 2)
	test.That(t, buf.Height, test.ShouldEqual, 2)
	test.That(t, buf.FrameCount, test.ShouldEqual, 42)
	test.That(t, buf.TimeStamp, test.ShouldEqual, 555)
	test.That(t, buf.RadialDistance, test.ShouldResemble, f.dist)
	test.That(t, buf.Amplitude, test.ShouldResemble, f.amp)
	test.That(t, buf.Confidence, test.ShouldResemble, f.conf)
	test.That(t, buf.X, test.ShouldResemble, f.x)
	test.That(t, buf.HasCartesian(), test.ShouldBeTrue)

	// only the low confidence bit invalidates a pixel
	test.That(t, buf.Valid(0), test.ShouldBeTrue)
	test.That(t, buf.Valid(1), test.ShouldBeFalse)
	test.That(t, buf.Valid(3), test.ShouldBeTrue)
}

func TestOrganizeReuse(t *testing.T) {
	buf := o3d3xx.NewImageBuffer()
	test.That(t, buf.Organize(fullTestFrame().content()), test.ShouldBeNil)

	second := fullTestFrame()
	second.frameCount = 43
	second.dist = []uint16{7, 8, 9, 10}
	test.That(t, buf.Organize(second.content()), test.ShouldBeNil)
	test.That(t, buf.FrameCount, test.ShouldEqual, 43)
	test.That(t, buf.RadialDistance, test.ShouldResemble, second.dist)
	test.That(t, len(buf.Confidence), test.ShouldEqual, 4)
}

func TestOrganizeMissingChunk(t *testing.T) {
	f := fullTestFrame()
	f.skipAmp = true
	err := o3d3xx.NewImageBuffer().Organize(f.content())
	test.That(t, err, test.ShouldNotBeNil)
	derr, ok := o3d3xx.AsError(err)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, derr.Code, test.ShouldEqual, o3d3xx.CodePCICFormat)
}

func TestOrganizeBadPayloadSize(t *testing.T) {
	f := fullTestFrame()
	f.dist = f.dist[:3] // one pixel short of the 2x2 header
	err := o3d3xx.NewImageBuffer().Organize(f.content())
	test.That(t, err, test.ShouldNotBeNil)
}

func TestOrganizeRejectsSentinelGarbage(t *testing.T) {
	err := o3d3xx.NewImageBuffer().Organize([]byte("not a result"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCloud(t *testing.T) {
	buf := o3d3xx.NewImageBuffer()
	test.That(t, buf.Organize(fullTestFrame().content()), test.ShouldBeNil)

	cloud, err := buf.Cloud()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.Width(), test.ShouldEqual, 2)
	test.That(t, cloud.Height(), test.ShouldEqual, 2)
	test.That(t, cloud.Size(), test.ShouldEqual, 3)

	p, ok := cloud.At(0, 0)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, p.Valid, test.ShouldBeTrue)
	test.That(t, p.Position.X, test.ShouldAlmostEqual, 0.1)
	test.That(t, p.Position.Y, test.ShouldAlmostEqual, 0.05)
	test.That(t, p.Position.Z, test.ShouldAlmostEqual, 1.0)
	test.That(t, p.Intensity, test.ShouldEqual, 10)

	// the confidence-flagged pixel keeps its slot but stays invalid
	p, ok = cloud.At(1, 0)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, p.Valid, test.ShouldBeFalse)

	p, ok = cloud.At(1, 1)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, p.Position.X, test.ShouldAlmostEqual, 0.4)
}

func TestCloudWithoutCartesian(t *testing.T) {
	f := fullTestFrame()
	f.skipCartesian = true
	buf := o3d3xx.NewImageBuffer()
	test.That(t, buf.Organize(f.content()), test.ShouldBeNil)
	test.That(t, buf.HasCartesian(), test.ShouldBeFalse)

	_, err := buf.Cloud()
	test.That(t, err, test.ShouldNotBeNil)
}
