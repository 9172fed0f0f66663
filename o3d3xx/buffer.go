package o3d3xx

import (
	"encoding/binary"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/shaun-edwards/o3d3xx-ros/pointcloud"
)

// ImageBuffer holds the organized images of one time-coherent frame. A
// buffer is reused across acquisitions: Organize overwrites its contents
// wholesale, so consumers must finish with a frame, or copy what they
// keep, before the next wait begins.
type ImageBuffer struct {
	Width      int
	Height     int
	FrameCount uint32
	TimeStamp  uint32

	// RadialDistance and Amplitude are 16-bit planes, Confidence 8-bit,
	// all row-major Width*Height.
	RadialDistance []uint16
	Amplitude      []uint16
	Confidence     []uint8

	// Cartesian coordinates in millimeters, device frame.
	X, Y, Z []int16
}

// NewImageBuffer returns an empty buffer ready for Organize.
func NewImageBuffer() *ImageBuffer {
	return &ImageBuffer{}
}

// Organize parses one PCIC result content into the buffer, replacing
// whatever it held. The radial distance, amplitude and confidence chunks
// are required; cartesian chunks are required for Cloud to return points.
func (b *ImageBuffer) Organize(content []byte) error {
	chunks, err := SplitResult(content)
	if err != nil {
		return err
	}

	b.Width, b.Height = 0, 0
	b.RadialDistance = b.RadialDistance[:0]
	b.Amplitude = b.Amplitude[:0]
	b.Confidence = b.Confidence[:0]
	b.X, b.Y, b.Z = b.X[:0], b.Y[:0], b.Z[:0]

	var haveDistance, haveAmplitude, haveConfidence bool
	for len(chunks) > 0 {
		h, payload, rest, err := NextChunk(chunks)
		if err != nil {
			return err
		}
		chunks = rest

		if b.Width == 0 && h.Width > 0 {
			b.Width = int(h.Width)
			b.Height = int(h.Height)
			b.FrameCount = h.FrameCount
			b.TimeStamp = h.TimeStamp
		}

		switch h.Type {
		case ChunkRadialDistance:
			if b.RadialDistance, err = parseUint16Plane(h, payload, b.RadialDistance); err != nil {
				return err
			}
			haveDistance = true
		case ChunkNormAmplitude, ChunkAmplitude:
			if b.Amplitude, err = parseUint16Plane(h, payload, b.Amplitude); err != nil {
				return err
			}
			haveAmplitude = true
		case ChunkConfidence:
			if err := checkPlane(h, payload, PixelFormat8U, 1); err != nil {
				return err
			}
			b.Confidence = append(b.Confidence, payload...)
			haveConfidence = true
		case ChunkCartesianX:
			if b.X, err = parseInt16Plane(h, payload, b.X); err != nil {
				return err
			}
		case ChunkCartesianY:
			if b.Y, err = parseInt16Plane(h, payload, b.Y); err != nil {
				return err
			}
		case ChunkCartesianZ:
			if b.Z, err = parseInt16Plane(h, payload, b.Z); err != nil {
				return err
			}
		default:
			// unit vectors, extrinsics and diagnostics are not consumed
		}
	}

	if !haveDistance || !haveAmplitude || !haveConfidence {
		return newError(CodePCICFormat, "frame missing required image chunks")
	}
	n := b.Width * b.Height
	if len(b.RadialDistance) != n || len(b.Amplitude) != n || len(b.Confidence) != n {
		return newError(CodePCICFormat, "image chunk dimensions disagree")
	}
	return nil
}

// Valid reports whether pixel i carries a good measurement: the low bit
// of the confidence image is clear.
func (b *ImageBuffer) Valid(i int) bool {
	return b.Confidence[i]&0x1 == 0
}

// HasCartesian reports whether the frame carried cartesian chunks.
func (b *ImageBuffer) HasCartesian() bool {
	n := b.Width * b.Height
	return n > 0 && len(b.X) == n && len(b.Y) == n && len(b.Z) == n
}

// Cloud converts the cartesian planes to an organized point cloud in
// meters, device frame. Pixels flagged bad by the confidence image keep
// their slot but stay invalid. Intensity comes from the amplitude plane.
func (b *ImageBuffer) Cloud() (*pointcloud.PointCloud, error) {
	if !b.HasCartesian() {
		return nil, newError(CodePCICFormat, "frame carried no cartesian chunks")
	}
	pc := pointcloud.New(b.Width, b.Height)
	for y := 0; y < b.Height; y++ {
		for x := 0; x < b.Width; x++ {
			i := y*b.Width + x
			if !b.Valid(i) {
				continue
			}
			p := r3.Vector{
				X: float64(b.X[i]) / 1000.0,
				Y: float64(b.Y[i]) / 1000.0,
				Z: float64(b.Z[i]) / 1000.0,
			}
			if err := pc.Set(x, y, p, b.Amplitude[i]); err != nil {
				return nil, errors.Wrap(err, "organize cloud")
			}
		}
	}
	return pc, nil
}

func checkPlane(h ChunkHeader, payload []byte, format uint32, bytesPer int) error {
	if h.PixelFormat != format {
		return newError(CodePCICFormat, "unexpected pixel format")
	}
	if int(h.Width)*int(h.Height)*bytesPer != len(payload) {
		return newError(CodePCICFormat, "chunk payload size disagrees with dimensions")
	}
	return nil
}

func parseUint16Plane(h ChunkHeader, payload []byte, dst []uint16) ([]uint16, error) {
	if err := checkPlane(h, payload, PixelFormat16U, 2); err != nil {
		return nil, err
	}
	for i := 0; i+1 < len(payload); i += 2 {
		dst = append(dst, binary.LittleEndian.Uint16(payload[i:]))
	}
	return dst, nil
}

func parseInt16Plane(h ChunkHeader, payload []byte, dst []int16) ([]int16, error) {
	if err := checkPlane(h, payload, PixelFormat16S, 2); err != nil {
		return nil, err
	}
	for i := 0; i+1 < len(payload); i += 2 {
		dst = append(dst, int16(binary.LittleEndian.Uint16(payload[i:])))
	}
	return dst, nil
}
