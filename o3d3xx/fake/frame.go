package fake

import (
	"encoding/binary"

	"github.com/shaun-edwards/o3d3xx-ros/o3d3xx"
)

// buildFrameChunks synthesizes one deterministic scene: radial distance
// and cartesian depth sit near one meter and creep with the frame
// counter, cartesian X/Y form a 10 mm grid, amplitude rises with the
// column, and pixel (0,0) is flagged bad so cloud masking is observable.
func buildFrameChunks(width, height int, frame uint32) []byte {
	n := width * height
	dist := make([]byte, 2*n)
	amp := make([]byte, 2*n)
	conf := make([]byte, n)
	cx := make([]byte, 2*n)
	cy := make([]byte, 2*n)
	cz := make([]byte, 2*n)

	depth := uint16(1000 + frame%16)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			binary.LittleEndian.PutUint16(dist[2*i:], depth+uint16(y))
			binary.LittleEndian.PutUint16(amp[2*i:], uint16(200+x))
			binary.LittleEndian.PutUint16(cx[2*i:], uint16(int16(x*10)))
			binary.LittleEndian.PutUint16(cy[2*i:], uint16(int16(y*10)))
			binary.LittleEndian.PutUint16(cz[2*i:], uint16(int16(depth)))
		}
	}
	conf[0] = 0x1

	hdr := o3d3xx.ChunkHeader{
		HeaderVersion: 1,
		Width:         uint32(width),
		Height:        uint32(height),
		TimeStamp:     frame * 10,
		FrameCount:    frame,
	}

	var out []byte
	hdr.Type, hdr.PixelFormat = o3d3xx.ChunkRadialDistance, o3d3xx.PixelFormat16U
	out = o3d3xx.AppendChunk(out, hdr, dist)
	hdr.Type, hdr.PixelFormat = o3d3xx.ChunkNormAmplitude, o3d3xx.PixelFormat16U
	out = o3d3xx.AppendChunk(out, hdr, amp)
	hdr.Type, hdr.PixelFormat = o3d3xx.ChunkConfidence, o3d3xx.PixelFormat8U
	out = o3d3xx.AppendChunk(out, hdr, conf)
	hdr.Type, hdr.PixelFormat = o3d3xx.ChunkCartesianX, o3d3xx.PixelFormat16S
	out = o3d3xx.AppendChunk(out, hdr, cx)
	hdr.Type, hdr.PixelFormat = o3d3xx.ChunkCartesianY, o3d3xx.PixelFormat16S
	out = o3d3xx.AppendChunk(out, hdr, cy)
	hdr.Type, hdr.PixelFormat = o3d3xx.ChunkCartesianZ, o3d3xx.PixelFormat16S
	out = o3d3xx.AppendChunk(out, hdr, cz)
	return out
}
