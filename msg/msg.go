// Package msg defines the wire messages published on the bridge's data
// channels. Shapes and field names mirror their ROS counterparts
// (std_msgs/Header, sensor_msgs/Image) so existing tooling maps them 1:1;
// payloads travel as CBOR.
package msg

import (
	"encoding/binary"
	"image"
	"time"
)

// Image encodings carried on the bridge's channels.
const (
	EncodingMono8  = "mono8"
	EncodingMono16 = "mono16"
	EncodingBGR8   = "bgr8"
)

// FormatPCD marks PointCloud payloads holding a PCD document.
const FormatPCD = "pcd"

// Time is a ROS-style timestamp.
type Time struct {
	Secs  uint32 `json:"secs" cbor:"secs"`
	Nsecs uint32 `json:"nsecs" cbor:"nsecs"`
}

// FromTime converts a wall-clock time.
func FromTime(t time.Time) Time {
	return Time{Secs: uint32(t.Unix()), Nsecs: uint32(t.Nanosecond())}
}

// AsTime converts back to a wall-clock time.
func (t Time) AsTime() time.Time {
	return time.Unix(int64(t.Secs), int64(t.Nsecs))
}

// Header carries the shared frame tag and per-cycle sequencing. Every
// message of one acquisition cycle shares the same header.
type Header struct {
	Seq     uint32 `json:"seq" cbor:"seq"`
	Stamp   Time   `json:"stamp" cbor:"stamp"`
	FrameID string `json:"frame_id" cbor:"frame_id"`
}

// Image is a dense 2-D sensor image. Multi-byte pixels are little
// endian; Step is the row stride in bytes.
type Image struct {
	Header    Header `json:"header" cbor:"header"`
	Height    uint32 `json:"height" cbor:"height"`
	Width     uint32 `json:"width" cbor:"width"`
	Encoding  string `json:"encoding" cbor:"encoding"`
	BigEndian uint8  `json:"is_bigendian" cbor:"is_bigendian"`
	Step      uint32 `json:"step" cbor:"step"`
	Data      []byte `json:"data" cbor:"data"`
}

// PointCloud carries one organized cloud as a PCD document.
type PointCloud struct {
	Header Header `json:"header" cbor:"header"`
	Width  uint32 `json:"width" cbor:"width"`
	Height uint32 `json:"height" cbor:"height"`
	Format string `json:"format" cbor:"format"`
	Data   []byte `json:"data" cbor:"data"`
}

// NewMono16 packs a 16-bit plane as a mono16 image.
func NewMono16(h Header, width, height int, pix []uint16) Image {
	data := make([]byte, 2*len(pix))
	for i, p := range pix {
		binary.LittleEndian.PutUint16(data[2*i:], p)
	}
	return Image{
		Header:   h,
		Height:   uint32(height),
		Width:    uint32(width),
		Encoding: EncodingMono16,
		Step:     uint32(2 * width),
		Data:     data,
	}
}

// NewMono8 packs an 8-bit plane as a mono8 image.
func NewMono8(h Header, width, height int, pix []uint8) Image {
	data := make([]byte, len(pix))
	copy(data, pix)
	return Image{
		Header:   h,
		Height:   uint32(height),
		Width:    uint32(width),
		Encoding: EncodingMono8,
		Step:     uint32(width),
		Data:     data,
	}
}

// NewBGR8 packs an RGBA image as a 3-channel bgr8 image, dropping alpha.
func NewBGR8(h Header, img *image.RGBA) Image {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	data := make([]byte, 0, 3*width*height)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			i := img.PixOffset(x, y)
			data = append(data, img.Pix[i+2], img.Pix[i+1], img.Pix[i])
		}
	}
	return Image{
		Header:   h,
		Height:   uint32(height),
		Width:    uint32(width),
		Encoding: EncodingBGR8,
		Step:     uint32(3 * width),
		Data:     data,
	}
}

// NewPointCloud wraps an encoded PCD document.
func NewPointCloud(h Header, width, height int, pcd []byte) PointCloud {
	return PointCloud{
		Header: h,
		Width:  uint32(width),
		Height: uint32(height),
		Format: FormatPCD,
		Data:   pcd,
	}
}
