package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// PCDType selects the body encoding of a PCD document.
type PCDType int

// Supported PCD body encodings.
const (
	PCDAscii  PCDType = 0
	PCDBinary PCDType = 1
)

const pcdPointBytes = 16 // four float32 fields

// ToPCD writes pc as a PCD v.7 document with fields x y z intensity.
// The organization is preserved: every slot is written, invalid slots as
// NaN positions with zero intensity, which is how PCL marks holes in
// organized clouds.
func ToPCD(pc *PointCloud, out io.Writer, t PCDType) error {
	var dataKind string
	switch t {
	case PCDAscii:
		dataKind = "ascii"
	case PCDBinary:
		dataKind = "binary"
	default:
		return errors.Errorf("unsupported pcd type %d", t)
	}
	_, err := fmt.Fprintf(out, "VERSION .7\n"+
		"FIELDS x y z intensity\n"+
		"SIZE 4 4 4 4\n"+
		"TYPE F F F F\n"+
		"COUNT 1 1 1 1\n"+
		"WIDTH %d\n"+
		"HEIGHT %d\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n"+
		"DATA %s\n",
		pc.width, pc.height, pc.width*pc.height, dataKind)
	if err != nil {
		return errors.Wrap(err, "write pcd header")
	}
	if t == PCDAscii {
		return writePCDAscii(pc, out)
	}
	return writePCDBinary(pc, out)
}

func writePCDAscii(pc *PointCloud, out io.Writer) error {
	w := bufio.NewWriter(out)
	for i := range pc.points {
		p := &pc.points[i]
		var line string
		if p.Valid {
			line = fmt.Sprintf("%s %s %s %d\n",
				pcdFloat(p.Position.X), pcdFloat(p.Position.Y), pcdFloat(p.Position.Z), p.Intensity)
		} else {
			line = "nan nan nan 0\n"
		}
		if _, err := w.WriteString(line); err != nil {
			return errors.Wrap(err, "write pcd body")
		}
	}
	return errors.Wrap(w.Flush(), "write pcd body")
}

func pcdFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 32)
}

func writePCDBinary(pc *PointCloud, out io.Writer) error {
	w := bufio.NewWriter(out)
	buf := make([]byte, pcdPointBytes)
	nan := math.Float32bits(float32(math.NaN()))
	for i := range pc.points {
		p := &pc.points[i]
		if p.Valid {
			binary.LittleEndian.PutUint32(buf[0:], math.Float32bits(float32(p.Position.X)))
			binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(float32(p.Position.Y)))
			binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(float32(p.Position.Z)))
			binary.LittleEndian.PutUint32(buf[12:], math.Float32bits(float32(p.Intensity)))
		} else {
			binary.LittleEndian.PutUint32(buf[0:], nan)
			binary.LittleEndian.PutUint32(buf[4:], nan)
			binary.LittleEndian.PutUint32(buf[8:], nan)
			binary.LittleEndian.PutUint32(buf[12:], 0)
		}
		if _, err := w.Write(buf); err != nil {
			return errors.Wrap(err, "write pcd body")
		}
	}
	return errors.Wrap(w.Flush(), "write pcd body")
}

type pcdHeader struct {
	width  int
	height int
	points int
	data   string
}

// ReadPCD parses a PCD document produced by ToPCD, restoring the
// organization and validity of every slot.
func ReadPCD(in io.Reader) (*PointCloud, error) {
	br := bufio.NewReader(in)
	hdr, err := readPCDHeader(br)
	if err != nil {
		return nil, err
	}
	pc := New(hdr.width, hdr.height)
	switch hdr.data {
	case "ascii":
		err = readPCDAscii(pc, br, hdr)
	case "binary":
		err = readPCDBinary(pc, br, hdr)
	default:
		err = errors.Errorf("unsupported pcd data kind %q", hdr.data)
	}
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func readPCDHeader(br *bufio.Reader) (pcdHeader, error) {
	hdr := pcdHeader{width: -1, height: -1, points: -1}
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return hdr, errors.Wrap(err, "read pcd header")
		}
		fields := strings.Fields(line)
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		switch fields[0] {
		case "FIELDS":
			if strings.Join(fields[1:], " ") != "x y z intensity" {
				return hdr, errors.Errorf("unsupported pcd fields %q", strings.Join(fields[1:], " "))
			}
		case "WIDTH":
			hdr.width = atoiField(fields, 1)
		case "HEIGHT":
			hdr.height = atoiField(fields, 1)
		case "POINTS":
			hdr.points = atoiField(fields, 1)
		case "DATA":
			if len(fields) < 2 {
				return hdr, errors.New("pcd DATA line missing kind")
			}
			hdr.data = fields[1]
			if hdr.width < 0 || hdr.height < 0 {
				return hdr, errors.New("pcd header missing organization")
			}
			if hdr.points >= 0 && hdr.points != hdr.width*hdr.height {
				return hdr, errors.New("pcd POINTS disagrees with organization")
			}
			return hdr, nil
		case "VERSION", "SIZE", "TYPE", "COUNT", "VIEWPOINT":
			// accepted as written by ToPCD
		default:
			return hdr, errors.Errorf("unsupported pcd header line %q", fields[0])
		}
	}
}

func atoiField(fields []string, i int) int {
	if i >= len(fields) {
		return -1
	}
	n, err := strconv.Atoi(fields[i])
	if err != nil {
		return -1
	}
	return n
}

func readPCDAscii(pc *PointCloud, br *bufio.Reader, hdr pcdHeader) error {
	for i := 0; i < hdr.width*hdr.height; i++ {
		line, err := br.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return errors.Wrap(err, "read pcd body")
		}
		fields := strings.Fields(line)
		if len(fields) != 4 {
			return errors.Errorf("pcd point %d has %d fields", i, len(fields))
		}
		vals := make([]float64, 4)
		for j, f := range fields {
			if vals[j], err = strconv.ParseFloat(f, 64); err != nil {
				return errors.Wrapf(err, "pcd point %d", i)
			}
		}
		setPCDPoint(pc, i, vals[0], vals[1], vals[2], vals[3])
	}
	return nil
}

func readPCDBinary(pc *PointCloud, br *bufio.Reader, hdr pcdHeader) error {
	buf := make([]byte, pcdPointBytes)
	for i := 0; i < hdr.width*hdr.height; i++ {
		if _, err := io.ReadFull(br, buf); err != nil {
			return errors.Wrap(err, "read pcd body")
		}
		x := float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[0:])))
		y := float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[4:])))
		z := float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[8:])))
		in := float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[12:])))
		setPCDPoint(pc, i, x, y, z, in)
	}
	return nil
}

func setPCDPoint(pc *PointCloud, i int, x, y, z, intensity float64) {
	if math.IsNaN(x) || math.IsNaN(y) || math.IsNaN(z) {
		return
	}
	pc.points[i] = Point{
		Position:  r3.Vector{X: x, Y: y, Z: z},
		Intensity: uint16(math.Round(intensity)),
		Valid:     true,
	}
}
