// Package pointcloud provides an organized point cloud for
// time-of-flight cameras and a PCD codec for it. Organized means every
// sensor pixel keeps a slot, valid or not, so a cloud maps back onto the
// image plane that produced it.
package pointcloud

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// A Point is one sample of an organized cloud. Position is in meters,
// device frame; Intensity carries the sensor's amplitude reading.
type Point struct {
	Position  r3.Vector
	Intensity uint16
	Valid     bool
}

// PointCloud is an organized width×height cloud.
type PointCloud struct {
	width  int
	height int
	points []Point
}

// New returns an all-invalid cloud with the given organization.
func New(width, height int) *PointCloud {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &PointCloud{
		width:  width,
		height: height,
		points: make([]Point, width*height),
	}
}

// Width returns the number of columns.
func (pc *PointCloud) Width() int { return pc.width }

// Height returns the number of rows.
func (pc *PointCloud) Height() int { return pc.height }

// Size returns the number of valid points; invalid slots do not count.
func (pc *PointCloud) Size() int {
	n := 0
	for i := range pc.points {
		if pc.points[i].Valid {
			n++
		}
	}
	return n
}

func (pc *PointCloud) index(x, y int) (int, error) {
	if x < 0 || x >= pc.width || y < 0 || y >= pc.height {
		return 0, errors.Errorf("point (%d,%d) outside %dx%d cloud", x, y, pc.width, pc.height)
	}
	return y*pc.width + x, nil
}

// Set marks the slot at (x, y) valid with the given sample.
func (pc *PointCloud) Set(x, y int, pos r3.Vector, intensity uint16) error {
	i, err := pc.index(x, y)
	if err != nil {
		return err
	}
	pc.points[i] = Point{Position: pos, Intensity: intensity, Valid: true}
	return nil
}

// At returns the slot at (x, y); ok is false outside the organization.
func (pc *PointCloud) At(x, y int) (Point, bool) {
	i, err := pc.index(x, y)
	if err != nil {
		return Point{}, false
	}
	return pc.points[i], true
}

// Iterate visits every valid point in row-major order until fn returns
// false.
func (pc *PointCloud) Iterate(fn func(x, y int, p Point) bool) {
	for i := range pc.points {
		if !pc.points[i].Valid {
			continue
		}
		if !fn(i%pc.width, i/pc.width, pc.points[i]) {
			return
		}
	}
}

// Centroid returns the mean position of the valid points, or the zero
// vector for an empty cloud.
func (pc *PointCloud) Centroid() r3.Vector {
	var sum r3.Vector
	n := 0
	for i := range pc.points {
		if !pc.points[i].Valid {
			continue
		}
		sum = sum.Add(pc.points[i].Position)
		n++
	}
	if n == 0 {
		return r3.Vector{}
	}
	return sum.Mul(1.0 / float64(n))
}

// CloudMatrix renders the valid points as a dense matrix with one row
// per point and columns x, y, z, intensity.
func CloudMatrix(pc *PointCloud) *mat.Dense {
	size := pc.Size()
	if size == 0 {
		return nil
	}
	data := make([]float64, 0, size*4)
	pc.Iterate(func(_, _ int, p Point) bool {
		data = append(data, p.Position.X, p.Position.Y, p.Position.Z, float64(p.Intensity))
		return true
	})
	return mat.NewDense(size, 4, data)
}
