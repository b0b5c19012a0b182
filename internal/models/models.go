package models

import (
	"fmt"
	"time"
)

// Point is a pixel coordinate in the image plane
type Point struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// PointStatus reports how the tracker fared on a single point
type PointStatus string

const (
	StatusConverged     PointStatus = "converged"
	StatusMaxIterations PointStatus = "max_iterations"
	StatusDegenerate    PointStatus = "degenerate"
)

// Displacements is a dense (frames, points, 2) tensor of (drow, dcol) pairs.
type Displacements struct {
	frames int
	points int
	data   []float64
}

// NewDisplacements allocates a zeroed tensor.
func NewDisplacements(frames, points int) *Displacements {
	if frames < 0 {
		frames = 0
	}
	if points < 0 {
		points = 0
	}
	return &Displacements{
		frames: frames,
		points: points,
		data:   make([]float64, frames*points*2),
	}
}

// Shape returns (frames, points, 2).
func (d *Displacements) Shape() (int, int, int) {
	return d.frames, d.points, 2
}

func (d *Displacements) index(frame, point int) int {
	if frame < 0 || frame >= d.frames || point < 0 || point >= d.points {
		panic(fmt.Sprintf("displacement index (%d, %d) out of range (%d, %d)", frame, point, d.frames, d.points))
	}
	return (frame*d.points + point) * 2
}

// At returns the displacement of point at frame.
func (d *Displacements) At(frame, point int) (drow, dcol float64) {
	i := d.index(frame, point)
	return d.data[i], d.data[i+1]
}

// Set stores the displacement of point at frame.
func (d *Displacements) Set(frame, point int, drow, dcol float64) {
	i := d.index(frame, point)
	d.data[i] = drow
	d.data[i+1] = dcol
}

// Series returns the row and column components of one point over all frames.
func (d *Displacements) Series(point int) (rows, cols []float64) {
	rows = make([]float64, d.frames)
	cols = make([]float64, d.frames)
	for f := 0; f < d.frames; f++ {
		rows[f], cols[f] = d.At(f, point)
	}
	return rows, cols
}

// TrackResult is one point's trajectory
type TrackResult struct {
	Index  int         `json:"index"`
	Point  Point       `json:"point"`
	Status PointStatus `json:"status"`
	Rows   []float64   `json:"drow"`
	Cols   []float64   `json:"dcol"`
}

// Settings captures the tracker configuration a run was produced with
type Settings struct {
	ROIHeight      int     `json:"roi_height"`
	ROIWidth       int     `json:"roi_width"`
	Pad            int     `json:"pad"`
	Processes      int     `json:"processes"`
	MaxIterations  int     `json:"max_iterations"`
	Tolerance      float64 `json:"tolerance"`
	Interpolation  string  `json:"interpolation"`
	ReferenceFrame int     `json:"reference_frame"`
}

// Run describes one tracking run over a video
type Run struct {
	ID         string    `json:"id"`
	VideoName  string    `json:"video_name"`
	Height     int       `json:"height"`
	Width      int       `json:"width"`
	FPS        float64   `json:"fps"`
	FrameCount int       `json:"frame_count"`
	GridRows   int       `json:"grid_rows"`
	GridCols   int       `json:"grid_cols"`
	Settings   Settings  `json:"settings"`
	CreatedAt  time.Time `json:"created_at"`
}

// SimilarPoint is a search hit ranked by displacement distance
type SimilarPoint struct {
	Index    int
	Point    Point
	DRow     float64
	DCol     float64
	Distance float64
}
