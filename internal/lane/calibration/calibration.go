// Package calibration loads camera intrinsics and distortion coefficients and
// applies lens undistortion to frames.
//
// Parameters are computed offline and treated as opaque input. A missing or
// malformed calibration file is a startup error; the pipeline never runs
// uncalibrated.
package calibration

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid calibration")

// singularTolerance bounds |det(K)| below which the intrinsic matrix is
// treated as singular.
const singularTolerance = 1e-9

// Parameters is the persisted calibration: a 3x3 pinhole intrinsic matrix
// and a radial/tangential distortion vector (k1, k2, p1, p2[, k3]).
type Parameters struct {
	CameraMatrix [3][3]float64 `json:"camera_matrix"`
	DistCoeffs   []float64     `json:"dist_coeffs"`
}

// Load reads and validates calibration parameters from a JSON file.
func Load(path string) (*Parameters, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("calibration file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat calibration file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("calibration file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration file: %w", err)
	}

	return Parse(data)
}

// Parse decodes and validates calibration parameters from JSON bytes.
func Parse(data []byte) (*Parameters, error) {
	var raw struct {
		CameraMatrix [][]float64 `json:"camera_matrix"`
		DistCoeffs   []float64   `json:"dist_coeffs"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: failed to parse JSON: %v", ErrInvalid, err)
	}

	if len(raw.CameraMatrix) != 3 {
		return nil, fmt.Errorf("%w: camera_matrix must have 3 rows, got %d", ErrInvalid, len(raw.CameraMatrix))
	}
	p := &Parameters{DistCoeffs: raw.DistCoeffs}
	for r, row := range raw.CameraMatrix {
		if len(row) != 3 {
			return nil, fmt.Errorf("%w: camera_matrix row %d must have 3 columns, got %d", ErrInvalid, r, len(row))
		}
		copy(p.CameraMatrix[r][:], row)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the parameters describe a usable pinhole camera.
func (p *Parameters) Validate() error {
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			v := p.CameraMatrix[r][c]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: camera_matrix[%d][%d] is not finite", ErrInvalid, r, c)
			}
		}
	}

	fx, fy := p.CameraMatrix[0][0], p.CameraMatrix[1][1]
	if fx <= 0 || fy <= 0 {
		return fmt.Errorf("%w: focal lengths must be positive, got fx=%v fy=%v", ErrInvalid, fx, fy)
	}
	if p.CameraMatrix[2] != [3]float64{0, 0, 1} {
		return fmt.Errorf("%w: camera_matrix bottom row must be [0 0 1], got %v", ErrInvalid, p.CameraMatrix[2])
	}
	if det := mat.Det(p.Intrinsics()); math.Abs(det) < singularTolerance {
		return fmt.Errorf("%w: camera_matrix is singular (det=%g)", ErrInvalid, det)
	}

	if n := len(p.DistCoeffs); n != 4 && n != 5 {
		return fmt.Errorf("%w: dist_coeffs must have 4 or 5 entries, got %d", ErrInvalid, n)
	}
	for i, v := range p.DistCoeffs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: dist_coeffs[%d] is not finite", ErrInvalid, i)
		}
	}

	return nil
}

// Intrinsics returns the camera matrix as a gonum dense matrix.
func (p *Parameters) Intrinsics() *mat.Dense {
	k := mat.NewDense(3, 3, nil)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			k.Set(r, c, p.CameraMatrix[r][c])
		}
	}
	return k
}

// Model holds the calibration as OpenCV matrices. It is read-only after
// construction and may be shared by concurrent workers.
type Model struct {
	params       Parameters
	cameraMatrix gocv.Mat
	distCoeffs   gocv.Mat
}

// NewModel validates p and materialises it for use with OpenCV.
func NewModel(p *Parameters) (*Model, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil parameters", ErrInvalid)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	cameraMatrix := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			cameraMatrix.SetDoubleAt(r, c, p.CameraMatrix[r][c])
		}
	}

	distCoeffs := gocv.NewMatWithSize(1, len(p.DistCoeffs), gocv.MatTypeCV64F)
	for i, v := range p.DistCoeffs {
		distCoeffs.SetDoubleAt(0, i, v)
	}

	params := Parameters{CameraMatrix: p.CameraMatrix, DistCoeffs: append([]float64(nil), p.DistCoeffs...)}
	return &Model{params: params, cameraMatrix: cameraMatrix, distCoeffs: distCoeffs}, nil
}

// Parameters returns a copy of the parameters the model was built from.
func (m *Model) Parameters() Parameters {
	p := m.params
	p.DistCoeffs = append([]float64(nil), m.params.DistCoeffs...)
	return p
}

// Undistort writes the lens-corrected src into dst. The output has the same
// dimensions as src; the intrinsic matrix is reused as the new camera matrix.
func (m *Model) Undistort(src gocv.Mat, dst *gocv.Mat) error {
	return gocv.Undistort(src, dst, m.cameraMatrix, m.distCoeffs, m.cameraMatrix)
}

// Close releases the OpenCV matrices.
func (m *Model) Close() error {
	if err := m.cameraMatrix.Close(); err != nil {
		return err
	}
	return m.distCoeffs.Close()
}
