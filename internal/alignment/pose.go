package alignment

import (
	"encoding/json"
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// RotationNormTolerance is how far |q| may drift from 1 before a rotation is
// no longer treated as a unit quaternion.
const RotationNormTolerance = 1e-6

// Pose is a right-handed 3D pose: a position and a unit quaternion rotation.
// Poses are values; a recompute replaces the published pose wholesale.
type Pose struct {
	Position r3.Vec
	Rotation quat.Number
}

// IdentityPose returns the pose at the origin with no rotation.
func IdentityPose() Pose {
	return Pose{Rotation: quat.Number{Real: 1}}
}

// NewPose builds a pose from a position and rotation.
func NewPose(position r3.Vec, rotation quat.Number) Pose {
	return Pose{Position: position, Rotation: rotation}
}

// At returns an unrotated pose at (x, y, z).
func At(x, y, z float64) Pose {
	return Pose{Position: r3.Vec{X: x, Y: y, Z: z}, Rotation: quat.Number{Real: 1}}
}

// RotationAbout returns the unit quaternion rotating by angle radians about
// axis. A zero axis yields the identity rotation.
func RotationAbout(axis r3.Vec, angle float64) quat.Number {
	if r3.Norm(axis) == 0 {
		return quat.Number{Real: 1}
	}
	u := r3.Unit(axis)
	s, c := math.Sincos(angle / 2)
	return quat.Number{Real: c, Imag: s * u.X, Jmag: s * u.Y, Kmag: s * u.Z}
}

// Equal reports whether two poses are bit-for-bit identical.
func (p Pose) Equal(o Pose) bool {
	return p == o
}

// IsUnitRotation reports whether the rotation is a unit quaternion.
func (p Pose) IsUnitRotation() bool {
	return math.Abs(quat.Abs(p.Rotation)-1) <= RotationNormTolerance
}

// InputRotationTolerance is how far |q| may drift from 1 in a pose read from
// a document or a request before it is rejected rather than rescaled.
const InputRotationTolerance = 1e-3

// Normalized validates a pose supplied from outside the process. A rotation
// within RotationNormTolerance of unit length is returned untouched, one
// within InputRotationTolerance is rescaled to unit length, and anything
// further off, or any non-finite component, fails with ErrInvalidArgument.
func (p Pose) Normalized() (Pose, error) {
	for _, v := range []float64{
		p.Position.X, p.Position.Y, p.Position.Z,
		p.Rotation.Real, p.Rotation.Imag, p.Rotation.Jmag, p.Rotation.Kmag,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return p, fmt.Errorf("%w: pose has a non-finite component", ErrInvalidArgument)
		}
	}
	if p.IsUnitRotation() {
		return p, nil
	}
	n := quat.Abs(p.Rotation)
	if math.Abs(n-1) > InputRotationTolerance {
		return p, fmt.Errorf("%w: rotation is not a unit quaternion (|q|=%g)", ErrInvalidArgument, n)
	}
	p.Rotation = quat.Scale(1/n, p.Rotation)
	return p, nil
}

// DistanceSquared returns the squared Euclidean distance between the two
// positions. Rotation is ignored.
func (p Pose) DistanceSquared(o Pose) float64 {
	return r3.Norm2(r3.Sub(p.Position, o.Position))
}

func (p Pose) String() string {
	return fmt.Sprintf("pos(%.3f, %.3f, %.3f) rot(w=%.4f x=%.4f y=%.4f z=%.4f)",
		p.Position.X, p.Position.Y, p.Position.Z,
		p.Rotation.Real, p.Rotation.Imag, p.Rotation.Jmag, p.Rotation.Kmag)
}

// poseJSON is the wire shape shared by the frame document, the SQLite store
// and the HTTP API.
type poseJSON struct {
	Position [3]float64 `json:"position"`
	Rotation rotJSON    `json:"rotation"`
}

type rotJSON struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// MarshalJSON encodes the pose as {"position":[x,y,z],"rotation":{"w","x","y","z"}}.
func (p Pose) MarshalJSON() ([]byte, error) {
	return json.Marshal(poseJSON{
		Position: [3]float64{p.Position.X, p.Position.Y, p.Position.Z},
		Rotation: rotJSON{W: p.Rotation.Real, X: p.Rotation.Imag, Y: p.Rotation.Jmag, Z: p.Rotation.Kmag},
	})
}

// UnmarshalJSON decodes the MarshalJSON form. A missing rotation decodes as
// the identity.
func (p *Pose) UnmarshalJSON(data []byte) error {
	raw := poseJSON{Rotation: rotJSON{W: 1}}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode pose: %w", err)
	}
	p.Position = r3.Vec{X: raw.Position[0], Y: raw.Position[1], Z: raw.Position[2]}
	p.Rotation = quat.Number{Real: raw.Rotation.W, Imag: raw.Rotation.X, Jmag: raw.Rotation.Y, Kmag: raw.Rotation.Z}
	return nil
}
