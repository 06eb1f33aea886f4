// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Pose is roll/pitch/yaw in degrees.
type Pose struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// FromQuaternion converts a unit quaternion to Z-Y-X (yaw, pitch, roll)
// Euler angles.
//
//	roll  = atan2(2(wx + yz), 1 - 2(x² + y²))
//	pitch = asin(2(wy - zx))
//	yaw   = atan2(2(wz + xy), 1 - 2(y² + z²))
func FromQuaternion(q mgl32.Quat) Pose {
	w, x, y, z := float64(q.W), float64(q.X()), float64(q.Y()), float64(q.Z())

	rollRad := math.Atan2(2*(w*x+y*z), 1-2*(x*x+y*y))

	sinPitch := 2 * (w*y - z*x)
	// clamp at the poles, rounding can push it past ±1
	sinPitch = math.Max(-1, math.Min(1, sinPitch))
	pitchRad := math.Asin(sinPitch)

	yawRad := math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z))

	return Pose{
		Roll:  degrees(rollRad),
		Pitch: degrees(pitchRad),
		Yaw:   degrees(yawRad),
	}
}

// FromAccel computes roll and pitch from accelerometer data only (any unit).
// Yaw is 0 since gravity carries no heading.
//
//	roll  = atan2(ay, az)
//	pitch = atan2(-ax, sqrt(ay² + az²))
func FromAccel(ax, ay, az float64) Pose {
	return Pose{
		Roll:  degrees(math.Atan2(ay, az)),
		Pitch: degrees(math.Atan2(-ax, math.Sqrt(ay*ay+az*az))),
	}
}

func degrees(rad float64) float64 {
	return rad * 180.0 / math.Pi
}
