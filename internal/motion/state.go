// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package motion fuses IMU samples into an orientation, velocity and position
// estimate.
package motion

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// State is the running motion estimate.
type State struct {
	Orientation mgl32.Quat // unit quaternion, body to world
	Velocity    mgl32.Vec3 // m/s
	Position    mgl32.Vec3 // m

	LastAccTimestamp  uint32
	LastGyroTimestamp uint32

	accSeen  bool
	gyroSeen bool
}

// NewState returns a state at rest at the origin with identity orientation.
func NewState() State {
	return State{Orientation: mgl32.QuatIdent()}
}

func (s State) String() string {
	q := s.Orientation
	return fmt.Sprintf(
		"Pos: [%.3f, %.3f, %.3f]m | Vel: [%.3f, %.3f, %.3f]m/s | Orient: [%.3f, %.3f, %.3f, %.3f]quat",
		s.Position[0], s.Position[1], s.Position[2],
		s.Velocity[0], s.Velocity[1], s.Velocity[2],
		q.W, q.X(), q.Y(), q.Z(),
	)
}
