// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package telemetry mirrors the consumer's motion estimate to external
// outputs: MQTT, a web API with a websocket stream, and an NMEA serial line.
package telemetry

import (
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/relabs-tech/imu_pipeline/internal/imu"
	"github.com/relabs-tech/imu_pipeline/internal/motion"
	"github.com/relabs-tech/imu_pipeline/internal/orientation"
)

// Vector is a JSON friendly 3-vector.
type Vector struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// Quaternion is a JSON friendly quaternion.
type Quaternion struct {
	W float32 `json:"w"`
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// Snapshot is an immutable copy of the motion estimate at one instant.
type Snapshot struct {
	Time          time.Time        `json:"time"`
	Position      Vector           `json:"position"`    // m
	Velocity      Vector           `json:"velocity"`    // m/s
	Orientation   Quaternion       `json:"orientation"` // unit quaternion
	Pose          orientation.Pose `json:"pose"`        // degrees, from Orientation
	AccelTilt     orientation.Pose `json:"accel_tilt"`  // degrees, accelerometer only
	AccTimestamp  uint32           `json:"timestamp_acc"`
	GyroTimestamp uint32           `json:"timestamp_gyro"`
}

// NewSnapshot captures state together with the sample that produced it.
func NewSnapshot(at time.Time, state motion.State, sample imu.Sample) Snapshot {
	q := state.Orientation
	return Snapshot{
		Time:          at,
		Position:      vector(state.Position),
		Velocity:      vector(state.Velocity),
		Orientation:   Quaternion{W: q.W, X: q.X(), Y: q.Y(), Z: q.Z()},
		Pose:          orientation.FromQuaternion(q),
		AccelTilt:     orientation.FromAccel(float64(sample.AccX), float64(sample.AccY), float64(sample.AccZ)),
		AccTimestamp:  state.LastAccTimestamp,
		GyroTimestamp: state.LastGyroTimestamp,
	}
}

func vector(v mgl32.Vec3) Vector {
	return Vector{X: v[0], Y: v[1], Z: v[2]}
}
