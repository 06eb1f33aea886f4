// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package imu holds the IMU sample model shared by the publisher and the
// consumer, and its wire codec.
package imu

// Sample represents a single accel+gyro+mag reading.
//
// Each sensor group carries its own millisecond timestamp. Timestamps are
// truncated to 32 bits and wrap around roughly every 49.7 days.
type Sample struct {
	AccX         float32 `json:"x_acc"` // milli-g
	AccY         float32 `json:"y_acc"`
	AccZ         float32 `json:"z_acc"`
	AccTimestamp uint32  `json:"timestamp_acc"` // ms

	GyroX         int32  `json:"x_gyro"` // milli-degrees/s
	GyroY         int32  `json:"y_gyro"`
	GyroZ         int32  `json:"z_gyro"`
	GyroTimestamp uint32 `json:"timestamp_gyro"`

	MagX         float32 `json:"x_mag"` // milli-gauss
	MagY         float32 `json:"y_mag"`
	MagZ         float32 `json:"z_mag"`
	MagTimestamp uint32  `json:"timestamp_mag"`
}

// Source is anything that can produce samples on demand.
type Source interface {
	Generate() Sample
}
