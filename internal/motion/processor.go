// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package motion

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"github.com/relabs-tech/imu_pipeline/internal/imu"
)

const (
	// MinDeltaTime is the step used for the first sample of a channel.
	MinDeltaTime float32 = 0.001
	// MaxDeltaTime is the largest step integrated; larger gaps are skipped.
	MaxDeltaTime float32 = 0.1

	// Gravity in m/s².
	Gravity float32 = 9.81

	accelDeadZone float32 = 0.01 // m/s²
	minRotation   float32 = 1e-6 // rad

	// accel magnitude band (mg) in which the accelerometer is trusted as a
	// gravity reference
	gravityBandLow  float32 = 950
	gravityBandHigh float32 = 1050

	mdpsToRadPerSec = 0.001 * math.Pi / 180
	mgToMetersPerS2 = Gravity / 1000
)

var (
	worldUp      = mgl32.Vec3{0, 0, 1}
	gravityWorld = mgl32.Vec3{0, 0, Gravity}
)

// Processor integrates samples into a State. It is not safe for concurrent
// use; each consumer connection owns one.
type Processor struct {
	state  State
	logger *zap.SugaredLogger

	accBias  mgl32.Vec3 // mg
	gyroBias mgl32.Vec3 // mdps

	gyroWeight    float32
	accWeight     float32
	velocityDecay float32
	complementary bool
}

// Option configures a Processor.
type Option func(*Processor)

// WithComplementaryFilter toggles blending the gyro orientation with the
// accelerometer gravity reference.
func WithComplementaryFilter(enabled bool) Option {
	return func(p *Processor) { p.complementary = enabled }
}

// WithWeights sets the complementary filter weights.
func WithWeights(gyro, acc float32) Option {
	return func(p *Processor) {
		p.gyroWeight = gyro
		p.accWeight = acc
	}
}

// WithVelocityDecay sets the per-sample velocity damping factor. 1 disables
// damping.
func WithVelocityDecay(decay float32) Option {
	return func(p *Processor) { p.velocityDecay = decay }
}

// WithAccelBias sets the accelerometer bias in mg.
func WithAccelBias(bias mgl32.Vec3) Option {
	return func(p *Processor) { p.accBias = bias }
}

// WithGyroBias sets the gyroscope bias in mdps.
func WithGyroBias(bias mgl32.Vec3) Option {
	return func(p *Processor) { p.gyroBias = bias }
}

// NewProcessor returns a Processor at rest with the default filter settings.
func NewProcessor(logger *zap.SugaredLogger, opts ...Option) *Processor {
	p := &Processor{
		state:         NewState(),
		logger:        logger,
		gyroWeight:    0.98,
		accWeight:     0.02,
		velocityDecay: 0.98,
		complementary: true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process folds one sample into the estimate and returns the new state.
func (p *Processor) Process(s imu.Sample) State {
	p.updateOrientation(s)
	p.updateVelocityAndPosition(s)
	return p.state
}

// State returns the current estimate.
func (p *Processor) State() State {
	return p.state
}

// deltaSeconds returns the elapsed time between two channel timestamps.
// The subtraction wraps modulo 2^32; an out of order timestamp shows up as a
// huge delta and is rejected by MaxDeltaTime.
func deltaSeconds(cur, prev uint32, seen bool) float32 {
	if !seen {
		return MinDeltaTime
	}
	return float32(cur-prev) / 1000
}

func (p *Processor) updateOrientation(s imu.Sample) {
	dt := deltaSeconds(s.GyroTimestamp, p.state.LastGyroTimestamp, p.state.gyroSeen)
	p.state.LastGyroTimestamp = s.GyroTimestamp
	p.state.gyroSeen = true

	if dt > MaxDeltaTime {
		p.logger.Warnw("skipping orientation update, time delta too large", "dt", dt)
		return
	}

	rate := mgl32.Vec3{
		(float32(s.GyroX) - p.gyroBias[0]) * mdpsToRadPerSec,
		(float32(s.GyroY) - p.gyroBias[1]) * mdpsToRadPerSec,
		(float32(s.GyroZ) - p.gyroBias[2]) * mdpsToRadPerSec,
	}
	angle := rate.Len() * dt
	if angle < minRotation {
		p.logger.Debugw("skipping orientation update, rotation too small", "angle", angle)
		return
	}

	gyroQ := p.state.Orientation.Mul(mgl32.QuatRotate(angle, rate.Normalize()))

	if !p.complementary {
		p.state.Orientation = gyroQ
		return
	}

	acc := mgl32.Vec3{s.AccX, s.AccY, s.AccZ}.Sub(p.accBias)
	mag := acc.Len()
	if mag <= gravityBandLow || mag >= gravityBandHigh {
		p.state.Orientation = gyroQ
		return
	}

	accQ := mgl32.QuatBetweenVectors(worldUp, acc.Mul(1/mag))
	p.state.Orientation = gyroQ.Scale(p.gyroWeight).Add(accQ.Scale(p.accWeight)).Normalize()
}

func (p *Processor) updateVelocityAndPosition(s imu.Sample) {
	dt := deltaSeconds(s.AccTimestamp, p.state.LastAccTimestamp, p.state.accSeen)
	p.state.LastAccTimestamp = s.AccTimestamp
	p.state.accSeen = true

	if dt > MaxDeltaTime {
		p.logger.Warnw("skipping velocity/position update, time delta too large", "dt", dt)
		return
	}

	body := mgl32.Vec3{s.AccX, s.AccY, s.AccZ}.Sub(p.accBias).Mul(mgToMetersPerS2)
	world := p.state.Orientation.Rotate(body).Sub(gravityWorld)
	for i := range world {
		if float32(math.Abs(float64(world[i]))) < accelDeadZone {
			world[i] = 0
		}
	}

	p.state.Velocity = p.state.Velocity.Add(world.Mul(dt)).Mul(p.velocityDecay)
	p.state.Position = p.state.Position.Add(p.state.Velocity.Mul(dt))
}
