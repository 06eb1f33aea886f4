// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package emulator produces synthetic IMU samples that drift smoothly toward
// randomly chosen targets, with per-sensor update cadence and Gaussian noise.
package emulator

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/benbjohnson/clock"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/relabs-tech/imu_pipeline/internal/imu"
)

// Maximum change per update.
const (
	AccMaxChange  float32 = 100 // mg
	GyroMaxChange int32   = 500 // mdps
	MagMaxChange  float32 = 20  // mGauss
)

// Noise standard deviations.
const (
	AccNoiseStdDev  = 2.0  // mg
	GyroNoiseStdDev = 50.0 // mdps
	MagNoiseStdDev  = 5.0  // mGauss
)

// smoothing is the weight of the stepped value when not snapping to target.
const smoothing float32 = 0.7

// Per channel update jitter, in whole milliseconds [min, max).
var (
	accJitter  = jitter{0, 2}
	gyroJitter = jitter{1, 2}
	magJitter  = jitter{1, 3}
)

type jitter struct{ min, max int }

// Emulator generates imu.Samples. It is not safe for concurrent use.
type Emulator struct {
	clock clock.Clock
	rng   *rand.Rand

	data imu.Sample

	accStamped  bool
	gyroStamped bool
	magStamped  bool

	accTarget  [3]float32
	gyroTarget [3]int32
	magTarget  [3]float32

	nextRetarget time.Time

	accNoise  distuv.Normal
	gyroNoise distuv.Normal
	magNoise  distuv.Normal
}

// Option configures an Emulator.
type Option func(*Emulator)

// WithClock sets the clock used for timestamps and retargeting.
func WithClock(c clock.Clock) Option {
	return func(e *Emulator) { e.clock = c }
}

// WithRand sets the random source for targets, jitter and noise.
func WithRand(src rand.Source) Option {
	return func(e *Emulator) { e.rng = rand.New(src) }
}

// WithSeed makes the emulator deterministic.
func WithSeed(seed uint64) Option {
	return WithRand(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// New returns an Emulator with zeroed readings. Targets are drawn on the
// first call to Generate.
func New(opts ...Option) *Emulator {
	e := &Emulator{clock: clock.New()}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	e.accNoise = distuv.Normal{Mu: 0, Sigma: AccNoiseStdDev, Src: e.rng}
	e.gyroNoise = distuv.Normal{Mu: 0, Sigma: GyroNoiseStdDev, Src: e.rng}
	e.magNoise = distuv.Normal{Mu: 0, Sigma: MagNoiseStdDev, Src: e.rng}
	return e
}

// Generate advances the emulated sensors to the current time and returns the
// resulting sample.
func (e *Emulator) Generate() imu.Sample {
	now := e.clock.Now()

	if !now.Before(e.nextRetarget) {
		e.retarget()
		e.nextRetarget = now.Add(time.Duration(e.uniform(1000, 3000)) * time.Millisecond)
	}

	nowMs := uint32(now.UnixMilli())
	e.updateAccelerometer(nowMs)
	e.updateGyroscope(nowMs)
	e.updateMagnetometer(nowMs)

	return e.data
}

func (e *Emulator) retarget() {
	e.accTarget = [3]float32{
		float32(e.uniform(-300, 300)),
		float32(e.uniform(-300, 300)),
		float32(e.uniform(900, 1100)), // about 1 g
	}
	for i := range e.gyroTarget {
		e.gyroTarget[i] = int32(e.rng.IntN(4000)) - 2000
	}
	for i := range e.magTarget {
		e.magTarget[i] = float32(e.uniform(-400, 400))
	}
}

func (e *Emulator) uniform(min, max float64) float64 {
	return distuv.Uniform{Min: min, Max: max, Src: e.rng}.Rand()
}

// due reports whether a channel last stamped at ts should update at nowMs.
// The difference is taken modulo 2^32 so it survives timestamp wraparound.
func (e *Emulator) due(nowMs, ts uint32, stamped bool, j jitter) bool {
	if !stamped {
		return true
	}
	elapsed := nowMs - ts
	return int64(elapsed) >= int64(j.min+e.rng.IntN(j.max-j.min))
}

func (e *Emulator) updateAccelerometer(nowMs uint32) {
	if !e.due(nowMs, e.data.AccTimestamp, e.accStamped, accJitter) {
		return
	}
	d := &e.data
	d.AccX = moveTowardFloat(d.AccX, e.accTarget[0], AccMaxChange) + float32(e.accNoise.Rand())
	d.AccY = moveTowardFloat(d.AccY, e.accTarget[1], AccMaxChange) + float32(e.accNoise.Rand())
	d.AccZ = moveTowardFloat(d.AccZ, e.accTarget[2], AccMaxChange) + float32(e.accNoise.Rand())
	d.AccTimestamp = nowMs
	e.accStamped = true
}

func (e *Emulator) updateGyroscope(nowMs uint32) {
	if !e.due(nowMs, e.data.GyroTimestamp, e.gyroStamped, gyroJitter) {
		return
	}
	d := &e.data
	d.GyroX = moveTowardInt(d.GyroX, e.gyroTarget[0], GyroMaxChange) + int32(e.gyroNoise.Rand())
	d.GyroY = moveTowardInt(d.GyroY, e.gyroTarget[1], GyroMaxChange) + int32(e.gyroNoise.Rand())
	d.GyroZ = moveTowardInt(d.GyroZ, e.gyroTarget[2], GyroMaxChange) + int32(e.gyroNoise.Rand())
	d.GyroTimestamp = nowMs
	e.gyroStamped = true
}

func (e *Emulator) updateMagnetometer(nowMs uint32) {
	if !e.due(nowMs, e.data.MagTimestamp, e.magStamped, magJitter) {
		return
	}
	d := &e.data
	d.MagX = moveTowardFloat(d.MagX, e.magTarget[0], MagMaxChange) + float32(e.magNoise.Rand())
	d.MagY = moveTowardFloat(d.MagY, e.magTarget[1], MagMaxChange) + float32(e.magNoise.Rand())
	d.MagZ = moveTowardFloat(d.MagZ, e.magTarget[2], MagMaxChange) + float32(e.magNoise.Rand())
	d.MagTimestamp = nowMs
	e.magStamped = true
}

// moveTowardFloat snaps to target when within maxChange, otherwise takes a
// bounded step and blends it with the current value.
func moveTowardFloat(current, target, maxChange float32) float32 {
	diff := target - current
	if float32(math.Abs(float64(diff))) <= maxChange {
		return target
	}
	step := maxChange
	if diff < 0 {
		step = -maxChange
	}
	return smoothing*(current+step) + (1-smoothing)*current
}

func moveTowardInt(current, target, maxChange int32) int32 {
	diff := target - current
	if diff <= maxChange && diff >= -maxChange {
		return target
	}
	step := maxChange
	if diff < 0 {
		step = -maxChange
	}
	return int32(smoothing*float32(current+step) + (1-smoothing)*float32(current))
}
