// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"context"
	"fmt"
	"io"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// AttitudeSentenceType is the proprietary sentence carrying attitude and
// velocity.
const AttitudeSentenceType = "PIMUA"

// NMEAWriter writes one $PIMUA sentence per snapshot:
//
//	$PIMUA,<roll>,<pitch>,<yaw>,<vx>,<vy>,<vz>*CS
//
// Angles are degrees, velocities m/s.
type NMEAWriter struct {
	w      io.WriteCloser
	logger *zap.SugaredLogger
}

// OpenSerialNMEA opens a serial port for NMEA output.
func OpenSerialNMEA(portName string, baudRate int, logger *zap.SugaredLogger) (*NMEAWriter, error) {
	serialOpts := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              uint(baudRate),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}

	port, err := serial.Open(serialOpts)
	if err != nil {
		return nil, errors.Wrapf(err, "open serial port %s", portName)
	}
	logger.Infow("NMEA serial port opened", "port", portName, "baud", baudRate)
	return NewNMEAWriter(port, logger), nil
}

// NewNMEAWriter writes sentences to w.
func NewNMEAWriter(w io.WriteCloser, logger *zap.SugaredLogger) *NMEAWriter {
	return &NMEAWriter{w: w, logger: logger}
}

// AttitudeSentence formats s as a complete NMEA line including CRLF.
func AttitudeSentence(s Snapshot) string {
	body := fmt.Sprintf("%s,%.2f,%.2f,%.2f,%.3f,%.3f,%.3f",
		AttitudeSentenceType,
		s.Pose.Roll, s.Pose.Pitch, s.Pose.Yaw,
		s.Velocity.X, s.Velocity.Y, s.Velocity.Z,
	)
	return "$" + body + "*" + nmea.Checksum(body) + "\r\n"
}

// Name implements Sink.
func (n *NMEAWriter) Name() string { return "nmea" }

// Publish implements Sink.
func (n *NMEAWriter) Publish(_ context.Context, s Snapshot) error {
	_, err := io.WriteString(n.w, AttitudeSentence(s))
	return errors.Wrap(err, "write NMEA sentence")
}

// Close closes the underlying port.
func (n *NMEAWriter) Close() error {
	return n.w.Close()
}
