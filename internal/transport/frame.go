// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package transport moves encoded IMU samples over a Unix domain socket as
// length-prefixed frames.
package transport

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// prefixSize is the size of the big-endian length prefix.
const prefixSize = 4

// MaxFrameSize bounds the payload length a reader will accept.
const MaxFrameSize = 1 << 20

var (
	// ErrTruncatedFrame means the stream ended inside a prefix or payload.
	ErrTruncatedFrame = errors.New("truncated frame")
	// ErrFrameTooLarge means a prefix announced more than MaxFrameSize bytes.
	ErrFrameTooLarge = errors.New("frame too large")
)

// WriteFrame writes the length prefix followed by payload.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return errors.Wrapf(ErrFrameTooLarge, "payload of %d bytes", len(payload))
	}
	var prefix [prefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return errors.Wrap(err, "write frame length")
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return errors.Wrap(err, "write frame payload")
	}
	return nil
}

// ReadFrame reads one frame. It returns io.EOF, unwrapped, only when the
// stream ends exactly on a frame boundary. A zero-length frame yields an
// empty, non-nil slice.
func ReadFrame(r io.Reader) ([]byte, error) {
	var prefix [prefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, truncated(err, "frame length")
	}

	n := binary.BigEndian.Uint32(prefix[:])
	if n > MaxFrameSize {
		return nil, errors.Wrapf(ErrFrameTooLarge, "announced %d bytes", n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, truncated(err, "frame payload")
	}
	return payload, nil
}

func truncated(err error, what string) error {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return errors.Wrapf(ErrTruncatedFrame, "%s: %v", what, err)
	}
	return errors.Wrapf(err, "read %s", what)
}
