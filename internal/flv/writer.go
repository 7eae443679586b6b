// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package flv implements the FLV muxer / session state machine and the
// FLV writer: it drives the RTMP decoder, enforces the session
// script-message sequence, and emits a byte-exact FLV file with an
// all-or-nothing commit.
package flv

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/time/rate"
)

const (
	flvHeaderSize = 9
	flvTagHeaderSize = 11
	flvTagTrailerSize = 4
	maxBurstSize      = 256 * 1024
)

// Writer emits the FLV file header, tags, and tag-size trailers to a
// temporary file, committing it to finalPath only once the muxer reaches
// PlayComplete. Any fatal error aborts the temp file instead, leaving no
// partial output behind (§6).
type Writer struct {
	finalPath string
	tmpPath   string
	f         *os.File
	bw        *bufio.Writer
	done      bool
}

// NewWriter creates the writer's backing temp file in the same directory
// as finalPath, so the eventual rename is same-filesystem and atomic.
func NewWriter(finalPath string, maxBytesPerSec int64) (*Writer, error) {
	dir := filepath.Dir(finalPath)
	f, err := os.CreateTemp(dir, ".flvcap-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("creating temp output file: %w", err)
	}

	var out io.Writer = f
	if maxBytesPerSec > 0 {
		out = newThrottledWriter(context.Background(), f, maxBytesPerSec)
	}

	return &Writer{
		finalPath: finalPath,
		tmpPath:   f.Name(),
		f:         f,
		bw:        bufio.NewWriterSize(out, 256*1024),
	}, nil
}

// WriteHeader writes the 9-byte FLV signature/version/flags header plus
// the 4-byte PreviousTagSize0 that always follows it (§4.F).
func (w *Writer) WriteHeader() error {
	header := [flvHeaderSize + 4]byte{
		'F', 'L', 'V',
		0x01,       // version
		0x05,       // audio + video flags
		0, 0, 0, flvHeaderSize, // header size, big-endian 32-bit
		0, 0, 0, 0, // PreviousTagSize0
	}
	_, err := w.bw.Write(header[:])
	return err
}

// WriteTag writes one FLV tag: an 11-byte header, the payload verbatim,
// and the 4-byte trailing PreviousTagSize (§4.F). timestamp's low 24 bits
// are used; TimestampExtended is always written as 0 since the RTMP
// timestamps this system observes never exceed 24 bits.
func (w *Writer) WriteTag(tagType uint8, timestamp uint32, payload []byte) error {
	ts := timestamp & 0x00FFFFFF
	size := uint32(len(payload))

	var header [flvTagHeaderSize]byte
	header[0] = tagType
	header[1], header[2], header[3] = byte(size>>16), byte(size>>8), byte(size)
	header[4], header[5], header[6] = byte(ts>>16), byte(ts>>8), byte(ts)
	header[7] = 0 // TimestampExtended
	header[8], header[9], header[10] = 0, 0, 0 // StreamID

	if _, err := w.bw.Write(header[:]); err != nil {
		return err
	}
	if _, err := w.bw.Write(payload); err != nil {
		return err
	}

	var trailer [flvTagTrailerSize]byte
	binary.BigEndian.PutUint32(trailer[:], flvTagHeaderSize+size)
	_, err := w.bw.Write(trailer[:])
	return err
}

// WriteRaw writes payload verbatim with no framing, for RTMP type 0x16
// aggregate messages, which already carry pre-framed FLV tag bytes.
func (w *Writer) WriteRaw(payload []byte) error {
	_, err := w.bw.Write(payload)
	return err
}

// Commit flushes and closes the temp file and renames it to finalPath.
// Safe to call only once, when the muxer has reached PlayComplete.
func (w *Writer) Commit() error {
	if w.done {
		return nil
	}
	w.done = true
	if err := w.bw.Flush(); err != nil {
		w.f.Close()
		os.Remove(w.tmpPath)
		return fmt.Errorf("flushing output: %w", err)
	}
	if err := w.f.Close(); err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("closing output: %w", err)
	}
	if err := os.Rename(w.tmpPath, w.finalPath); err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("committing output: %w", err)
	}
	return nil
}

// Abort discards the temp file. Called whenever the muxer or decoder
// fails before PlayComplete so no partial output is left behind.
func (w *Writer) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	w.f.Close()
	return os.Remove(w.tmpPath)
}

// newThrottledWriter wraps w with a token-bucket rate limit, adapted from
// the bandwidth cap used for backup uploads: larger writes are split into
// burst-sized chunks so the limiter's reservation never spikes.
func newThrottledWriter(ctx context.Context, w io.Writer, bytesPerSec int64) io.Writer {
	burst := int(bytesPerSec)
	if burst > maxBurstSize {
		burst = maxBurstSize
	}
	return &throttledWriter{w: w, limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst), ctx: ctx}
}

type throttledWriter struct {
	w       io.Writer
	limiter *rate.Limiter
	ctx     context.Context
}

func (tw *throttledWriter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		chunk := len(p)
		if chunk > tw.limiter.Burst() {
			chunk = tw.limiter.Burst()
		}
		if err := tw.limiter.WaitN(tw.ctx, chunk); err != nil {
			return total, err
		}
		n, err := tw.w.Write(p[:chunk])
		total += n
		if err != nil {
			return total, err
		}
		p = p[n:]
	}
	return total, nil
}
