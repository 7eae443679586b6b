// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package bytestream implements the Byte-Stream Cursor (component C): a
// forward-only, snapshot/rewind-capable reader over the chunks a
// reassembly.Stream hands back. The RTMP decoder reads exclusively through
// this cursor; it never touches reassembly.Stream directly.
package bytestream

import "github.com/nishisan-dev/flvcap/internal/reassembly"

// Position is the cursor's bookmarked location, reported verbatim by
// Snapshot for diagnostics (§7's "data byte" position is Position.AbsByte).
type Position struct {
	SegmentIndex int   // index into the stream's chunk list
	SegmentOff   int   // offset within that chunk
	AbsByte      int64 // absolute byte count from the start of the stream
	EOF          bool
}

// Cursor reads a reassembly.Stream's chunks as one contiguous sequence of
// bytes. Reads are forward-only between calls to Rewind.
type Cursor struct {
	stream *reassembly.Stream
	pos    Position
}

// NewCursor wraps stream for sequential reading from byte 0.
func NewCursor(stream *reassembly.Stream) *Cursor {
	return &Cursor{stream: stream}
}

// Read returns up to n bytes starting at the cursor's current position and
// advances past them. It returns fewer than n bytes only when the stream is
// exhausted, at which point Eof reports true and every later call returns
// nil until Rewind is called.
func (c *Cursor) Read(n int) []byte {
	if c.pos.EOF || n <= 0 {
		return nil
	}

	out := make([]byte, 0, n)
	for len(out) < n {
		if c.pos.SegmentIndex >= len(c.stream.Chunks) {
			c.pos.EOF = true
			break
		}
		chunk := c.stream.Chunks[c.pos.SegmentIndex]
		remaining := len(chunk.Data) - c.pos.SegmentOff
		if remaining <= 0 {
			c.pos.SegmentIndex++
			c.pos.SegmentOff = 0
			continue
		}
		want := n - len(out)
		if want > remaining {
			want = remaining
		}
		out = append(out, chunk.Data[c.pos.SegmentOff:c.pos.SegmentOff+want]...)
		c.pos.SegmentOff += want
		c.pos.AbsByte += int64(want)
		if c.pos.SegmentOff == len(chunk.Data) {
			c.pos.SegmentIndex++
			c.pos.SegmentOff = 0
		}
	}
	return out
}

// Eof reports whether the cursor has run past the end of the stream.
func (c *Cursor) Eof() bool { return c.pos.EOF }

// AbsByte returns the cursor's current absolute byte offset, used by
// decoders to annotate kinderr.Error positions.
func (c *Cursor) AbsByte() int64 { return c.pos.AbsByte }

// Snapshot captures the cursor's current position for diagnostic
// reporting; it does not affect subsequent reads.
func (c *Cursor) Snapshot() Position { return c.pos }

// Rewind restarts the cursor at byte 0 and clears the EOF flag.
func (c *Cursor) Rewind() { c.pos = Position{} }

// Len returns the total number of bytes available in the wrapped stream.
func (c *Cursor) Len() int64 { return c.stream.TotalBytes }
