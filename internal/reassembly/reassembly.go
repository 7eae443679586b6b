// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package reassembly orders, deduplicates, and gap-fills the payloads of
// one TCP half-flow into a single contiguous byte stream.
package reassembly

import (
	"fmt"
	"math"

	"github.com/nishisan-dev/flvcap/internal/capture"
	"github.com/nishisan-dev/flvcap/internal/kinderr"
)

const wraparound = int64(1) << 32

// GapPolicy controls how Finalize handles holes in the sequence space.
type GapPolicy struct {
	// Strict, when true, makes any gap a fatal MissingData error. When
	// false, gaps are either zero-filled or skipped depending on
	// InsertZeros.
	Strict bool
	// InsertZeros, meaningful only when Strict is false, fills a gap with
	// exactly that many zero bytes instead of letting the cursor jump over
	// it.
	InsertZeros bool
}

// record is one accepted payload, positioned by its sequence number
// relative to the flow's initial sequence number. relSeq is signed: a
// segment claiming to precede the flow's established start (not a wrapped
// counter, just genuinely earlier) lands below zero and can never find an
// anchor to insert after.
type record struct {
	relSeq  int64
	payload []byte
}

// Buffer accumulates segments for one TCP half-flow and, once Finalize is
// called, produces the ordered, gap-resolved Stream the decoder reads from.
// It is released after Finalize — it is the pipeline's only unbounded
// allocation (§5).
type Buffer struct {
	policy      GapPolicy
	records     []record
	haveInitial bool
	initialSeq  uint32
}

// NewBuffer creates an empty reassembly buffer governed by policy.
func NewBuffer(policy GapPolicy) *Buffer {
	return &Buffer{policy: policy}
}

// relativeSeq converts a raw 32-bit TCP sequence number into the buffer's
// relative sequence space, handling the SYN adjustment (first segment) and
// 2^32 wraparound (every later segment). A negative raw delta is only
// treated as wraparound when its magnitude exceeds half the sequence
// space; a smaller negative delta means the segment genuinely precedes the
// flow's established start and is left negative so Accept can reject it.
func (b *Buffer) relativeSeq(seg capture.Segment) int64 {
	if !b.haveInitial {
		init := seg.RawSeq
		rel := int64(0)
		if seg.SYN {
			// The SYN occupies the sequence number just before the first
			// data byte, so it lands at relative seq -1.
			init++
			rel = -1
		}
		b.initialSeq = init
		b.haveInitial = true
		return rel
	}
	delta := int64(seg.RawSeq) - int64(b.initialSeq)
	if delta < -math.MaxInt32 {
		delta += wraparound
	}
	return delta
}

// Accept places seg into the buffer at its relative sequence number,
// scanning from the tail backward to find its insertion point (segments
// usually arrive in order, so the common case is an append).
func (b *Buffer) Accept(seg capture.Segment, packetIndex int) error {
	relSeq := b.relativeSeq(seg)
	rec := record{relSeq: relSeq, payload: seg.Payload}

	if len(b.records) == 0 {
		b.records = append(b.records, rec)
		return nil
	}

	for i := len(b.records) - 1; i >= 0; i-- {
		switch {
		case b.records[i].relSeq == relSeq:
			if len(b.records[i].payload) != len(rec.payload) {
				return kinderr.AtPacket(kinderr.RetransmitLengthMismatch, "reassembly.accept", packetIndex,
					fmt.Errorf("seq %d: existing length %d, new length %d", relSeq, len(b.records[i].payload), len(rec.payload)))
			}
			// Exact retransmission: replace in place.
			b.records[i] = rec
			return nil
		case b.records[i].relSeq < relSeq:
			b.records = append(b.records, record{})
			copy(b.records[i+2:], b.records[i+1:])
			b.records[i+1] = rec
			return nil
		}
	}

	return kinderr.AtPacket(kinderr.OutOfOrderUnplaceable, "reassembly.accept", packetIndex,
		fmt.Errorf("no anchor record at or before relative seq %d", relSeq))
}

// Chunk is one contiguous run of bytes in the finalized stream, tagged
// with its absolute offset for diagnostics.
type Chunk struct {
	Offset int64
	Data   []byte
}

// Stream is the finalized, gap-resolved byte sequence the cursor reads
// from.
type Stream struct {
	Chunks []Chunk
	// TotalBytes is the sum of len(Data) across Chunks — what the cursor
	// will report as its byte count once fully drained.
	TotalBytes int64
}

// Finalize walks the ordered buffer once, resolving gaps per policy, and
// returns the resulting Stream. The buffer itself should not be reused
// afterward.
func (b *Buffer) Finalize() (*Stream, error) {
	stream := &Stream{}
	var expected int64

	for _, rec := range b.records {
		if rec.relSeq > expected {
			gap := rec.relSeq - expected
			switch {
			case b.policy.Strict:
				return nil, kinderr.AtByte(kinderr.MissingData, "reassembly.finalize", expected,
					fmt.Errorf("gap of %d bytes before relative seq %d", gap, rec.relSeq))
			case b.policy.InsertZeros:
				stream.Chunks = append(stream.Chunks, Chunk{Offset: expected, Data: make([]byte, gap)})
				stream.TotalBytes += gap
			default:
				// Lenient, no zero-fill: the cursor simply jumps over the gap.
			}
			expected = rec.relSeq
		} else if rec.relSeq < expected {
			// The flow's SYN record (relative seq -1) and any record that
			// starts inside bytes already emitted (Accept does not check
			// partial overlaps) are skipped whole.
			continue
		}

		if len(rec.payload) > 0 {
			stream.Chunks = append(stream.Chunks, Chunk{Offset: rec.relSeq, Data: rec.payload})
			stream.TotalBytes += int64(len(rec.payload))
		}
		expected = rec.relSeq + int64(len(rec.payload))

		if expected > int64(math.MaxUint32)*2 {
			return nil, kinderr.AtByte(kinderr.SeqOverflow, "reassembly.finalize", expected, nil)
		}
	}

	return stream, nil
}
