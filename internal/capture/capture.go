// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package capture implements the Packet Ingest Adapter (component A): it
// normalizes decoded IP+TCP records supplied by an external capture reader
// into the core's Segment type, rejecting anything the reassembler and
// decoder downstream are not contracted to handle.
package capture

import (
	"fmt"

	"github.com/nishisan-dev/flvcap/internal/kinderr"
)

// FourTuple identifies one unidirectional TCP half-flow.
type FourTuple struct {
	SrcIP   string
	DstIP   string
	SrcPort uint16
	DstPort uint16
}

// Segment is one captured TCP segment carrying (a slice of) the
// server-to-client RTMP stream.
type Segment struct {
	Flow    FourTuple
	RawSeq  uint32
	SYN     bool
	ACK     bool
	URG     bool
	RST     bool
	Fragment bool
	Payload []byte
}

// Adapter accepts a finite, possibly unordered, possibly duplicated stream
// of Segments and hands back only the ones the rest of the pipeline may
// see. The first accepted segment's four-tuple becomes the flow's
// identity; anything that disagrees is rejected.
type Adapter struct {
	flow    FourTuple
	haveFlow bool
	index   int
}

// NewAdapter returns an empty Adapter, ready to accept its first segment.
func NewAdapter() *Adapter {
	return &Adapter{}
}

// Accept normalizes and validates one captured segment. On success it
// returns the segment unchanged (normalization today is identity — the
// adapter's job is admission control, not transformation). The returned
// packet index is 1-based and matches the §7 "IP packet" position field.
func (a *Adapter) Accept(seg Segment) (Segment, int, error) {
	a.index++
	idx := a.index

	if seg.URG || seg.RST || !seg.ACK || seg.Fragment {
		return Segment{}, idx, kinderr.AtPacket(kinderr.Unsupported, "capture.accept", idx,
			fmt.Errorf("urg=%v rst=%v ack=%v fragment=%v", seg.URG, seg.RST, seg.ACK, seg.Fragment))
	}

	if !a.haveFlow {
		a.flow = seg.Flow
		a.haveFlow = true
		return seg, idx, nil
	}

	if seg.Flow != a.flow {
		return Segment{}, idx, kinderr.AtPacket(kinderr.MixedFlow, "capture.accept", idx,
			fmt.Errorf("segment flow %+v does not match established flow %+v", seg.Flow, a.flow))
	}

	return seg, idx, nil
}

// Flow returns the four-tuple latched by the first accepted segment. The
// second return value is false until at least one segment has been
// accepted.
func (a *Adapter) Flow() (FourTuple, bool) {
	return a.flow, a.haveFlow
}
