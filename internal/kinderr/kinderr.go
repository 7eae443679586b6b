// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package kinderr carries the abstract error taxonomy from the
// reconstruction pipeline (§7 of the design: one tagged kind per failure
// mode, each fatal at the core boundary) plus, where the failing component
// can name one, the stream position the failure was detected at.
package kinderr

import "fmt"

// Kind identifies one of the fatal error categories a pipeline component
// can raise. Kinds never overlap component boundaries: each is raised by
// exactly one of the Packet Ingest Adapter, TCP Reassembler, RTMP
// Chunk-Stream Decoder, or FLV Muxer.
type Kind string

const (
	MixedFlow               Kind = "mixed_flow"
	Unsupported              Kind = "unsupported"
	OutOfOrderUnplaceable    Kind = "out_of_order_unplaceable"
	RetransmitLengthMismatch Kind = "retransmit_length_mismatch"
	MissingData              Kind = "missing_data"
	SeqOverflow              Kind = "seq_overflow"
	BadRoutingId             Kind = "bad_routing_id"
	ContinuationWithoutContext Kind = "continuation_without_context"
	PartialMismatch          Kind = "partial_mismatch"
	UnknownChunkSizeMessage  Kind = "unknown_chunk_size_message"
	UnexpectedEnd            Kind = "unexpected_end"
	MissingTerminator        Kind = "missing_terminator"
)

// Position names where in the input a fatal error was detected, mirroring
// §7's "data byte, IP packet, offset" requirement. Only the fields that
// apply to the raising component are populated; HasByte and HasPacket say
// which, so a DataByte or IPPacket of zero is a real position when its flag
// is set.
type Position struct {
	DataByte  int64 // absolute byte offset in the reassembled stream
	IPPacket  int   // index of the offending captured segment, 1-based
	HasByte   bool
	HasPacket bool
}

// Error is the single error type every pipeline component returns for a
// fatal condition. It is never retried and never swallowed by the core;
// the enclosing binary is the only thing that prints it and exits.
type Error struct {
	Kind Kind
	Op   string // component + operation, e.g. "reassembly.accept"
	Pos  Position
	Err  error // underlying cause, may be nil
}

func (e *Error) Error() string {
	loc := ""
	switch {
	case e.Pos.HasByte:
		loc = fmt.Sprintf(" at data byte %d", e.Pos.DataByte)
	case e.Pos.HasPacket:
		loc = fmt.Sprintf(" at IP packet %d", e.Pos.IPPacket)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s%s", e.Op, e.Kind, loc)
	}
	return fmt.Sprintf("%s: %s%s: %v", e.Op, e.Kind, loc, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with no position information.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// AtByte builds an Error anchored to an absolute offset in the reassembled
// byte stream.
func AtByte(kind Kind, op string, byteOffset int64, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause, Pos: Position{DataByte: byteOffset, HasByte: true}}
}

// AtPacket builds an Error anchored to a captured segment index.
func AtPacket(kind Kind, op string, packetIndex int, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause, Pos: Position{IPPacket: packetIndex, HasPacket: true}}
}

// Is reports whether err is a *Error of the given kind, unwrapping as
// necessary. Lets callers write `if kinderr.Is(err, kinderr.MissingData)`.
func Is(err error, kind Kind) bool {
	for err != nil {
		if ke, ok := err.(*Error); ok {
			return ke.Kind == kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
