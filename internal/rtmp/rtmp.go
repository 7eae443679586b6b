// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package rtmp implements the RTMP Chunk-Stream Decoder (component D): it
// reads compressed chunk headers off a bytestream.Cursor, reassembles full
// RTMP messages keyed by AMF chunk-stream index (csid), and tracks the
// connection's dynamic chunk size. It does not know about FLV or the
// session script-message sequence; that is the muxer's job (component E),
// which pulls messages from Decoder.Next in a loop.
package rtmp

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/nishisan-dev/flvcap/internal/bytestream"
	"github.com/nishisan-dev/flvcap/internal/kinderr"
)

const defaultChunkSize = 128

// Message type codes used by the decoder and the muxer. SetChunkSize is
// consumed by the decoder; the types in passThroughTypes are forwarded
// unchanged, and any other type is still forwarded but logged as
// unrecognized each time it occurs.
const (
	TypeSetChunkSize  = 0x01
	TypeAudio         = 0x08
	TypeVideo         = 0x09
	TypeUserControl   = 0x04
	TypeCommandAMF0   = 0x14
	TypeDataAMF0      = 0x12
	TypeAggregate     = 0x16
)

var passThroughTypes = map[uint8]bool{
	0x03: true, 0x04: true, 0x05: true, 0x06: true,
	0x08: true, 0x09: true, 0x0F: true, 0x10: true,
	0x11: true, 0x12: true, 0x13: true, 0x14: true, 0x16: true,
}

// Message is one reassembled RTMP message, ready for the muxer.
type Message struct {
	CSID      uint32
	Type      uint8
	Timestamp uint32
	StreamID  uint32
	Payload   []byte
}

// csidState is the per-chunk-stream context: the fields carried forward
// from the most recent applicable header size, plus the in-progress
// payload buffer for that chunk stream ID.
type csidState struct {
	Timestamp       uint32
	MessageLength   uint32
	MessageType     uint8
	MessageStreamID uint32
	Buffered        []byte

	HaveFullHeader bool // any header of size >=4 has ever applied to this csid
	HaveLengthType bool // message_length/message_type are known for this csid
	HaveStreamID   bool // message_stream_id is known for this csid
}

func (s *csidState) inProgress() bool {
	return len(s.Buffered) > 0 && len(s.Buffered) < int(s.MessageLength)
}

// Options configures a Decoder; all fields correspond to the §6 tunables.
type Options struct {
	ChunkSize    int          // initial chunk size, default 128
	MaxRoutingID uint32       // upper bound for message_stream_id; no default here (config supplies 16)
	InsertZeros  bool         // enables the NUL-skip salvage branch, §4.D step 2
	Logger       *slog.Logger // defaults to slog.Default()
}

// Decoder turns a bytestream.Cursor into a sequence of completed RTMP
// messages. It is stateful and single-pass: construct one per TCP flow.
type Decoder struct {
	cursor *bytestream.Cursor
	logger *slog.Logger

	chunkSize    int
	maxRoutingID uint32
	insertZeros  bool

	csids map[uint32]*csidState

	lastTouchedCSID uint32
	haveLastTouched bool

	// globalLastFullHeader backs the "weakly-checked assumption" from §9:
	// a csid seeing its first 4-byte header, with no length/type of its
	// own yet, inherits from whichever csid most recently completed an
	// >=8-byte header.
	haveGlobalFull bool
	globalLength   uint32
	globalType     uint8
}

// NewDecoder wraps c, performing the initial handshake skip described in
// §4.D before returning: if the next byte is 0x03 it is treated as an RTMP
// handshake C0 and the following 3072 bytes (two handshake halves) are
// discarded; otherwise the cursor is rewound so the chunk-parsing loop
// sees every byte.
func NewDecoder(c *bytestream.Cursor, opts Options) *Decoder {
	d := &Decoder{
		cursor:       c,
		logger:       opts.Logger,
		chunkSize:    opts.ChunkSize,
		maxRoutingID: opts.MaxRoutingID,
		insertZeros:  opts.InsertZeros,
		csids:        make(map[uint32]*csidState),
	}
	if d.chunkSize <= 0 {
		d.chunkSize = defaultChunkSize
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.skipHandshake()
	return d
}

func (d *Decoder) skipHandshake() {
	b := d.cursor.Read(1)
	if len(b) == 1 && b[0] == 0x03 {
		d.cursor.Read(3072)
		return
	}
	d.cursor.Rewind()
}

// headerSize maps the top 2 bits of the first header byte to the header's
// total byte length (§4.D step 1).
func headerSize(b0 byte) int {
	switch b0 >> 6 {
	case 0:
		return 12
	case 1:
		return 8
	case 2:
		return 4
	default:
		return 1
	}
}

func readUint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// nextHeaderByte returns the csid and header size to apply next, absorbing
// the NUL-skip salvage rule (§4.D step 2). eof is true once the cursor is
// exhausted and no header byte is available.
func (d *Decoder) nextHeaderByte() (csid uint32, hdrSize int, eof bool) {
	for {
		b := d.cursor.Read(1)
		if len(b) == 0 {
			return 0, 0, true
		}
		b0 := b[0]
		if b0 == 0x00 {
			if d.insertZeros && d.haveLastTouched {
				if st := d.csids[d.lastTouchedCSID]; st != nil && st.inProgress() {
					// Reuse the previous full header's csid, reinterpreted
					// as a 1-byte continuation (top bits forced to 0xC0).
					return d.lastTouchedCSID, 1, false
				}
			}
			continue // consume the NUL byte and keep looking for a header
		}
		return uint32(b0 & 0x3F), headerSize(b0), false
	}
}

// Next decodes and returns the next completed RTMP message, applying
// SetChunkSize side effects internally without surfacing them to the
// caller. It returns (nil, nil) when the cursor is exhausted, whether
// cleanly or mid-chunk — per §4.D that is not itself a fatal condition at
// this layer.
func (d *Decoder) Next() (*Message, error) {
	for {
		msg, err := d.nextRawMessage()
		if err != nil || msg == nil {
			return nil, err
		}
		if msg.Type == TypeSetChunkSize {
			if err := d.applySetChunkSize(msg); err != nil {
				return nil, err
			}
			continue
		}
		if !passThroughTypes[msg.Type] {
			d.logger.Warn("rtmp: unrecognized message type, forwarding anyway", "type", msg.Type, "csid", msg.CSID)
		}
		return msg, nil
	}
}

func (d *Decoder) applySetChunkSize(msg *Message) error {
	if len(msg.Payload) < 1 || msg.Payload[0] != 0x00 {
		return kinderr.AtByte(kinderr.UnknownChunkSizeMessage, "rtmp.setChunkSize", d.cursor.AbsByte(),
			fmt.Errorf("payload does not begin with 0x00"))
	}
	rest := msg.Payload[1:]
	if len(rest) > 4 {
		rest = rest[:4]
	}
	var v uint32
	for _, b := range rest {
		v = v<<8 | uint32(b)
	}
	if v > 0 {
		d.chunkSize = int(v)
	}
	return nil
}

// nextRawMessage runs one pass of the chunk-parsing loop (§4.D steps 1-6),
// looping internally until one csid's buffer completes or the cursor is
// exhausted.
func (d *Decoder) nextRawMessage() (*Message, error) {
	for {
		csid, hdrSize, eof := d.nextHeaderByte()
		if eof {
			return nil, nil
		}

		st := d.csids[csid]
		if st == nil {
			st = &csidState{}
			d.csids[csid] = st
		}

		if hdrSize == 1 {
			if !st.HaveFullHeader {
				return nil, kinderr.AtByte(kinderr.ContinuationWithoutContext, "rtmp.header", d.cursor.AbsByte(),
					fmt.Errorf("csid %d has no prior full header", csid))
			}
		} else {
			rest := d.cursor.Read(hdrSize - 1)
			if len(rest) < hdrSize-1 {
				return nil, nil // EOF mid-header: clean termination
			}

			newTimestamp := readUint24(rest[0:3])

			var newLength uint32
			var newType uint8
			haveLT := false
			if hdrSize >= 8 {
				newLength = readUint24(rest[3:6])
				newType = rest[6]
				haveLT = true
			}

			var newStreamID uint32
			haveSID := false
			if hdrSize == 12 {
				newStreamID = binary.LittleEndian.Uint32(rest[7:11])
				haveSID = true
				if newStreamID > d.maxRoutingID {
					return nil, kinderr.AtByte(kinderr.BadRoutingId, "rtmp.header", d.cursor.AbsByte(),
						fmt.Errorf("stream id %d exceeds max %d", newStreamID, d.maxRoutingID))
				}
			}

			if st.inProgress() {
				mismatch := newTimestamp != st.Timestamp ||
					(haveLT && (newLength != st.MessageLength || newType != st.MessageType)) ||
					(haveSID && newStreamID != st.MessageStreamID)
				if mismatch {
					return nil, kinderr.AtByte(kinderr.PartialMismatch, "rtmp.header", d.cursor.AbsByte(),
						fmt.Errorf("csid %d: re-declared header disagrees with buffered message", csid))
				}
			}

			st.Timestamp = newTimestamp
			if haveLT {
				st.MessageLength = newLength
				st.MessageType = newType
				st.HaveLengthType = true
				d.globalLength, d.globalType, d.haveGlobalFull = newLength, newType, true
			} else if hdrSize == 4 && !st.HaveLengthType {
				if !d.haveGlobalFull {
					return nil, kinderr.AtByte(kinderr.ContinuationWithoutContext, "rtmp.header", d.cursor.AbsByte(),
						fmt.Errorf("csid %d: 4-byte header with no length/type known anywhere yet", csid))
				}
				st.MessageLength, st.MessageType = d.globalLength, d.globalType
				st.HaveLengthType = true
				d.logger.Warn("rtmp: inheriting message length/type from another stream's last full header",
					"csid", csid, "length", st.MessageLength, "type", st.MessageType)
			}
			if haveSID {
				st.MessageStreamID = newStreamID
				st.HaveStreamID = true
			}
			st.HaveFullHeader = true
		}

		d.lastTouchedCSID, d.haveLastTouched = csid, true

		remaining := int(st.MessageLength) - len(st.Buffered)
		if remaining < 0 {
			remaining = 0
		}
		readLen := remaining
		if readLen > d.chunkSize {
			readLen = d.chunkSize
		}
		payload := d.cursor.Read(readLen)
		st.Buffered = append(st.Buffered, payload...)
		if len(payload) < readLen {
			return nil, nil // EOF mid-chunk: clean termination
		}

		if len(st.Buffered) == int(st.MessageLength) {
			msg := &Message{
				CSID:      csid,
				Type:      st.MessageType,
				Timestamp: st.Timestamp,
				StreamID:  st.MessageStreamID,
				Payload:   st.Buffered,
			}
			st.Buffered = nil
			return msg, nil
		}
		// Message still incomplete; loop for the next chunk (possibly on a
		// different csid, since chunk streams interleave).
	}
}
