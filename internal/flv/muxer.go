// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package flv

import (
	"fmt"
	"log/slog"

	"github.com/nishisan-dev/flvcap/internal/kinderr"
	"github.com/nishisan-dev/flvcap/internal/rtmp"
)

// Phase is one state of the session's script-message sequence. The muxer
// advances strictly forward through these; there is no path back to an
// earlier phase.
type Phase int

const (
	AwaitPlayStart Phase = iota
	AwaitDataStart
	AwaitMetaData
	AwaitSkippableSync
	StreamingMedia
	PlayComplete
)

func (p Phase) String() string {
	switch p {
	case AwaitPlayStart:
		return "AwaitPlayStart"
	case AwaitDataStart:
		return "AwaitDataStart"
	case AwaitMetaData:
		return "AwaitMetaData"
	case AwaitSkippableSync:
		return "AwaitSkippableSync"
	case StreamingMedia:
		return "StreamingMedia"
	case PlayComplete:
		return "PlayComplete"
	default:
		return "unknown"
	}
}

// messageSource is the subset of *rtmp.Decoder the muxer depends on, so
// tests can drive it with a small fake feed instead of a full chunk
// stream.
type messageSource interface {
	Next() (*rtmp.Message, error)
}

// Muxer drives a messageSource through the session phases, writing FLV
// tags to a Writer as it goes. It owns the Writer's commit/abort decision:
// callers only need to call Run.
type Muxer struct {
	src    messageSource
	w      *Writer
	logger *slog.Logger

	phase      Phase
	streamName string
}

// NewMuxer creates a Muxer starting in AwaitPlayStart.
func NewMuxer(src messageSource, w *Writer, logger *slog.Logger) *Muxer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Muxer{src: src, w: w, logger: logger, phase: AwaitPlayStart}
}

// Run pulls messages until the session reaches PlayComplete or a fatal
// error occurs. On any non-nil error it aborts the writer's temp file; on
// success it commits. Run itself never panics on a writer error — I/O
// failures from the Writer are treated the same as any other fatal kinderr.
func (m *Muxer) Run() (err error) {
	defer func() {
		if err != nil {
			m.w.Abort()
			return
		}
		err = m.w.Commit()
	}()

	for m.phase != PlayComplete {
		msg, nextErr := m.src.Next()
		if nextErr != nil {
			return nextErr
		}
		if msg == nil {
			if m.phase == StreamingMedia {
				return kinderr.New(kinderr.MissingTerminator, "flv.muxer",
					fmt.Errorf("input exhausted in StreamingMedia without NetStream.Play.Complete"))
			}
			return kinderr.New(kinderr.UnexpectedEnd, "flv.muxer",
				fmt.Errorf("input exhausted in %s", m.phase))
		}

		if err := m.step(msg); err != nil {
			return err
		}
	}
	return nil
}

// step dispatches one message according to the current phase and advances
// m.phase along the fixed forward sequence AwaitPlayStart →
// AwaitDataStart → AwaitMetaData → AwaitSkippableSync → StreamingMedia →
// PlayComplete.
func (m *Muxer) step(msg *rtmp.Message) error {
	switch m.phase {
	case AwaitPlayStart:
		name, ok := matchPlayStart(msg.Payload)
		if msg.Type != 0x14 || !ok {
			return nil // not the signature we're waiting for; keep waiting
		}
		m.streamName = name
		m.logger.Info("flv: play started", "name", name)
		m.phase = AwaitDataStart
		return nil

	case AwaitDataStart:
		if msg.Type != 0x12 || !hasStatusCode(msg.Payload, "onStatus", "NetStream.Data.Start") {
			return nil
		}
		if err := m.w.WriteHeader(); err != nil {
			return kinderr.New(kinderr.UnexpectedEnd, "flv.muxer.writeHeader", err)
		}
		m.phase = AwaitMetaData
		return nil

	case AwaitMetaData:
		if msg.Type != 0x12 || !isOnMetaData(msg.Payload) {
			return nil
		}
		if err := m.w.WriteTag(msg.Type, msg.Timestamp, msg.Payload); err != nil {
			return kinderr.New(kinderr.UnexpectedEnd, "flv.muxer.writeMetaData", err)
		}
		m.phase = AwaitSkippableSync
		return nil

	case AwaitSkippableSync:
		if msg.Type == rtmp.TypeVideo && len(msg.Payload) == 2 && msg.Payload[0] == 0x52 {
			return nil // skippable sync frame, stay in this phase
		}
		m.phase = StreamingMedia
		return m.handleStreaming(msg)

	case StreamingMedia:
		return m.handleStreaming(msg)
	}
	return nil
}

// handleStreaming implements the StreamingMedia row of §4.E's transition
// table. It is also reached for the one message that falls through
// AwaitSkippableSync, since that message must still be dispatched as media.
func (m *Muxer) handleStreaming(msg *rtmp.Message) error {
	switch {
	case msg.Type == rtmp.TypeAudio || msg.Type == rtmp.TypeVideo:
		if err := m.w.WriteTag(msg.Type, msg.Timestamp, msg.Payload); err != nil {
			return kinderr.New(kinderr.UnexpectedEnd, "flv.muxer.writeTag", err)
		}
		return nil

	case msg.Type == rtmp.TypeAggregate:
		if err := m.w.WriteRaw(msg.Payload); err != nil {
			return kinderr.New(kinderr.UnexpectedEnd, "flv.muxer.writeRaw", err)
		}
		return nil

	case msg.Type == rtmp.TypeUserControl:
		return nil // ping, silently skipped

	case msg.Type == rtmp.TypeDataAMF0 && hasStatusCode(msg.Payload, "onPlayStatus", "NetStream.Play.Complete"):
		m.logger.Info("flv: play complete", "name", m.streamName)
		m.phase = PlayComplete
		return nil

	default:
		// Any other message type ends streaming without being an error in
		// its own right; only reaching EOF in this phase is fatal.
		m.logger.Info("flv: unrecognized message ends streaming", "type", msg.Type)
		m.phase = PlayComplete
		return nil
	}
}
