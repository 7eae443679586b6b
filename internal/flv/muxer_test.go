// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package flv

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/nishisan-dev/flvcap/internal/kinderr"
	"github.com/nishisan-dev/flvcap/internal/rtmp"
)

// fakeSource feeds a fixed slice of messages to the muxer, then reports a
// clean EOF, mirroring what a real rtmp.Decoder returns once its cursor is
// exhausted.
type fakeSource struct {
	msgs []*rtmp.Message
	i    int
}

func (f *fakeSource) Next() (*rtmp.Message, error) {
	if f.i >= len(f.msgs) {
		return nil, nil
	}
	m := f.msgs[f.i]
	f.i++
	return m, nil
}

func playStartPayload(name string) []byte {
	p := amfString("onStatus")
	p = append(p, amfProp("code")...)
	p = append(p, amfString("NetStream.Play.Start")...)
	p = append(p, amfProp("description")...)
	p = append(p, amfString("Started playing "+name)...)
	return p
}

func dataStartPayload() []byte {
	p := amfString("onStatus")
	p = append(p, amfProp("code")...)
	p = append(p, amfString("NetStream.Data.Start")...)
	return p
}

func playCompletePayload() []byte {
	p := amfString("onPlayStatus")
	p = append(p, amfProp("code")...)
	p = append(p, amfString("NetStream.Play.Complete")...)
	return p
}

func metaDataPayload(body string) []byte {
	return append(amfString("onMetaData"), []byte(body)...)
}

func newTestWriter(t *testing.T) (*Writer, string) {
	t.Helper()
	dir := t.TempDir()
	final := filepath.Join(dir, "out.flv")
	w, err := NewWriter(final, 0)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	return w, final
}

func TestMuxer_MinimalSuccessfulFlow(t *testing.T) {
	meta := metaDataPayload("stub-metadata")
	msgs := []*rtmp.Message{
		{Type: 0x14, Payload: playStartPayload("demo.flv")},
		{Type: 0x12, Payload: dataStartPayload()},
		{Type: 0x12, Payload: meta},
		{Type: 0x09, Payload: []byte{0x52, 0x00}},
		{Type: 0x09, Timestamp: 100, Payload: []byte{0xAA, 0xBB, 0xCC, 0xDD}},
		{Type: 0x12, Payload: playCompletePayload()},
	}

	w, final := newTestWriter(t)
	m := NewMuxer(&fakeSource{msgs: msgs}, w, nil)
	if err := m.Run(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := os.ReadFile(final)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}

	wantSize := 13 + (11 + len(meta) + 4) + (11 + 4 + 4)
	if len(out) != wantSize {
		t.Fatalf("expected %d bytes, got %d", wantSize, len(out))
	}

	if !bytes.Equal(out[:4], []byte("FLV\x01")) {
		t.Fatalf("unexpected signature %v", out[:4])
	}
	if out[4] != 0x05 {
		t.Fatalf("expected audio+video flags 0x05, got %#x", out[4])
	}
	if binary.BigEndian.Uint32(out[5:9]) != 9 {
		t.Fatalf("expected header size 9")
	}
	if binary.BigEndian.Uint32(out[9:13]) != 0 {
		t.Fatalf("expected PreviousTagSize0 of 0")
	}

	scriptTag := out[13:]
	if scriptTag[0] != 0x12 {
		t.Fatalf("expected script tag type 0x12, got %#x", scriptTag[0])
	}
	dataSize := uint32(scriptTag[1])<<16 | uint32(scriptTag[2])<<8 | uint32(scriptTag[3])
	if int(dataSize) != len(meta) {
		t.Fatalf("expected script tag data size %d, got %d", len(meta), dataSize)
	}
	if !bytes.Equal(scriptTag[11:11+len(meta)], meta) {
		t.Fatalf("script tag payload mismatch")
	}

	videoTag := scriptTag[11+len(meta)+4:]
	if videoTag[0] != 0x09 {
		t.Fatalf("expected video tag type 0x09, got %#x", videoTag[0])
	}
	ts := uint32(videoTag[4])<<16 | uint32(videoTag[5])<<8 | uint32(videoTag[6])
	if ts != 100 {
		t.Fatalf("expected timestamp 100, got %d", ts)
	}
	if !bytes.Equal(videoTag[11:15], []byte{0xAA, 0xBB, 0xCC, 0xDD}) {
		t.Fatalf("video tag payload mismatch")
	}
}

func TestMuxer_AggregatePassthrough(t *testing.T) {
	raw := []byte{0x09, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0, 0xAA, 0xBB, 0, 0, 0, 13}
	msgs := []*rtmp.Message{
		{Type: 0x14, Payload: playStartPayload("demo.flv")},
		{Type: 0x12, Payload: dataStartPayload()},
		{Type: 0x12, Payload: metaDataPayload("m")},
		{Type: 0x16, Payload: raw},
		{Type: 0x12, Payload: playCompletePayload()},
	}

	w, final := newTestWriter(t)
	m := NewMuxer(&fakeSource{msgs: msgs}, w, nil)
	if err := m.Run(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := os.ReadFile(final)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if !bytes.Contains(out, raw) {
		t.Fatal("expected aggregate payload to be written verbatim")
	}
}

func TestMuxer_PingSkippedDuringStreaming(t *testing.T) {
	// A distinctive ping payload: the zero bytes of an FLV tag header must
	// not be mistaken for it.
	ping := []byte{0x00, 0x06, 0xCA, 0xFE, 0xBA, 0xBE}
	msgs := []*rtmp.Message{
		{Type: 0x14, Payload: playStartPayload("demo.flv")},
		{Type: 0x12, Payload: dataStartPayload()},
		{Type: 0x12, Payload: metaDataPayload("m")},
		{Type: 0x04, Payload: ping},
		{Type: 0x09, Timestamp: 5, Payload: []byte{0x01}},
		{Type: 0x12, Payload: playCompletePayload()},
	}

	w, final := newTestWriter(t)
	m := NewMuxer(&fakeSource{msgs: msgs}, w, nil)
	if err := m.Run(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := os.ReadFile(final)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if bytes.Contains(out, ping) {
		t.Fatal("ping payload should never reach the output file")
	}
}

func TestMuxer_MissingTerminatorFailsAndLeavesNoOutput(t *testing.T) {
	msgs := []*rtmp.Message{
		{Type: 0x14, Payload: playStartPayload("demo.flv")},
		{Type: 0x12, Payload: dataStartPayload()},
		{Type: 0x12, Payload: metaDataPayload("m")},
		{Type: 0x09, Timestamp: 1, Payload: []byte{0x01}},
	}

	w, final := newTestWriter(t)
	m := NewMuxer(&fakeSource{msgs: msgs}, w, nil)
	err := m.Run()
	if !kinderr.Is(err, kinderr.MissingTerminator) {
		t.Fatalf("expected MissingTerminator, got %v", err)
	}
	if _, statErr := os.Stat(final); !os.IsNotExist(statErr) {
		t.Fatal("expected no output file on missing terminator")
	}
}

func TestMuxer_UnexpectedEndDuringAwaitPlayStart(t *testing.T) {
	w, final := newTestWriter(t)
	m := NewMuxer(&fakeSource{}, w, nil)
	err := m.Run()
	if !kinderr.Is(err, kinderr.UnexpectedEnd) {
		t.Fatalf("expected UnexpectedEnd, got %v", err)
	}
	if _, statErr := os.Stat(final); !os.IsNotExist(statErr) {
		t.Fatal("expected no output file on unexpected end")
	}
}

func TestMuxer_AnyOtherTypeDuringStreamingEndsSessionCleanly(t *testing.T) {
	msgs := []*rtmp.Message{
		{Type: 0x14, Payload: playStartPayload("demo.flv")},
		{Type: 0x12, Payload: dataStartPayload()},
		{Type: 0x12, Payload: metaDataPayload("m")},
		{Type: 0x09, Timestamp: 1, Payload: []byte{0x01}},
		{Type: 0x14, Payload: []byte{0x02, 0x00, 0x01, 'x'}}, // unrelated command message
	}

	w, final := newTestWriter(t)
	m := NewMuxer(&fakeSource{msgs: msgs}, w, nil)
	if err := m.Run(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, statErr := os.Stat(final); statErr != nil {
		t.Fatalf("expected output file to be committed, got %v", statErr)
	}
}
