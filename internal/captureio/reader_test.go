// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package captureio

import (
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

func writeTestPcap(t *testing.T, payload []byte, syn bool) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "capture.pcap")

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating pcap file: %v", err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		t.Fatalf("writing pcap header: %v", err)
	}

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x66},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip4 := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.ParseIP("10.0.0.1").To4(),
		DstIP:    net.ParseIP("10.0.0.2").To4(),
	}
	tcp := &layers.TCP{
		SrcPort: 1935,
		DstPort: 51234,
		Seq:     1000,
		ACK:     true,
		SYN:     syn,
	}
	tcp.SetNetworkLayerForChecksum(ip4)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip4, tcp, gopacket.Payload(payload)); err != nil {
		t.Fatalf("serializing packet: %v", err)
	}

	err = w.WritePacket(gopacket.CaptureInfo{
		Timestamp:     time.Unix(0, 0),
		CaptureLength: len(buf.Bytes()),
		Length:        len(buf.Bytes()),
	}, buf.Bytes())
	if err != nil {
		t.Fatalf("writing packet: %v", err)
	}

	return path
}

func TestReader_DecodesOneTCPSegment(t *testing.T) {
	path := writeTestPcap(t, []byte{0xAA, 0xBB, 0xCC}, true)

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	seg, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if seg.Flow.SrcIP != "10.0.0.1" || seg.Flow.DstIP != "10.0.0.2" {
		t.Fatalf("unexpected flow %+v", seg.Flow)
	}
	if seg.Flow.SrcPort != 1935 || seg.Flow.DstPort != 51234 {
		t.Fatalf("unexpected ports %+v", seg.Flow)
	}
	if seg.RawSeq != 1000 || !seg.SYN || !seg.ACK {
		t.Fatalf("unexpected segment flags %+v", seg)
	}
	if string(seg.Payload) != "\xAA\xBB\xCC" {
		t.Fatalf("unexpected payload %v", seg.Payload)
	}

	_, err = r.Next()
	if err != io.EOF {
		t.Fatalf("expected EOF after one packet, got %v", err)
	}
}
