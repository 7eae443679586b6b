// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package captureio turns an offline packet capture file into the ordered
// stream of capture.Segment records the packet ingest adapter consumes.
// It decodes Ethernet/IPv4/IPv6/TCP layers with gopacket and leaves all
// admission decisions — mixed flows, unsupported flags, fragmentation — to
// capture.Adapter.
package captureio

import (
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/nishisan-dev/flvcap/internal/capture"
)

// Reader decodes one pcap (or pcapng) file into capture.Segment records,
// in on-disk order, with no buffering beyond the current packet.
type Reader struct {
	f      *os.File
	source *gopacket.PacketSource
}

// Open opens path as either classic pcap or pcapng, detected from the file
// header, and prepares it for sequential decoding.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening capture file: %w", err)
	}

	if pr, err := pcapgo.NewReader(f); err == nil {
		return &Reader{f: f, source: gopacket.NewPacketSource(pr, pr.LinkType())}, nil
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("rewinding capture file: %w", err)
	}
	ngr, err := pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("capture file is neither pcap nor pcapng: %w", err)
	}
	return &Reader{f: f, source: gopacket.NewPacketSource(ngr, ngr.LinkType())}, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	return r.f.Close()
}

// Next decodes the next packet and normalizes it to a capture.Segment. It
// returns io.EOF once the capture is exhausted. Packets with no TCP layer
// are skipped without being handed to the caller, since the core only
// speaks TCP; everything else — fragmentation, control flags, payload — is
// surfaced verbatim for capture.Adapter to judge.
func (r *Reader) Next() (capture.Segment, error) {
	for {
		pkt, err := r.source.NextPacket()
		if err != nil {
			if err == io.EOF {
				return capture.Segment{}, io.EOF
			}
			return capture.Segment{}, fmt.Errorf("decoding packet: %w", err)
		}

		tcpLayer := pkt.Layer(layers.LayerTypeTCP)
		if tcpLayer == nil {
			continue
		}
		tcp, ok := tcpLayer.(*layers.TCP)
		if !ok {
			continue
		}

		seg, ok := segmentFromLayers(pkt, tcp)
		if !ok {
			continue
		}
		return seg, nil
	}
}

func segmentFromLayers(pkt gopacket.Packet, tcp *layers.TCP) (capture.Segment, bool) {
	var srcIP, dstIP string
	fragment := false

	if ip4Layer := pkt.Layer(layers.LayerTypeIPv4); ip4Layer != nil {
		ip4 := ip4Layer.(*layers.IPv4)
		srcIP, dstIP = ip4.SrcIP.String(), ip4.DstIP.String()
		fragment = ip4.FragOffset != 0 || ip4.Flags&layers.IPv4MoreFragments != 0
	} else if ip6Layer := pkt.Layer(layers.LayerTypeIPv6); ip6Layer != nil {
		ip6 := ip6Layer.(*layers.IPv6)
		srcIP, dstIP = ip6.SrcIP.String(), ip6.DstIP.String()
		if fragLayer := pkt.Layer(layers.LayerTypeIPv6Fragment); fragLayer != nil {
			fragment = true
		}
	} else {
		return capture.Segment{}, false
	}

	return capture.Segment{
		Flow: capture.FourTuple{
			SrcIP:   srcIP,
			DstIP:   dstIP,
			SrcPort: uint16(tcp.SrcPort),
			DstPort: uint16(tcp.DstPort),
		},
		RawSeq:   tcp.Seq,
		SYN:      tcp.SYN,
		ACK:      tcp.ACK,
		URG:      tcp.URG,
		RST:      tcp.RST,
		Fragment: fragment,
		Payload:  tcp.Payload,
	}, true
}
