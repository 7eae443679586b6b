// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package diag holds optional debugging collaborators: a tcpdump-style
// hex/ASCII dump of the reassembled byte stream, and a gzip sidecar of
// that same stream for offline replay when a reconstruction needs to be
// re-run without the original capture file.
package diag

import (
	"fmt"
	"io"

	"github.com/klauspost/pgzip"
)

const bytesPerLine = 16

// HexDump writes data to w in the classic tcpdump -X layout: an absolute
// offset column, the hex bytes in two 8-byte groups, and the printable
// ASCII rendering.
func HexDump(w io.Writer, data []byte) error {
	for off := 0; off < len(data); off += bytesPerLine {
		end := off + bytesPerLine
		if end > len(data) {
			end = len(data)
		}
		line := data[off:end]

		if _, err := fmt.Fprintf(w, "%08x  ", off); err != nil {
			return err
		}
		for i := 0; i < bytesPerLine; i++ {
			if i == 8 {
				if _, err := fmt.Fprint(w, " "); err != nil {
					return err
				}
			}
			if i < len(line) {
				if _, err := fmt.Fprintf(w, "%02x ", line[i]); err != nil {
					return err
				}
			} else {
				if _, err := fmt.Fprint(w, "   "); err != nil {
					return err
				}
			}
		}
		if _, err := fmt.Fprint(w, " |"); err != nil {
			return err
		}
		for _, b := range line {
			if b >= 0x20 && b < 0x7f {
				if _, err := fmt.Fprintf(w, "%c", b); err != nil {
					return err
				}
			} else if _, err := fmt.Fprint(w, "."); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w, "|"); err != nil {
			return err
		}
	}
	return nil
}

// WriteGzipSidecar writes data to w as a gzip stream, using pgzip so large
// reassembled streams compress across multiple cores instead of stalling
// on a single-threaded compressor. This is an optional debug artifact
// alongside the reconstructed FLV, not part of the reconstruction itself.
func WriteGzipSidecar(w io.Writer, data []byte) error {
	gzw, err := pgzip.NewWriterLevel(w, pgzip.BestSpeed)
	if err != nil {
		return fmt.Errorf("creating gzip sidecar writer: %w", err)
	}
	if _, err := gzw.Write(data); err != nil {
		gzw.Close()
		return fmt.Errorf("writing gzip sidecar: %w", err)
	}
	return gzw.Close()
}
