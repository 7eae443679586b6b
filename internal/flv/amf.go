// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package flv

import (
	"bytes"
	"strings"
)

// The muxer never interprets AMF beyond the fixed byte signatures needed
// to recognize specific status strings — there is no general AMF0
// decoder here. These helpers build those signatures from plain Go
// strings instead of hand written hex, so they can't drift from the AMF0
// string encoding they imitate: a 0x02 marker (object property values) or
// a bare 2-byte length (object property names), each followed by the
// UTF-8 bytes.

func amfString(s string) []byte {
	b := []byte{0x02, byte(len(s) >> 8), byte(len(s))}
	return append(b, []byte(s)...)
}

func amfProp(name string) []byte {
	b := []byte{byte(len(name) >> 8), byte(len(name))}
	return append(b, []byte(name)...)
}

// hasStatusCode reports whether payload begins with the AMF string
// signature and contains a "code" property whose value equals code. This
// is used for both onStatus and onPlayStatus messages, which share the
// same code/description object shape.
func hasStatusCode(payload []byte, signature, code string) bool {
	if !bytes.HasPrefix(payload, amfString(signature)) {
		return false
	}
	needle := append(amfProp("code"), amfString(code)...)
	return bytes.Contains(payload, needle)
}

func isOnMetaData(payload []byte) bool {
	return bytes.HasPrefix(payload, amfString("onMetaData"))
}

// matchPlayStart recognizes the onStatus/NetStream.Play.Start message
// that starts the session: beyond that status code, it requires a
// "description" property whose string value reads "Started playing
// <NAME>", optionally followed by a trailing period. NAME is returned for
// logging.
func matchPlayStart(payload []byte) (name string, ok bool) {
	if !hasStatusCode(payload, "onStatus", "NetStream.Play.Start") {
		return "", false
	}

	descProp := amfProp("description")
	idx := bytes.Index(payload, descProp)
	if idx < 0 {
		return "", false
	}
	pos := idx + len(descProp)
	if pos+3 > len(payload) || payload[pos] != 0x02 {
		return "", false
	}
	length := int(payload[pos+1])<<8 | int(payload[pos+2])
	pos += 3
	if pos+length > len(payload) {
		return "", false
	}
	desc := string(payload[pos : pos+length])

	const prefix = "Started playing "
	if !strings.HasPrefix(desc, prefix) {
		return "", false
	}
	name = strings.TrimSuffix(strings.TrimPrefix(desc, prefix), ".")
	return name, true
}
