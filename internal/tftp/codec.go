package tftp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// opcode values, RFC 1350 + RFC 2347.
const (
	opRRQ   uint16 = 1
	opDATA  uint16 = 3
	opACK   uint16 = 4
	opERROR uint16 = 5
	opOACK  uint16 = 6
)

// encodeRRQ builds an RRQ packet: opcode | filename\0 | "octet"\0 |
// [ "blksize"\0 N\0 "tsize"\0 "0"\0 ] | [ "multicast"\0\0 ].
func encodeRRQ(path string, blksize int, sizes, multicast bool) []byte {
	path = strings.TrimPrefix(path, "/")

	var buf bytes.Buffer
	writeUint16(&buf, opRRQ)
	buf.WriteString(path)
	buf.WriteByte(0)
	buf.WriteString("octet")
	buf.WriteByte(0)
	if sizes {
		buf.WriteString("blksize")
		buf.WriteByte(0)
		buf.WriteString(strconv.Itoa(blksize))
		buf.WriteByte(0)
		buf.WriteString("tsize")
		buf.WriteByte(0)
		buf.WriteString("0")
		buf.WriteByte(0)
	}
	if multicast {
		buf.WriteString("multicast")
		buf.WriteByte(0)
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// encodeACK builds an ACK packet for the given full block index, truncated
// to its low 16 bits as the wire format requires.
func encodeACK(block int) []byte {
	var buf bytes.Buffer
	writeUint16(&buf, opACK)
	writeUint16(&buf, uint16(block))
	return buf.Bytes()
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	buf.Write(tmp[:])
}

func packetOpcode(p []byte) (uint16, bool) {
	if len(p) < 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(p[:2]), true
}

// decodedData is a parsed DATA packet: the raw wire block number (low 16
// bits only; full reconstruction happens in the Request) and the payload.
type decodedData struct {
	block16 uint16
	payload []byte
}

func decodeDATA(p []byte) (decodedData, error) {
	if len(p) < 4 {
		return decodedData{}, fmt.Errorf("DATA packet too short (%d bytes)", len(p))
	}
	return decodedData{
		block16: binary.BigEndian.Uint16(p[2:4]),
		payload: p[4:],
	}, nil
}

type decodedError struct {
	code    uint16
	message string
}

func decodeERROR(p []byte) (decodedError, error) {
	if len(p) < 4 {
		return decodedError{}, fmt.Errorf("ERROR packet too short (%d bytes)", len(p))
	}
	code := binary.BigEndian.Uint16(p[2:4])
	msg, _, _ := splitNull(p[4:])
	return decodedError{code: code, message: msg}, nil
}

// decodeOACK parses the name/value pairs of an OACK packet. Parsing is
// tolerant of trailing garbage after the last complete pair (IBM Tivoli
// PXE Server 5.1.0.3 is known to emit stray bytes) and of a dangling
// name with no value, both of which simply end parsing without error.
func decodeOACK(p []byte) (map[string]string, error) {
	if len(p) < 2 {
		return nil, fmt.Errorf("OACK packet too short (%d bytes)", len(p))
	}
	opts := make(map[string]string)
	rest := p[2:]
	for len(rest) > 0 {
		name, after, ok := splitNull(rest)
		if !ok {
			break
		}
		value, after2, ok := splitNull(after)
		if !ok {
			break
		}
		opts[strings.ToLower(name)] = value
		rest = after2
	}
	return opts, nil
}

// splitNull extracts a NUL-terminated string from the front of b.
func splitNull(b []byte) (s string, rest []byte, ok bool) {
	i := bytes.IndexByte(b, 0)
	if i == -1 {
		return "", nil, false
	}
	return string(b[:i]), b[i+1:], true
}
