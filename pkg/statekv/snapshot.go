package statekv

import (
	"encoding/binary"
	"fmt"
)

// snapshotVersion1 is the only documented snapshot format version.
// Layout: 1 version byte, then a sequence of
// (uint32 keylen, key, uint32 vallen, val) records until EOF.
const snapshotVersion1 = byte(1)

// Encode serializes data into the versioned snapshot format. Key order
// is not guaranteed to round-trip (spec §4.2: "byte-for-byte reversible
// modulo key ordering"); Decode always returns a fresh map so ordering
// never matters to callers.
func Encode(data map[string][]byte) []byte {
	size := 1
	for k, v := range data {
		size += 4 + len(k) + 4 + len(v)
	}

	buf := make([]byte, 0, size)
	buf = append(buf, snapshotVersion1)
	for k, v := range data {
		buf = appendRecord(buf, []byte(k), v)
	}
	return buf
}

func appendRecord(buf []byte, key, val []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(key)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, key...)
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(val)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, val...)
	return buf
}

// Decode parses the versioned snapshot format produced by Encode,
// rejecting unknown versions and truncated records as invalid input
// (spec §4.2, §7: "InvalidUpdate"-style classification for malformed
// snapshots).
func Decode(raw []byte) (map[string][]byte, error) {
	if len(raw) == 0 {
		return make(map[string][]byte), nil
	}
	version, rest := raw[0], raw[1:]
	if version != snapshotVersion1 {
		return nil, fmt.Errorf("statekv: unsupported snapshot version %d", version)
	}

	data := make(map[string][]byte)
	for len(rest) > 0 {
		key, remainder, err := readRecord(rest)
		if err != nil {
			return nil, err
		}
		val, remainder2, err := readRecord(remainder)
		if err != nil {
			return nil, err
		}
		data[string(key)] = val
		rest = remainder2
	}
	return data, nil
}

func readRecord(buf []byte) (value, rest []byte, err error) {
	if len(buf) < 4 {
		return nil, nil, fmt.Errorf("statekv: truncated snapshot length prefix")
	}
	n := binary.BigEndian.Uint32(buf[:4])
	buf = buf[4:]
	if uint64(len(buf)) < uint64(n) {
		return nil, nil, fmt.Errorf("statekv: truncated snapshot record")
	}
	value = make([]byte, n)
	copy(value, buf[:n])
	return value, buf[n:], nil
}
