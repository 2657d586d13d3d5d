package bits

import "encoding/binary"

// PackUint32LE returns the 4-byte little-endian encoding of v. All MAC
// inputs are packed little-endian regardless of host architecture
// (nexus_util.c's structs are declared little-endian on the wire).
func PackUint32LE(v uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return buf
}

// PackUint16LE returns the 2-byte little-endian encoding of v.
func PackUint16LE(v uint16) []byte {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, v)
	return buf
}
