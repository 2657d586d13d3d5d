// Package nv implements the non-volatile storage adapter: CRC-framed block
// read/write against an arbitrary append-or-overwrite backend. Grounded on
// the `{block_id,length}`-checked block layout described by spec.md §4.2/§6
// and on the desktop sample program's nonvol.c (append-and-scan semantics).
package nv

import "github.com/angaza/nexus-keycode/bits"

// Sentinel distinguishes core-owned NV blocks from product-owned blocks
// sharing the same storage.
const Sentinel byte = 0xA5

// Block IDs owned by the keycode core.
const (
	BlockKeycodeMAS      uint16 = 1 // message-assembly state (grace counter)
	BlockKeycodeProtocol uint16 = 2 // replay window + factory QC counters
)

// BlockMeta identifies a stored block by ID and expected payload length.
type BlockMeta struct {
	ID     uint16
	Length uint8
}

// Backend is the durable storage collaborator. A backend may overwrite
// records in place or append them to a log; Store tolerates either by
// always taking the last record that matches a given block's sentinel,
// ID, and length.
type Backend interface {
	// WriteRecord durably persists record before returning.
	WriteRecord(record []byte) bool
	// ScanRecords returns every record previously written, oldest first.
	ScanRecords() [][]byte
}

// Store reads and writes NV blocks, computing/verifying the trailing
// CRC-CCITT on every operation.
type Store interface {
	Read(meta BlockMeta, buf []byte) bool
	Write(meta BlockMeta, buf []byte) bool
}

// CRCStore is the sole implementation of Store: it frames payloads as
// `sentinel | block_id_le | length | payload | crc_ccitt_le` and verifies
// that framing on read.
type CRCStore struct {
	backend Backend
}

// NewCRCStore wraps backend with CRC framing.
func NewCRCStore(backend Backend) *CRCStore {
	return &CRCStore{backend: backend}
}

func encodeRecord(meta BlockMeta, payload []byte) []byte {
	record := make([]byte, 0, 1+2+1+len(payload)+2)
	record = append(record, Sentinel)
	record = append(record, bits.PackUint16LE(meta.ID)...)
	record = append(record, meta.Length)
	record = append(record, payload...)

	crc := bits.CRCCCITT(record[1:])
	record = append(record, bits.PackUint16LE(crc)...)
	return record
}

// decodeRecord returns the payload of record if and only if it is a
// well-formed, CRC-valid block matching meta's ID and length.
func decodeRecord(meta BlockMeta, record []byte) ([]byte, bool) {
	const headerLen = 1 + 2 + 1
	const crcLen = 2

	if len(record) != headerLen+int(meta.Length)+crcLen {
		return nil, false
	}
	if record[0] != Sentinel {
		return nil, false
	}

	blockID := uint16(record[1]) | uint16(record[2])<<8
	if blockID != meta.ID {
		return nil, false
	}
	length := record[3]
	if length != meta.Length {
		return nil, false
	}

	payload := record[headerLen : headerLen+int(meta.Length)]
	wantCRC := uint16(record[headerLen+int(meta.Length)]) |
		uint16(record[headerLen+int(meta.Length)+1])<<8

	gotCRC := bits.CRCCCITT(record[1 : headerLen+int(meta.Length)])
	if gotCRC != wantCRC {
		return nil, false
	}

	return payload, true
}

// Write persists buf (which must have length meta.Length) as meta's block.
func (s *CRCStore) Write(meta BlockMeta, buf []byte) bool {
	if len(buf) != int(meta.Length) {
		panic("nv: buffer does not match declared block length")
	}
	return s.backend.WriteRecord(encodeRecord(meta, buf))
}

// Read scans every record for the last one that decodes successfully as
// meta's block, copying its payload into buf. Returns false (leaving buf
// untouched) if no valid record is found, which callers treat as "block
// absent" and fall back to defaults.
func (s *CRCStore) Read(meta BlockMeta, buf []byte) bool {
	if len(buf) != int(meta.Length) {
		panic("nv: buffer does not match declared block length")
	}

	records := s.backend.ScanRecords()
	found := false
	for _, record := range records {
		if payload, ok := decodeRecord(meta, record); ok {
			copy(buf, payload)
			found = true
		}
	}
	return found
}
