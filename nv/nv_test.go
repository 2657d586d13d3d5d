package nv

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRCStoreRoundTrip(t *testing.T) {
	backend := NewMemoryBackend()
	store := NewCRCStore(backend)
	meta := BlockMeta{ID: BlockKeycodeMAS, Length: 4}

	write := []byte{1, 2, 3, 4}
	assert.True(t, store.Write(meta, write))

	read := make([]byte, 4)
	assert.True(t, store.Read(meta, read))
	assert.Equal(t, write, read)
}

func TestCRCStoreLastWriteWinsOnAppendLog(t *testing.T) {
	backend := NewMemoryBackend()
	store := NewCRCStore(backend)
	meta := BlockMeta{ID: BlockKeycodeMAS, Length: 1}

	store.Write(meta, []byte{1})
	store.Write(meta, []byte{2})
	store.Write(meta, []byte{3})

	read := make([]byte, 1)
	assert.True(t, store.Read(meta, read))
	assert.Equal(t, byte(3), read[0])
}

func TestCRCStoreReadAbsentBlockReturnsFalse(t *testing.T) {
	backend := NewMemoryBackend()
	store := NewCRCStore(backend)
	meta := BlockMeta{ID: BlockKeycodeProtocol, Length: 2}

	read := []byte{0xAA, 0xAA}
	assert.False(t, store.Read(meta, read))
	assert.Equal(t, []byte{0xAA, 0xAA}, read) // untouched
}

func TestCRCStoreDetectsCorruption(t *testing.T) {
	backend := NewMemoryBackend()
	store := NewCRCStore(backend)
	meta := BlockMeta{ID: BlockKeycodeMAS, Length: 1}

	store.Write(meta, []byte{5})
	corrupted := append([]byte(nil), backend.records[0]...)
	corrupted[4] ^= 0xFF // flip a payload bit without fixing the CRC
	backend.records[0] = corrupted

	read := []byte{0}
	assert.False(t, store.Read(meta, read))
}

func TestCRCStoreIgnoresOtherBlockIDs(t *testing.T) {
	backend := NewMemoryBackend()
	store := NewCRCStore(backend)

	store.Write(BlockMeta{ID: BlockKeycodeMAS, Length: 1}, []byte{9})

	read := []byte{0}
	assert.False(t, store.Read(BlockMeta{ID: BlockKeycodeProtocol, Length: 1}, read))
}

func TestMemoryBackendSurvivesSimulatedReboot(t *testing.T) {
	backend := NewMemoryBackend()
	store := NewCRCStore(backend)
	meta := BlockMeta{ID: BlockKeycodeProtocol, Length: 3}

	store.Write(meta, []byte{1, 2, 3})

	rebooted := NewMemoryBackend()
	rebooted.Restore(backend.Snapshot())
	store2 := NewCRCStore(rebooted)

	read := make([]byte, 3)
	assert.True(t, store2.Read(meta, read))
	assert.Equal(t, []byte{1, 2, 3}, read)
}
