package assembly

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/angaza/nexus-keycode/nv"
)

func testConfig(t *testing.T, received *[][]byte) (*Assembler, *uint32) {
	t.Helper()
	now := new(uint32)
	backend := nv.NewMemoryBackend()
	cfg := Config{
		Start:      '*',
		End:        '#',
		StopLength: NoStopLength,
		RateLimit: RateLimitConfig{
			BucketMax:           3,
			InitialCount:        3,
			RefillSecondsPerTry: 10,
		},
		Store: nv.NewCRCStore(backend),
		Handler: func(keys []byte) {
			*received = append(*received, append([]byte(nil), keys...))
		},
		Uptime: func() uint32 { return *now },
	}
	return New(cfg), now
}

func TestHandleSingleKeyAssemblesBookendedMessage(t *testing.T) {
	var received [][]byte
	a, _ := testConfig(t, &received)

	for _, k := range []byte("*123#") {
		a.HandleSingleKey(k)
	}

	assert.Equal(t, [][]byte{[]byte("123")}, received)
}

func TestHandleSingleKeyIgnoresDigitsBeforeStart(t *testing.T) {
	var received [][]byte
	a, _ := testConfig(t, &received)

	a.HandleSingleKey('5')
	a.HandleSingleKey('*')
	a.HandleSingleKey('7')
	a.HandleSingleKey('#')

	assert.Equal(t, [][]byte{[]byte("7")}, received)
}

func TestStopLengthFinishesWithoutEndKey(t *testing.T) {
	var received [][]byte
	a, _ := testConfig(t, &received)
	a.stopLength = 3

	for _, k := range []byte("*1234567") {
		a.HandleSingleKey(k)
	}

	require := assert.New(t)
	require.Len(received, 1)
	require.Equal([]byte("123"), received[0])
}

func TestRateLimitBlocksAfterBucketExhausted(t *testing.T) {
	var received [][]byte
	a, _ := testConfig(t, &received)

	for i := 0; i < 3; i++ {
		for _, k := range []byte("*1#") {
			a.HandleSingleKey(k)
		}
	}
	assert.True(t, a.IsRateLimited())

	before := len(received)
	for _, k := range []byte("*1#") {
		a.HandleSingleKey(k)
	}
	assert.Equal(t, before, len(received), "rate-limited entry should not assemble")
}

func TestProcessRefillsBucketOverTime(t *testing.T) {
	var received [][]byte
	a, now := testConfig(t, &received)

	for i := 0; i < 3; i++ {
		for _, k := range []byte("*1#") {
			a.HandleSingleKey(k)
		}
	}
	assert.True(t, a.IsRateLimited())

	*now += 10
	a.Process(10, 60, 60)
	assert.False(t, a.IsRateLimited())
}

func TestProcessTimesOutPartialEntry(t *testing.T) {
	var received [][]byte
	a, now := testConfig(t, &received)

	a.HandleSingleKey('*')
	a.HandleSingleKey('1')

	*now += 100
	a.Process(100, 30, 60)

	a.HandleSingleKey('2')
	a.HandleSingleKey('#')

	// timeout reset the bookend, so '2' was treated as a rejected key,
	// not a continuation of the earlier partial entry.
	assert.Empty(t, received)
}

func TestGraceKeycodesPersistAcrossRestart(t *testing.T) {
	backend := nv.NewMemoryBackend()
	store := nv.NewCRCStore(backend)

	var received [][]byte
	cfg := Config{
		Start:      '*',
		End:        '#',
		StopLength: NoStopLength,
		RateLimit: RateLimitConfig{
			BucketMax:           3,
			InitialCount:        3,
			RefillSecondsPerTry: 10,
		},
		Store:   store,
		Handler: func(keys []byte) { received = append(received, keys) },
		Uptime:  func() uint32 { return 0 },
	}
	a := New(cfg)
	for i := 0; i < 2; i++ {
		for _, k := range []byte("*1#") {
			a.HandleSingleKey(k)
		}
	}
	a.Process(0, 60, 60)

	restarted := New(cfg)
	assert.LessOrEqual(t, restarted.AttemptsRemaining(), uint32(1))
}

func TestHandleCompleteKeycodeSmallProtocolIncludesLastChar(t *testing.T) {
	var received [][]byte
	a, _ := testConfig(t, &received)
	a.end = 0 // small protocol has no end key

	a.HandleCompleteKeycode([]byte("*1234"), true)
	assert.Equal(t, [][]byte{[]byte("1234")}, received)
}

func TestHandleCompleteKeycodeFullProtocolOmitsLastChar(t *testing.T) {
	var received [][]byte
	a, _ := testConfig(t, &received)

	a.HandleCompleteKeycode([]byte("*1234#"), false)
	assert.Equal(t, [][]byte{[]byte("1234")}, received)
}

func TestHandleCompleteKeycodeRejectsWrongStartKey(t *testing.T) {
	var received [][]byte
	a, _ := testConfig(t, &received)

	a.HandleCompleteKeycode([]byte("91234#"), false)
	assert.Empty(t, received)
}
