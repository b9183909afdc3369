package delta

import (
	"bytes"
	"math"
	"math/rand"
	"testing"

	"tigsync/internal/errors"
	"tigsync/shared/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeApply_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	randomBytes := func(n int) []byte {
		b := make([]byte, n)
		rng.Read(b)
		return b
	}

	base := randomBytes(4096)
	edited := append(append(append([]byte{}, base[:1000]...), []byte("inserted in the middle")...), base[1200:]...)

	tests := []struct {
		name   string
		base   []byte
		target []byte
		window int
	}{
		{name: "identical", base: base, target: base, window: 8},
		{name: "edited middle", base: base, target: edited, window: 16},
		{name: "unrelated", base: base, target: randomBytes(3000), window: 8},
		{name: "empty base", base: nil, target: []byte("fresh content"), window: 8},
		{name: "empty target", base: base, target: nil, window: 8},
		{name: "both empty", base: nil, target: nil, window: 8},
		{name: "target shorter than window", base: base, target: []byte("tiny"), window: 32},
		{name: "repetitive", base: bytes.Repeat([]byte("abc"), 300), target: bytes.Repeat([]byte("abcd"), 200), window: 9},
		{name: "large window", base: base, target: edited, window: 512},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			patch := Make(tt.base, tt.target, tt.window)
			got, err := Apply(tt.base, patch)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(tt.target, got), "reconstructed buffer differs")
		})
	}
}

func TestMake_RandomizedRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		base := make([]byte, rng.Intn(600))
		rng.Read(base)
		target := append([]byte{}, base...)
		// a handful of random byte edits keeps most windows matching
		for j := 0; j < rng.Intn(5) && len(target) > 0; j++ {
			target[rng.Intn(len(target))] ^= 0xff
		}
		target = append(target, byte(rng.Intn(256)))
		window := MinWindow + rng.Intn(24)

		got, err := Apply(base, Make(base, target, window))
		require.NoError(t, err)
		require.Equal(t, target, got)
	}
}

func TestMake_ModifiedSuffix(t *testing.T) {
	base := []byte("AAAAAAAAAAAAAAAA")
	target := append(append([]byte{}, base...), []byte(" MODIFIED")...)

	patch := Make(base, target, 8)

	require.NotEmpty(t, patch.Ops)
	assert.Equal(t, OpCopy, patch.Ops[0].Kind)
	assert.Equal(t, 0, patch.Ops[0].Offset)
	assert.Equal(t, len(base), patch.Ops[0].Len)

	var inserts []Op
	for _, op := range patch.Ops {
		if op.Kind == OpInsert {
			inserts = append(inserts, op)
		}
	}
	require.Len(t, inserts, 1)
	assert.Equal(t, []byte(" MODIFIED"), inserts[0].Data)
	assert.Equal(t, OpInsert, patch.Ops[len(patch.Ops)-1].Kind)
}

func TestMake_ShortTargetIsPureInsert(t *testing.T) {
	patch := Make([]byte("0123456789abcdef"), []byte("0123"), 8)

	require.Len(t, patch.Ops, 1)
	assert.Equal(t, OpInsert, patch.Ops[0].Kind)
	assert.Equal(t, []byte("0123"), patch.Ops[0].Data)
}

func TestMake_WindowClamped(t *testing.T) {
	patch := Make([]byte("abcdefghijkl"), []byte("abcdefghijkl"), 2)
	assert.Equal(t, MinWindow, patch.WindowSize)
}

func TestMake_CoalescesInserts(t *testing.T) {
	patch := Make([]byte("completely different base text"), []byte("zzzzzzzzzzzzzzzzzzzzzzzz"), 8)

	require.Len(t, patch.Ops, 1)
	assert.Equal(t, OpInsert, patch.Ops[0].Kind)
	assert.Len(t, patch.Ops[0].Data, 24)
}

func TestMake_FirstIndexedOccurrence(t *testing.T) {
	// "12345678" occurs at offsets 0 and 12; the longer run starts at 12 but
	// the first occurrence wins.
	base := []byte("12345678xxxx12345678abcdef")
	target := []byte("12345678abcdef")

	patch := Make(base, target, 8)

	require.NotEmpty(t, patch.Ops)
	assert.Equal(t, Copy(0, 8), patch.Ops[0])

	got, err := Apply(base, patch)
	require.NoError(t, err)
	assert.Equal(t, target, got)
}

func TestApply_WrongBase(t *testing.T) {
	base := []byte("the original base buffer content")
	patch := Make(base, []byte("the original base buffer content, extended"), 8)

	_, err := Apply([]byte("some other base buffer content!!"), patch)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeIntegrity))
}

func TestApply_TamperedOps(t *testing.T) {
	base := []byte("the original base buffer content")
	target := []byte("the original base buffer content, extended")

	tests := []struct {
		name   string
		tamper func(p *Patch)
	}{
		{name: "insert data changed", tamper: func(p *Patch) {
			last := &p.Ops[len(p.Ops)-1]
			last.Data = append([]byte{}, last.Data...)
			last.Data[0] ^= 0x01
		}},
		{name: "copy shortened", tamper: func(p *Patch) { p.Ops[0].Len-- }},
		{name: "copy out of range", tamper: func(p *Patch) { p.Ops[0].Len = len(base) + 10 }},
		{name: "copy length huge", tamper: func(p *Patch) { p.Ops[0].Len = 1 << 62 }},
		{name: "copy offset overflows", tamper: func(p *Patch) { p.Ops[0].Offset, p.Ops[0].Len = 1, math.MaxInt }},
		{name: "copy offset negative", tamper: func(p *Patch) { p.Ops[0].Offset = -1 }},
		{name: "unknown kind", tamper: func(p *Patch) { p.Ops[0].Kind = "move" }},
		{name: "op dropped", tamper: func(p *Patch) { p.Ops = p.Ops[1:] }},
		{name: "new hash changed", tamper: func(p *Patch) { p.NewHash = utils.HashContent([]byte("x")) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			patch := Make(base, target, 8)
			require.Equal(t, OpCopy, patch.Ops[0].Kind)
			tt.tamper(patch)

			_, err := Apply(base, patch)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeIntegrity))
		})
	}
}

func TestPatchStats(t *testing.T) {
	base := []byte("AAAAAAAAAAAAAAAA")
	patch := Make(base, append(append([]byte{}, base...), []byte("tail")...), 8)

	s := patch.Stats()
	assert.Equal(t, 1, s.CopyOps)
	assert.Equal(t, 16, s.CopiedBytes)
	assert.Equal(t, 1, s.InsertOps)
	assert.Equal(t, 4, s.InsertBytes)
}
