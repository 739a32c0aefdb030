package pdag

import (
	"context"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestMapShapeDetection(t *testing.T) {
	unkeyed := Map(func(v int) (string, bool) { return "", true })
	assert.Equal(t, ShapeUnkeyed, unkeyed.Shape)

	keyed := Map(func(v int) (KV, bool) { return KV{Key: v}, true })
	assert.Equal(t, ShapeKeyed, keyed.Shape)

	keyedFlat := FlatMap(func(v int) []KV { return nil })
	assert.Equal(t, ShapeKeyed, keyedFlat.Shape)

	// An interface output type reveals nothing about keyedness.
	opaque := Map(func(v int) (any, bool) { return v, true })
	assert.Equal(t, ShapeOpaque, opaque.Shape)

	opaqueFlat := FlatMap(func(v int) []any { return nil })
	assert.Equal(t, ShapeOpaque, opaqueFlat.Shape)
}

func TestMapErasure(t *testing.T) {
	op := Map(func(v int) (int, bool) { return v * 3, v > 0 })

	out, keep := op.Fn(2)
	assert.True(t, keep)
	assert.Equal(t, 6, out.(int))

	_, keep = op.Fn(-1)
	assert.False(t, keep)
}

func TestFlatMapErasure(t *testing.T) {
	op := FlatMap(func(s string) []string { return []string{s, s} })

	out := op.Fn("x")
	assert.Equal(t, []any{"x", "x"}, out)
}

func TestKeyFlatMapErasure(t *testing.T) {
	op := KeyFlatMap(func(k int) []int { return []int{k, k + 1} })

	out := op.Fn(5)
	assert.Equal(t, []any{5, 6}, out)
}

func TestOpKinds(t *testing.T) {
	tests := []struct {
		op   Op
		kind OpKind
		str  string
	}{
		{Source(NewSliceProducer()), OpSource, "Source"},
		{Map(func(int) (int, bool) { return 0, true }), OpMap, "Map"},
		{FlatMap(func(int) []int { return nil }), OpFlatMap, "FlatMap"},
		{KeyFlatMap(func(int) []int { return nil }), OpKeyFlatMap, "KeyFlatMap"},
		{&MergeOp{}, OpMerge, "Merge"},
		{Join(nil), OpJoin, "Join"},
		{Write(nil), OpWrite, "Write"},
		{Name("n"), OpName, "Name"},
		{Identity(), OpIdentity, "Identity"},
		{&SumOp{}, OpSum, "Sum"},
	}

	for _, tt := range tests {
		t.Run(tt.str, func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.op.Kind())
			assert.Equal(t, tt.str, tt.op.Kind().String())
		})
	}
}

func TestSliceProducer(t *testing.T) {
	recs := []Record{{Data: 1}, {Data: 2}}
	p := NewSliceProducer(recs...)

	got, err := p.Poll(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 2, len(got))

	_, err = p.Poll(context.Background())
	assert.IsError(t, err, ErrExhausted)

	assert.NoError(t, p.Close())
}
