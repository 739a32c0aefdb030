package petrel

import (
	"context"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/petrel-stream/petrel/pdag"
	"github.com/petrel-stream/petrel/store"
)

func runOp(t *testing.T, op Operation, recs ...Record) []Record {
	t.Helper()
	var out []Record
	for _, rec := range recs {
		err := op(context.Background(), rec, func(r Record) error {
			out = append(out, r)
			return nil
		})
		assert.NoError(t, err)
	}
	return out
}

func payloads(recs []Record) []any {
	out := make([]any, len(recs))
	for i, r := range recs {
		out[i] = r.Data
	}
	return out
}

func TestFuseSingleOps(t *testing.T) {
	now := time.Now()

	t.Run("map keeps and transforms", func(t *testing.T) {
		op, err := fuseOps("n", []pdag.Op{
			pdag.Map(func(v int) (int, bool) { return v * 2, true }),
		}, NewInflight(1))
		assert.NoError(t, err)

		out := runOp(t, op, Record{Time: now, Data: 3})
		assert.Equal(t, []any{6}, payloads(out))
		assert.Equal(t, now, out[0].Time)
	})

	t.Run("map drops", func(t *testing.T) {
		op, err := fuseOps("n", []pdag.Op{
			pdag.Map(func(v int) (int, bool) { return 0, v%2 == 0 }),
		}, NewInflight(1))
		assert.NoError(t, err)

		out := runOp(t, op, Record{Data: 1}, Record{Data: 2}, Record{Data: 3})
		assert.Equal(t, 1, len(out))
	})

	t.Run("flatmap flattens", func(t *testing.T) {
		op, err := fuseOps("n", []pdag.Op{
			pdag.FlatMap(func(v int) []int { return []int{v, v} }),
		}, NewInflight(1))
		assert.NoError(t, err)

		out := runOp(t, op, Record{Data: 7})
		assert.Equal(t, []any{7, 7}, payloads(out))
	})

	t.Run("flatmap can emit nothing", func(t *testing.T) {
		op, err := fuseOps("n", []pdag.Op{
			pdag.FlatMap(func(v int) []int { return nil }),
		}, NewInflight(1))
		assert.NoError(t, err)

		out := runOp(t, op, Record{Data: 7})
		assert.Equal(t, 0, len(out))
	})

	t.Run("keyflatmap re-pairs values", func(t *testing.T) {
		op, err := fuseOps("n", []pdag.Op{
			pdag.KeyFlatMap(func(k string) []string { return []string{k + "a", k + "b"} }),
		}, NewInflight(1))
		assert.NoError(t, err)

		out := runOp(t, op, Record{Data: KV{Key: "x", Value: 9}})
		assert.Equal(t, []any{KV{Key: "xa", Value: 9}, KV{Key: "xb", Value: 9}}, payloads(out))
	})

	t.Run("keyflatmap rejects unkeyed payload", func(t *testing.T) {
		op, err := fuseOps("n", []pdag.Op{
			pdag.KeyFlatMap(func(k string) []string { return []string{k} }),
		}, NewInflight(1))
		assert.NoError(t, err)

		err = op(context.Background(), Record{Data: 42}, func(Record) error { return nil })
		assert.IsError(t, err, ErrPayloadNotKeyed)
	})

	t.Run("wrappers and merge are no-ops", func(t *testing.T) {
		op, err := fuseOps("n", []pdag.Op{
			pdag.Name("renamed"),
			pdag.Identity(),
			&pdag.MergeOp{},
		}, NewInflight(1))
		assert.NoError(t, err)

		out := runOp(t, op, Record{Data: "v"})
		assert.Equal(t, []any{"v"}, payloads(out))
	})
}

func TestFuseJoin(t *testing.T) {
	svc := store.NewMemoryService(map[any]any{"k1": "joined"})

	op, err := fuseOps("n", []pdag.Op{
		pdag.Join(svc),
	}, NewInflight(4))
	assert.NoError(t, err)

	t.Run("present key", func(t *testing.T) {
		out := runOp(t, op, Record{Data: KV{Key: "k1", Value: 10}})
		assert.Equal(t, 1, len(out))
		kv := out[0].Data.(KV)
		assert.Equal(t, "k1", kv.Key.(string))
		assert.Equal(t, store.Joined{Value: 10, Result: "joined", Found: true}, kv.Value.(store.Joined))
	})

	t.Run("absent key", func(t *testing.T) {
		out := runOp(t, op, Record{Data: KV{Key: "nope", Value: 10}})
		kv := out[0].Data.(KV)
		joined := kv.Value.(store.Joined)
		assert.False(t, joined.Found)
	})

	t.Run("unkeyed payload is a record error", func(t *testing.T) {
		err := op(context.Background(), Record{Data: 1}, func(Record) error { return nil })
		assert.IsError(t, err, ErrPayloadNotKeyed)
	})
}

func TestFuseWrite(t *testing.T) {
	sink := store.NewSpySink()
	fl := NewInflight(4)

	op, err := fuseOps("n", []pdag.Op{
		pdag.Write(sink),
	}, fl)
	assert.NoError(t, err)

	out := runOp(t, op, Record{Data: "payload"})

	// Forward value is unaffected by the sink call.
	assert.Equal(t, []any{"payload"}, payloads(out))

	// The write is awaited at flush.
	assert.NoError(t, fl.Flush(context.Background()))
	assert.Equal(t, []any{"payload"}, sink.Values())
}

func TestFuseChainEqualsSequentialApplication(t *testing.T) {
	double := pdag.FlatMap(func(v int) []int { return []int{v, v} })
	incr := pdag.Map(func(v int) (int, bool) { return v + 1, true })
	even := pdag.Map(func(v int) (int, bool) { return v, v%2 == 0 })

	// Ops are listed output end first: input passes through even, then
	// incr, then double.
	ops := []pdag.Op{double, incr, even}

	fused, err := fuseOps("n", ops, NewInflight(1))
	assert.NoError(t, err)

	input := []Record{{Data: 1}, {Data: 2}, {Data: 3}, {Data: 4}}

	got := runOp(t, fused, input...)

	// Apply each operator individually, flattening between steps.
	var want []any
	for _, rec := range input {
		v := rec.Data.(int)
		if v%2 != 0 {
			continue
		}
		v++
		want = append(want, v, v)
	}
	assert.Equal(t, want, payloads(got))
}

func TestFuseDeterminism(t *testing.T) {
	ops := []pdag.Op{
		pdag.Map(func(v int) (int, bool) { return v + 1, true }),
		pdag.FlatMap(func(v int) []int { return []int{v, v * 10} }),
	}

	a, err := fuseOps("n", ops, NewInflight(1))
	assert.NoError(t, err)
	b, err := fuseOps("n", ops, NewInflight(1))
	assert.NoError(t, err)

	in := Record{Data: 5}
	assert.Equal(t, payloads(runOp(t, a, in)), payloads(runOp(t, b, in)))
}

func TestFusePlanningErrors(t *testing.T) {
	t.Run("source marker in chain", func(t *testing.T) {
		_, err := fuseOps("n", []pdag.Op{
			pdag.Map(func(v int) (int, bool) { return v, true }),
			pdag.Source(pdag.NewSliceProducer()),
		}, NewInflight(1))
		assert.IsError(t, err, ErrIllegalOperator)
	})

	t.Run("sum marker in chain", func(t *testing.T) {
		_, err := fuseOps("n", []pdag.Op{
			&pdag.SumOp{},
		}, NewInflight(1))
		assert.IsError(t, err, ErrIllegalOperator)
	})

	t.Run("join on unkeyed chain", func(t *testing.T) {
		_, err := fuseOps("n", []pdag.Op{
			pdag.Join(store.FuncService(nil)),
			pdag.Map(func(v int) (int, bool) { return v, true }),
		}, NewInflight(1))
		assert.IsError(t, err, ErrChainNotKeyed)
	})

	t.Run("join on opaque map defers to run time", func(t *testing.T) {
		// An interface output type leaves the chain's shape unknown, so
		// the join cannot be rejected while planning.
		_, err := fuseOps("n", []pdag.Op{
			pdag.Join(store.NewMemoryService(nil)),
			pdag.Map(func(v int) (any, bool) { return KV{Key: v, Value: v}, true }),
		}, NewInflight(1))
		assert.NoError(t, err)
	})

	t.Run("join on keyed map is fine", func(t *testing.T) {
		_, err := fuseOps("n", []pdag.Op{
			pdag.Join(store.NewMemoryService(nil)),
			pdag.Map(func(v int) (KV, bool) { return KV{Key: v, Value: v}, true }),
		}, NewInflight(1))
		assert.NoError(t, err)
	})

	t.Run("keyflatmap on unkeyed chain", func(t *testing.T) {
		_, err := fuseOps("n", []pdag.Op{
			pdag.KeyFlatMap(func(k int) []int { return []int{k} }),
			pdag.FlatMap(func(v int) []int { return []int{v} }),
		}, NewInflight(1))
		assert.IsError(t, err, ErrChainNotKeyed)
	})
}
