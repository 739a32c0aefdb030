package pdag

import (
	"fmt"
	"reflect"

	"github.com/petrel-stream/petrel/batch"
	"github.com/petrel-stream/petrel/monoid"
	"github.com/petrel-stream/petrel/store"
)

// OpKind tags the closed set of logical operator variants.
type OpKind int

const (
	OpSource OpKind = iota
	OpMap
	OpFlatMap
	OpKeyFlatMap
	OpMerge
	OpJoin
	OpWrite
	OpName
	OpIdentity
	OpSum
)

func (k OpKind) String() string {
	switch k {
	case OpSource:
		return "Source"
	case OpMap:
		return "Map"
	case OpFlatMap:
		return "FlatMap"
	case OpKeyFlatMap:
		return "KeyFlatMap"
	case OpMerge:
		return "Merge"
	case OpJoin:
		return "Join"
	case OpWrite:
		return "Write"
	case OpName:
		return "Name"
	case OpIdentity:
		return "Identity"
	case OpSum:
		return "Sum"
	default:
		return "Unknown"
	}
}

// Op is one logical operator. The set of implementations is closed; the
// unexported marker method keeps it that way so that planner dispatch over
// Kind stays exhaustive.
type Op interface {
	Kind() OpKind
	isOp()
}

// SourceOp marks the record producer at the input end of a source node's
// operator list. It is illegal anywhere else.
type SourceOp struct {
	Producer Producer
}

func (*SourceOp) Kind() OpKind { return OpSource }
func (*SourceOp) isOp()        {}

// Shape is what an operator is statically known to produce. The typed
// constructors derive it from the output type: KV payloads are keyed, an
// interface output reveals nothing until run time.
type Shape int

const (
	ShapeOpaque Shape = iota
	ShapeKeyed
	ShapeUnkeyed
)

// MapOp applies Fn to each record payload and drops the record when Fn
// reports no value. Shape records whether Fn is known to produce KV
// payloads; the typed constructors set it.
type MapOp struct {
	Fn    func(any) (any, bool)
	Shape Shape
}

func (*MapOp) Kind() OpKind { return OpMap }
func (*MapOp) isOp()        {}

// FlatMapOp applies Fn to each record payload and flattens the produced
// slice into zero or more records.
type FlatMapOp struct {
	Fn    func(any) []any
	Shape Shape
}

func (*FlatMapOp) Kind() OpKind { return OpFlatMap }
func (*FlatMapOp) isOp()        {}

// KeyFlatMapOp transforms only the key of a KV payload; every produced key
// is re-paired with the original value.
type KeyFlatMapOp struct {
	Fn func(any) []any
}

func (*KeyFlatMapOp) Kind() OpKind { return OpKeyFlatMap }
func (*KeyFlatMapOp) isOp()        {}

// MergeOp joins multiple upstream flows into one. It is a no-op during
// fusion; the planner realizes it as multiple inbound routing edges.
type MergeOp struct{}

func (*MergeOp) Kind() OpKind { return OpMerge }
func (*MergeOp) isOp()        {}

// JoinOp looks up each KV payload's key in Service and pairs the value with
// the (possibly absent) result. Requires a keyed chain upstream.
type JoinOp struct {
	Service store.Service
}

func (*JoinOp) Kind() OpKind { return OpJoin }
func (*JoinOp) isOp()        {}

// WriteOp hands each payload to Sink and forwards the record unchanged. The
// write runs asynchronously; its completion is awaited at unit flush.
type WriteOp struct {
	Sink store.Sink
}

func (*WriteOp) Kind() OpKind { return OpWrite }
func (*WriteOp) isOp()        {}

// NameOp assigns a name used for option lookup. It does not affect fusion.
type NameOp struct {
	Name string
}

func (*NameOp) Kind() OpKind { return OpName }
func (*NameOp) isOp()        {}

// IdentityOp wraps without changing anything. Kept in operator lists so node
// contents mirror the logical graph exactly.
type IdentityOp struct{}

func (*IdentityOp) Kind() OpKind { return OpIdentity }
func (*IdentityOp) isOp()        {}

// SumOp marks the tail of an aggregation node: values are folded per
// (key, batch) with Combine and persisted into the store built by Supplier.
type SumOp struct {
	Supplier store.Supplier
	Batcher  batch.Batcher
	Combine  monoid.Combiner
}

func (*SumOp) Kind() OpKind { return OpSum }
func (*SumOp) isOp()        {}

var kvType = reflect.TypeOf(KV{})

func shapeFor(t reflect.Type) Shape {
	switch {
	case t == kvType:
		return ShapeKeyed
	case t.Kind() == reflect.Interface:
		// The concrete payload depends on runtime values; downstream
		// keyedness checks defer to run time.
		return ShapeOpaque
	default:
		return ShapeUnkeyed
	}
}

// Source wraps a record producer as the innermost operator of a source node.
func Source(p Producer) *SourceOp {
	return &SourceOp{Producer: p}
}

// Map builds a MapOp from a typed function. Records whose payload is not an
// A panic with a descriptive message; payload types are a contract between
// adjacent operators, not something the planner can check.
func Map[A, B any](fn func(A) (B, bool)) *MapOp {
	return &MapOp{
		Fn: func(v any) (any, bool) {
			a, ok := v.(A)
			if !ok {
				panic(fmt.Sprintf("pdag: Map expects %T, got %T", *new(A), v))
			}
			b, keep := fn(a)
			return b, keep
		},
		Shape: shapeFor(reflect.TypeOf((*B)(nil)).Elem()),
	}
}

// FlatMap builds a FlatMapOp from a typed function.
func FlatMap[A, B any](fn func(A) []B) *FlatMapOp {
	return &FlatMapOp{
		Fn: func(v any) []any {
			a, ok := v.(A)
			if !ok {
				panic(fmt.Sprintf("pdag: FlatMap expects %T, got %T", *new(A), v))
			}
			bs := fn(a)
			out := make([]any, len(bs))
			for i, b := range bs {
				out[i] = b
			}
			return out
		},
		Shape: shapeFor(reflect.TypeOf((*B)(nil)).Elem()),
	}
}

// KeyFlatMap builds a KeyFlatMapOp from a typed key function.
func KeyFlatMap[K, K2 any](fn func(K) []K2) *KeyFlatMapOp {
	return &KeyFlatMapOp{
		Fn: func(v any) []any {
			k, ok := v.(K)
			if !ok {
				panic(fmt.Sprintf("pdag: KeyFlatMap expects key %T, got %T", *new(K), v))
			}
			ks := fn(k)
			out := make([]any, len(ks))
			for i, k2 := range ks {
				out[i] = k2
			}
			return out
		},
	}
}

// Join builds a JoinOp against svc.
func Join(svc store.Service) *JoinOp {
	return &JoinOp{Service: svc}
}

// Write builds a WriteOp against s.
func Write(s store.Sink) *WriteOp {
	return &WriteOp{Sink: s}
}

// Name builds a NameOp.
func Name(n string) *NameOp {
	return &NameOp{Name: n}
}

// Identity builds an IdentityOp.
func Identity() *IdentityOp {
	return &IdentityOp{}
}

// Sum builds a SumOp from already type-erased parts.
func Sum(sup store.Supplier, b batch.Batcher, combine monoid.Combiner) *SumOp {
	return &SumOp{Supplier: sup, Batcher: b, Combine: combine}
}

// SumOf builds a SumOp from a typed monoid.
func SumOf[T any](sup store.Supplier, b batch.Batcher, m monoid.Monoid[T]) *SumOp {
	return Sum(sup, b, monoid.Erase(m))
}
