package petrel

import (
	"reflect"
	"time"

	"github.com/petrel-stream/petrel/store"
)

// Registry maps assigned names to typed option values. Each option type
// appears at most once per name; a later Set for the same name and type
// replaces the earlier value. A Registry is an immutable snapshot for the
// duration of a compile run; Set must not be called concurrently with
// Compile.
type Registry struct {
	names map[string]map[reflect.Type]any
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]map[reflect.Type]any)}
}

// Set registers option values under name. Returns the registry for
// chaining.
func (r *Registry) Set(name string, opts ...any) *Registry {
	m, ok := r.names[name]
	if !ok {
		m = make(map[reflect.Type]any)
		r.names[name] = m
	}
	for _, opt := range opts {
		m[reflect.TypeOf(opt)] = opt
	}
	return r
}

func (r *Registry) lookup(name string, t reflect.Type) (any, bool) {
	if r == nil {
		return nil, false
	}
	m, ok := r.names[name]
	if !ok {
		return nil, false
	}
	v, ok := m[t]
	return v, ok
}

// Resolution is the outcome of one option lookup: the value, the name that
// supplied it, and whether the built-in default was used.
type Resolution[T any] struct {
	Value   T
	Name    string
	Default bool
}

// Resolve searches names in order, most specific first, and returns the
// first value of type T found in the registry, attributed to the name that
// supplied it. If no name carries a T, the built-in default is returned
// with Default set. Resolve never fails and is stable: the same inputs
// always yield the same resolution.
func Resolve[T any](r *Registry, names []string, def T) Resolution[T] {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for _, name := range names {
		if v, ok := r.lookup(name, t); ok {
			return Resolution[T]{Value: v.(T), Name: name}
		}
	}
	return Resolution[T]{Value: def, Default: true}
}

// Option types resolvable per node. Register them with Registry.Set under
// any of a node's assigned names.

// SourceParallelism overrides how many instances read a source.
type SourceParallelism struct{ N int }

// TransformParallelism overrides how many instances run a transform.
type TransformParallelism struct{ N int }

// SummerParallelism overrides how many instances run an aggregation sink.
type SummerParallelism struct{ N int }

// CacheSize bounds the pre-aggregation cache of a transform feeding an
// aggregation. When the cache holds this many distinct (key, batch) entries
// it is flushed downstream.
type CacheSize struct{ Entries int }

// MaxInFlight caps concurrently in-flight asynchronous operations (service
// lookups, sink writes, store persistence) per unit instance. Admission of
// new records blocks while the cap is reached.
type MaxInFlight struct{ N int }

// FlushInterval asks the runtime to flush a unit at least this often, in
// addition to flush-on-bound and flush-on-drain.
type FlushInterval struct{ D time.Duration }

// OnSuccess is invoked after an aggregation-sink persistence succeeds.
type OnSuccess struct {
	Fn func(key store.BatchKey, value any)
}

// OnFailure is invoked after an aggregation-sink persistence fails.
type OnFailure struct {
	Fn func(key store.BatchKey, err error)
}

// Policy selects how a unit's record-processing failures propagate.
type Policy int

const (
	// PolicyFail stops the run on the first record failure.
	PolicyFail Policy = iota
	// PolicyDrop logs the failure and continues with the next record.
	PolicyDrop
)

func (p Policy) String() string {
	switch p {
	case PolicyFail:
		return "Fail"
	case PolicyDrop:
		return "Drop"
	default:
		return "Unknown"
	}
}

// ErrorPolicy overrides the failure propagation policy for a node.
type ErrorPolicy struct{ Policy Policy }
