package petrel

import (
	"context"
	"time"
)

// UnitKind is the physical kind of a schedulable unit.
type UnitKind int

const (
	UnitSource UnitKind = iota
	UnitTransform
	UnitSummer
)

func (k UnitKind) String() string {
	switch k {
	case UnitSource:
		return "Source"
	case UnitTransform:
		return "Transform"
	case UnitSummer:
		return "Summer"
	default:
		return "Unknown"
	}
}

// Unit is one runnable instance of a transform or aggregation-sink stage.
// The runtime calls Process for each routed record, Flush to await in-flight
// work and drain buffered state, and Close exactly once at shutdown, after a
// final Flush.
type Unit interface {
	Process(ctx context.Context, rec Record, emit Emit) error
	Flush(ctx context.Context, emit Emit) error
	Close() error
}

// UnitSpec is one compiled unit: its identity, resolved knobs, and a
// factory producing fresh instances. The runtime creates Parallelism
// instances; instances share nothing except the external collaborators
// captured by the factory.
type UnitSpec struct {
	Name        string
	Kind        UnitKind
	Parallelism int

	// HasUpstream reports whether any dependency edge terminates at this
	// unit. A transform without upstream acts as an effective source and
	// must not be routed input.
	HasUpstream bool

	// FlushEvery asks the runtime to flush instances at least this often.
	// Zero means flush only on drain.
	FlushEvery time.Duration

	// Policy governs how record-processing failures propagate.
	Policy Policy

	// NewSource is set for source units, NewUnit for the other kinds.
	NewSource func() (*SourceUnit, error)
	NewUnit   func() (Unit, error)
}

// Plan is the compiled output: named units, labeled routing edges, and the
// finalized runtime configuration. A Plan is immutable; compiling the same
// graph and registry twice yields structurally equal plans.
type Plan struct {
	Units  []UnitSpec
	Edges  []Edge
	Config RuntimeConfig
}

// Unit returns the spec with the given name.
func (p *Plan) Unit(name string) (*UnitSpec, bool) {
	for i := range p.Units {
		if p.Units[i].Name == name {
			return &p.Units[i], true
		}
	}
	return nil, false
}

// Inbound returns the edges terminating at the named unit.
func (p *Plan) Inbound(name string) []Edge {
	var out []Edge
	for _, e := range p.Edges {
		if e.To == name {
			out = append(out, e)
		}
	}
	return out
}

// Outbound returns the edges originating at the named unit.
func (p *Plan) Outbound(name string) []Edge {
	var out []Edge
	for _, e := range p.Edges {
		if e.From == name {
			out = append(out, e)
		}
	}
	return out
}
