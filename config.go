package petrel

import (
	"encoding/json"
	"time"
)

// RuntimeConfig is the configuration handed to the runtime alongside the
// units and edges: baseline settings, per-kind defaults that option
// overrides fall back to, and diagnostic snapshots of the compiled graphs.
type RuntimeConfig struct {
	// Serialization names the codec the runtime moves records with.
	Serialization string

	// AckTimeout bounds how long the runtime waits for a record to be
	// reported fully processed before retrying delivery.
	AckTimeout time.Duration

	// MaxRetries caps redelivery attempts before a record is failed.
	MaxRetries int

	// Workers is the executor count suggested to the runtime.
	Workers int

	// Per-kind defaults, used when no option override names a node.
	SourceParallelism    int
	TransformParallelism int
	SummerParallelism    int
	CacheSize            int
	MaxInFlight          int
	FlushInterval        time.Duration

	Diagnostics Diagnostics
}

// Diagnostics carries machine-readable snapshots of the pre-planning node
// graph and the post-planning units and edges.
type Diagnostics struct {
	Logical  json.RawMessage `json:"logical"`
	Physical json.RawMessage `json:"physical"`
}

// DefaultRuntimeConfig returns the baseline configuration the assembler
// starts from before applying the caller's transform.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		Serialization:        "json",
		AckTimeout:           30 * time.Second,
		MaxRetries:           3,
		Workers:              1,
		SourceParallelism:    1,
		TransformParallelism: 1,
		SummerParallelism:    1,
		CacheSize:            1000,
		MaxInFlight:          64,
		FlushInterval:        time.Second,
	}
}
