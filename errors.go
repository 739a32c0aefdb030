package petrel

import "errors"

// Sentinel errors. Planning errors abort compilation synchronously; no
// partial plan is ever produced.
var (
	// ErrIllegalOperator is returned when an operator appears inside a node
	// kind that cannot host it, e.g. a Source marker inside a transform
	// chain.
	ErrIllegalOperator = errors.New("illegal operator placement")

	// ErrUnknownNodeKind is returned when a node's kind is not one of
	// source, transform, or aggregation.
	ErrUnknownNodeKind = errors.New("unknown node kind")

	// ErrChainNotKeyed is returned when an operator requiring key/value
	// input is fused onto a chain known to produce unkeyed records.
	ErrChainNotKeyed = errors.New("operator requires a key/value chain")

	// ErrMalformedAggregation is returned when an aggregation node does not
	// consist of exactly one Sum plus name/identity wrappers, or when a
	// transform feeding an aggregation has other children besides it.
	ErrMalformedAggregation = errors.New("malformed aggregation node")

	// ErrPayloadNotKeyed is a record-level failure: a step requiring a
	// key/value payload received something else. Routed to the unit's error
	// policy at run time, not a planning error.
	ErrPayloadNotKeyed = errors.New("record payload is not a key/value pair")
)
