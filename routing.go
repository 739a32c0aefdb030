package petrel

// Routing is the data-routing strategy of one plan edge.
type Routing int

const (
	// RouteUnconstrained lets any downstream instance receive any record.
	RouteUnconstrained Routing = iota

	// RouteKeyPartitioned requires records with equal partition key to
	// reach the same downstream instance. Mandatory for every edge into an
	// aggregation unit, partitioned on the (key, batch) pair.
	RouteKeyPartitioned
)

func (r Routing) String() string {
	switch r {
	case RouteUnconstrained:
		return "Unconstrained"
	case RouteKeyPartitioned:
		return "KeyPartitioned"
	default:
		return "Unknown"
	}
}

// Edge is one directed routing edge between two named units.
type Edge struct {
	From    string
	To      string
	Routing Routing
}
