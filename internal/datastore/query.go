package datastore

import (
	"github.com/openinstrument/store/pkg/tsdata"
	"github.com/openinstrument/store/pkg/variable"
)

// Query bundles a read request: match every stored variable matching
// Search within [Start, End), apply Mutations to each matched stream,
// then apply Aggregations across the mutated streams.
type Query struct {
	Search       *variable.Variable
	Start, End   int64
	Mutations    []Mutation
	Aggregations []Aggregation
}

// Run executes q against d and returns the resulting streams: one per
// matched variable if no aggregation is requested, or one per
// aggregation partition otherwise.
func (d *DataStore) Run(q Query) []*tsdata.ValueStream {
	matched := d.MatchingStreams(q.Search, q.Start, q.End)

	mutated := make([]*tsdata.ValueStream, len(matched))
	for i, s := range matched {
		mutated[i] = ApplyChain(q.Mutations, s)
	}

	if len(q.Aggregations) == 0 {
		return mutated
	}

	cur := mutated
	for _, agg := range q.Aggregations {
		cur = agg.Apply(cur)
	}
	return cur
}
