// Package composite merges multiple iterators into one logical view.
package composite

import (
	"github.com/stratadb/strata/pkg/common/iterator"
)

// CompositeIterator is an iterator assembled from several sources. The
// merged view keeps the contract of iterator.Iterator; NumSources exposes
// how many inputs feed it, mostly for tests and diagnostics.
type CompositeIterator interface {
	iterator.Iterator

	NumSources() int
}
