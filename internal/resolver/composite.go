package resolver

import (
	"fmt"
	"sort"

	"github.com/mirajehossain/cqlmigratex/internal/fsutil"
	"github.com/mirajehossain/cqlmigratex/internal/logger"
	"github.com/mirajehossain/cqlmigratex/internal/migration"
)

// Composite merges every source into one sorted, conflict-free list. The
// result is computed once and cached.
type Composite struct {
	resolvers []Resolver
	resolved  []*migration.Resolved
	done      bool
}

// NewComposite builds a CQL and a code resolver per location, followed by any
// custom resolvers.
func NewComposite(scanner *fsutil.Scanner, registry *Registry, locations []fsutil.Location, encoding string, log *logger.Logger, custom ...Resolver) *Composite {
	c := &Composite{}
	for _, loc := range locations {
		c.resolvers = append(c.resolvers,
			&CQLResolver{Scanner: scanner, Location: loc, Encoding: encoding, Log: log},
			&CodeResolver{Registry: registry, Location: loc},
		)
	}
	c.resolvers = append(c.resolvers, custom...)
	return c
}

func (c *Composite) Resolve() ([]*migration.Resolved, error) {
	if c.done {
		return c.resolved, nil
	}
	all, err := Collect(c.resolvers)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Version.Less(all[j].Version) })
	if err := CheckConflicts(all); err != nil {
		return nil, err
	}
	c.resolved, c.done = all, true
	return all, nil
}

// Collect unions the output of resolvers, dropping exact duplicates.
func Collect(resolvers []Resolver) ([]*migration.Resolved, error) {
	var out []*migration.Resolved
	for _, r := range resolvers {
		found, err := r.Resolve()
		if err != nil {
			return nil, err
		}
	next:
		for _, m := range found {
			for _, have := range out {
				if have.SameAs(m) {
					continue next
				}
			}
			out = append(out, m)
		}
	}
	return out, nil
}

// CheckConflicts fails when two different migrations in a version-sorted list
// share a version.
func CheckConflicts(sorted []*migration.Resolved) error {
	for i := 0; i+1 < len(sorted); i++ {
		cur, nxt := sorted[i], sorted[i+1]
		if cur.Version.Equal(nxt.Version) {
			return fmt.Errorf("%w: %s\nOffenders:\n-> %s (%s)\n-> %s (%s)",
				ErrConflictingVersion, cur.Version,
				cur.PhysicalLocation, cur.Type,
				nxt.PhysicalLocation, nxt.Type)
		}
	}
	return nil
}
