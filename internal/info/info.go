// Package info reconciles resolved migrations against the applied ones and
// derives the state of each version.
package info

import (
	"fmt"
	"sort"
	"time"

	"github.com/mirajehossain/cqlmigratex/internal/checksum"
	"github.com/mirajehossain/cqlmigratex/internal/migration"
	"github.com/mirajehossain/cqlmigratex/internal/version"
)

// Context is shared by every Info produced in one reconciliation pass.
type Context struct {
	Target          version.Version
	OutOfOrder      bool
	PendingOrFuture bool

	// Derived by Merge.
	LastResolved version.Version
	LastApplied  version.Version
	Schema       version.Version
	Baseline     version.Version
}

// Info joins the resolved and applied records of one version.
type Info struct {
	Resolved *migration.Resolved
	Applied  *migration.Applied

	ctx        *Context
	outOfOrder bool
	state      State
}

func newInfo(r *migration.Resolved, a *migration.Applied, ctx *Context, outOfOrder bool) *Info {
	i := &Info{Resolved: r, Applied: a, ctx: ctx, outOfOrder: outOfOrder}
	i.state = i.computeState()
	return i
}

func (i *Info) computeState() State {
	a, r, c := i.Applied, i.Resolved, i.ctx
	if a != nil && a.Type.IsSynthetic() {
		if a.Success {
			return Success
		}
		return Failed
	}
	if a == nil {
		v := r.Version
		switch {
		case v.Compare(c.Target) > 0:
			return AboveTarget
		case v.Compare(c.Baseline) <= 0:
			return BelowBaseline
		case v.Compare(c.LastApplied) > 0:
			return Pending
		case c.OutOfOrder:
			return Pending
		default:
			return Ignored
		}
	}
	if r == nil {
		if a.Version.Compare(c.LastResolved) > 0 {
			if a.Success {
				return FutureSuccess
			}
			return FutureFailed
		}
		if a.Success {
			return MissingSuccess
		}
		return MissingFailed
	}
	if !a.Success {
		return Failed
	}
	if i.outOfOrder {
		return OutOfOrder
	}
	return Success
}

func (i *Info) State() State { return i.state }

func (i *Info) Version() version.Version {
	if i.Applied != nil {
		return i.Applied.Version
	}
	return i.Resolved.Version
}

// Description prefers the applied record, which is what actually ran.
func (i *Info) Description() string {
	if i.Applied != nil {
		return i.Applied.Description
	}
	return i.Resolved.Description
}

func (i *Info) Type() migration.Type {
	if i.Applied != nil {
		return i.Applied.Type
	}
	return i.Resolved.Type
}

func (i *Info) Script() string {
	if i.Applied != nil {
		return i.Applied.Script
	}
	return i.Resolved.Script
}

func (i *Info) Checksum() *int32 {
	if i.Applied != nil {
		return i.Applied.Checksum
	}
	return i.Resolved.Checksum
}

// InstalledOn is the zero time for unapplied migrations.
func (i *Info) InstalledOn() time.Time {
	if i.Applied == nil {
		return time.Time{}
	}
	return i.Applied.InstalledOn
}

// ExecutionTime in milliseconds, or -1 when not applied.
func (i *Info) ExecutionTime() int {
	if i.Applied == nil {
		return -1
	}
	return i.Applied.ExecutionTime
}

// Validate returns a message describing why this migration is inconsistent,
// or "" when it is fine.
func (i *Info) Validate() string {
	v := i.Version()
	if !i.ctx.PendingOrFuture {
		if i.Resolved == nil && !i.Applied.Type.IsSynthetic() {
			return fmt.Sprintf("Detected applied migration not resolved locally: %s", v)
		}
		if i.state == Pending {
			return fmt.Sprintf("Detected resolved migration not applied to database: %s", v)
		}
	}
	if i.state == Ignored {
		return fmt.Sprintf("Detected resolved migration not applied to database: %s", v)
	}
	if i.Resolved == nil || i.Applied == nil || v.Compare(i.ctx.Baseline) <= 0 {
		return ""
	}
	r, a := i.Resolved, i.Applied
	if !checksum.Equal(r.Checksum, a.Checksum) {
		return mismatch("Checksum", v, checksum.Format(a.Checksum), checksum.Format(r.Checksum))
	}
	if r.Description != a.Description {
		return mismatch("Description", v, a.Description, r.Description)
	}
	if r.Type != a.Type {
		return mismatch("Type", v, a.Type.String(), r.Type.String())
	}
	return ""
}

func mismatch(kind string, v version.Version, applied, resolved string) string {
	return fmt.Sprintf("Migration %s mismatch for migration %s\n-> Applied to database : %s\n-> Resolved locally    : %s",
		kind, v, applied, resolved)
}

// Merge joins resolved and applied migrations by version. Target, OutOfOrder
// and PendingOrFuture are taken from ctx; the remaining fields are derived.
// The result is sorted by version.
func Merge(resolved []*migration.Resolved, applied []*migration.Applied, ctx Context) []*Info {
	c := &ctx
	c.LastResolved, c.LastApplied = version.Empty, version.Empty
	c.Schema, c.Baseline = version.Empty, version.Empty

	type pair struct {
		r *migration.Resolved
		a *migration.Applied
	}
	byVersion := map[string]*pair{}
	var keys []version.Version
	get := func(v version.Version) *pair {
		k := v.String()
		p, ok := byVersion[k]
		if !ok {
			p = &pair{}
			byVersion[k] = p
			keys = append(keys, v)
		}
		return p
	}

	for _, r := range resolved {
		if r.Version.Compare(c.LastResolved) > 0 {
			c.LastResolved = r.Version
		}
		get(r.Version).r = r
	}
	for _, a := range applied {
		if a.Version.Compare(c.LastApplied) > 0 {
			c.LastApplied = a.Version
		}
		switch a.Type {
		case migration.Schema:
			c.Schema = a.Version
		case migration.Baseline:
			c.Baseline = a.Version
		}
		get(a.Version).a = a
	}

	late := appliedOutOfOrder(applied)
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	out := make([]*Info, 0, len(keys))
	for _, k := range keys {
		p := byVersion[k.String()]
		out = append(out, newInfo(p.r, p.a, c, p.a != nil && late[p.a]))
	}
	return out
}

// appliedOutOfOrder marks successful content migrations that were installed
// after a migration with a higher version.
func appliedOutOfOrder(applied []*migration.Applied) map[*migration.Applied]bool {
	late := map[*migration.Applied]bool{}
	for _, a := range applied {
		if a.Type.IsSynthetic() || !a.Success {
			continue
		}
		for _, b := range applied {
			if b.Type.IsSynthetic() {
				continue
			}
			if b.Version.Compare(a.Version) > 0 && b.InstalledRank < a.InstalledRank {
				late[a] = true
				break
			}
		}
	}
	return late
}
