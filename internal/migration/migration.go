// Package migration holds the records exchanged between resolvers, the
// metadata store and the reconciliation service.
package migration

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mirajehossain/cqlmigratex/internal/cassandra"
	"github.com/mirajehossain/cqlmigratex/internal/version"
)

type Type int

const (
	// Schema marks the creation of the metadata tables. Synthetic.
	Schema Type = iota + 1
	// Baseline marks an adopted pre-existing keyspace. Synthetic.
	Baseline
	CQL
	Code
)

func (t Type) String() string {
	switch t {
	case Schema:
		return "SCHEMA"
	case Baseline:
		return "BASELINE"
	case CQL:
		return "CQL"
	case Code:
		return "CODE"
	default:
		return "UNKNOWN"
	}
}

// IsSynthetic reports whether t is a marker rather than a content migration.
func (t Type) IsSynthetic() bool { return t == Schema || t == Baseline }

func ParseType(s string) (Type, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SCHEMA":
		return Schema, nil
	case "BASELINE":
		return Baseline, nil
	case "CQL":
		return CQL, nil
	case "CODE", "JAVA_DRIVER":
		return Code, nil
	}
	return 0, fmt.Errorf("unknown migration type %q", s)
}

// Executor runs the body of a resolved migration.
type Executor interface {
	Execute(ctx context.Context, s cassandra.Session) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, s cassandra.Session) error

func (f ExecutorFunc) Execute(ctx context.Context, s cassandra.Session) error { return f(ctx, s) }

// Resolved is a migration discovered in a configured location.
type Resolved struct {
	Version     version.Version
	Description string
	// Script is the resource name relative to its location, or the type name
	// of a code migration.
	Script string
	// Checksum is nil when the migration supplies none.
	Checksum *int32
	Type     Type
	// PhysicalLocation is where the migration came from, for error messages.
	PhysicalLocation string
	Executor         Executor
}

// SameAs reports whether r and o describe the same migration, ignoring where
// it was found.
func (r *Resolved) SameAs(o *Resolved) bool {
	if r.Checksum == nil || o.Checksum == nil {
		if r.Checksum != o.Checksum {
			return false
		}
	} else if *r.Checksum != *o.Checksum {
		return false
	}
	return r.Version.Equal(o.Version) &&
		r.Description == o.Description &&
		r.Script == o.Script &&
		r.Type == o.Type
}

// Applied is one persisted execution attempt.
type Applied struct {
	VersionRank   int
	InstalledRank int
	Version       version.Version
	Description   string
	Type          Type
	Script        string
	Checksum      *int32
	InstalledBy   string
	InstalledOn   time.Time
	// ExecutionTime is in milliseconds.
	ExecutionTime int
	Success       bool
}
