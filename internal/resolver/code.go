package resolver

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/mirajehossain/cqlmigratex/internal/cassandra"
	"github.com/mirajehossain/cqlmigratex/internal/fsutil"
	"github.com/mirajehossain/cqlmigratex/internal/migration"
	"github.com/mirajehossain/cqlmigratex/internal/version"
)

// CodeMigration is a migration written in Go.
type CodeMigration interface {
	Migrate(ctx context.Context, s cassandra.Session) error
}

// InfoProvider lets a code migration name its own version and description
// instead of encoding them in its type name.
type InfoProvider interface {
	Version() version.Version
	Description() string
}

// ChecksumProvider lets a code migration report a checksum for validation.
type ChecksumProvider interface {
	Checksum() int32
}

type registration struct {
	location fsutil.Location
	m        CodeMigration
}

// Registry holds code migrations keyed by the classpath location they belong to.
type Registry struct {
	mu      sync.RWMutex
	entries []registration
}

func NewRegistry() *Registry { return &Registry{} }

// Register adds m under location, which must be a classpath: location.
func (r *Registry) Register(location string, m CodeMigration) error {
	if m == nil {
		return fmt.Errorf("register %s: nil migration", location)
	}
	loc, err := fsutil.ParseLocation(location)
	if err != nil {
		return err
	}
	if !loc.IsClasspath() {
		return fmt.Errorf("register %T: code migrations need a %s location, got %s", m, fsutil.ClasspathPrefix, loc)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, registration{location: loc, m: m})
	return nil
}

// Lookup returns migrations registered at loc or below it, in registration order.
func (r *Registry) Lookup(loc fsutil.Location) []CodeMigration {
	if r == nil || !loc.IsClasspath() {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []CodeMigration
	for _, e := range r.entries {
		if loc.IsParentOf(e.location) {
			out = append(out, e.m)
		}
	}
	return out
}

var defaultRegistry = NewRegistry()

// DefaultRegistry is the registry filled by Register.
func DefaultRegistry() *Registry { return defaultRegistry }

// Register adds m to the default registry. It panics on a bad location, so it
// is meant to be called from init functions.
func Register(location string, m CodeMigration) {
	if err := defaultRegistry.Register(location, m); err != nil {
		panic(err)
	}
}

// CodeResolver resolves the code migrations registered under one location.
type CodeResolver struct {
	Registry *Registry
	Location fsutil.Location
}

func (r *CodeResolver) Resolve() ([]*migration.Resolved, error) {
	var out []*migration.Resolved
	for _, m := range r.Registry.Lookup(r.Location) {
		rm, err := ResolveCode(m)
		if err != nil {
			return nil, err
		}
		out = append(out, rm)
	}
	return out, nil
}

// ResolveCode derives the resolved form of a single code migration.
func ResolveCode(m CodeMigration) (*migration.Resolved, error) {
	t := reflect.TypeOf(m)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := t.Name()
	qualified := name
	if t.PkgPath() != "" {
		qualified = t.PkgPath() + "." + name
	}

	var (
		v    version.Version
		desc string
	)
	if info, ok := m.(InfoProvider); ok {
		v, desc = info.Version(), info.Description()
		if !v.IsNormal() {
			return nil, fmt.Errorf("%s: %w: missing version", qualified, version.ErrInvalidFormat)
		}
		if strings.TrimSpace(desc) == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingDescription, qualified)
		}
	} else {
		var err error
		v, desc, err = ExtractVersionAndDescription(name, Prefix, Separator, "")
		if err != nil {
			return nil, err
		}
	}

	rm := &migration.Resolved{
		Version:          v,
		Description:      desc,
		Script:           qualified,
		Type:             migration.Code,
		PhysicalLocation: qualified,
		Executor:         migration.ExecutorFunc(m.Migrate),
	}
	if cp, ok := m.(ChecksumProvider); ok {
		c := cp.Checksum()
		rm.Checksum = &c
	}
	return rm, nil
}
