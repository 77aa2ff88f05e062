// Package resolver discovers migrations: CQL scripts found in scan locations
// and code migrations registered from Go packages.
package resolver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mirajehossain/cqlmigratex/internal/migration"
	"github.com/mirajehossain/cqlmigratex/internal/version"
)

var (
	ErrMalformedName      = errors.New("malformed migration name")
	ErrMissingDescription = errors.New("missing migration description")
	ErrConflictingVersion = errors.New("found more than one migration with the same version")
)

// Naming convention shared by scripts and code migrations.
const (
	Prefix    = "V"
	Separator = "__"
	CQLSuffix = ".cql"
)

// Resolver yields the migrations available from one source.
type Resolver interface {
	Resolve() ([]*migration.Resolved, error)
}

// ExtractVersionAndDescription splits a name such as V1_2__Add_users.cql into
// version 1.2 and description "Add users".
func ExtractVersionAndDescription(name, prefix, separator, suffix string) (version.Version, string, error) {
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) || len(name) < len(prefix)+len(suffix) {
		return version.Empty, "", fmt.Errorf("%w: %s (it should look like this: %s1_2%sDescription%s)",
			ErrMalformedName, name, prefix, separator, suffix)
	}
	clean := name[len(prefix) : len(name)-len(suffix)]
	i := strings.Index(clean, separator)
	if i < 0 {
		return version.Empty, "", fmt.Errorf("%w: %s (it should look like this: %s1_2%sDescription%s)",
			ErrMalformedName, name, prefix, separator, suffix)
	}
	v, err := version.Parse(clean[:i])
	if err != nil {
		return version.Empty, "", fmt.Errorf("migration %s: %w", name, err)
	}
	if !v.IsNormal() {
		return version.Empty, "", fmt.Errorf("migration %s: %w: %q is not a numeric version", name, version.ErrInvalidFormat, clean[:i])
	}
	desc := strings.ReplaceAll(clean[i+len(separator):], "_", " ")
	return v, desc, nil
}
