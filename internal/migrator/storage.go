package migrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gocql/gocql"

	"github.com/mirajehossain/cqlmigratex/internal/cassandra"
	"github.com/mirajehossain/cqlmigratex/internal/logger"
	"github.com/mirajehossain/cqlmigratex/internal/migration"
	"github.com/mirajehossain/cqlmigratex/internal/version"
)

// Storage is the schema version store: the applied-migration table and its
// installed_rank counter table.
type Storage struct {
	Session     cassandra.Session
	Table       string
	CountsTable string
	Log         *logger.Logger

	cl    *gocql.Consistency
	ready bool
	now   func() time.Time
}

var _ Store = (*Storage)(nil)

// NewStorage names the tables in lower case, as Cassandra stores unquoted
// identifiers.
func NewStorage(s cassandra.Session, tablePrefix string, log *logger.Logger) *Storage {
	table := strings.ToLower(TableName(tablePrefix, SchemaTable))
	return &Storage{
		Session:     s,
		Table:       table,
		CountsTable: table + countsTableSuffix,
		Log:         log,
		now:         time.Now,
	}
}

func (s *Storage) qualified(table string) string {
	return s.Session.Keyspace() + "." + table
}

// Consistency is ALL when the cluster has more than one node, ONE otherwise.
func (s *Storage) Consistency(ctx context.Context) (gocql.Consistency, error) {
	if s.cl != nil {
		return *s.cl, nil
	}
	n, err := s.Session.NodeCount(ctx)
	if err != nil {
		return gocql.Any, fmt.Errorf("read cluster topology: %w", err)
	}
	cl := gocql.One
	if n > 1 {
		cl = gocql.All
	}
	s.cl = &cl
	s.Log.Debug("metadata consistency selected", map[string]any{"nodes": n, "consistency": cl.String()})
	return cl, nil
}

func (s *Storage) Reset() { s.ready = false }

// TablesExist reports whether both metadata tables are present.
func (s *Storage) TablesExist(ctx context.Context) (bool, error) {
	if s.ready {
		return true, nil
	}
	cl, err := s.Consistency(ctx)
	if err != nil {
		return false, err
	}
	iter := s.Session.Iter(ctx, cl, selectTables, strings.ToLower(s.Session.Keyspace()))
	found := map[string]bool{}
	var name string
	for iter.Scan(&name) {
		found[name] = true
	}
	if err := iter.Close(); err != nil {
		return false, fmt.Errorf("list tables: %w", err)
	}
	s.ready = found[s.Table] && found[s.CountsTable]
	return s.ready, nil
}

// EnsureTables creates the metadata tables when they are missing.
func (s *Storage) EnsureTables(ctx context.Context) error {
	ok, err := s.TablesExist(ctx)
	if err != nil || ok {
		return err
	}
	cl, err := s.Consistency(ctx)
	if err != nil {
		return err
	}
	s.Log.Info("Creating metadata tables", map[string]any{"table": s.qualified(s.Table)})
	if err := s.Session.Exec(ctx, cl, fmt.Sprintf(createMigrationTable, s.qualified(s.Table))); err != nil {
		return fmt.Errorf("create %s: %w", s.Table, err)
	}
	if err := s.Session.Exec(ctx, cl, fmt.Sprintf(createCountsTable, s.qualified(s.CountsTable))); err != nil {
		return fmt.Errorf("create %s: %w", s.CountsTable, err)
	}
	s.ready = true
	return nil
}

// FindApplied returns every applied attempt ordered by installed rank. Missing
// tables mean nothing has been applied yet.
func (s *Storage) FindApplied(ctx context.Context) ([]*migration.Applied, error) {
	ok, err := s.TablesExist(ctx)
	if err != nil || !ok {
		return nil, err
	}
	cl, err := s.Consistency(ctx)
	if err != nil {
		return nil, err
	}
	iter := s.Session.Iter(ctx, cl, fmt.Sprintf(selectApplied, s.qualified(s.Table)))
	var (
		out   []*migration.Applied
		row   migration.Applied
		ver   string
		typ   string
		sum   *int32
		scanE error
	)
	for iter.Scan(&row.VersionRank, &row.InstalledRank, &ver, &row.Description, &typ, &row.Script,
		&sum, &row.InstalledOn, &row.InstalledBy, &row.ExecutionTime, &row.Success) {
		a := row
		if a.Version, scanE = version.Parse(ver); scanE != nil {
			break
		}
		if a.Type, scanE = migration.ParseType(typ); scanE != nil {
			break
		}
		a.Checksum = sum
		out = append(out, &a)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("read %s: %w", s.Table, err)
	}
	if scanE != nil {
		return nil, fmt.Errorf("read %s: %w", s.Table, scanE)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].InstalledRank < out[j].InstalledRank })
	return out, nil
}

// Add persists one attempt. Version and installed ranks are computed here and
// written back into a.
func (s *Storage) Add(ctx context.Context, a *migration.Applied) error {
	if err := s.EnsureTables(ctx); err != nil {
		return err
	}
	cl, err := s.Consistency(ctx)
	if err != nil {
		return err
	}
	vr, err := s.versionRank(ctx, cl, a.Version)
	if err != nil {
		return err
	}
	ir, err := s.installedRank(ctx, cl)
	if err != nil {
		return err
	}
	a.VersionRank, a.InstalledRank = vr, ir
	if a.InstalledOn.IsZero() {
		a.InstalledOn = s.now().UTC()
	}
	err = s.Session.Exec(ctx, cl, fmt.Sprintf(insertApplied, s.qualified(s.Table)),
		a.VersionRank, a.InstalledRank, a.Version.String(), a.Description, a.Type.String(), a.Script,
		a.Checksum, a.InstalledOn, a.InstalledBy, a.ExecutionTime, a.Success)
	if err != nil {
		return fmt.Errorf("insert %s into %s: %w", a.Version, s.Table, err)
	}
	s.Log.Debug("Metadata table updated", map[string]any{
		"table": s.Table, "version": a.Version.String(), "version_rank": vr, "installed_rank": ir,
	})
	return nil
}

type rankedVersion struct {
	v    version.Version
	raw  string
	rank int
}

// versionRank finds where v sorts among the stored versions and shifts every
// later row up by one in a single logged batch.
func (s *Storage) versionRank(ctx context.Context, cl gocql.Consistency, v version.Version) (int, error) {
	iter := s.Session.Iter(ctx, cl, fmt.Sprintf(selectRanks, s.qualified(s.Table)))
	var (
		rows []rankedVersion
		raw  string
		rank int
	)
	for iter.Scan(&raw, &rank) {
		pv, err := version.Parse(raw)
		if err != nil {
			_ = iter.Close()
			return 0, fmt.Errorf("stored version %q: %w", raw, err)
		}
		rows = append(rows, rankedVersion{v: pv, raw: raw, rank: rank})
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("read version ranks: %w", err)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].v.Less(rows[j].v) })

	at := len(rows)
	for i, r := range rows {
		if v.Less(r.v) {
			at = i
			break
		}
	}
	var shifted []cassandra.Statement
	for _, r := range rows[at:] {
		shifted = append(shifted, cassandra.Statement{
			CQL:    fmt.Sprintf(updateRank, s.qualified(s.Table)),
			Values: []any{r.rank + 1, r.raw},
		})
	}
	if len(shifted) > 0 {
		if err := s.Session.Batch(ctx, cl, shifted...); err != nil {
			return 0, fmt.Errorf("shift version ranks: %w", err)
		}
	}
	return at + 1, nil
}

// installedRank increments the counter, then reads it back.
func (s *Storage) installedRank(ctx context.Context, cl gocql.Consistency) (int, error) {
	counts := s.qualified(s.CountsTable)
	if err := s.Session.Exec(ctx, cl, fmt.Sprintf(bumpCounter, counts)); err != nil {
		return 0, fmt.Errorf("increment installed_rank: %w", err)
	}
	iter := s.Session.Iter(ctx, cl, fmt.Sprintf(selectCounter, counts))
	var n int64
	found := iter.Scan(&n)
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("read installed_rank: %w", err)
	}
	if !found {
		return 0, fmt.Errorf("read installed_rank: counter row missing in %s", s.CountsTable)
	}
	return int(n), nil
}

// UpdateChecksum rewrites the stored checksum, description and type of a
// version with the resolved values.
func (s *Storage) UpdateChecksum(ctx context.Context, r *migration.Resolved) error {
	cl, err := s.Consistency(ctx)
	if err != nil {
		return err
	}
	err = s.Session.Exec(ctx, cl, fmt.Sprintf(updateRepair, s.qualified(s.Table)),
		r.Checksum, r.Description, r.Type.String(), r.Version.String())
	if err != nil {
		return fmt.Errorf("repair %s: %w", r.Version, err)
	}
	return nil
}
