package migrator

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/gocql/gocql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirajehossain/cqlmigratex/internal/cassandra"
	"github.com/mirajehossain/cqlmigratex/internal/cassandra/cassandratest"
	"github.com/mirajehossain/cqlmigratex/internal/info"
	"github.com/mirajehossain/cqlmigratex/internal/logger"
	"github.com/mirajehossain/cqlmigratex/internal/migration"
	"github.com/mirajehossain/cqlmigratex/internal/version"
)

type staticResolver []*migration.Resolved

func (s staticResolver) Resolve() ([]*migration.Resolved, error) { return s, nil }

// memStore keeps applied rows in memory with the same rank rules as Storage.
type memStore struct {
	rows    []*migration.Applied
	counter int
	addErr  error
	repairs []string
}

func (m *memStore) FindApplied(context.Context) ([]*migration.Applied, error) {
	out := make([]*migration.Applied, len(m.rows))
	copy(out, m.rows)
	return out, nil
}

func (m *memStore) EnsureTables(context.Context) error { return nil }

func (m *memStore) Add(_ context.Context, a *migration.Applied) error {
	if m.addErr != nil {
		return m.addErr
	}
	sorted := append([]*migration.Applied(nil), m.rows...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version.Less(sorted[j].Version) })
	a.VersionRank = len(sorted) + 1
	for i, r := range sorted {
		if a.Version.Less(r.Version) {
			a.VersionRank = i + 1
			for _, later := range sorted[i:] {
				later.VersionRank++
			}
			break
		}
	}
	m.counter++
	a.InstalledRank = m.counter
	cp := *a
	m.rows = append(m.rows, &cp)
	return nil
}

func (m *memStore) UpdateChecksum(_ context.Context, r *migration.Resolved) error {
	m.repairs = append(m.repairs, r.Version.String())
	for _, row := range m.rows {
		if row.Version.Equal(r.Version) {
			row.Checksum = r.Checksum
			row.Description = r.Description
			row.Type = r.Type
		}
	}
	return nil
}

func (m *memStore) Consistency(context.Context) (gocql.Consistency, error) { return gocql.One, nil }

func (m *memStore) Reset() {}

type recorder struct{ ran []string }

func (r *recorder) migration(v string, fail error) *migration.Resolved {
	sum := int32(len(v))
	return &migration.Resolved{
		Version:     version.MustParse(v),
		Description: "step " + v,
		Script:      "V" + v + "__step.cql",
		Checksum:    &sum,
		Type:        migration.CQL,
		Executor: migration.ExecutorFunc(func(context.Context, cassandra.Session) error {
			r.ran = append(r.ran, v)
			return fail
		}),
	}
}

func newTestRunner(res staticResolver, store *memStore, opts Options) (*Runner, *bytes.Buffer) {
	var buf bytes.Buffer
	log := logger.New(false)
	log.SetOutput(&buf)
	r := NewRunner(&cassandratest.Session{Nodes: 1, Name: "ks"}, res, opts, log)
	r.Storage = store
	return r, &buf
}

func TestMigrateTwiceIsUpToDate(t *testing.T) {
	rec := &recorder{}
	store := &memStore{}
	r, buf := newTestRunner(staticResolver{rec.migration("1", nil), rec.migration("2", nil)}, store, Options{InstalledBy: "ci"})

	n, err := r.Migrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"1", "2"}, rec.ran)
	assert.Contains(t, buf.String(), "Successfully applied 2 migrations to keyspace ks")
	require.Len(t, store.rows, 2)
	assert.Equal(t, "ci", store.rows[0].InstalledBy)
	assert.True(t, store.rows[1].Success)

	buf.Reset()
	n, err = r.Migrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, []string{"1", "2"}, rec.ran)
	assert.Contains(t, buf.String(), "Keyspace ks is up to date. No migration necessary.")
}

func TestMigrateFailureIsRecordedAndBlocks(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("boom")
	store := &memStore{}
	r, _ := newTestRunner(staticResolver{rec.migration("1", nil), rec.migration("2", boom), rec.migration("3", nil)}, store, Options{})

	n, err := r.Migrate(context.Background())
	require.ErrorIs(t, err, ErrMigrationFailed)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, n)
	require.Len(t, store.rows, 2)
	assert.False(t, store.rows[1].Success)
	assert.Equal(t, "2", store.rows[1].Version.String())

	_, err = r.Migrate(context.Background())
	require.ErrorIs(t, err, ErrFailedMigrationPresent)
	assert.Contains(t, err.Error(), "version 2")
	assert.Equal(t, []string{"1", "2"}, rec.ran)
}

func TestMigrateFailureRecordErrorIsAggregated(t *testing.T) {
	rec := &recorder{}
	store := &memStore{addErr: errors.New("write timeout")}
	r, _ := newTestRunner(staticResolver{rec.migration("1", errors.New("boom"))}, store, Options{})

	_, err := r.Migrate(context.Background())
	require.ErrorIs(t, err, ErrMigrationFailed)
	assert.Contains(t, err.Error(), "write timeout")
}

func TestMigrateWarnsOnFailedFutureOnly(t *testing.T) {
	rec := &recorder{}
	store := &memStore{}
	require.NoError(t, store.Add(context.Background(), &migration.Applied{Version: version.MustParse("9"), Type: migration.CQL, Success: false}))
	r, buf := newTestRunner(staticResolver{rec.migration("1", nil)}, store, Options{AllowOutOfOrder: true})

	n, err := r.Migrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, buf.String(), "contains a failed future migration to version 9")
	assert.Contains(t, buf.String(), "newer than the latest available migration")
	assert.Contains(t, buf.String(), "(out of order)")
}

func TestMigrateIgnoresOlderWithoutOutOfOrder(t *testing.T) {
	rec := &recorder{}
	store := &memStore{}
	r, _ := newTestRunner(staticResolver{rec.migration("2", nil)}, store, Options{})
	_, err := r.Migrate(context.Background())
	require.NoError(t, err)

	r.Resolver = staticResolver{rec.migration("1", nil), rec.migration("2", nil)}
	n, err := r.Migrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, []string{"2"}, rec.ran)
}

func TestMigrateOutOfOrderRanks(t *testing.T) {
	rec := &recorder{}
	store := &memStore{}
	r, _ := newTestRunner(staticResolver{rec.migration("1", nil), rec.migration("2", nil)}, store, Options{AllowOutOfOrder: true})
	_, err := r.Migrate(context.Background())
	require.NoError(t, err)

	r.Resolver = staticResolver{rec.migration("1", nil), rec.migration("1.1", nil), rec.migration("2", nil)}
	n, err := r.Migrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ranks := map[string]int{}
	for _, row := range store.rows {
		ranks[row.Version.String()] = row.VersionRank
	}
	assert.Equal(t, map[string]int{"1": 1, "1.1": 2, "2": 3}, ranks)

	svc, err := r.Info(context.Background())
	require.NoError(t, err)
	require.Len(t, svc.OutOfOrder(), 1)
	assert.Equal(t, "1.1", svc.OutOfOrder()[0].Version().String())
}

func TestMigrateRespectsTarget(t *testing.T) {
	rec := &recorder{}
	r, _ := newTestRunner(staticResolver{rec.migration("1", nil), rec.migration("2", nil)}, &memStore{}, Options{Target: version.MustParse("1")})
	n, err := r.Migrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"1"}, rec.ran)
}

func TestMigrateProgress(t *testing.T) {
	rec := &recorder{}
	r, _ := newTestRunner(staticResolver{rec.migration("1", nil), rec.migration("2", errors.New("x"))}, &memStore{}, Options{})
	var stages []string
	r.Progress = func(stage string, m *info.Info, a *migration.Applied, err error) {
		stages = append(stages, stage+":"+m.Version().String())
		if stage == "success" {
			assert.True(t, a.Success)
		}
		if stage == "error" {
			assert.Error(t, err)
		}
	}
	_, err := r.Migrate(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"start:1", "success:1", "start:2", "error:2"}, stages)
}

func TestMigrateDryRun(t *testing.T) {
	rec := &recorder{}
	store := &memStore{}
	r, buf := newTestRunner(staticResolver{rec.migration("1", nil), rec.migration("2", nil)}, store, Options{DryRun: true})
	n, err := r.Migrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, rec.ran)
	assert.Empty(t, store.rows)
	assert.Contains(t, buf.String(), "Would migrate keyspace ks to version 1")
}

func TestValidate(t *testing.T) {
	rec := &recorder{}
	store := &memStore{}
	r, _ := newTestRunner(staticResolver{rec.migration("1", nil)}, store, Options{})
	_, err := r.Migrate(context.Background())
	require.NoError(t, err)

	msg, err := r.Validate(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "", msg)

	changed := rec.migration("1", nil)
	sum := int32(456)
	changed.Checksum = &sum
	r.Resolver = staticResolver{changed}
	msg, err = r.Validate(context.Background(), true)
	require.NoError(t, err)
	assert.Contains(t, msg, "Checksum mismatch for migration 1")
	assert.Contains(t, msg, "456")
	assert.Contains(t, msg, "-> Applied to database : 1")
}

func TestRepair(t *testing.T) {
	rec := &recorder{}
	store := &memStore{}
	r, _ := newTestRunner(staticResolver{rec.migration("1", nil), rec.migration("2", nil)}, store, Options{})
	_, err := r.Migrate(context.Background())
	require.NoError(t, err)

	changed := rec.migration("2", nil)
	sum := int32(456)
	changed.Checksum = &sum
	r.Resolver = staticResolver{rec.migration("1", nil), changed}

	r.Opts.DryRun = true
	n, err := r.Repair(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, store.repairs)

	r.Opts.DryRun = false
	n, err = r.Repair(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"2"}, store.repairs)

	msg, err := r.Validate(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "", msg)
}

func TestBaseline(t *testing.T) {
	opts := Options{BaselineVersion: version.MustParse("5"), BaselineDescription: "<< Cassandra Baseline >>"}
	store := &memStore{}
	r, _ := newTestRunner(nil, store, opts)

	require.NoError(t, r.Baseline(context.Background()))
	require.Len(t, store.rows, 1)
	assert.Equal(t, migration.Baseline, store.rows[0].Type)
	assert.True(t, store.rows[0].Success)

	// same marker again is accepted
	require.NoError(t, r.Baseline(context.Background()))
	assert.Len(t, store.rows, 1)

	r.Opts.BaselineVersion = version.MustParse("6")
	assert.ErrorIs(t, r.Baseline(context.Background()), ErrBaseline)

	r.Opts.BaselineVersion = version.MustParse("0")
	assert.ErrorIs(t, r.Baseline(context.Background()), ErrBaseline)

	rec := &recorder{}
	applied := &memStore{}
	r2, _ := newTestRunner(staticResolver{rec.migration("1", nil)}, applied, opts)
	_, err := r2.Migrate(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, r2.Baseline(context.Background()), ErrBaseline)
}

func TestBaselineThenMigrate(t *testing.T) {
	rec := &recorder{}
	store := &memStore{}
	opts := Options{BaselineVersion: version.MustParse("2"), BaselineDescription: "base"}
	r, _ := newTestRunner(staticResolver{rec.migration("1", nil), rec.migration("2.1", nil)}, store, opts)
	require.NoError(t, r.Baseline(context.Background()))

	n, err := r.Migrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"2.1"}, rec.ran)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "00:00.000s", FormatDuration(0))
	assert.Equal(t, "01:02.345s", FormatDuration(62345*time.Millisecond))
}
