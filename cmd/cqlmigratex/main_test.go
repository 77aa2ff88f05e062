package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gocql/gocql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirajehossain/cqlmigratex/internal/cassandra"
	"github.com/mirajehossain/cqlmigratex/internal/cassandra/cassandratest"
	"github.com/mirajehossain/cqlmigratex/internal/config"
	"github.com/mirajehossain/cqlmigratex/internal/logger"
	"github.com/mirajehossain/cqlmigratex/internal/migration"
	"github.com/mirajehossain/cqlmigratex/internal/migrator"
	"github.com/mirajehossain/cqlmigratex/internal/resolver"
	"github.com/mirajehossain/cqlmigratex/internal/version"
)

func execute(t *testing.T, args ...string) (*app, *bytes.Buffer, error) {
	t.Helper()
	return executeWith(t, nil, args...)
}

// executeWith runs the CLI with database commands bound to session.
func executeWith(t *testing.T, session cassandra.Session, args ...string) (*app, *bytes.Buffer, error) {
	t.Helper()
	out := &bytes.Buffer{}
	a := newApp(out, &bytes.Buffer{})
	if session != nil {
		a.connect = func(context.Context) (*migrator.Runner, func(), error) {
			r := migrator.NewRunner(session, pendingV1{}, migrator.Options{}, a.log)
			r.Storage = emptyStore{}
			return r, func() {}, nil
		}
	}
	root := a.rootCommand()
	root.SetArgs(append(args, "--env-file", ""))
	root.SetOut(out)
	return a, out, root.Execute()
}

// pendingV1 resolves a single script that was never applied.
type pendingV1 struct{}

func (pendingV1) Resolve() ([]*migration.Resolved, error) {
	sum := int32(1)
	return []*migration.Resolved{{
		Version:     version.MustParse("1"),
		Description: "init",
		Script:      "V1__init.cql",
		Checksum:    &sum,
		Type:        migration.CQL,
	}}, nil
}

type emptyStore struct{}

func (emptyStore) FindApplied(context.Context) ([]*migration.Applied, error) { return nil, nil }
func (emptyStore) EnsureTables(context.Context) error                        { return nil }
func (emptyStore) Add(context.Context, *migration.Applied) error             { return nil }
func (emptyStore) UpdateChecksum(context.Context, *migration.Resolved) error { return nil }
func (emptyStore) Consistency(context.Context) (gocql.Consistency, error)    { return gocql.One, nil }
func (emptyStore) Reset()                                                    {}

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, exitOK},
		{fmt.Errorf("%w: drift", migrator.ErrValidation), exitDrift},
		{fmt.Errorf("%w: v2", migrator.ErrMigrationFailed), exitFail},
		{migrator.ErrFailedMigrationPresent, exitFail},
		{fmt.Errorf("wrap: %w", config.ErrInvalid), exitPlanError},
		{resolver.ErrConflictingVersion, exitPlanError},
		{migrator.ErrBaseline, exitPlanError},
		{cassandra.ErrKeyspaceNotFound, exitKeyspaceNotFound},
		{errors.New("connection refused"), exitFail},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, exitCode(c.err), "%v", c.err)
	}
}

func TestCreateNumbersAboveHighestMajor(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "V3_1__Existing.cql"), []byte("-- x"), 0o644))

	_, _, err := execute(t, "create", "add users-table", "--locations", "filesystem:"+dir, "-q")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "V4__add_users_table.cql"))
	require.NoError(t, err)

	_, _, err = execute(t, "create", "next", "--locations", "filesystem:"+dir, "-q")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "V5__next.cql"))
	require.NoError(t, err)
}

func TestCreateInEmptyLocation(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "fresh")
	_, _, err := execute(t, "create", "init", "--locations", "filesystem:"+dir, "-q")
	require.NoError(t, err)
	b, err := os.ReadFile(filepath.Join(dir, "V1__init.cql"))
	require.NoError(t, err)
	assert.Equal(t, "-- write your migration here\n", string(b))
}

func TestCreateRejectsBlankDescription(t *testing.T) {
	_, _, err := execute(t, "create", "  ", "--locations", "filesystem:"+t.TempDir(), "-q")
	require.Error(t, err)
	assert.Equal(t, exitPlanError, exitCode(err))
}

func TestPropertyPrecedence(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "cqlmigratex.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(
		"cassandra.migration.keyspace.name: from_file\n"+
			"cassandra.migration.table.prefix: file_\n"+
			"cassandra.migration.cluster.port: 9142\n"), 0o644))
	t.Setenv(config.KeyspaceName.Env, "from_env")
	t.Setenv(config.AppliedBy.Env, "ci")

	a, _, err := execute(t, "create", "x", "-q",
		"--config", cfgPath,
		"--keyspace", "from_flag",
		"-D", "cassandra.migration.table.prefix=define_",
		"--locations", "filesystem:"+dir,
	)
	require.NoError(t, err)
	assert.Equal(t, "from_flag", a.cfg.Keyspace)
	assert.Equal(t, "define_", a.cfg.TablePrefix)
	assert.Equal(t, 9142, a.cfg.Port)
	assert.Equal(t, "ci", a.cfg.AppliedBy)
}

func TestBadDefine(t *testing.T) {
	_, _, err := execute(t, "create", "x", "-q", "-D", "novalue")
	require.Error(t, err)
	assert.Equal(t, exitPlanError, exitCode(err))
}

func TestValidateWithoutKeyspace(t *testing.T) {
	t.Setenv(config.KeyspaceName.Env, "")
	_, _, err := execute(t, "validate", "-q")
	require.ErrorIs(t, err, config.ErrInvalid)
	assert.Equal(t, exitPlanError, exitCode(err))
}

func TestBannerAndQuiet(t *testing.T) {
	_, out, err := execute(t, "create", "x", "--locations", "filesystem:"+t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out.String(), "cqlmigratex "+Version)

	_, out, err = execute(t, "create", "y", "-q", "--locations", "filesystem:"+t.TempDir())
	require.NoError(t, err)
	assert.NotContains(t, out.String(), "cqlmigratex "+Version)
}

func TestPrintInfo(t *testing.T) {
	out := &bytes.Buffer{}
	a := newApp(out, out)
	a.log = logger.New(false)
	require.NoError(t, a.printInfo(nil))
	assert.Contains(t, out.String(), "No migrations found")

	out.Reset()
	a.log = logger.New(true)
	require.NoError(t, a.printInfo(nil))
	assert.Equal(t, "[]\n", out.String())
}

func TestCleanLogsOnce(t *testing.T) {
	s := cassandratest.New(t)
	s.ExpectQuery("FROM system_schema.views")
	s.ExpectQuery("FROM system_schema.tables", []any{"users"})
	s.ExpectExec(`DROP TABLE IF EXISTS ks."users"`)

	_, out, err := executeWith(t, s, "clean", "--keyspace", "ks")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out.String(), "Cleaned keyspace ks"))
}

func TestValidateStrictReportsPending(t *testing.T) {
	s := cassandratest.New(t)

	_, _, err := executeWith(t, s, "validate", "-q", "--keyspace", "ks")
	require.NoError(t, err)

	_, _, err = executeWith(t, s, "validate", "--strict", "-q", "--keyspace", "ks")
	require.ErrorIs(t, err, migrator.ErrValidation)
	assert.Contains(t, err.Error(), "Detected resolved migration not applied to database: 1")
	assert.Equal(t, exitDrift, exitCode(err))
}
