package migrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/hashicorp/go-multierror"

	"github.com/mirajehossain/cqlmigratex/internal/cassandra"
	"github.com/mirajehossain/cqlmigratex/internal/checksum"
	"github.com/mirajehossain/cqlmigratex/internal/info"
	"github.com/mirajehossain/cqlmigratex/internal/logger"
	"github.com/mirajehossain/cqlmigratex/internal/migration"
	"github.com/mirajehossain/cqlmigratex/internal/resolver"
	"github.com/mirajehossain/cqlmigratex/internal/version"
)

var (
	ErrMigrationFailed        = errors.New("migration failed")
	ErrFailedMigrationPresent = errors.New("keyspace contains a failed migration")
	ErrValidation             = errors.New("validation failed")
	ErrBaseline               = errors.New("baseline refused")
)

type Options struct {
	Target              version.Version
	AllowOutOfOrder     bool
	InstalledBy         string
	TablePrefix         string
	BaselineVersion     version.Version
	BaselineDescription string
	// DryRun reports what migrate or repair would do without writing.
	DryRun bool
}

// Progress is called around every migration attempt with stage "start",
// "success" or "error".
type Progress func(stage string, m *info.Info, a *migration.Applied, err error)

// Store persists applied migrations; *Storage is the Cassandra implementation.
type Store interface {
	info.AppliedSource
	EnsureTables(ctx context.Context) error
	Add(ctx context.Context, a *migration.Applied) error
	UpdateChecksum(ctx context.Context, r *migration.Resolved) error
	Consistency(ctx context.Context) (gocql.Consistency, error)
	// Reset forgets cached table state after the keyspace was cleaned.
	Reset()
}

type Runner struct {
	Session  cassandra.Session
	Storage  Store
	Resolver resolver.Resolver
	Opts     Options
	Log      *logger.Logger
	Progress Progress

	clock func() time.Time
}

func NewRunner(s cassandra.Session, r resolver.Resolver, opts Options, log *logger.Logger) *Runner {
	if opts.Target.IsEmpty() {
		opts.Target = version.Latest
	}
	if strings.TrimSpace(opts.InstalledBy) == "" {
		opts.InstalledBy = "unknown"
	}
	return &Runner{
		Session:  s,
		Storage:  NewStorage(s, opts.TablePrefix, log),
		Resolver: r,
		Opts:     opts,
		Log:      log,
		clock:    time.Now,
	}
}

// Ensure creates the metadata tables if needed.
func (r *Runner) Ensure(ctx context.Context) error {
	return r.Storage.EnsureTables(ctx)
}

func (r *Runner) keyspace() string { return r.Session.Keyspace() }

func (r *Runner) service(pendingOrFuture bool) *info.Service {
	return info.NewService(r.Resolver, r.Storage, r.Opts.Target, r.Opts.AllowOutOfOrder, pendingOrFuture)
}

// Info refreshes and returns the reconciled view.
func (r *Runner) Info(ctx context.Context) (*info.Service, error) {
	svc := r.service(true)
	if err := svc.Refresh(ctx); err != nil {
		return nil, err
	}
	return svc, nil
}

// Migrate applies pending migrations one at a time, re-reading the metadata
// before each, and returns how many succeeded.
func (r *Runner) Migrate(ctx context.Context) (int, error) {
	if r.Opts.DryRun {
		return r.dryRun(ctx)
	}
	started := r.clock()
	applied := 0
	for {
		svc := r.service(true)
		if err := svc.Refresh(ctx); err != nil {
			return applied, err
		}
		current := version.Empty
		if cur := svc.Current(); cur != nil {
			current = cur.Version()
		}
		if applied == 0 {
			r.Log.Info(fmt.Sprintf("Current version of keyspace %s: %s", r.keyspace(), current), nil)
		}
		if err := r.checkBlocking(svc, current); err != nil {
			return applied, err
		}

		pending := svc.Pending()
		if len(pending) == 0 {
			break
		}
		next := pending[0]
		if err := r.apply(ctx, next, next.Version().Less(current)); err != nil {
			return applied, err
		}
		applied++
	}
	r.logSummary(applied, r.clock().Sub(started))
	return applied, nil
}

// checkBlocking warns about future migrations and fails on any failed one,
// except a lone failed future migration.
func (r *Runner) checkBlocking(svc *info.Service, current version.Version) error {
	if len(svc.Future()) > 0 {
		resolved := svc.Resolved()
		if len(resolved) == 0 {
			r.Log.Warn(fmt.Sprintf("Keyspace %s has version %s, but no migration could be resolved in the configured locations", r.keyspace(), current), nil)
		} else {
			r.Log.Warn(fmt.Sprintf("Keyspace %s has a version (%s) that is newer than the latest available migration (%s)",
				r.keyspace(), current, resolved[len(resolved)-1].Version()), nil)
		}
	}
	failed := svc.Failed()
	if len(failed) == 0 {
		return nil
	}
	if len(failed) == 1 && failed[0].State() == info.FutureFailed {
		r.Log.Warn(fmt.Sprintf("Keyspace %s contains a failed future migration to version %s", r.keyspace(), failed[0].Version()), nil)
		return nil
	}
	return fmt.Errorf("%w: keyspace %s, version %s", ErrFailedMigrationPresent, r.keyspace(), failed[0].Version())
}

func (r *Runner) apply(ctx context.Context, m *info.Info, outOfOrder bool) error {
	v := m.Version()
	msg := fmt.Sprintf("Migrating keyspace %s to version %s - %s", r.keyspace(), v, m.Description())
	if outOfOrder {
		msg += " (out of order)"
	}
	r.Log.Info(msg, nil)

	a := &migration.Applied{
		Version:     v,
		Description: m.Description(),
		Type:        m.Type(),
		Script:      m.Script(),
		Checksum:    m.Checksum(),
		InstalledBy: r.Opts.InstalledBy,
	}
	r.progress("start", m, a, nil)

	start := r.clock()
	execErr := m.Resolved.Executor.Execute(ctx, r.Session)
	a.ExecutionTime = int(r.clock().Sub(start).Milliseconds())
	a.Success = execErr == nil

	if execErr != nil {
		r.Log.Error(fmt.Sprintf("Migration of keyspace %s to version %s failed! Please restore backups and roll back database and code!", r.keyspace(), v),
			map[string]any{"error": execErr.Error()})
		var err error = fmt.Errorf("%w: version %s (%s): %w", ErrMigrationFailed, v, m.Script(), execErr)
		if addErr := r.Storage.Add(ctx, a); addErr != nil {
			err = multierror.Append(err, fmt.Errorf("record failed attempt: %w", addErr))
		}
		r.progress("error", m, a, err)
		return err
	}
	if err := r.Storage.Add(ctx, a); err != nil {
		r.progress("error", m, a, err)
		return err
	}
	r.Log.Debug(fmt.Sprintf("Successfully completed migration of keyspace %s to version %s", r.keyspace(), v),
		map[string]any{"execution_ms": a.ExecutionTime})
	r.progress("success", m, a, nil)
	return nil
}

func (r *Runner) progress(stage string, m *info.Info, a *migration.Applied, err error) {
	if r.Progress != nil {
		r.Progress(stage, m, a, err)
	}
}

func (r *Runner) logSummary(n int, d time.Duration) {
	switch n {
	case 0:
		r.Log.Info(fmt.Sprintf("Keyspace %s is up to date. No migration necessary.", r.keyspace()), nil)
	case 1:
		r.Log.Info(fmt.Sprintf("Successfully applied 1 migration to keyspace %s (execution time %s).", r.keyspace(), FormatDuration(d)), nil)
	default:
		r.Log.Info(fmt.Sprintf("Successfully applied %d migrations to keyspace %s (execution time %s).", n, r.keyspace(), FormatDuration(d)), nil)
	}
}

// FormatDuration renders d as mm:ss.SSSs.
func FormatDuration(d time.Duration) string {
	ms := d.Milliseconds()
	return fmt.Sprintf("%02d:%02d.%03ds", ms/60000, (ms/1000)%60, ms%1000)
}

// Validate refreshes and returns the first mismatch, or "". With
// pendingOrFuture false, unapplied and unresolved migrations are reported too.
func (r *Runner) Validate(ctx context.Context, pendingOrFuture bool) (string, error) {
	start := r.clock()
	svc := r.service(pendingOrFuture)
	if err := svc.Refresh(ctx); err != nil {
		return "", err
	}
	msg := svc.Validate()
	r.Log.Info(fmt.Sprintf("Validated %d migrations (execution time %s)", len(svc.All()), FormatDuration(r.clock().Sub(start))), nil)
	return msg, nil
}

// Baseline records a BASELINE marker so that existing keyspaces can adopt
// migrations above the baseline version.
func (r *Runner) Baseline(ctx context.Context) error {
	v, desc := r.Opts.BaselineVersion, r.Opts.BaselineDescription
	if !v.IsNormal() {
		return fmt.Errorf("%w: invalid baseline version %s", ErrBaseline, v)
	}
	if v.Equal(version.MustParse("0")) {
		return fmt.Errorf("%w: version 0 is reserved for the schema marker", ErrBaseline)
	}
	applied, err := r.Storage.FindApplied(ctx)
	if err != nil {
		return err
	}
	for _, a := range applied {
		if a.Type == migration.Baseline {
			if a.Version.Equal(v) && a.Description == desc {
				r.Log.Info(fmt.Sprintf("Keyspace %s already baselined at %s", r.keyspace(), v), nil)
				return nil
			}
			return fmt.Errorf("%w: keyspace %s already baselined at %s (%s)", ErrBaseline, r.keyspace(), a.Version, a.Description)
		}
		if !a.Type.IsSynthetic() {
			return fmt.Errorf("%w: keyspace %s already contains applied migrations", ErrBaseline, r.keyspace())
		}
	}
	err = r.Storage.Add(ctx, &migration.Applied{
		Version:     v,
		Description: desc,
		Type:        migration.Baseline,
		Script:      desc,
		InstalledBy: r.Opts.InstalledBy,
		Success:     true,
	})
	if err != nil {
		return err
	}
	r.Log.Info(fmt.Sprintf("Keyspace %s baselined with version %s", r.keyspace(), v), nil)
	return nil
}

// Repair aligns stored checksums, descriptions and types with the resolved
// migrations and returns how many rows changed.
func (r *Runner) Repair(ctx context.Context) (int, error) {
	svc, err := r.Info(ctx)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, m := range svc.All() {
		res, app := m.Resolved, m.Applied
		if res == nil || app == nil || app.Type.IsSynthetic() {
			continue
		}
		if checksum.Equal(res.Checksum, app.Checksum) && res.Description == app.Description && res.Type == app.Type {
			continue
		}
		r.Log.Info("Repairing metadata", map[string]any{
			"version":  res.Version.String(),
			"checksum": checksum.Format(res.Checksum),
			"was":      checksum.Format(app.Checksum),
			"dry_run":  r.Opts.DryRun,
		})
		changed++
		if r.Opts.DryRun {
			continue
		}
		if err := r.Storage.UpdateChecksum(ctx, res); err != nil {
			return changed - 1, err
		}
	}
	return changed, nil
}

// Clean drops every materialized view, then every table, in the keyspace.
func (r *Runner) Clean(ctx context.Context) error {
	cl, err := r.Storage.Consistency(ctx)
	if err != nil {
		return err
	}
	ks := r.keyspace()
	views, err := r.names(ctx, cl, selectViews)
	if err != nil {
		return err
	}
	tables, err := r.names(ctx, cl, selectTables)
	if err != nil {
		return err
	}

	var result *multierror.Error
	for _, v := range views {
		if err := r.Session.Exec(ctx, cl, fmt.Sprintf(`DROP MATERIALIZED VIEW IF EXISTS %s."%s"`, ks, v)); err != nil {
			result = multierror.Append(result, fmt.Errorf("drop view %s: %w", v, err))
		}
	}
	for _, t := range tables {
		if err := r.Session.Exec(ctx, cl, fmt.Sprintf(`DROP TABLE IF EXISTS %s."%s"`, ks, t)); err != nil {
			result = multierror.Append(result, fmt.Errorf("drop table %s: %w", t, err))
		}
	}
	r.Storage.Reset()
	r.Log.Info(fmt.Sprintf("Cleaned keyspace %s", ks), map[string]any{"views": len(views), "tables": len(tables)})
	return result.ErrorOrNil()
}
