package main

import (
	"fmt"
	"math/big"
	"path"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/mirajehossain/cqlmigratex/internal/fsutil"
	"github.com/mirajehossain/cqlmigratex/internal/info"
	"github.com/mirajehossain/cqlmigratex/internal/migration"
	"github.com/mirajehossain/cqlmigratex/internal/migrator"
	"github.com/mirajehossain/cqlmigratex/internal/resolver"
)

func (a *app) migrateCommand() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, closeFn, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			r.Opts.DryRun = dryRun
			r.Progress = a.progress

			n, err := r.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			a.log.Debug("migrate complete", map[string]any{"applied": n, "dry_run": dryRun})
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Plan only; do not execute CQL")
	return cmd
}

func (a *app) validateCommand() *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate applied migrations against resolved ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, closeFn, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			msg, err := r.Validate(cmd.Context(), !strict)
			if err != nil {
				return err
			}
			if msg != "" {
				return fmt.Errorf("%w: %s", migrator.ErrValidation, msg)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "Also report pending and unresolved migrations")
	return cmd
}

func (a *app) cleanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Drop all tables and materialized views in the keyspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, closeFn, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			return r.Clean(cmd.Context())
		},
	}
}

func (a *app) infoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print the state of every migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, closeFn, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			svc, err := r.Info(cmd.Context())
			if err != nil {
				return err
			}
			return a.printInfo(svc.All())
		},
	}
}

func (a *app) baselineCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "baseline",
		Short: "Mark an existing keyspace as migrated up to the baseline version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, closeFn, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			return r.Baseline(cmd.Context())
		},
	}
}

func (a *app) repairCommand() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Update stored checksums to the current scripts (use after intentional edits)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, closeFn, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			r.Opts.DryRun = dryRun
			changed, err := r.Repair(cmd.Context())
			if err != nil {
				return err
			}
			a.log.Info("repair complete", map[string]any{"updated": changed, "dry_run": dryRun})
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report changes without writing")
	return cmd
}

func (a *app) createCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create <description>",
		Short: "Scaffold V<next>__<description>.cql in the first writable location",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			p, err := a.create(args[0])
			if err != nil {
				return err
			}
			a.log.Info("created migration", map[string]any{"file": p})
			return nil
		},
	}
}

// create writes an empty script numbered one major version above the highest
// resolved migration.
func (a *app) create(description string) (string, error) {
	desc := sanitize(description)
	if desc == "" {
		return "", fmt.Errorf("%w: create requires a non-empty <description>", errUsage)
	}
	locs, err := fsutil.NewLocations(a.cfg.Locations, a.log)
	if err != nil {
		return "", err
	}
	dir, err := a.writableDir(locs)
	if err != nil {
		return "", err
	}
	comp, err := a.resolver()
	if err != nil {
		return "", err
	}
	resolved, err := comp.Resolve()
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("%s%s%s%s%s", resolver.Prefix, nextMajor(resolved), resolver.Separator, desc, resolver.CQLSuffix)
	p := path.Join(dir, name)
	if err := a.files.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if ok, err := afero.Exists(a.files, p); err != nil {
		return "", err
	} else if ok {
		return "", fmt.Errorf("%w: %s already exists", errUsage, p)
	}
	if err := afero.WriteFile(a.files, p, []byte("-- write your migration here\n"), 0o644); err != nil {
		return "", err
	}
	return p, nil
}

// writableDir picks the first filesystem location, falling back to a
// classpath location when classpath is the working directory.
func (a *app) writableDir(locs []fsutil.Location) (string, error) {
	for _, l := range locs {
		if l.IsFilesystem() {
			return l.Path, nil
		}
	}
	if a.embedded == nil {
		for _, l := range locs {
			if l.Path != "" {
				return l.Path, nil
			}
		}
	}
	return "", fmt.Errorf("%w: no writable scripts location configured", errUsage)
}

func nextMajor(resolved []*migration.Resolved) string {
	next := big.NewInt(1)
	for _, r := range resolved {
		m := r.Version.Major()
		if m == nil {
			continue
		}
		if m.Cmp(next) >= 0 {
			next = m.Add(m, big.NewInt(1))
		}
	}
	return next.String()
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return s
}

// progress logs per-migration stages when --verbose is set.
func (a *app) progress(stage string, m *info.Info, row *migration.Applied, err error) {
	if !a.verbose {
		return
	}
	fields := map[string]any{
		"version":     m.Version().String(),
		"description": m.Description(),
		"type":        m.Type().String(),
	}
	if row != nil {
		fields["installed_rank"] = row.InstalledRank
		fields["version_rank"] = row.VersionRank
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	switch stage {
	case "start":
		a.log.Info("migrate.start", fields)
	case "success":
		if row != nil {
			fields["duration_ms"] = row.ExecutionTime
		}
		a.log.Info("migrate.success", fields)
	case "error":
		a.log.Error("migrate.error", fields)
	}
}
