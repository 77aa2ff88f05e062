package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/mirajehossain/cqlmigratex/internal/cassandra"
	"github.com/mirajehossain/cqlmigratex/internal/config"
	"github.com/mirajehossain/cqlmigratex/internal/fsutil"
	"github.com/mirajehossain/cqlmigratex/internal/logger"
	"github.com/mirajehossain/cqlmigratex/internal/migrator"
	"github.com/mirajehossain/cqlmigratex/internal/resolver"
	"github.com/mirajehossain/cqlmigratex/internal/version"
)

// Version is set at build time.
var Version = "dev"

const (
	exitOK               = 0
	exitDrift            = 2
	exitFail             = 4
	exitPlanError        = 5
	exitKeyspaceNotFound = 6
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a := newApp(os.Stdout, os.Stderr)
	root := a.rootCommand()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		a.fail(err)
		return exitCode(err)
	}
	return exitOK
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, migrator.ErrValidation):
		return exitDrift
	case errors.Is(err, cassandra.ErrKeyspaceNotFound):
		return exitKeyspaceNotFound
	case errors.Is(err, migrator.ErrMigrationFailed), errors.Is(err, migrator.ErrFailedMigrationPresent):
		return exitFail
	case errors.Is(err, config.ErrInvalid),
		errors.Is(err, version.ErrInvalidFormat),
		errors.Is(err, fsutil.ErrUnknownPrefix),
		errors.Is(err, resolver.ErrMalformedName),
		errors.Is(err, resolver.ErrMissingDescription),
		errors.Is(err, resolver.ErrConflictingVersion),
		errors.Is(err, migrator.ErrBaseline),
		errors.Is(err, errUsage):
		return exitPlanError
	default:
		return exitFail
	}
}

var errUsage = errors.New("usage")

// propertyFlags maps CLI flags onto configuration properties.
var propertyFlags = []struct {
	flag string
	prop config.Property
}{
	{"keyspace", config.KeyspaceName},
	{"contact-points", config.ContactPoints},
	{"port", config.Port},
	{"username", config.Username},
	{"password", config.Password},
	{"timeout", config.Timeout},
	{"locations", config.ScriptsLocations},
	{"encoding", config.ScriptsEncoding},
	{"out-of-order", config.AllowOutOfOrder},
	{"target", config.TargetVersion},
	{"table-prefix", config.TablePrefix},
	{"applied-by", config.AppliedBy},
	{"baseline-version", config.BaselineVersion},
	{"baseline-description", config.BaselineDescription},
}

type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	envFile    string
	defines    []string
	debug      bool
	quiet      bool
	jsonOut    bool
	verbose    bool
	props      map[string]*string

	// embedded backs classpath: locations; nil means the working directory.
	embedded fs.FS
	files    afero.Fs
	// connect assembles the runner for database commands.
	connect  func(ctx context.Context) (*migrator.Runner, func(), error)

	log           *logger.Logger
	cfg           *config.Config
	bannerPrinted bool
}

func newApp(stdout, stderr io.Writer) *app {
	a := &app{stdout: stdout, stderr: stderr, files: afero.NewOsFs(), props: map[string]*string{}}
	a.connect = a.runner
	return a
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "cqlmigratex",
		Short:         "Versioned schema migrations for Cassandra keyspaces",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	pf := root.PersistentFlags()
	pf.BoolVarP(&a.debug, "debug", "X", false, "Print debug output")
	pf.BoolVarP(&a.quiet, "quiet", "q", false, "Suppress all output, except for errors and warnings")
	pf.BoolVar(&a.jsonOut, "json", false, "JSON logs")
	pf.BoolVar(&a.verbose, "verbose", false, "Verbose per-migration logs")
	pf.StringVar(&a.configPath, "config", "", "Optional YAML property file")
	pf.StringVar(&a.envFile, "env-file", ".env", "Optional dotenv file; existing variables win")
	pf.StringArrayVarP(&a.defines, "define", "D", nil, "Set a property, e.g. -D cassandra.migration.keyspace.name=shop")
	for _, pfl := range propertyFlags {
		a.props[pfl.flag] = pf.String(pfl.flag, "", pfl.prop.Description+" ("+pfl.prop.Env+")")
	}

	root.AddCommand(
		a.migrateCommand(),
		a.validateCommand(),
		a.cleanCommand(),
		a.infoCommand(),
		a.baselineCommand(),
		a.repairCommand(),
		a.createCommand(),
	)
	return root
}

// setup loads configuration and configures logging before any command runs.
func (a *app) setup(cmd *cobra.Command) error {
	a.log = logger.New(a.jsonOut)
	a.log.SetOutput(a.stdout)
	switch {
	case a.debug:
		a.log.SetLevel(logger.LevelDebug)
	case a.quiet:
		a.log.SetLevel(logger.LevelQuiet)
	}
	a.printBanner()

	if err := config.LoadEnvFile(a.envFile); err != nil {
		return fmt.Errorf("%w: env file %s: %v", config.ErrInvalid, a.envFile, err)
	}
	fileProps, err := config.LoadYAML(a.configPath)
	if err != nil {
		return fmt.Errorf("%w: property file %s: %v", config.ErrInvalid, a.configPath, err)
	}
	flagProps, err := a.flagProperties(cmd)
	if err != nil {
		return err
	}
	cfg, err := config.FromProperties(fileProps.Merge(flagProps))
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

func (a *app) printBanner() {
	if a.bannerPrinted {
		return
	}
	a.bannerPrinted = true
	a.log.Info("cqlmigratex "+Version, nil)
}

// flagProperties collects -D definitions and explicitly set property flags.
func (a *app) flagProperties(cmd *cobra.Command) (config.Properties, error) {
	props := config.Properties{}
	for _, d := range a.defines {
		k, v, ok := strings.Cut(d, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("%w: -D expects name=value, got %q", errUsage, d)
		}
		props[strings.TrimSpace(k)] = v
	}
	for _, pfl := range propertyFlags {
		if cmd.Flags().Changed(pfl.flag) {
			props[pfl.prop.Name] = *a.props[pfl.flag]
		}
	}
	return props, nil
}

func (a *app) fail(err error) {
	red := color.New(color.FgRed, color.Bold)
	red.Fprintf(a.stderr, "ERROR: ")
	fmt.Fprintln(a.stderr, err)
}

// runner validates the configuration, connects and assembles the migration
// runner. The returned func closes the session.
func (a *app) runner(ctx context.Context) (*migrator.Runner, func(), error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, nil, err
	}
	comp, err := a.resolver()
	if err != nil {
		return nil, nil, err
	}
	session, err := cassandra.Open(ctx, cassandra.ClusterConfig{
		ContactPoints: a.cfg.ContactPoints,
		Port:          a.cfg.Port,
		Username:      a.cfg.Username,
		Password:      a.cfg.Password,
		Keyspace:      a.cfg.Keyspace,
		Timeout:       a.cfg.Timeout,
	})
	if err != nil {
		return nil, nil, err
	}
	r := migrator.NewRunner(session, comp, migrator.Options{
		Target:              a.cfg.Target,
		AllowOutOfOrder:     a.cfg.AllowOutOfOrder,
		InstalledBy:         a.cfg.InstalledBy(),
		TablePrefix:         a.cfg.TablePrefix,
		BaselineVersion:     a.cfg.BaselineVersion,
		BaselineDescription: a.cfg.BaselineDescription,
	}, a.log)
	return r, session.Close, nil
}

func (a *app) resolver() (*resolver.Composite, error) {
	locs, err := fsutil.NewLocations(a.cfg.Locations, a.log)
	if err != nil {
		return nil, err
	}
	scanner := fsutil.NewScanner(a.embedded)
	return resolver.NewComposite(scanner, resolver.DefaultRegistry(), locs, a.cfg.Encoding, a.log), nil
}
