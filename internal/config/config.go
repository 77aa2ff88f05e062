package config

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/text/encoding/ianaindex"
	"gopkg.in/yaml.v3"

	"github.com/mirajehossain/cqlmigratex/internal/version"
)

var ErrInvalid = errors.New("invalid configuration")

// Property pairs a property name with the environment variable consulted when
// the property is absent.
type Property struct {
	Name        string
	Env         string
	Description string
}

var (
	KeyspaceName        = Property{"cassandra.migration.keyspace.name", "CASSANDRA_MIGRATION_KEYSPACE_NAME", "Name of Cassandra keyspace"}
	ContactPoints       = Property{"cassandra.migration.cluster.contactpoints", "CASSANDRA_MIGRATION_CLUSTER_CONTACTPOINTS", "Comma separated values of node IP addresses"}
	Port                = Property{"cassandra.migration.cluster.port", "CASSANDRA_MIGRATION_CLUSTER_PORT", "CQL native transport port"}
	Username            = Property{"cassandra.migration.cluster.username", "CASSANDRA_MIGRATION_CLUSTER_USERNAME", "Username for password authenticator"}
	Password            = Property{"cassandra.migration.cluster.password", "CASSANDRA_MIGRATION_CLUSTER_PASSWORD", "Password for password authenticator"}
	Timeout             = Property{"cassandra.migration.cluster.timeout", "CASSANDRA_MIGRATION_CLUSTER_TIMEOUT", "Connect and request timeout"}
	ScriptsLocations    = Property{"cassandra.migration.scripts.locations", "CASSANDRA_MIGRATION_SCRIPTS_LOCATIONS", "Locations of the migration scripts in CSV format"}
	ScriptsEncoding     = Property{"cassandra.migration.scripts.encoding", "CASSANDRA_MIGRATION_SCRIPTS_ENCODING", "Encoding for CQL scripts"}
	AllowOutOfOrder     = Property{"cassandra.migration.scripts.allowoutoforder", "CASSANDRA_MIGRATION_SCRIPTS_ALLOWOUTOFORDER", "Allow out of order migration"}
	TargetVersion       = Property{"cassandra.migration.version.target", "CASSANDRA_MIGRATION_VERSION_TARGET", "The target version. Migrations with a higher version number will be ignored."}
	TablePrefix         = Property{"cassandra.migration.table.prefix", "CASSANDRA_MIGRATION_TABLE_PREFIX", "Prefix for the migration metadata tables"}
	AppliedBy           = Property{"cassandra.migration.applied.by", "CASSANDRA_MIGRATION_APPLIED_BY", "Recorded as installed_by"}
	BaselineVersion     = Property{"cassandra.migration.baseline.version", "CASSANDRA_MIGRATION_BASELINE_VERSION", "Version recorded by baseline"}
	BaselineDescription = Property{"cassandra.migration.baseline.description", "CASSANDRA_MIGRATION_BASELINE_DESCRIPTION", "Description recorded by baseline"}
)

// All lists every supported property, for usage output.
var All = []Property{
	KeyspaceName, ContactPoints, Port, Username, Password, Timeout,
	ScriptsLocations, ScriptsEncoding, AllowOutOfOrder, TargetVersion,
	TablePrefix, AppliedBy, BaselineVersion, BaselineDescription,
}

const (
	DefaultLocation            = "db/migration"
	DefaultEncoding            = "UTF-8"
	DefaultBaselineDescription = "<< Cassandra Baseline >>"
	DefaultTimeout             = 10 * time.Second
)

type Config struct {
	Keyspace            string
	ContactPoints       []string
	Port                int
	Username            string
	Password            string
	Timeout             time.Duration
	Locations           []string
	Encoding            string
	AllowOutOfOrder     bool
	Target              version.Version
	TablePrefix         string
	AppliedBy           string
	BaselineVersion     version.Version
	BaselineDescription string
}

func Default() *Config {
	return &Config{
		ContactPoints:       []string{"localhost"},
		Port:                9042,
		Timeout:             DefaultTimeout,
		Locations:           []string{DefaultLocation},
		Encoding:            DefaultEncoding,
		Target:              version.Latest,
		BaselineVersion:     version.MustParse("1"),
		BaselineDescription: DefaultBaselineDescription,
	}
}

// Properties holds explicitly set property values (from a property file or flags).
type Properties map[string]string

// Get returns the property value, falling back to the environment only when the
// property is absent.
func (p Properties) Get(prop Property) (string, bool) {
	if v, ok := p[prop.Name]; ok && strings.TrimSpace(v) != "" {
		return v, true
	}
	if v, ok := os.LookupEnv(prop.Env); ok && strings.TrimSpace(v) != "" {
		return v, true
	}
	return "", false
}

// Merge copies other over p; later sources win.
func (p Properties) Merge(other Properties) Properties {
	out := Properties{}
	for k, v := range p {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// LoadYAML reads a flat YAML map of property names.
func LoadYAML(path string) (Properties, error) {
	props := Properties{}
	if path == "" {
		return props, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return props, err
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return props, err
	}
	for k, v := range raw {
		switch vv := v.(type) {
		case nil:
		case []any:
			items := make([]string, 0, len(vv))
			for _, it := range vv {
				items = append(items, fmt.Sprint(it))
			}
			props[k] = strings.Join(items, ",")
		default:
			props[k] = fmt.Sprint(vv)
		}
	}
	return props, nil
}

// LoadEnvFile loads a dotenv file without overriding variables already set.
// A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// FromProperties resolves every property over the defaults.
func FromProperties(p Properties) (*Config, error) {
	cfg := Default()
	if v, ok := p.Get(KeyspaceName); ok {
		cfg.Keyspace = strings.TrimSpace(v)
	}
	if v, ok := p.Get(ContactPoints); ok {
		cfg.ContactPoints = splitCSV(v)
	}
	if v, ok := p.Get(Port); ok {
		i, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return cfg, fmt.Errorf("%w: %s=%q is not a number", ErrInvalid, Port.Name, v)
		}
		cfg.Port = i
	}
	if v, ok := p.Get(Username); ok {
		cfg.Username = v
	}
	if v, ok := p.Get(Password); ok {
		cfg.Password = v
	}
	if v, ok := p.Get(Timeout); ok {
		d, err := parseTimeout(v)
		if err != nil {
			return cfg, fmt.Errorf("%w: %s=%q: %v", ErrInvalid, Timeout.Name, v, err)
		}
		cfg.Timeout = d
	}
	if v, ok := p.Get(ScriptsLocations); ok {
		cfg.Locations = splitCSV(v)
	}
	if v, ok := p.Get(ScriptsEncoding); ok {
		cfg.Encoding = strings.TrimSpace(v)
	}
	if v, ok := p.Get(AllowOutOfOrder); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return cfg, fmt.Errorf("%w: %s=%q is not a boolean", ErrInvalid, AllowOutOfOrder.Name, v)
		}
		cfg.AllowOutOfOrder = b
	}
	if v, ok := p.Get(TargetVersion); ok {
		t, err := version.Parse(strings.TrimSpace(v))
		if err != nil {
			return cfg, fmt.Errorf("%w: %s: %v", ErrInvalid, TargetVersion.Name, err)
		}
		cfg.Target = t
	}
	if v, ok := p.Get(TablePrefix); ok {
		cfg.TablePrefix = strings.TrimSpace(v)
	}
	if v, ok := p.Get(AppliedBy); ok {
		cfg.AppliedBy = v
	}
	if v, ok := p.Get(BaselineVersion); ok {
		b, err := version.Parse(strings.TrimSpace(v))
		if err != nil {
			return cfg, fmt.Errorf("%w: %s: %v", ErrInvalid, BaselineVersion.Name, err)
		}
		cfg.BaselineVersion = b
	}
	if v, ok := p.Get(BaselineDescription); ok {
		cfg.BaselineDescription = v
	}
	return cfg, nil
}

// Validate checks everything that must hold before connecting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Keyspace) == "" {
		return fmt.Errorf("%w: keyspace name not specified (%s or %s)", ErrInvalid, KeyspaceName.Name, KeyspaceName.Env)
	}
	if len(c.ContactPoints) == 0 {
		return fmt.Errorf("%w: cluster is not configured (%s)", ErrInvalid, ContactPoints.Name)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port %d", ErrInvalid, c.Port)
	}
	if strings.TrimSpace(c.Username) != "" && strings.TrimSpace(c.Password) == "" {
		return fmt.Errorf("%w: password must be provided with username", ErrInvalid)
	}
	if len(c.Locations) == 0 {
		return fmt.Errorf("%w: no scripts locations configured", ErrInvalid)
	}
	if _, err := Encoding(c.Encoding); err != nil {
		return err
	}
	return nil
}

// Encoding resolves an IANA charset name. UTF-8 is always accepted.
func Encoding(name string) (string, error) {
	if name == "" || strings.EqualFold(name, "UTF-8") || strings.EqualFold(name, "UTF8") {
		return DefaultEncoding, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return "", fmt.Errorf("%w: unsupported scripts encoding %q", ErrInvalid, name)
	}
	return name, nil
}

// parseTimeout accepts a Go duration ("10s", "1m30s") or whole seconds ("10").
func parseTimeout(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	d, err := time.ParseDuration(v)
	if err != nil {
		secs, convErr := strconv.Atoi(v)
		if convErr != nil {
			return 0, errors.New("not a duration or a number of seconds")
		}
		d = time.Duration(secs) * time.Second
	}
	if d <= 0 {
		return 0, errors.New("must be positive")
	}
	return d, nil
}

// InstalledBy picks the applied_by value: explicit setting, then cluster
// username, then the OS user.
func (c *Config) InstalledBy() string {
	if strings.TrimSpace(c.AppliedBy) != "" {
		return c.AppliedBy
	}
	if strings.TrimSpace(c.Username) != "" {
		return c.Username
	}
	u, err := user.Current()
	if err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
