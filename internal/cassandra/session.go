// Package cassandra wraps the gocql driver behind the small Session surface the
// migration engine needs.
package cassandra

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gocql/gocql"
)

var ErrKeyspaceNotFound = errors.New("keyspace does not exist")

// Consistency used for migration bodies.
const DefaultConsistency = gocql.Quorum

// Iter is satisfied by *gocql.Iter.
type Iter interface {
	Scan(dest ...any) bool
	Close() error
}

type Statement struct {
	CQL    string
	Values []any
}

type Session interface {
	Exec(ctx context.Context, cl gocql.Consistency, stmt string, values ...any) error
	Iter(ctx context.Context, cl gocql.Consistency, stmt string, values ...any) Iter
	// Batch runs stmts as one logged batch.
	Batch(ctx context.Context, cl gocql.Consistency, stmts ...Statement) error
	// NodeCount is the number of nodes this client can see, itself included.
	NodeCount(ctx context.Context) (int, error)
	Keyspace() string
}

type ClusterConfig struct {
	ContactPoints []string
	Port          int
	Username      string
	Password      string
	Keyspace      string
	Timeout       time.Duration
}

func (c ClusterConfig) cluster() *gocql.ClusterConfig {
	cluster := gocql.NewCluster(c.ContactPoints...)
	if c.Port > 0 {
		cluster.Port = c.Port
	}
	if strings.TrimSpace(c.Username) != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{Username: c.Username, Password: c.Password}
	}
	if c.Timeout > 0 {
		cluster.Timeout = c.Timeout
		cluster.ConnectTimeout = c.Timeout
	}
	cluster.Consistency = DefaultConsistency
	return cluster
}

// Open connects, verifies the keyspace exists and returns a session bound to it.
func Open(ctx context.Context, cfg ClusterConfig) (*GocqlSession, error) {
	probe, err := createSession(ctx, cfg.cluster(), cfg.Timeout)
	if err != nil {
		return nil, err
	}
	exists, err := KeyspaceExists(ctx, &GocqlSession{s: probe}, cfg.Keyspace)
	probe.Close()
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrKeyspaceNotFound, cfg.Keyspace)
	}

	cluster := cfg.cluster()
	cluster.Keyspace = cfg.Keyspace
	s, err := createSession(ctx, cluster, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	return &GocqlSession{s: s, keyspace: cfg.Keyspace}, nil
}

func createSession(ctx context.Context, cluster *gocql.ClusterConfig, timeout time.Duration) (*gocql.Session, error) {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second
	if timeout > 0 {
		b.MaxElapsedTime = 3 * timeout
	}
	var s *gocql.Session
	err := backoff.Retry(func() error {
		var err error
		s, err = cluster.CreateSession()
		return err
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return nil, fmt.Errorf("connect to cluster %v: %w", cluster.Hosts, err)
	}
	return s, nil
}

// KeyspaceExists consults system_schema on the node the query lands on.
func KeyspaceExists(ctx context.Context, s Session, name string) (bool, error) {
	iter := s.Iter(ctx, gocql.One,
		`SELECT keyspace_name FROM system_schema.keyspaces WHERE keyspace_name = ?`, strings.ToLower(name))
	var got string
	found := iter.Scan(&got)
	if err := iter.Close(); err != nil {
		return false, err
	}
	return found, nil
}

type GocqlSession struct {
	s        *gocql.Session
	keyspace string
}

func (g *GocqlSession) Exec(ctx context.Context, cl gocql.Consistency, stmt string, values ...any) error {
	return g.s.Query(stmt, values...).WithContext(ctx).Consistency(cl).Exec()
}

func (g *GocqlSession) Iter(ctx context.Context, cl gocql.Consistency, stmt string, values ...any) Iter {
	return g.s.Query(stmt, values...).WithContext(ctx).Consistency(cl).Iter()
}

func (g *GocqlSession) Batch(ctx context.Context, cl gocql.Consistency, stmts ...Statement) error {
	if len(stmts) == 0 {
		return nil
	}
	b := g.s.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	for _, st := range stmts {
		b.Query(st.CQL, st.Values...)
	}
	b.SetConsistency(cl)
	return g.s.ExecuteBatch(b)
}

func (g *GocqlSession) NodeCount(ctx context.Context) (int, error) {
	iter := g.Iter(ctx, gocql.One, `SELECT peer FROM system.peers`)
	n := 1
	var peer net.IP
	for iter.Scan(&peer) {
		n++
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}
	return n, nil
}

func (g *GocqlSession) Keyspace() string { return g.keyspace }

// Raw exposes the driver session to code migrations that need more than Session offers.
func (g *GocqlSession) Raw() *gocql.Session { return g.s }

func (g *GocqlSession) Close() {
	if g.s != nil {
		g.s.Close()
	}
}
