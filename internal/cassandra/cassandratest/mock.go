// Package cassandratest provides a testify mock of cassandra.Session and an
// in-memory Iter for scripted result rows.
package cassandratest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/stretchr/testify/mock"

	"github.com/mirajehossain/cqlmigratex/internal/cassandra"
)

// Session mocks cassandra.Session. Exec and Iter are called with
// (consistency, statement, values) and Batch with (consistency, statements).
// NodeCount and Keyspace report the plain fields.
type Session struct {
	mock.Mock
	Nodes int
	Name  string
}

var _ cassandra.Session = (*Session)(nil)

// New returns a single-node session for keyspace "ks" whose expectations are
// asserted when the test ends.
func New(t interface {
	mock.TestingT
	Cleanup(func())
}) *Session {
	s := &Session{Nodes: 1, Name: "ks"}
	s.Mock.Test(t)
	t.Cleanup(func() { s.AssertExpectations(t) })
	return s
}

func (s *Session) Exec(_ context.Context, cl gocql.Consistency, stmt string, values ...any) error {
	args := s.Called(cl, stmt, values)
	return args.Error(0)
}

func (s *Session) Iter(_ context.Context, cl gocql.Consistency, stmt string, values ...any) cassandra.Iter {
	args := s.Called(cl, stmt, values)
	return args.Get(0).(cassandra.Iter)
}

func (s *Session) Batch(_ context.Context, cl gocql.Consistency, stmts ...cassandra.Statement) error {
	args := s.Called(cl, stmts)
	return args.Error(0)
}

func (s *Session) NodeCount(context.Context) (int, error) { return s.Nodes, nil }

func (s *Session) Keyspace() string { return s.Name }

// ExpectExec expects one Exec of a statement containing substr, at any
// consistency and with any values.
func (s *Session) ExpectExec(substr string) *mock.Call {
	return s.On("Exec", mock.Anything, Stmt(substr), mock.Anything).Return(nil).Once()
}

// ExpectQuery expects one Iter of a statement containing substr and returns rows.
func (s *Session) ExpectQuery(substr string, rows ...[]any) *mock.Call {
	return s.On("Iter", mock.Anything, Stmt(substr), mock.Anything).Return(Rows(rows...)).Once()
}

// Stmt matches a statement containing substr.
func Stmt(substr string) any {
	return mock.MatchedBy(func(stmt string) bool { return strings.Contains(stmt, substr) })
}

// Args matches bound values exactly. Args() matches a statement without values.
func Args(values ...any) []any {
	if len(values) == 0 {
		return nil
	}
	return values
}

// Iter yields scripted rows. Columns are not converted: each must hold the
// destination's exact type, or nil to zero it.
type Iter struct {
	rows [][]any
	pos  int
	err  error
}

var _ cassandra.Iter = (*Iter)(nil)

func Rows(rows ...[]any) *Iter { return &Iter{rows: rows} }

// Failing returns an Iter with no rows whose Close reports err.
func Failing(err error) *Iter { return &Iter{err: err} }

func (it *Iter) Scan(dest ...any) bool {
	if it.err != nil || it.pos >= len(it.rows) {
		return false
	}
	row := it.rows[it.pos]
	it.pos++
	if len(row) != len(dest) {
		it.err = fmt.Errorf("row has %d columns, scan wants %d", len(row), len(dest))
		return false
	}
	for i, d := range dest {
		if err := assign(d, row[i]); err != nil {
			it.err = fmt.Errorf("column %d: %w", i, err)
			return false
		}
	}
	return true
}

func (it *Iter) Close() error { return it.err }

func assign(dest, val any) error {
	switch d := dest.(type) {
	case *string:
		return put(d, val)
	case *int:
		return put(d, val)
	case *int32:
		return put(d, val)
	case *int64:
		return put(d, val)
	case *bool:
		return put(d, val)
	case *time.Time:
		return put(d, val)
	case **int32:
		return putPtr(d, val)
	default:
		return fmt.Errorf("unsupported scan destination %T", dest)
	}
}

func put[T any](d *T, val any) error {
	if val == nil {
		var zero T
		*d = zero
		return nil
	}
	v, ok := val.(T)
	if !ok {
		return fmt.Errorf("cannot scan %T into %T", val, d)
	}
	*d = v
	return nil
}

func putPtr[T any](d **T, val any) error {
	switch v := val.(type) {
	case nil:
		*d = nil
	case *T:
		*d = v
	case T:
		*d = &v
	default:
		return fmt.Errorf("cannot scan %T into %T", val, d)
	}
	return nil
}
