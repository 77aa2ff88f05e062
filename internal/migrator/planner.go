package migrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/gocql/gocql"

	"github.com/mirajehossain/cqlmigratex/internal/info"
	"github.com/mirajehossain/cqlmigratex/internal/version"
)

// Plan is a snapshot of what migrate would do next.
type Plan struct {
	Current *info.Info
	Pending []*info.Info
	Applied []*info.Info
	All     []*info.Info
}

// Plan refreshes the reconciled view and splits it into pending and applied
// migrations. A failed migration makes the plan fail.
func (r *Runner) Plan(ctx context.Context) (*Plan, error) {
	svc, err := r.Info(ctx)
	if err != nil {
		return nil, err
	}
	current := svc.Current()
	cv := version.Empty
	if current != nil {
		cv = current.Version()
	}
	if err := r.checkBlocking(svc, cv); err != nil {
		return nil, err
	}
	r.Log.Debug("plan computed", map[string]any{"current": cv.String(), "pending": len(svc.Pending())})
	return &Plan{
		Current: current,
		Pending: svc.Pending(),
		Applied: svc.Applied(),
		All:     svc.All(),
	}, nil
}

// dryRun reports the pending migrations through Progress without executing
// or recording them.
func (r *Runner) dryRun(ctx context.Context) (int, error) {
	plan, err := r.Plan(ctx)
	if err != nil {
		return 0, err
	}
	for _, m := range plan.Pending {
		r.Log.Info(fmt.Sprintf("Would migrate keyspace %s to version %s - %s", r.keyspace(), m.Version(), m.Description()), nil)
		r.progress("start", m, nil, nil)
		r.progress("success", m, nil, nil)
	}
	return len(plan.Pending), nil
}

func (r *Runner) names(ctx context.Context, cl gocql.Consistency, query string) ([]string, error) {
	iter := r.Session.Iter(ctx, cl, query, strings.ToLower(r.keyspace()))
	var (
		out  []string
		name string
	)
	for iter.Scan(&name) {
		out = append(out, name)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("list keyspace objects: %w", err)
	}
	return out, nil
}
