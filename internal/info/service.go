package info

import (
	"context"

	"github.com/mirajehossain/cqlmigratex/internal/migration"
	"github.com/mirajehossain/cqlmigratex/internal/resolver"
	"github.com/mirajehossain/cqlmigratex/internal/version"
)

// AppliedSource reads the applied migrations; the metadata store implements it.
type AppliedSource interface {
	FindApplied(ctx context.Context) ([]*migration.Applied, error)
}

// Service holds the result of the latest Refresh.
type Service struct {
	resolver        resolver.Resolver
	store           AppliedSource
	target          version.Version
	outOfOrder      bool
	pendingOrFuture bool

	infos []*Info
}

func NewService(r resolver.Resolver, store AppliedSource, target version.Version, outOfOrder, pendingOrFuture bool) *Service {
	return &Service{
		resolver:        r,
		store:           store,
		target:          target,
		outOfOrder:      outOfOrder,
		pendingOrFuture: pendingOrFuture,
	}
}

// Refresh re-resolves and re-reads the applied migrations. A CURRENT target
// is pinned to the current version, or Empty when nothing is applied.
func (s *Service) Refresh(ctx context.Context) error {
	resolved, err := s.resolver.Resolve()
	if err != nil {
		return err
	}
	applied, err := s.store.FindApplied(ctx)
	if err != nil {
		return err
	}
	s.infos = Merge(resolved, applied, s.context())
	if s.target.IsCurrent() {
		s.target = version.Empty
		if cur := s.Current(); cur != nil {
			s.target = cur.Version()
		}
		s.infos = Merge(resolved, applied, s.context())
	}
	return nil
}

func (s *Service) context() Context {
	return Context{Target: s.target, OutOfOrder: s.outOfOrder, PendingOrFuture: s.pendingOrFuture}
}

// Target is the effective target after the last Refresh.
func (s *Service) Target() version.Version { return s.target }

func (s *Service) All() []*Info { return s.infos }

// Current is the highest applied migration, or nil.
func (s *Service) Current() *Info {
	for i := len(s.infos) - 1; i >= 0; i-- {
		if s.infos[i].State().IsApplied() {
			return s.infos[i]
		}
	}
	return nil
}

func (s *Service) Pending() []*Info {
	return s.filter(func(st State) bool { return st == Pending })
}

func (s *Service) Applied() []*Info {
	return s.filter(State.IsApplied)
}

func (s *Service) Resolved() []*Info {
	return s.filter(State.IsResolved)
}

func (s *Service) Failed() []*Info {
	return s.filter(State.IsFailed)
}

func (s *Service) Future() []*Info {
	return s.filter(func(st State) bool { return st == FutureSuccess || st == FutureFailed })
}

func (s *Service) OutOfOrder() []*Info {
	return s.filter(func(st State) bool { return st == OutOfOrder })
}

func (s *Service) filter(keep func(State) bool) []*Info {
	var out []*Info
	for _, i := range s.infos {
		if keep(i.State()) {
			out = append(out, i)
		}
	}
	return out
}

// Validate returns the first validation message, or "".
func (s *Service) Validate() string {
	for _, i := range s.infos {
		if msg := i.Validate(); msg != "" {
			return msg
		}
	}
	return ""
}
