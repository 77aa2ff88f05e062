package fsutil

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	ClasspathPrefix  = "classpath:"
	FilesystemPrefix = "filesystem:"
)

var ErrUnknownPrefix = errors.New("unknown prefix for location")

// Location is a normalized scan root such as classpath:db/migration.
type Location struct {
	Prefix string
	Path   string
}

func ParseLocation(descriptor string) (Location, error) {
	d := strings.ReplaceAll(strings.TrimSpace(descriptor), `\`, "/")
	loc := Location{Prefix: ClasspathPrefix, Path: d}
	if i := strings.Index(d, ":"); i >= 0 {
		loc.Prefix, loc.Path = d[:i+1], d[i+1:]
	}
	switch {
	case loc.IsClasspath():
		loc.Path = strings.TrimPrefix(strings.ReplaceAll(loc.Path, ".", "/"), "/")
	case !loc.IsFilesystem():
		return Location{}, fmt.Errorf("%w: must be %s or %s: %s", ErrUnknownPrefix, ClasspathPrefix, FilesystemPrefix, d)
	}
	loc.Path = strings.TrimSuffix(loc.Path, "/")
	return loc, nil
}

func (l Location) IsClasspath() bool  { return l.Prefix == ClasspathPrefix }
func (l Location) IsFilesystem() bool { return l.Prefix == FilesystemPrefix }

func (l Location) Descriptor() string { return l.Prefix + l.Path }
func (l Location) String() string     { return l.Descriptor() }

// IsParentOf reports whether other lies at or below l.
func (l Location) IsParentOf(other Location) bool {
	return strings.HasPrefix(other.Descriptor()+"/", l.Descriptor()+"/")
}

// Warner receives discarded-location warnings; *logger.Logger satisfies it.
type Warner interface {
	Warn(msg string, fields map[string]any)
}

// NewLocations parses, sorts and de-duplicates descriptors. Exact duplicates
// and sub-locations of another root are dropped with a warning.
func NewLocations(descriptors []string, log Warner) ([]Location, error) {
	parsed := make([]Location, 0, len(descriptors))
	for _, d := range descriptors {
		loc, err := ParseLocation(d)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, loc)
	}
	sort.Slice(parsed, func(i, j int) bool { return parsed[i].Descriptor() < parsed[j].Descriptor() })

	out := make([]Location, 0, len(parsed))
	for _, loc := range parsed {
		if contains(out, loc) {
			warn(log, "Discarding duplicate location", map[string]any{"location": loc.Descriptor()})
			continue
		}
		if parent, ok := parentOf(out, loc); ok {
			warn(log, "Discarding location as it is a sublocation", map[string]any{
				"location": loc.Descriptor(),
				"parent":   parent.Descriptor(),
			})
			continue
		}
		out = append(out, loc)
	}
	return out, nil
}

func contains(locs []Location, l Location) bool {
	for _, x := range locs {
		if x == l {
			return true
		}
	}
	return false
}

func parentOf(locs []Location, l Location) (Location, bool) {
	for _, x := range locs {
		if x.IsParentOf(l) {
			return x, true
		}
	}
	return Location{}, false
}

func warn(log Warner, msg string, fields map[string]any) {
	if log != nil {
		log.Warn(msg, fields)
	}
}
