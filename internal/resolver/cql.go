package resolver

import (
	"bytes"
	"context"
	"fmt"

	"golang.org/x/text/encoding/ianaindex"

	"github.com/mirajehossain/cqlmigratex/internal/cassandra"
	"github.com/mirajehossain/cqlmigratex/internal/checksum"
	"github.com/mirajehossain/cqlmigratex/internal/config"
	"github.com/mirajehossain/cqlmigratex/internal/cqlscript"
	"github.com/mirajehossain/cqlmigratex/internal/fsutil"
	"github.com/mirajehossain/cqlmigratex/internal/logger"
	"github.com/mirajehossain/cqlmigratex/internal/migration"
)

// CQLResolver finds V<version>__<description>.cql scripts below one location.
type CQLResolver struct {
	Scanner  *fsutil.Scanner
	Location fsutil.Location
	Encoding string
	Log      *logger.Logger
}

func (r *CQLResolver) Resolve() ([]*migration.Resolved, error) {
	resources, err := r.Scanner.Scan(r.Location, Prefix, CQLSuffix)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", r.Location, err)
	}
	out := make([]*migration.Resolved, 0, len(resources))
	for _, res := range resources {
		v, desc, err := ExtractVersionAndDescription(res.Filename, Prefix, Separator, CQLSuffix)
		if err != nil {
			return nil, err
		}
		out = append(out, &migration.Resolved{
			Version:          v,
			Description:      desc,
			Script:           res.Name,
			Checksum:         checksum.Ptr(res.Bytes),
			Type:             migration.CQL,
			PhysicalLocation: res.Location,
			Executor: &cqlExecutor{
				body:     res.Bytes,
				encoding: r.Encoding,
				location: res.Location,
				log:      r.Log,
			},
		})
	}
	return out, nil
}

type cqlExecutor struct {
	body     []byte
	encoding string
	location string
	log      *logger.Logger
}

func (e *cqlExecutor) Execute(ctx context.Context, s cassandra.Session) error {
	text, err := decode(e.body, e.encoding)
	if err != nil {
		return fmt.Errorf("decode %s: %w", e.location, err)
	}
	for _, stmt := range cqlscript.Split(text) {
		e.log.Debug("Executing CQL", map[string]any{"statement": stmt})
		if err := s.Exec(ctx, cassandra.DefaultConsistency, stmt); err != nil {
			return fmt.Errorf("%s: statement %q: %w", e.location, stmt, err)
		}
	}
	return nil
}

var utf8BOM = []byte("\xef\xbb\xbf")

// decode converts script bytes from the named IANA charset to a Go string.
func decode(b []byte, encoding string) (string, error) {
	name, err := config.Encoding(encoding)
	if err != nil {
		return "", err
	}
	if name == config.DefaultEncoding {
		return string(bytes.TrimPrefix(b, utf8BOM)), nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return "", err
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
