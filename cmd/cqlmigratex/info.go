package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pterm/pterm"

	"github.com/mirajehossain/cqlmigratex/internal/checksum"
	"github.com/mirajehossain/cqlmigratex/internal/info"
)

type infoItem struct {
	Version       string `json:"version"`
	Description   string `json:"description"`
	Type          string `json:"type"`
	Script        string `json:"script"`
	Checksum      string `json:"checksum,omitempty"`
	InstalledOn   string `json:"installed_on,omitempty"`
	ExecutionTime int    `json:"execution_ms"`
	State         string `json:"state"`
}

// printInfo renders infos as a table, or as a JSON array with --json.
func (a *app) printInfo(infos []*info.Info) error {
	if a.log.JSONEnabled() {
		out := make([]infoItem, 0, len(infos))
		for _, i := range infos {
			it := infoItem{
				Version:       i.Version().String(),
				Description:   i.Description(),
				Type:          i.Type().String(),
				Script:        i.Script(),
				ExecutionTime: i.ExecutionTime(),
				State:         i.State().String(),
			}
			if c := i.Checksum(); c != nil {
				it.Checksum = checksum.Format(c)
			}
			if on := i.InstalledOn(); !on.IsZero() {
				it.InstalledOn = on.UTC().Format(time.RFC3339)
			}
			out = append(out, it)
		}
		enc := json.NewEncoder(a.stdout)
		return enc.Encode(out)
	}

	data := pterm.TableData{info.TableHeader}
	data = append(data, info.TableRows(infos)...)
	table, err := pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.stdout, table)
	return err
}
