package info

const installedOnLayout = "2006-01-02 15:04:05"

// TableHeader names the columns produced by TableRows.
var TableHeader = []string{"Version", "Description", "Installed on", "State"}

// NoMigrations is the single row rendered for an empty list.
const NoMigrations = "No migrations found"

// TableRows renders infos as display rows, one per version.
func TableRows(infos []*Info) [][]string {
	if len(infos) == 0 {
		return [][]string{{NoMigrations, "", "", ""}}
	}
	rows := make([][]string, 0, len(infos))
	for _, i := range infos {
		installed := ""
		if on := i.InstalledOn(); !on.IsZero() {
			installed = on.Local().Format(installedOnLayout)
		}
		rows = append(rows, []string{i.Version().String(), i.Description(), installed, i.State().DisplayName()})
	}
	return rows
}
