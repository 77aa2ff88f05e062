package migrator

// Metadata table layout. %s is the keyspace-qualified table name.
const (
	SchemaTable       = "schema_migration"
	countsTableSuffix = "_counts"

	createMigrationTable = `CREATE TABLE IF NOT EXISTS %s (
  version_rank int,
  installed_rank int,
  version text,
  description text,
  script text,
  checksum int,
  type text,
  installed_by text,
  installed_on timestamp,
  execution_time int,
  success boolean,
  PRIMARY KEY (version)
)`
	createCountsTable = `CREATE TABLE IF NOT EXISTS %s (name text, count counter, PRIMARY KEY (name))`

	selectApplied = `SELECT version_rank, installed_rank, version, description, type, script, checksum, installed_on, installed_by, execution_time, success FROM %s`
	selectRanks   = `SELECT version, version_rank FROM %s`
	insertApplied = `INSERT INTO %s (version_rank, installed_rank, version, description, type, script, checksum, installed_on, installed_by, execution_time, success) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	updateRank    = `UPDATE %s SET version_rank = ? WHERE version = ?`
	bumpCounter   = `UPDATE %s SET count = count + 1 WHERE name = 'installed_rank'`
	selectCounter = `SELECT count FROM %s WHERE name = 'installed_rank'`
	updateRepair  = `UPDATE %s SET checksum = ?, description = ?, type = ? WHERE version = ?`

	selectTables = `SELECT table_name FROM system_schema.tables WHERE keyspace_name = ?`
	selectViews  = `SELECT view_name FROM system_schema.views WHERE keyspace_name = ?`
)

// TableName applies the optional prefix: <prefix>_<name>.
func TableName(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "_" + name
}
