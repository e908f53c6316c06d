package store

import "strings"

const (
	// ManifestTable holds one serialized manifest per dataset.
	ManifestTable = "curator_manifest"
	// StagingTable caches per-row signal outputs of unfinished enrichments.
	StagingTable = "curator_staging"
)

// ManifestTableDDL returns the DDL of the manifest table.
func ManifestTableDDL() string {
	return `CREATE TABLE IF NOT EXISTS curator_manifest (
    namespace  TEXT NOT NULL,
    name       TEXT NOT NULL,
    manifest   TEXT NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY(namespace, name)
);`
}

// StagingTableDDL returns the DDL of the resumable staging cache.
func StagingTableDDL() string {
	return `CREATE TABLE IF NOT EXISTS curator_staging (
    dataset    TEXT NOT NULL,
    enrichment TEXT NOT NULL,
    id         TEXT NOT NULL,
    value      TEXT,
    vectors    BLOB,
    PRIMARY KEY(dataset, enrichment, id)
);`
}

// RowsTableDDL returns the DDL of a dataset's source rows table. The implicit
// rowid keeps insertion order.
func RowsTableDDL(table string) string {
	return `CREATE TABLE IF NOT EXISTS ` + QuoteIdent(table) + ` (
    id  TEXT NOT NULL UNIQUE,
    doc TEXT NOT NULL
);`
}

// EnrichmentTableDDL returns the DDL of a table holding one signal output per row.
func EnrichmentTableDDL(table string) string {
	return `CREATE TABLE IF NOT EXISTS ` + QuoteIdent(table) + ` (
    id    TEXT PRIMARY KEY,
    value TEXT
);`
}

// RowsTable names the rows table of a dataset prefix.
func RowsTable(prefix string) string { return prefix + "__rows" }

// QuoteIdent quotes an SQL identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral quotes an SQL string literal.
func QuoteLiteral(s string) string {
	return `'` + strings.ReplaceAll(s, `'`, `''`) + `'`
}
