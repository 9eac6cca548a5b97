// Package sqlhint extracts index hints from normalized statement text.
package sqlhint

import (
	"fmt"
	"regexp"
	"strings"
)

// maxColumns caps the suggested index width.
const maxColumns = 3

// Table is a possibly schema-qualified relation.
type Table struct {
	Schema string `json:"schema,omitempty"`
	Name   string `json:"name"`
}

func (t Table) String() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// Hint is a single-table statement and its filter columns, equality
// predicates first.
type Hint struct {
	Table   Table    `json:"table"`
	Columns []string `json:"columns"`
}

// DDL renders the suggested index statement.
func (h Hint) DDL() string {
	return fmt.Sprintf("CREATE INDEX CONCURRENTLY ON %s (%s);", h.Table, strings.Join(h.Columns, ", "))
}

type relPattern struct {
	re          *regexp.Regexp
	schemaGroup int
	tableGroup  int
	aliasGroup  int
}

// All case-insensitive. Each pattern runs on its own so one match never
// hides another.
var relPatterns = []relPattern{
	{re: regexp.MustCompile(`(?i)\bFROM\s+(?:ONLY\s+)?(?:(\w+)\.)?(\w+)(?:\s+(?:AS\s+)?(\w+))?`),
		schemaGroup: 1, tableGroup: 2, aliasGroup: 3},
	{re: regexp.MustCompile(`(?i)\bJOIN\s+(?:ONLY\s+)?(?:(\w+)\.)?(\w+)(?:\s+(?:AS\s+)?(\w+))?`),
		schemaGroup: 1, tableGroup: 2, aliasGroup: 3},
	{re: regexp.MustCompile(`(?i)\bUPDATE\s+(?:ONLY\s+)?(?:(\w+)\.)?(\w+)(?:\s+(?:AS\s+)?(\w+))?\s+SET\b`),
		schemaGroup: 1, tableGroup: 2, aliasGroup: 3},
	{re: regexp.MustCompile(`(?i)\bINSERT\s+INTO\s+(?:(\w+)\.)?(\w+)`),
		schemaGroup: 1, tableGroup: 2},
}

var (
	// commaJoin spots "FROM a, b" style joins.
	commaJoin = regexp.MustCompile(`(?i)\bFROM\s+[\w.]+(?:\s+(?:AS\s+)?\w+)?\s*,`)

	whereStart = regexp.MustCompile(`(?i)\bWHERE\b`)
	whereEnd   = regexp.MustCompile(`(?i)\b(?:GROUP\s+BY|ORDER\s+BY|LIMIT|OFFSET|RETURNING|HAVING|FOR\s+(?:UPDATE|SHARE)|WINDOW|UNION)\b`)

	predicate = regexp.MustCompile(`(?i)(?:^|[^\w.$])(?:(\w+)\.)?(\w+)\s*(<=|>=|<>|!=|=|<|>|\bNOT\s+IN\b|\bIN\b|\bIS\b|\bBETWEEN\b|\bI?LIKE\b)`)
)

// keywords that never name a relation, alias or column.
var keywords = map[string]bool{
	"select": true, "from": true, "where": true, "and": true, "or": true,
	"not": true, "in": true, "is": true, "null": true, "as": true,
	"on": true, "set": true, "values": true, "into": true, "join": true,
	"left": true, "right": true, "inner": true, "outer": true, "cross": true,
	"full": true, "natural": true, "lateral": true, "using": true,
	"group": true, "by": true, "order": true, "having": true,
	"limit": true, "offset": true, "union": true, "all": true, "distinct": true,
	"case": true, "when": true, "then": true, "else": true, "end": true,
	"exists": true, "between": true, "like": true, "ilike": true, "true": true, "false": true,
	"insert": true, "update": true, "delete": true, "with": true, "returning": true,
	"for": true, "only": true, "window": true, "any": true, "some": true, "array": true,
}

type relation struct {
	table Table
	alias string
}

// Analyze returns a Hint when query reads exactly one relation and filters
// it on at least one plain column.
func Analyze(query string) (Hint, bool) {
	if commaJoin.MatchString(query) {
		return Hint{}, false
	}
	rels := relations(query)
	if len(rels) != 1 {
		return Hint{}, false
	}
	rel := rels[0]

	cols := filterColumns(whereClause(query), rel)
	if len(cols) == 0 {
		return Hint{}, false
	}
	return Hint{Table: rel.table, Columns: cols}, true
}

func relations(query string) []relation {
	var rels []relation
	seen := make(map[string]int)

	for _, p := range relPatterns {
		for _, m := range p.re.FindAllStringSubmatch(query, -1) {
			name := m[p.tableGroup]
			if !isIdent(name) {
				continue
			}
			t := Table{Schema: m[p.schemaGroup], Name: name}
			var alias string
			if p.aliasGroup > 0 && isIdent(m[p.aliasGroup]) {
				alias = m[p.aliasGroup]
			}

			key := strings.ToLower(t.String())
			if i, ok := seen[key]; ok {
				if rels[i].alias == "" {
					rels[i].alias = alias
				}
				continue
			}
			seen[key] = len(rels)
			rels = append(rels, relation{table: t, alias: alias})
		}
	}
	return rels
}

func whereClause(query string) string {
	loc := whereStart.FindStringIndex(query)
	if loc == nil {
		return ""
	}
	clause := query[loc[1]:]
	if end := whereEnd.FindStringIndex(clause); end != nil {
		clause = clause[:end[0]]
	}
	return clause
}

// filterColumns lists predicate columns of rel: equality and membership
// first, then ranges, deduplicated and capped.
func filterColumns(clause string, rel relation) []string {
	var eq, rng []string
	seen := make(map[string]bool)

	for _, m := range predicate.FindAllStringSubmatch(clause, -1) {
		qual, col, op := m[1], m[2], strings.ToUpper(strings.Join(strings.Fields(m[3]), " "))
		if !isIdent(col) {
			continue
		}
		if qual != "" && !strings.EqualFold(qual, rel.table.Name) && !strings.EqualFold(qual, rel.alias) {
			continue
		}
		key := strings.ToLower(col)
		if seen[key] {
			continue
		}
		seen[key] = true

		switch op {
		case "=", "IN", "IS":
			eq = append(eq, col)
		case "<>", "!=", "NOT IN":
			// inequality rarely benefits from a btree
		default:
			rng = append(rng, col)
		}
	}

	cols := append(eq, rng...)
	if len(cols) > maxColumns {
		cols = cols[:maxColumns]
	}
	return cols
}

func isIdent(name string) bool {
	if name == "" || len(name) > 63 {
		return false
	}
	if c := name[0]; c >= '0' && c <= '9' {
		return false
	}
	return !keywords[strings.ToLower(name)]
}
