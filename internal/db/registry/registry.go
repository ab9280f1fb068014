// Package registry maps database specification strings to drivers.
//
// A specification is "<driver>[:<params>]". The set of drivers is fixed at
// compile time: each Kind has one entry in a static table and one case in
// the Open switch.
package registry

import (
	"fmt"
	"slices"
	"strings"

	"github.com/kernelci/kcidb/internal/db"
	"github.com/kernelci/kcidb/internal/db/postgresql"
	"github.com/kernelci/kcidb/internal/db/sqlite"
	"github.com/kernelci/kcidb/internal/errs"
)

// Kind enumerates the driver implementations.
type Kind int

const (
	SQLite Kind = iota
	PostgreSQL
	BigQuery
	Bolt
	JSON
	Memory
	Null
	Mux

	kindCount
)

// Entry describes one driver.
type Entry struct {
	Kind         Kind
	Name         string
	Capabilities db.Capabilities
	Params       string
	Default      string
	Doc          string
}

var entries = [kindCount]Entry{
	SQLite: {
		Kind: SQLite, Name: "sqlite", Capabilities: db.ReadWrite,
		Params: "FILE", Default: sqlite.DefaultPath,
		Doc: "SQLite database file",
	},
	PostgreSQL: {
		Kind: PostgreSQL, Name: "postgresql", Capabilities: db.ReadWrite,
		Params: "CONNINFO", Default: postgresql.DefaultConnString,
		Doc: "PostgreSQL database, libpq connection string or URL",
	},
	BigQuery: {
		Kind: BigQuery, Name: "bigquery", Capabilities: db.ReadWrite,
		Params: "PROJECT.DATASET",
		Doc:    "Google BigQuery dataset",
	},
	Bolt: {
		Kind: Bolt, Name: "bolt", Capabilities: db.ReadWrite,
		Params: "FILE", Default: "kcidb.bolt",
		Doc: "bbolt key/value database file",
	},
	JSON: {
		Kind: JSON, Name: "json", Capabilities: db.ReadWrite,
		Params: "FILE", Default: "kcidb.json",
		Doc: "JSON report file, LZ4-compressed if FILE ends in .lz4",
	},
	Memory: {
		Kind: Memory, Name: "memory", Capabilities: db.ReadWrite,
		Doc: "in-process database, lost on exit",
	},
	Null: {
		Kind: Null, Name: "null", Capabilities: db.Capabilities{Write: true},
		Doc: "write-only sink discarding everything",
	},
	Mux: {
		Kind: Mux, Name: "mux", Capabilities: db.ReadWrite,
		Params: "SPEC...",
		Doc:    "writes to every member, reads from the first readable one",
	},
}

// Entries returns every driver entry in Kind order.
func Entries() []Entry {
	return slices.Clone(entries[:])
}

// Lookup finds an entry by driver name.
func Lookup(name string) (Entry, bool) {
	for _, e := range entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

func (k Kind) String() string {
	if k < 0 || k >= kindCount {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return entries[k].Name
}

// Spec is a parsed database specification.
type Spec struct {
	Kind Kind

	// Params is the text after the colon, or the entry's default.
	Params string

	// Members holds the nested specs of a mux.
	Members []Spec
}

// String renders s in the form Parse accepts.
func (s Spec) String() string {
	if s.Kind != Mux {
		if s.Params == "" {
			return s.Kind.String()
		}
		return s.Kind.String() + ":" + s.Params
	}
	parts := make([]string, len(s.Members))
	for i, m := range s.Members {
		parts[i] = m.String()
		if strings.ContainsAny(parts[i], " \t\n") {
			parts[i] = "(" + parts[i] + ")"
		}
	}
	return "mux:" + strings.Join(parts, " ")
}

// Parse parses a database specification. It resolves every driver name,
// nested ones included, without connecting to anything.
func Parse(spec string) (Spec, error) {
	spec = strings.TrimSpace(spec)
	name, params, hasParams := strings.Cut(spec, ":")
	e, ok := Lookup(name)
	if !ok {
		return Spec{}, errs.New(errs.UnknownDriverError, "parse", "unknown driver %q in %q", name, spec)
	}
	if e.Kind != Mux {
		if !hasParams || params == "" {
			params = e.Default
		}
		return Spec{Kind: e.Kind, Params: params}, nil
	}

	members, err := splitMembers(params)
	if err != nil {
		return Spec{}, errs.New(errs.UnknownDriverError, "parse", "%s in %q", err, spec)
	}
	if len(members) == 0 {
		return Spec{}, errs.New(errs.UnknownDriverError, "parse", "mux without members in %q", spec)
	}
	s := Spec{Kind: Mux}
	for _, m := range members {
		ms, err := Parse(m)
		if err != nil {
			return Spec{}, err
		}
		s.Members = append(s.Members, ms)
	}
	return s, nil
}

// splitMembers splits on whitespace outside parentheses and unwraps
// parenthesised members.
func splitMembers(params string) ([]string, error) {
	var (
		out   []string
		cur   strings.Builder
		depth int
	)
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		m := cur.String()
		if strings.HasPrefix(m, "(") && strings.HasSuffix(m, ")") {
			m = strings.TrimSpace(m[1 : len(m)-1])
		}
		if m != "" {
			out = append(out, m)
		}
		cur.Reset()
	}
	for _, r := range params {
		switch {
		case r == '(':
			depth++
		case r == ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced ')'")
			}
		case depth == 0 && (r == ' ' || r == '\t' || r == '\n'):
			flush()
			continue
		}
		cur.WriteRune(r)
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced '('")
	}
	flush()
	return out, nil
}

// Help returns the text describing specification syntax and every driver.
func Help() string {
	var b strings.Builder
	b.WriteString("Database specification: <driver>[:<params>]\n\nDrivers:\n")
	for _, e := range entries {
		usage := e.Name
		if e.Params != "" {
			usage += ":" + e.Params
		}
		fmt.Fprintf(&b, "  %-28s %-10s %s", usage, e.Capabilities, e.Doc)
		if e.Default != "" {
			fmt.Fprintf(&b, " (default %s)", e.Default)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nMux members are separated by whitespace. Wrap a member containing\n" +
		"whitespace in parentheses:\n\n  mux:sqlite:kcidb.sqlite3 (mux:memory null)\n")
	return b.String()
}
