package migrate

import (
	"fmt"
	"strings"
)

// Inspector answers schema questions. gorm.Migrator satisfies it.
type Inspector interface {
	HasTable(dst any) bool
	HasColumn(dst any, field string) bool
	HasIndex(dst any, name string) bool
}

// Expectation names a table, a column of a table, or an index of a table.
type Expectation struct {
	Table  string `json:"table"`
	Column string `json:"column,omitempty"`
	Index  string `json:"index,omitempty"`
}

func (e Expectation) String() string {
	switch {
	case e.Column != "":
		return e.Table + "." + e.Column
	case e.Index != "":
		return e.Table + "#" + e.Index
	default:
		return e.Table
	}
}

type Check struct {
	Expectation
	Present bool `json:"present"`
}

// ParseExpectations reads a comma separated list of "table",
// "table.column" and "table#index" entries.
func ParseExpectations(s string) ([]Expectation, error) {
	var out []Expectation
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		var e Expectation
		if table, index, ok := strings.Cut(item, "#"); ok {
			e = Expectation{Table: table, Index: index}
		} else if table, column, ok := strings.Cut(item, "."); ok {
			e = Expectation{Table: table, Column: column}
		} else {
			e = Expectation{Table: item}
		}
		if e.Table == "" || strings.HasSuffix(item, ".") || strings.HasSuffix(item, "#") {
			return nil, fmt.Errorf("malformed expectation %q", item)
		}
		out = append(out, e)
	}
	return out, nil
}

// Verify re-reads the schema after a run. It reports, it does not repair.
func Verify(inspector Inspector, expectations []Expectation) []Check {
	checks := make([]Check, 0, len(expectations))
	for _, e := range expectations {
		var present bool
		switch {
		case e.Column != "":
			present = inspector.HasColumn(e.Table, e.Column)
		case e.Index != "":
			present = inspector.HasIndex(e.Table, e.Index)
		default:
			present = inspector.HasTable(e.Table)
		}
		checks = append(checks, Check{Expectation: e, Present: present})
	}
	return checks
}

// Missing returns the checks that failed.
func Missing(checks []Check) []Check {
	var out []Check
	for _, c := range checks {
		if !c.Present {
			out = append(out, c)
		}
	}
	return out
}
