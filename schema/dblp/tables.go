// Package dblp describes the dblp record kinds and the flat tables we derive
// from them. Layouts are fixed; nothing here is derived from the data.
package dblp

import (
	"fmt"
	"slices"
	"strings"
)

// Kinds are the record elements found directly below the dblp root element.
var Kinds = []string{
	"article",
	"inproceedings",
	"proceedings",
	"book",
	"incollection",
	"phdthesis",
	"mastersthesis",
	"www",
}

// publications feed the publication, author and authored tables.
var publications = []string{"article", "book", "incollection", "inproceedings"}

// Mode is the way a table turns records into rows.
type Mode int

const (
	// PerRecord emits one row per included record.
	PerRecord Mode = iota
	// DistinctValues collects the values of a field over the whole stream
	// and emits them sorted, one per row, at the end of the pass.
	DistinctValues
	// KeyValuePairs emits one (key, value) row for every occurrence of a
	// field in every included record.
	KeyValuePairs
)

// Table is the layout of a single output table.
type Table struct {
	Name    string
	Columns []string
	// Kinds lists the record kinds included in the table.
	Kinds []string
	// Fields are the sub-fields to extract, in column order. For
	// PerRecord tables they follow the key column.
	Fields []string
	Mode   Mode
	// PageCount appends the page count of the "pages" field as last column.
	PageCount bool
	// RequireYear drops records whose year is not an integer.
	RequireYear bool
}

// Includes reports whether records of the given kind belong to the table.
func (t Table) Includes(kind string) bool {
	return slices.Contains(t.Kinds, kind)
}

var (
	Publication = Table{
		Name:        "publication",
		Columns:     []string{"key", "title", "year", "pages", "page_count"},
		Kinds:       publications,
		Fields:      []string{"title", "year", "pages"},
		PageCount:   true,
		RequireYear: true,
	}
	Article = Table{
		Name:    "article",
		Columns: []string{"key", "journal", "volume", "number"},
		Kinds:   []string{"article"},
		Fields:  []string{"journal", "volume", "number"},
	}
	Inproceedings = Table{
		Name:    "inproceedings",
		Columns: []string{"key", "booktitle"},
		Kinds:   []string{"inproceedings"},
		Fields:  []string{"booktitle"},
	}
	Book = Table{
		Name:    "book",
		Columns: []string{"key", "publisher", "isbn"},
		Kinds:   []string{"book"},
		Fields:  []string{"publisher", "isbn"},
	}
	Incollection = Table{
		Name:    "incollection",
		Columns: []string{"key", "crossref"},
		Kinds:   []string{"incollection"},
		Fields:  []string{"crossref"},
	}
	Author = Table{
		Name:    "author",
		Columns: []string{"author_name"},
		Kinds:   publications,
		Fields:  []string{"author"},
		Mode:    DistinctValues,
	}
	Authored = Table{
		Name:    "authored",
		Columns: []string{"key", "author_name"},
		Kinds:   publications,
		Fields:  []string{"author"},
		Mode:    KeyValuePairs,
	}
)

// Tables lists all tables in their canonical order.
var Tables = []Table{
	Publication,
	Article,
	Inproceedings,
	Book,
	Incollection,
	Author,
	Authored,
}

// Names returns the names of all tables.
func Names() []string {
	var names []string
	for _, t := range Tables {
		names = append(names, t.Name)
	}
	return names
}

// Lookup returns the table with the given name.
func Lookup(name string) (Table, error) {
	for _, t := range Tables {
		if t.Name == name {
			return t, nil
		}
	}
	return Table{}, fmt.Errorf("unknown table: %s (available: %s)",
		name, strings.Join(Names(), ", "))
}

// Parse resolves a comma separated list of table names; "all" selects every
// table. Duplicates are dropped, order is preserved.
func Parse(s string) ([]Table, error) {
	var (
		result []Table
		seen   = make(map[string]bool)
	)
	for _, name := range strings.Split(s, ",") {
		name = strings.TrimSpace(name)
		switch {
		case name == "":
			continue
		case name == "all":
			return slices.Clone(Tables), nil
		case seen[name]:
			continue
		}
		t, err := Lookup(name)
		if err != nil {
			return nil, err
		}
		seen[name] = true
		result = append(result, t)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("no tables selected")
	}
	return result, nil
}
