package convert

import (
	"slices"
	"strconv"
	"strings"

	"github.com/miku/dblptab/pages"
	"github.com/miku/dblptab/schema/dblp"
	"github.com/miku/dblptab/xmlstream"
)

// Extract returns the row of a per record table. Records without a key, or
// without an integer year where the table requires one, yield a Skip.
// Surrounding whitespace is ignored when checking the year; the column
// itself is emitted verbatim.
func Extract(rec *xmlstream.Record, t dblp.Table) (Row, error) {
	if rec.Key == "" {
		return nil, ErrSkipNoKey
	}
	if t.RequireYear {
		if _, err := strconv.Atoi(strings.TrimSpace(rec.Field("year"))); err != nil {
			return nil, ErrSkipYear
		}
	}
	row := make(Row, 0, len(t.Columns))
	row = append(row, rec.Key)
	for _, name := range t.Fields {
		row = append(row, rec.Field(name))
	}
	if t.PageCount {
		row = append(row, pages.Format(rec.Field("pages")))
	}
	return row, nil
}

// Relations returns one (key, value) row per occurrence of the table field,
// in record order. Duplicates are kept.
func Relations(rec *xmlstream.Record, t dblp.Table) ([]Row, error) {
	if rec.Key == "" {
		return nil, ErrSkipNoKey
	}
	var rows []Row
	for _, name := range t.Fields {
		for _, v := range rec.Values(name) {
			rows = append(rows, Row{rec.Key, v})
		}
	}
	return rows, nil
}

// AuthorSet collects distinct field values over a whole pass. The zero
// value is not usable, use NewAuthorSet.
type AuthorSet struct {
	fields []string
	m      map[string]struct{}
}

// NewAuthorSet returns an empty set collecting the fields of a table.
func NewAuthorSet(t dblp.Table) *AuthorSet {
	return &AuthorSet{fields: t.Fields, m: make(map[string]struct{})}
}

// Add records all values of the collected fields. The key is not needed.
func (s *AuthorSet) Add(rec *xmlstream.Record) {
	for _, name := range s.fields {
		for _, v := range rec.Values(name) {
			s.m[v] = struct{}{}
		}
	}
}

// Len returns the number of distinct values seen so far.
func (s *AuthorSet) Len() int {
	return len(s.m)
}

// Rows returns the distinct values in byte order, one per row.
func (s *AuthorSet) Rows() []Row {
	values := make([]string, 0, len(s.m))
	for v := range s.m {
		values = append(values, v)
	}
	slices.Sort(values)
	rows := make([]Row, len(values))
	for i, v := range values {
		rows[i] = Row{v}
	}
	return rows
}

// Extractor turns the records of a single pass into rows of one table.
type Extractor interface {
	// Extract returns the rows for a record, which may be none.
	Extract(rec *xmlstream.Record) ([]Row, error)
	// Flush returns the rows only known at the end of the pass.
	Flush() []Row
}

// NewExtractor returns an extractor for the mode of the table. Records of
// kinds the table does not include yield no rows.
func NewExtractor(t dblp.Table) Extractor {
	switch t.Mode {
	case dblp.DistinctValues:
		return &setExtractor{t: t, set: NewAuthorSet(t)}
	case dblp.KeyValuePairs:
		return &pairExtractor{t: t}
	default:
		return &rowExtractor{t: t}
	}
}

type rowExtractor struct {
	t dblp.Table
}

func (e *rowExtractor) Extract(rec *xmlstream.Record) ([]Row, error) {
	if !e.t.Includes(rec.Kind) {
		return nil, nil
	}
	row, err := Extract(rec, e.t)
	if err != nil {
		return nil, err
	}
	return []Row{row}, nil
}

func (e *rowExtractor) Flush() []Row { return nil }

type pairExtractor struct {
	t dblp.Table
}

func (e *pairExtractor) Extract(rec *xmlstream.Record) ([]Row, error) {
	if !e.t.Includes(rec.Kind) {
		return nil, nil
	}
	return Relations(rec, e.t)
}

func (e *pairExtractor) Flush() []Row { return nil }

type setExtractor struct {
	t   dblp.Table
	set *AuthorSet
}

func (e *setExtractor) Extract(rec *xmlstream.Record) ([]Row, error) {
	if e.set != nil && e.t.Includes(rec.Kind) {
		e.set.Add(rec)
	}
	return nil, nil
}

// Flush hands out the sorted set once and drops it.
func (e *setExtractor) Flush() []Row {
	if e.set == nil {
		return nil
	}
	rows := e.set.Rows()
	e.set = nil
	return rows
}
