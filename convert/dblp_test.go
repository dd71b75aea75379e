package convert

import (
	"encoding/xml"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/miku/dblptab/schema/dblp"
	"github.com/miku/dblptab/xmlstream"
)

func record(kind, key string, kv ...string) *xmlstream.Record {
	rec := &xmlstream.Record{Kind: kind, Key: key}
	if key != "" {
		rec.Attr = []xml.Attr{{Name: xml.Name{Local: "key"}, Value: key}}
	}
	for i := 0; i+1 < len(kv); i += 2 {
		rec.Fields = append(rec.Fields, xmlstream.Field{Name: kv[i], Value: kv[i+1]})
	}
	return rec
}

func TestExtract(t *testing.T) {
	var cases = []struct {
		about string
		rec   *xmlstream.Record
		table dblp.Table
		want  Row
		err   error
	}{
		{
			about: "publication with page range",
			rec: record("article", "journals/x/A1",
				"author", "A", "title", "On <i>X</i>", "pages", "23-43", "year", "1999"),
			table: dblp.Publication,
			want:  Row{"journals/x/A1", "On <i>X</i>", "1999", "23-43", "21"},
		},
		{
			about: "unparseable pages give empty count",
			rec:   record("book", "b/1", "title", "T", "year", "2005", "pages", "I-XXI"),
			table: dblp.Publication,
			want:  Row{"b/1", "T", "2005", "I-XXI", ""},
		},
		{
			about: "missing fields are empty",
			rec:   record("inproceedings", "c/1", "year", "2001"),
			table: dblp.Publication,
			want:  Row{"c/1", "", "2001", "", ""},
		},
		{
			about: "first occurrence wins",
			rec:   record("article", "a/2", "title", "one", "title", "two", "year", "2000"),
			table: dblp.Publication,
			want:  Row{"a/2", "one", "2000", "", ""},
		},
		{
			about: "signed year is an integer",
			rec:   record("article", "a/3", "year", "+2000"),
			table: dblp.Publication,
			want:  Row{"a/3", "", "+2000", "", ""},
		},
		{
			about: "roman year",
			rec:   record("book", "b/2", "year", "MMV"),
			table: dblp.Publication,
			err:   ErrSkipYear,
		},
		{
			about: "missing year",
			rec:   record("book", "b/3", "title", "T"),
			table: dblp.Publication,
			err:   ErrSkipYear,
		},
		{
			about: "year with whitespace",
			rec:   record("book", "b/4", "year", " 2005"),
			table: dblp.Publication,
			want:  Row{"b/4", "", " 2005", "", ""},
		},
		{
			about: "pretty printed year",
			rec:   record("article", "a/5", "year", "\n2005\n"),
			table: dblp.Publication,
			want:  Row{"a/5", "", "\n2005\n", "", ""},
		},
		{
			about: "blank year",
			rec:   record("article", "a/6", "year", " \n "),
			table: dblp.Publication,
			err:   ErrSkipYear,
		},
		{
			about: "no key",
			rec:   record("article", "", "year", "1999"),
			table: dblp.Publication,
			err:   ErrSkipNoKey,
		},
		{
			about: "article table ignores year",
			rec:   record("article", "a/4", "journal", "CACM", "number", "7", "year", "MMV"),
			table: dblp.Article,
			want:  Row{"a/4", "CACM", "", "7"},
		},
		{
			about: "incollection crossref verbatim",
			rec:   record("incollection", "i/1", "crossref", "books/mk/Doe05"),
			table: dblp.Incollection,
			want:  Row{"i/1", "books/mk/Doe05"},
		},
	}
	for _, c := range cases {
		t.Run(c.about, func(t *testing.T) {
			got, err := Extract(c.rec, c.table)
			if err != c.err {
				t.Fatalf("got %v, want %v", err, c.err)
			}
			if diff := cmp.Diff(c.want, got); diff != "" {
				t.Errorf("row mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRelations(t *testing.T) {
	rec := record("inproceedings", "conf/x/1",
		"author", "A. Smith", "title", "T", "author", "C. Doe", "author", "A. Smith")
	got, err := Relations(rec, dblp.Authored)
	if err != nil {
		t.Fatal(err)
	}
	want := []Row{
		{"conf/x/1", "A. Smith"},
		{"conf/x/1", "C. Doe"},
		{"conf/x/1", "A. Smith"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("relations mismatch (-want +got):\n%s", diff)
	}
	if _, err := Relations(record("article", "", "author", "A"), dblp.Authored); err != ErrSkipNoKey {
		t.Errorf("got %v, want %v", err, ErrSkipNoKey)
	}
}

func TestAuthorSet(t *testing.T) {
	s := NewAuthorSet(dblp.Author)
	s.Add(record("article", "a/1", "author", "b", "author", "A. Smith"))
	s.Add(record("book", "", "author", "A. Smith", "author", "Ärger"))
	s.Add(record("book", "b/1", "author", "A. Smith"))
	if s.Len() != 3 {
		t.Fatalf("got %d distinct values, want 3", s.Len())
	}
	want := []Row{{"A. Smith"}, {"b"}, {"Ärger"}}
	if diff := cmp.Diff(want, s.Rows()); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractor(t *testing.T) {
	records := []*xmlstream.Record{
		record("article", "a/1", "author", "Z", "author", "A", "year", "1999"),
		record("www", "homepages/z", "author", "W", "year", "2000"),
		record("proceedings", "conf/1", "author", "P", "year", "2001"),
		record("book", "b/1", "author", "A", "year", "MMV"),
		record("incollection", "", "author", "N", "year", "2002"),
	}
	run := func(t dblp.Table) (rows []Row, skipped int) {
		e := NewExtractor(t)
		for _, rec := range records {
			r, err := e.Extract(rec)
			if IsSkip(err) {
				skipped++
				continue
			}
			rows = append(rows, r...)
		}
		return append(rows, e.Flush()...), skipped
	}
	var cases = []struct {
		table   dblp.Table
		want    []Row
		skipped int
	}{
		{dblp.Publication, []Row{{"a/1", "", "1999", "", ""}}, 2},
		{dblp.Article, []Row{{"a/1", "", "", ""}}, 0},
		{dblp.Book, []Row{{"b/1", "", ""}}, 0},
		{dblp.Incollection, nil, 1},
		{dblp.Author, []Row{{"A"}, {"N"}, {"Z"}}, 0},
		{dblp.Authored, []Row{{"a/1", "Z"}, {"a/1", "A"}, {"b/1", "A"}}, 1},
	}
	for _, c := range cases {
		t.Run(c.table.Name, func(t *testing.T) {
			got, skipped := run(c.table)
			if diff := cmp.Diff(c.want, got); diff != "" {
				t.Errorf("rows mismatch (-want +got):\n%s", diff)
			}
			if skipped != c.skipped {
				t.Errorf("got %d skipped, want %d", skipped, c.skipped)
			}
		})
	}
}

func TestFlushOnce(t *testing.T) {
	e := NewExtractor(dblp.Author)
	if _, err := e.Extract(record("article", "a/1", "author", "A")); err != nil {
		t.Fatal(err)
	}
	if rows := e.Flush(); len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows := e.Flush(); rows != nil {
		t.Errorf("second flush returned %v", rows)
	}
}

func TestIsSkip(t *testing.T) {
	wrapped := fmt.Errorf("record a/1: %w", ErrSkipYear)
	if !IsSkip(wrapped) {
		t.Errorf("wrapped skip not recognized")
	}
	if !errors.Is(wrapped, ErrSkipYear) || errors.Is(wrapped, ErrSkipNoKey) {
		t.Errorf("wrapped skip matches the wrong reason")
	}
	if IsSkip(errors.New("no key")) || IsSkip(nil) {
		t.Errorf("plain errors are not skips")
	}
}
