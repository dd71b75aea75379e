package tables

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/miku/dblptab/config"
	"github.com/miku/dblptab/schema/dblp"
	"github.com/miku/dblptab/sink"
	"github.com/miku/dblptab/xmlstream"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type rowCollector struct {
	rows   [][]string
	closed bool
}

func (c *rowCollector) WriteRow(row []string) error {
	c.rows = append(c.rows, slices.Clone(row))
	return nil
}

func (c *rowCollector) Close() error {
	c.closed = true
	return nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Source = filepath.Join("testdata", "sample.xml")
	cfg.OutputDir = t.TempDir()
	cfg.Workers = 2
	return cfg
}

func testPipeline(t *testing.T, cfg config.Config) (*Pipeline, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return New(cfg, WithLogger(logger)), hook
}

var sampleRows = map[string][][]string{
	"publication": {
		{"journals/cacm/Smith99", "On streaming parsers.", "1999", "23-43", "21"},
		{"conf/vldb/SmithD01", "Page counts, revisited.", "2001", "8e:1-8e:4", "4"},
		{"books/mk/Doe05/Smith05", "A Chapter", "2005", "I-XXI", ""},
		{"journals/tods/Jonsson03", `Quoting, "commas", and more`, "2003", "1-2,3-4-5", "2"},
	},
	"article": {
		{"journals/cacm/Smith99", "Commun. ACM", "42", "7"},
		{"journals/tods/Jonsson03", "ACM Trans. Database Syst.", "", ""},
	},
	"inproceedings": {
		{"conf/vldb/SmithD01", "VLDB"},
	},
	"book": {
		{"books/mk/Doe05", "Morgan Kaufmann", "1-55860-000-0"},
	},
	"incollection": {
		{"books/mk/Doe05/Smith05", "books/mk/Doe05"},
	},
	"author": {
		{"A. Smith"},
		{"B. Jönsson"},
		{"C. Doe"},
	},
	"authored": {
		{"journals/cacm/Smith99", "A. Smith"},
		{"journals/cacm/Smith99", "B. Jönsson"},
		{"conf/vldb/SmithD01", "A. Smith"},
		{"conf/vldb/SmithD01", "C. Doe"},
		{"books/mk/Doe05", "C. Doe"},
		{"books/mk/Doe05/Smith05", "A. Smith"},
		{"journals/tods/Jonsson03", "B. Jönsson"},
		{"journals/tods/Jonsson03", "A. Smith"},
	},
}

func TestProduce(t *testing.T) {
	p, _ := testPipeline(t, testConfig(t))
	for _, table := range dblp.Tables {
		t.Run(table.Name, func(t *testing.T) {
			var c rowCollector
			stats, err := p.Produce(context.Background(), table, &c)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(sampleRows[table.Name], c.rows); diff != "" {
				t.Errorf("rows mismatch (-want +got):\n%s", diff)
			}
			if stats.Records != 7 {
				t.Errorf("got %d records, want 7", stats.Records)
			}
			if stats.Rows != int64(len(c.rows)) {
				t.Errorf("stats report %d rows, wrote %d", stats.Rows, len(c.rows))
			}
			if c.closed {
				t.Error("Produce must not close the writer")
			}
			var wantSkippedYear int64
			if table.Name == "publication" {
				wantSkippedYear = 1
			}
			if stats.SkippedYear != wantSkippedYear {
				t.Errorf("got %d skipped for year, want %d", stats.SkippedYear, wantSkippedYear)
			}
		})
	}
}

func TestProduceFileIdempotent(t *testing.T) {
	cfg := testConfig(t)
	p, _ := testPipeline(t, cfg)
	path := cfg.Path(dblp.Publication)
	var outputs []string
	for i := 0; i < 2; i++ {
		if _, err := p.ProduceFile(context.Background(), dblp.Publication, path); err != nil {
			t.Fatal(err)
		}
		b, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		outputs = append(outputs, string(b))
	}
	want := "journals/cacm/Smith99,On streaming parsers.,1999,23-43,21\n" +
		"conf/vldb/SmithD01,\"Page counts, revisited.\",2001,8e:1-8e:4,4\n" +
		"books/mk/Doe05/Smith05,A Chapter,2005,I-XXI,\n" +
		"journals/tods/Jonsson03,\"Quoting, \"\"commas\"\", and more\",2003,\"1-2,3-4-5\",2\n"
	if diff := cmp.Diff(want, outputs[0]); diff != "" {
		t.Errorf("csv mismatch (-want +got):\n%s", diff)
	}
	if outputs[0] != outputs[1] {
		t.Error("second run produced different output")
	}
}

// writeSource puts a document and the test DTD into a fresh directory.
func writeSource(t *testing.T, doc string) string {
	t.Helper()
	dir := t.TempDir()
	dtd, err := os.ReadFile(filepath.Join("testdata", "dblp.dtd"))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "dblp.dtd"), dtd, 0644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "dblp.xml")
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const head = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE dblp SYSTEM "dblp.dtd">
<dblp>
`

const (
	goodRecord   = "<article key=\"a/1\"><author>A</author><title>T</title><year>2000</year></article>\n"
	brokenRecord = "<article key=\"a/2\"><author>B</author><title>T</title>\n"
	extraRecord  = "<article key=\"a/3\"><abstract>not declared</abstract><year>2001</year></article>\n"
)

func TestProduceFileMalformed(t *testing.T) {
	cfg := testConfig(t)
	cfg.Source = writeSource(t, head+goodRecord+brokenRecord+"</dblp>\n")
	p, _ := testPipeline(t, cfg)
	path := cfg.Path(dblp.Author)
	_, err := p.ProduceFile(context.Background(), dblp.Author, path)
	if !errors.Is(err, xmlstream.ErrMalformedInput) {
		t.Fatalf("got %v, want malformed input", err)
	}
	var merr *xmlstream.MalformedInputError
	if !errors.As(err, &merr) || merr.Line == 0 {
		t.Errorf("expected position in error, got %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("failed pass left a destination file: %v", err)
	}
	entries, err := os.ReadDir(cfg.OutputDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("failed pass left files: %v", entries)
	}
}

func TestProduceFileKeepsPrevious(t *testing.T) {
	cfg := testConfig(t)
	path := cfg.Path(dblp.Author)
	if err := os.WriteFile(path, []byte("previous\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg.Source = writeSource(t, head+goodRecord+brokenRecord)
	p, _ := testPipeline(t, cfg)
	if _, err := p.ProduceFile(context.Background(), dblp.Author, path); err == nil {
		t.Fatal("expected error")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "previous\n" {
		t.Errorf("previous output changed: %q", b)
	}
}

func TestValidateSource(t *testing.T) {
	ctx := context.Background()
	p, hook := testPipeline(t, testConfig(t))
	if err := p.ValidateSource(ctx); err != nil {
		t.Fatal(err)
	}
	if e := hook.LastEntry(); e == nil || e.Message != "source is valid" || e.Data["records"] != int64(7) {
		t.Errorf("unexpected log entry: %+v", e)
	}

	cfg := testConfig(t)
	cfg.Source = writeSource(t, head+goodRecord+extraRecord+"</dblp>\n")
	cfg.Validate = false
	p, _ = testPipeline(t, cfg)
	// Validation is forced, regardless of the configuration.
	if err := p.ValidateSource(ctx); !errors.Is(err, xmlstream.ErrMalformedInput) {
		t.Errorf("got %v, want malformed input", err)
	}
	var c rowCollector
	stats, err := p.Produce(ctx, dblp.Publication, &c)
	if err != nil {
		t.Fatalf("produce without validation: %v", err)
	}
	if stats.Rows != 2 {
		t.Errorf("got %d rows, want 2", stats.Rows)
	}
}

func TestProduceSkipCounts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Source = writeSource(t, head+goodRecord+
		"<article><author>N</author><year>2001</year></article>\n"+
		"<article key=\"a/4\"><author>R</author><year>MMV</year></article>\n"+
		"<article key=\"a/5\"><author>P</author><year>\n2003\n</year></article>\n"+
		"</dblp>\n")
	cfg.Validate = false
	p, _ := testPipeline(t, cfg)
	var cases = []struct {
		table        dblp.Table
		rows         int64
		skippedNoKey int64
		skippedYear  int64
	}{
		{dblp.Publication, 2, 1, 1},
		{dblp.Authored, 3, 1, 0},
		{dblp.Author, 4, 0, 0},
	}
	for _, c := range cases {
		t.Run(c.table.Name, func(t *testing.T) {
			var rc rowCollector
			stats, err := p.Produce(context.Background(), c.table, &rc)
			if err != nil {
				t.Fatal(err)
			}
			got := []int64{stats.Records, stats.Rows, stats.SkippedNoKey, stats.SkippedYear}
			want := []int64{4, c.rows, c.skippedNoKey, c.skippedYear}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("records, rows, skipped no key, skipped year (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSourceUnavailable(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Source = filepath.Join(t.TempDir(), "missing.xml")
	p, _ := testPipeline(t, cfg)
	if err := p.ValidateSource(ctx); !errors.Is(err, xmlstream.ErrSourceUnavailable) {
		t.Errorf("got %v, want source unavailable", err)
	}

	cfg = testConfig(t)
	cfg.DTD = filepath.Join(t.TempDir(), "missing.dtd")
	p, _ = testPipeline(t, cfg)
	if _, err := p.ProduceAll(ctx); !errors.Is(err, xmlstream.ErrSourceUnavailable) {
		t.Errorf("got %v, want source unavailable", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.OutputDir, ManifestFile)); !os.IsNotExist(err) {
		t.Errorf("failed run wrote a manifest: %v", err)
	}
}

func TestExplicitDTD(t *testing.T) {
	cfg := testConfig(t)
	// The DOCTYPE names a file that does not exist next to the source.
	doc := strings.Replace(head, `"dblp.dtd"`, `"elsewhere.dtd"`, 1) + goodRecord + "</dblp>\n"
	cfg.Source = writeSource(t, doc)
	cfg.DTD = filepath.Join("testdata", "dblp.dtd")
	p, _ := testPipeline(t, cfg)
	if err := p.ValidateSource(context.Background()); err != nil {
		t.Fatal(err)
	}
	g, err := xmlstream.LoadDTD(cfg.DTD)
	if err != nil {
		t.Fatal(err)
	}
	cfg.DTD = ""
	p, _ = testPipeline(t, cfg)
	if err := p.ValidateSource(context.Background()); !errors.Is(err, xmlstream.ErrSourceUnavailable) {
		t.Errorf("got %v, want source unavailable", err)
	}
	p = New(cfg, WithGrammar(g), WithLogger(logrus.New()))
	if err := p.ValidateSource(context.Background()); err != nil {
		t.Errorf("with grammar: %v", err)
	}
}

func TestProduceCancelled(t *testing.T) {
	cfg := testConfig(t)
	p, _ := testPipeline(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	path := cfg.Path(dblp.Authored)
	if _, err := p.ProduceFile(ctx, dblp.Authored, path); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context canceled", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("cancelled pass left a destination file: %v", err)
	}
}

func TestProduceAll(t *testing.T) {
	for _, format := range []sink.Format{sink.CSV, sink.CSVGzip, sink.CSVZstd} {
		t.Run(format.String(), func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Format = format
			cfg.Tables = dblp.Tables
			p, hook := testPipeline(t, cfg)
			m, err := p.ProduceAll(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			read, err := ReadManifest(cfg.OutputDir)
			if err != nil {
				t.Fatal(err)
			}
			if read.RunID != m.RunID || read.RunID == "" {
				t.Errorf("manifest run id %q, want %q", read.RunID, m.RunID)
			}
			if read.Format != format.String() || !read.Validated {
				t.Errorf("unexpected manifest header: %+v", read)
			}
			var names []string
			for _, info := range read.Tables {
				names = append(names, info.Name)
				if info.Rows != int64(len(sampleRows[info.Name])) {
					t.Errorf("%s: manifest has %d rows, want %d", info.Name, info.Rows, len(sampleRows[info.Name]))
				}
				if info.Path != info.Name+"."+format.String() {
					t.Errorf("%s: unexpected path %s", info.Name, info.Path)
				}
				if _, err := os.Stat(filepath.Join(cfg.OutputDir, info.Path)); err != nil {
					t.Error(err)
				}
			}
			if diff := cmp.Diff(dblp.Names(), names); diff != "" {
				t.Errorf("manifest tables mismatch (-want +got):\n%s", diff)
			}
			var written int
			for _, e := range hook.AllEntries() {
				if e.Message == "table written" {
					written++
				}
			}
			if written != len(dblp.Tables) {
				t.Errorf("got %d table written messages, want %d", written, len(dblp.Tables))
			}
		})
	}
}

func TestProduceAllSQLite(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Format = sink.SQLite
	cfg.Tables = dblp.Tables
	p, _ := testPipeline(t, cfg)
	for i := 0; i < 2; i++ {
		if _, err := p.ProduceAll(ctx); err != nil {
			t.Fatal(err)
		}
	}
	db, err := sink.OpenSQLite(filepath.Join(cfg.OutputDir, sink.DatabaseFile))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	for _, table := range dblp.Tables {
		n, err := db.Count(ctx, table.Name)
		if err != nil {
			t.Fatal(err)
		}
		if n != len(sampleRows[table.Name]) {
			t.Errorf("%s: got %d rows, want %d", table.Name, n, len(sampleRows[table.Name]))
		}
	}
	var count string
	err = db.Conn().QueryRowContext(ctx,
		`SELECT page_count FROM publication WHERE key = ?`, "conf/vldb/SmithD01").Scan(&count)
	if err != nil {
		t.Fatal(err)
	}
	if count != "4" {
		t.Errorf("got page count %q, want 4", count)
	}
}

func TestProduceAllFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Source = writeSource(t, head+goodRecord+brokenRecord)
	cfg.Tables = dblp.Tables
	p, _ := testPipeline(t, cfg)
	if _, err := p.ProduceAll(context.Background()); !errors.Is(err, xmlstream.ErrMalformedInput) {
		t.Fatalf("got %v, want malformed input", err)
	}
	entries, err := os.ReadDir(cfg.OutputDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("failed run left files: %v", entries)
	}
}
