// Package tables runs extraction passes over a dblp XML file. Every table is
// produced by its own pass over the source; passes share nothing and may run
// concurrently.
package tables

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/miku/dblptab/config"
	"github.com/miku/dblptab/convert"
	"github.com/miku/dblptab/schema/dblp"
	"github.com/miku/dblptab/sink"
	"github.com/miku/dblptab/xmlstream"
	"github.com/sirupsen/logrus"
)

// Stats summarizes a single pass.
type Stats struct {
	Table        string
	Records      int64
	Rows         int64
	SkippedNoKey int64
	SkippedYear  int64
	// Bytes is the amount of (decompressed) input consumed.
	Bytes   int64
	Elapsed time.Duration
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger, by default a text logger on stderr.
func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// WithGrammar uses a parsed DTD instead of loading one.
func WithGrammar(g *xmlstream.Grammar) Option {
	return func(p *Pipeline) {
		p.once.Do(func() { p.grammar = g })
	}
}

// Pipeline produces tables from the source named in its config.
type Pipeline struct {
	cfg config.Config
	log logrus.FieldLogger

	once       sync.Once
	grammar    *xmlstream.Grammar
	grammarErr error
}

// New returns a pipeline for the given configuration.
func New(cfg config.Config, opts ...Option) *Pipeline {
	p := &Pipeline{cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = NewLogger(cfg.Verbose)
	}
	return p
}

// loadGrammar parses an explicitly configured DTD once; passes share it.
func (p *Pipeline) loadGrammar() (*xmlstream.Grammar, error) {
	p.once.Do(func() {
		if p.cfg.DTD == "" {
			return
		}
		p.grammar, p.grammarErr = xmlstream.LoadDTD(p.cfg.DTD)
		if p.grammarErr == nil {
			p.log.WithField("path", p.cfg.DTD).Debug("loaded dtd")
		}
	})
	return p.grammar, p.grammarErr
}

func (p *Pipeline) open(validate bool) (*xmlstream.Ingestor, error) {
	g, err := p.loadGrammar()
	if err != nil {
		return nil, err
	}
	var opts []xmlstream.Option
	if g != nil {
		opts = append(opts, xmlstream.WithGrammar(g))
	}
	if !validate {
		opts = append(opts, xmlstream.WithoutValidation())
	}
	return xmlstream.OpenIngestor(p.cfg.Source, opts...)
}

// ValidateSource runs a single validating pass over the source without
// producing any output.
func (p *Pipeline) ValidateSource(ctx context.Context) error {
	started := time.Now()
	ing, err := p.open(true)
	if err != nil {
		return err
	}
	defer ing.Close()
	var n int64
	for ing.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		n++
	}
	if err := ing.Err(); err != nil {
		return err
	}
	p.log.WithFields(logrus.Fields{
		"path":    p.cfg.Source,
		"records": n,
		"elapsed": time.Since(started).Round(time.Millisecond),
	}).Info("source is valid")
	return nil
}

// Produce runs one pass over the source and writes the rows of a table to
// w, in document order. Distinct value tables are written at the end of the
// pass. The caller closes w.
func (p *Pipeline) Produce(ctx context.Context, t dblp.Table, w sink.RowWriter) (Stats, error) {
	var (
		started = time.Now()
		stats   = Stats{Table: t.Name}
	)
	ing, err := p.open(p.cfg.Validate)
	if err != nil {
		return stats, err
	}
	defer ing.Close()
	write := func(rows []convert.Row) error {
		for _, row := range rows {
			if err := w.WriteRow(row); err != nil {
				return fmt.Errorf("write %s: %w", t.Name, err)
			}
			stats.Rows++
		}
		return nil
	}
	ex := convert.NewExtractor(t)
	for ing.Next() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Records++
		rows, err := ex.Extract(ing.Record())
		switch {
		case convert.IsSkip(err):
			switch {
			case errors.Is(err, convert.ErrSkipNoKey):
				stats.SkippedNoKey++
			case errors.Is(err, convert.ErrSkipYear):
				stats.SkippedYear++
			}
			continue
		case err != nil:
			return stats, err
		}
		if err := write(rows); err != nil {
			return stats, err
		}
	}
	stats.Bytes = ing.InputOffset()
	if err := ing.Err(); err != nil {
		return stats, err
	}
	if err := write(ex.Flush()); err != nil {
		return stats, err
	}
	stats.Elapsed = time.Since(started)
	p.log.WithFields(logrus.Fields{
		"table":   t.Name,
		"records": stats.Records,
		"rows":    stats.Rows,
		"skipped": stats.SkippedNoKey + stats.SkippedYear,
		"elapsed": stats.Elapsed.Round(time.Millisecond),
	}).Debug("pass done")
	return stats, nil
}

// commit closes w after a successful pass, or discards what it holds.
func commit(w sink.RowWriter, err error) error {
	if err != nil {
		if a, ok := w.(sink.Aborter); ok {
			return errors.Join(err, a.Abort())
		}
		return errors.Join(err, w.Close())
	}
	return w.Close()
}

// ProduceFile writes a table to a CSV file at path. The file only appears
// if the whole pass succeeds; a previous file at path is kept otherwise.
func (p *Pipeline) ProduceFile(ctx context.Context, t dblp.Table, path string) (Stats, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return Stats{Table: t.Name}, err
	}
	f, err := sink.Create(path, p.cfg.Format)
	if err != nil {
		return Stats{Table: t.Name}, err
	}
	stats, err := p.Produce(ctx, t, f)
	if err := commit(f, err); err != nil {
		return stats, err
	}
	p.log.WithFields(logrus.Fields{
		"table":   t.Name,
		"path":    path,
		"rows":    stats.Rows,
		"elapsed": stats.Elapsed.Round(time.Millisecond),
	}).Info("table written")
	return stats, nil
}

// produceTable replaces a table in a SQLite database.
func (p *Pipeline) produceTable(ctx context.Context, db *sink.DB, t dblp.Table) (Stats, error) {
	w, err := db.Table(ctx, t.Name, t.Columns)
	if err != nil {
		return Stats{Table: t.Name}, err
	}
	stats, err := p.Produce(ctx, t, w)
	if err := commit(w, err); err != nil {
		return stats, err
	}
	p.log.WithFields(logrus.Fields{
		"table":   t.Name,
		"path":    p.cfg.Path(t),
		"rows":    stats.Rows,
		"elapsed": stats.Elapsed.Round(time.Millisecond),
	}).Info("table written")
	return stats, nil
}
