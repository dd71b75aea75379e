package tables

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/miku/dblptab"
	"github.com/miku/dblptab/atomicfile"
	"github.com/miku/dblptab/schema/dblp"
	"github.com/miku/dblptab/sink"
	"github.com/segmentio/encoding/json"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ManifestFile is written into the output directory after a successful run.
const ManifestFile = "manifest.json"

// Manifest describes the outcome of a run.
type Manifest struct {
	RunID     string      `json:"run_id"`
	Version   string      `json:"version"`
	Source    string      `json:"source"`
	DTD       string      `json:"dtd,omitempty"`
	Format    string      `json:"format"`
	Validated bool        `json:"validated"`
	Started   time.Time   `json:"started"`
	Finished  time.Time   `json:"finished"`
	Tables    []TableInfo `json:"tables"`
}

// TableInfo lists a produced table with the stats of its pass.
type TableInfo struct {
	Name         string   `json:"name"`
	Path         string   `json:"path"`
	Columns      []string `json:"columns"`
	Records      int64    `json:"records"`
	Rows         int64    `json:"rows"`
	SkippedNoKey int64    `json:"skipped_no_key"`
	SkippedYear  int64    `json:"skipped_year"`
	Bytes        int64    `json:"bytes"`
	Elapsed      float64  `json:"elapsed_s"`
}

// ProduceAll produces the given tables, or the configured ones if none are
// given, running up to cfg.Workers passes at once. SQLite output is written
// one table at a time. On success a manifest is written next to the tables.
// If any pass fails, the remaining passes are cancelled and no manifest is
// written.
func (p *Pipeline) ProduceAll(ctx context.Context, tables ...dblp.Table) (*Manifest, error) {
	if len(tables) == 0 {
		tables = p.cfg.Tables
	}
	if err := p.cfg.Check(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(p.cfg.OutputDir, 0755); err != nil {
		return nil, err
	}
	m := &Manifest{
		RunID:     uuid.New().String(),
		Version:   dblptab.Version,
		Source:    p.cfg.Source,
		DTD:       p.cfg.DTD,
		Format:    p.cfg.Format.String(),
		Validated: p.cfg.Validate,
		Started:   time.Now(),
		Tables:    make([]TableInfo, len(tables)),
	}
	log := p.log.WithField("run", m.RunID)
	log.WithFields(logrus.Fields{
		"path":   p.cfg.Source,
		"tables": len(tables),
		"format": m.Format,
	}).Info("starting run")

	var (
		produce func(context.Context, dblp.Table) (Stats, error)
		workers = p.cfg.Workers
	)
	if p.cfg.Format == sink.SQLite {
		db, err := sink.OpenSQLite(filepath.Join(p.cfg.OutputDir, sink.DatabaseFile))
		if err != nil {
			return nil, err
		}
		defer db.Close()
		produce = func(ctx context.Context, t dblp.Table) (Stats, error) {
			return p.produceTable(ctx, db, t)
		}
		workers = 1
	} else {
		produce = func(ctx context.Context, t dblp.Table) (Stats, error) {
			return p.ProduceFile(ctx, t, p.cfg.Path(t))
		}
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, t := range tables {
		g.Go(func() error {
			stats, err := produce(gctx, t)
			if err != nil {
				log.WithField("table", t.Name).WithError(err).Error("pass failed")
				return err
			}
			m.Tables[i] = TableInfo{
				Name:         t.Name,
				Path:         filepath.Base(p.cfg.Path(t)),
				Columns:      t.Columns,
				Records:      stats.Records,
				Rows:         stats.Rows,
				SkippedNoKey: stats.SkippedNoKey,
				SkippedYear:  stats.SkippedYear,
				Bytes:        stats.Bytes,
				Elapsed:      stats.Elapsed.Seconds(),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	m.Finished = time.Now()
	if err := writeManifest(filepath.Join(p.cfg.OutputDir, ManifestFile), m); err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"path":    p.cfg.OutputDir,
		"elapsed": m.Finished.Sub(m.Started).Round(time.Millisecond),
	}).Info("run done")
	return m, nil
}

func writeManifest(path string, m *Manifest) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	f, err := atomicfile.New(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(b, '\n')); err != nil {
		_ = f.Abort()
		return err
	}
	return f.Close()
}

// ReadManifest reads the manifest of a previous run.
func ReadManifest(dir string) (*Manifest, error) {
	b, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
