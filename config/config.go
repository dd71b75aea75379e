// Package config holds the settings of a conversion run. There is no global
// state; every run gets its own Config value.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/adrg/xdg"
	"github.com/miku/dblptab"
	"github.com/miku/dblptab/schema/dblp"
	"github.com/miku/dblptab/sink"
)

// DefaultOutputDir is used when no output directory is given.
var DefaultOutputDir = filepath.Join(xdg.DataHome, dblptab.AppName)

// Config for a run.
type Config struct {
	// Source is the dblp XML file, plain or compressed with gzip or zstd.
	Source string
	// DTD is the document type definition to validate against. If empty,
	// the system identifier of the DOCTYPE is resolved next to Source.
	DTD string
	// OutputDir receives one file per table, or the SQLite database.
	OutputDir string
	// Tables to produce, in order.
	Tables  []dblp.Table
	Format  sink.Format
	Workers int
	// Validate checks the source against its DTD while parsing.
	Validate bool
	Verbose  bool
}

// Default returns the configuration used when nothing is specified.
func Default() Config {
	return Config{
		Source:    "dblp.xml",
		OutputDir: DefaultOutputDir,
		Tables:    []dblp.Table{dblp.Publication},
		Format:    sink.CSV,
		Workers:   runtime.NumCPU(),
		Validate:  true,
	}
}

// Check reports the first problem with the configuration.
func (c Config) Check() error {
	switch {
	case c.Source == "":
		return errors.New("missing source file")
	case c.OutputDir == "":
		return errors.New("missing output directory")
	case len(c.Tables) == 0:
		return errors.New("no tables selected")
	case c.Workers < 1:
		return fmt.Errorf("need at least one worker, got %d", c.Workers)
	}
	return nil
}

// Path returns the destination of a table.
func (c Config) Path(t dblp.Table) string {
	return filepath.Join(c.OutputDir, c.Format.Filename(t.Name))
}
