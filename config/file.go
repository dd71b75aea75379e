package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/adrg/xdg"
	"github.com/miku/dblptab/schema/dblp"
	"github.com/miku/dblptab/sink"
	"gopkg.in/yaml.v3"
)

// ConfigFile is looked up in the XDG config directories.
const ConfigFile = "dblptab/config.yaml"

// file is the YAML layout of a config file. Unset keys keep their defaults.
type file struct {
	Source    string   `yaml:"source"`
	DTD       string   `yaml:"dtd"`
	OutputDir string   `yaml:"output_dir"`
	Tables    []string `yaml:"tables"`
	Format    string   `yaml:"format"`
	Workers   int      `yaml:"workers"`
	Validate  *bool    `yaml:"validate"`
	Verbose   bool     `yaml:"verbose"`
}

// FindFile returns the path of the user config file, or the empty string.
func FindFile() string {
	path, err := xdg.SearchConfigFile(ConfigFile)
	if err != nil {
		return ""
	}
	return path
}

// Load reads a YAML config file on top of c. Environment variables in the
// file are expanded.
func Load(path string, c *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	var f file
	dec := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(data))))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if f.Source != "" {
		c.Source = f.Source
	}
	if f.DTD != "" {
		c.DTD = f.DTD
	}
	if f.OutputDir != "" {
		c.OutputDir = f.OutputDir
	}
	if len(f.Tables) > 0 {
		ts, err := dblp.Parse(strings.Join(f.Tables, ","))
		if err != nil {
			return fmt.Errorf("config %s: %w", path, err)
		}
		c.Tables = ts
	}
	if f.Format != "" {
		format, err := sink.ParseFormat(f.Format)
		if err != nil {
			return fmt.Errorf("config %s: %w", path, err)
		}
		c.Format = format
	}
	if f.Workers != 0 {
		c.Workers = f.Workers
	}
	if f.Validate != nil {
		c.Validate = *f.Validate
	}
	c.Verbose = c.Verbose || f.Verbose
	return nil
}
