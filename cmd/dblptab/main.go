// dblptab turns the dblp XML dump into flat tables.
//
// $ dblptab -s dblp.xml.gz -t all -f csv.zst
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/miku/dblptab"
	"github.com/miku/dblptab/config"
	"github.com/miku/dblptab/schema/dblp"
	"github.com/miku/dblptab/sink"
	"github.com/miku/dblptab/tables"
	"github.com/sirupsen/logrus"
)

var docs = strings.TrimLeft(`
# dblptab - dblp XML to flat tables

Streams the dblp XML dump (plain, .gz or .zst), validates it against its DTD
and writes one table per pass. The DTD is looked up next to the source file,
unless given with -dtd.

## tables

publication    key, title, year, pages, page_count
article        key, journal, volume, number
inproceedings  key, booktitle
book           key, publisher, isbn
incollection   key, crossref
author         author_name
authored       key, author_name

## examples

$ dblptab -s dblp.xml -t publication,author
$ dblptab -s dblp.xml.gz -t all -f sqlite -o /tmp/dblp
$ dblptab -s dblp.xml -validate-only

## config file

Settings can be kept in $XDG_CONFIG_HOME/dblptab/config.yaml or passed
with -c; flags given on the command line take precedence.

	source: /data/dblp/dblp.xml.gz
	output_dir: /data/dblp/tables
	tables: [publication, author, authored]
	format: csv.zst

## flags

`, "\n")

var (
	configFile   = flag.String("c", config.FindFile(), "YAML config file, flags take precedence")
	source       = flag.String("s", "dblp.xml", "dblp XML file, optionally .gz or .zst compressed")
	dtdFile      = flag.String("dtd", "", "DTD file, default: resolve the DOCTYPE next to the source")
	outputDir    = flag.String("o", config.DefaultOutputDir, "output directory")
	tableNames   = flag.String("t", "publication", fmt.Sprintf("comma separated tables or all (%s)", strings.Join(dblp.Names(), ", ")))
	format       = flag.String("f", "csv", "output format: csv, csv.gz, csv.zst or sqlite")
	numWorkers   = flag.Int("w", runtime.NumCPU(), "number of passes to run in parallel")
	noValidate   = flag.Bool("novalidate", false, "do not validate against the DTD")
	validateOnly = flag.Bool("validate-only", false, "validate the source and exit")
	listTables   = flag.Bool("l", false, "list available tables")
	verbose      = flag.Bool("v", false, "verbose output")
	showVersion  = flag.Bool("version", false, "show version")
)

func main() {
	flag.Usage = func() {
		io.WriteString(os.Stderr, docs)
		flag.PrintDefaults()
	}
	flag.Parse()
	if *showVersion {
		fmt.Println(dblptab.Version)
		os.Exit(0)
	}
	if *listTables {
		for _, name := range dblp.Names() {
			fmt.Println(name)
		}
		os.Exit(0)
	}
	log := tables.NewLogger(*verbose)
	cfg, err := buildConfig()
	if err != nil {
		log.Fatal(err)
	}
	if cfg.Verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	if err := cfg.Check(); err != nil {
		log.Fatal(err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	p := tables.New(cfg, tables.WithLogger(log))
	if *validateOnly {
		if err := p.ValidateSource(ctx); err != nil {
			log.Fatal(err)
		}
		return
	}
	m, err := p.ProduceAll(ctx)
	if err != nil {
		log.Fatal(err)
	}
	for _, t := range m.Tables {
		log.WithField("table", t.Name).Debugf("%d rows, %d skipped", t.Rows, t.SkippedNoKey+t.SkippedYear)
	}
}

// buildConfig starts from the defaults, applies the config file and then
// every flag given explicitly.
func buildConfig() (config.Config, error) {
	cfg := config.Default()
	if *configFile != "" {
		if err := config.Load(*configFile, &cfg); err != nil {
			return cfg, err
		}
	}
	var err error
	flag.Visit(func(f *flag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "s":
			cfg.Source = *source
		case "dtd":
			cfg.DTD = *dtdFile
		case "o":
			cfg.OutputDir = *outputDir
		case "t":
			cfg.Tables, err = dblp.Parse(*tableNames)
		case "f":
			cfg.Format, err = sink.ParseFormat(*format)
		case "w":
			cfg.Workers = *numWorkers
		case "novalidate":
			cfg.Validate = !*noValidate
		case "v":
			cfg.Verbose = *verbose
		}
	})
	return cfg, err
}
