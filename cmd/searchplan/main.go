package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/log/level"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/version"

	"github.com/grafana/searchplan/pkg/engine/plan"
	"github.com/grafana/searchplan/pkg/search"
	"github.com/grafana/searchplan/pkg/searchplan"
	util_flagext "github.com/grafana/searchplan/pkg/util/flagext"
	util_log "github.com/grafana/searchplan/pkg/util/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type options struct {
	configFiles  util_flagext.ConfigFiles
	expandEnv    bool
	searchFile   string
	printPlan    bool
	printVersion bool
}

func (o *options) RegisterFlags(f *flag.FlagSet) {
	f.Var(&o.configFiles, "config.file", "YAML config file to load. May be given several times, later files override earlier ones.")
	f.BoolVar(&o.expandEnv, "config.expand-env", false, "Expands ${var} in config files according to the values of the environment variables.")
	f.StringVar(&o.searchFile, "search.file", "-", "JSON search document to execute. - reads from stdin.")
	f.BoolVar(&o.printPlan, "print-plan", false, "Print the query plan of the search instead of executing it.")
	f.BoolVar(&o.printVersion, "version", false, "Print this builds version information")
}

// parseFlags applies flag defaults, then the config files, then the flags
// given explicitly on the command line.
func parseFlags(args []string, cfg *searchplan.Config, opts *options) error {
	fs := flag.NewFlagSet("searchplan", flag.ContinueOnError)
	opts.RegisterFlags(fs)
	cfg.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if len(opts.configFiles) == 0 {
		return nil
	}

	files := opts.configFiles
	if err := files.Load(cfg, opts.expandEnv); err != nil {
		return err
	}
	opts.configFiles = nil
	return fs.Parse(args)
}

func readSearch(path string) (*search.Search, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrap(err, "opening search file")
		}
		defer f.Close()
		r = f
	}
	return search.DecodeSearch(r)
}

// run executes s and writes the response to out. It reports whether any
// query failed.
func run(ctx context.Context, sp *searchplan.SearchPlan, s *search.Search, out io.Writer) (bool, error) {
	resp, err := sp.Run(ctx, s)
	if err != nil {
		return false, err
	}
	b, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return false, errors.Wrap(err, "encoding response")
	}
	if _, err := fmt.Fprintln(out, string(b)); err != nil {
		return false, err
	}
	return resp.Failed(), nil
}

func printPlan(s *search.Search, out io.Writer) error {
	p, err := plan.Build(s)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(out, p.String())
	return err
}

func main() {
	var (
		cfg  searchplan.Config
		opts options
	)
	if err := parseFlags(os.Args[1:], &cfg, &opts); err != nil {
		fmt.Fprintf(os.Stderr, "failed parsing config: %v\n", err)
		os.Exit(1)
	}
	if opts.printVersion {
		fmt.Println(version.Print("searchplan"))
		os.Exit(0)
	}

	logger, err := util_log.InitLogger(cfg.Log.Format, cfg.Log.Level, prometheus.DefaultRegisterer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed initialising logger: %v\n", err)
		os.Exit(1)
	}

	s, err := readSearch(opts.searchFile)
	util_log.CheckFatal("reading search", err, logger)

	if opts.printPlan {
		util_log.CheckFatal("printing plan", printPlan(s, os.Stdout), logger)
		return
	}

	if err := cfg.Validate(); err != nil {
		level.Error(logger).Log("msg", "validating config", "err", err.Error())
		os.Exit(1)
	}

	sp, err := searchplan.New(cfg, logger, prometheus.DefaultRegisterer)
	util_log.CheckFatal("initialising searchplan", err, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	level.Info(logger).Log("msg", "executing search", "search", s.ID, "queries", len(s.Queries), "version", version.Info())
	failed, err := run(ctx, sp, s, os.Stdout)
	util_log.CheckFatal("running search", err, logger)
	if failed {
		stop()
		os.Exit(1)
	}
}
