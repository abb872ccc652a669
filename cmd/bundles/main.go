// Command bundles sweeps epsilon over a trajectory CSV and reports how
// bundles are born and merge.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/bundle.evolution/internal/api"
	"github.com/banshee-data/bundle.evolution/internal/bundle"
	"github.com/banshee-data/bundle.evolution/internal/config"
	"github.com/banshee-data/bundle.evolution/internal/diagramdb"
	"github.com/banshee-data/bundle.evolution/internal/evolution"
	"github.com/banshee-data/bundle.evolution/internal/monitoring"
	"github.com/banshee-data/bundle.evolution/internal/report"
	"github.com/banshee-data/bundle.evolution/internal/trajectory"
	"github.com/banshee-data/bundle.evolution/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		log.Fatalf("bundles: %v", err)
	}
}

type options struct {
	input      string
	configPath string
	dbPath     string
	plotPath   string
	htmlPath   string
	listen     string
	quiet      bool

	minEps, maxEps, lambda float64
	increment              string
	workers                int
	parallel, noRefine     bool
	ignoreDirection        bool
}

func parseFlags(args []string, out io.Writer) (*options, map[string]bool, error) {
	o := &options{}
	fs := flag.NewFlagSet("bundles", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&o.input, "input", "", "Trajectory CSV with rows trajectory_id,x,y (required)")
	fs.StringVar(&o.configPath, "config", "", "Sweep config (.json, .yaml or .yml); defaults to "+config.DefaultConfigPath+" when present")
	fs.StringVar(&o.dbPath, "db", "", "SQLite database to store the run in")
	fs.StringVar(&o.plotPath, "plot", "", "Write a class lifespan plot to this PNG path")
	fs.StringVar(&o.htmlPath, "html", "", "Write interactive charts to this HTML path")
	fs.StringVar(&o.listen, "listen", "", "Serve the API and debug pages on this address after the sweep (requires -db)")
	fs.BoolVar(&o.quiet, "quiet", false, "Only log warnings")
	fs.Float64Var(&o.minEps, "min", 0, "Minimum epsilon")
	fs.Float64Var(&o.maxEps, "max", 0, "Maximum epsilon")
	fs.Float64Var(&o.lambda, "lambda", 0, "Lambda factor")
	fs.StringVar(&o.increment, "increment", "", "Epsilon increment kind:step, e.g. add:0.5 or mul:2")
	fs.IntVar(&o.workers, "workers", 0, "Thread budget for parallel mode")
	fs.BoolVar(&o.parallel, "parallel", false, "Sample epsilons concurrently (no refinement)")
	fs.BoolVar(&o.noRefine, "no-refine", false, "Disable refinement between samples")
	fs.BoolVar(&o.ignoreDirection, "ignore-direction", false, "Bundle trajectories regardless of direction")
	showVersion := fs.Bool("version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if *showVersion {
		fmt.Fprintln(out, version.String())
		return nil, nil, flag.ErrHelp
	}
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if o.input == "" {
		return nil, nil, errors.New("-input is required")
	}
	if o.listen != "" && o.dbPath == "" {
		return nil, nil, errors.New("-listen requires -db")
	}
	return o, set, nil
}

// loadConfig reads the config file and applies flags given on the command
// line on top of it.
func loadConfig(o *options, set map[string]bool) (*config.EvolutionConfig, error) {
	var cfg *config.EvolutionConfig
	switch {
	case o.configPath != "":
		c, err := config.LoadEvolutionConfig(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = c
	default:
		if c, err := config.LoadEvolutionConfig(config.DefaultConfigPath); err == nil {
			cfg = c
		} else {
			cfg = config.DefaultEvolutionConfig()
		}
	}

	if set["min"] {
		cfg.MinEps = &o.minEps
	}
	if set["max"] {
		cfg.MaxEps = &o.maxEps
	}
	if set["lambda"] {
		cfg.LambdaFactor = &o.lambda
	}
	if set["increment"] {
		inc, err := evolution.ParseIncrement(o.increment)
		if err != nil {
			return nil, err
		}
		kind := string(inc.Kind)
		cfg.Increment, cfg.Step = &kind, &inc.Step
	}
	if set["workers"] {
		cfg.Workers = &o.workers
	}
	if set["parallel"] {
		cfg.Parallel = &o.parallel
	}
	if set["no-refine"] {
		refine := !o.noRefine
		cfg.Refine = &refine
	}
	if set["ignore-direction"] {
		cfg.IgnoreDirection = &o.ignoreDirection
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func readTrajectories(path string) ([]*trajectory.Trajectory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	defer f.Close()
	return trajectory.ReadCSV(f)
}

func run(ctx context.Context, args []string, out io.Writer) error {
	o, set, err := parseFlags(args, out)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	if o.quiet {
		monitoring.SetLevel(monitoring.LevelWarning)
	}
	cfg, err := loadConfig(o, set)
	if err != nil {
		return err
	}
	trajs, err := readTrajectories(o.input)
	if err != nil {
		return err
	}

	builderCfg := cfg.ToBuilderConfig()
	b, err := evolution.NewBuilder(builderCfg, bundle.FreeSpaceGenerator{MaxEntries: cfg.GetRTreeMaxEntries()})
	if err != nil {
		return err
	}
	d := b.Run(ctx, trajs)
	status := b.State().Status

	attrs := evolution.DefaultAttributes()
	if err := printSummary(out, d, attrs); err != nil {
		return err
	}

	if o.plotPath != "" {
		if err := report.SaveLifespanPNG(d, "Bundle lifespans: "+o.input, o.plotPath); err != nil {
			return err
		}
	}
	if o.htmlPath != "" {
		if err := writeHTML(o.htmlPath, d); err != nil {
			return err
		}
	}
	if o.dbPath == "" {
		return nil
	}

	store, err := diagramdb.Open(o.dbPath)
	if err != nil {
		return err
	}
	defer store.Close()
	// The sweep context may already be cancelled; store with a fresh one.
	id, err := store.SaveRun(context.Background(), builderCfg, status, len(trajs), d, attrs)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "run %s stored in %s\n", id, o.dbPath)

	if o.listen == "" || ctx.Err() != nil {
		return nil
	}
	return serve(ctx, o.listen, store, trajs, cfg)
}

func writeHTML(path string, d *evolution.Diagram) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := report.RenderHTML(f, d); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return strconv.FormatFloat(v, 'g', 6, 64)
}

// printSummary writes one row per class.
func printSummary(out io.Writer, d *evolution.Diagram, attrs *evolution.AttributeRegistry) error {
	fmt.Fprintf(out, "%d states, %d classes\n", len(d.Epsilons()), d.NumClasses())
	if d.NumClasses() == 0 {
		return nil
	}
	cols := []string{"birth", "merge", "best_eps", "size", "life_span", "relative_life_span", "mean_length"}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprint(tw, "class\tinto")
	for _, c := range cols {
		fmt.Fprintf(tw, "\t%s", c)
	}
	fmt.Fprintln(tw)
	for _, c := range d.Classes() {
		values := attrs.Evaluate(d, c)
		into := "-"
		if to, ok := d.MergedInto(c); ok {
			into = strconv.Itoa(to)
		}
		fmt.Fprintf(tw, "%d\t%s", c, into)
		for _, col := range cols {
			fmt.Fprintf(tw, "\t%s", formatValue(values[col]))
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}

func serve(ctx context.Context, addr string, store *diagramdb.Store, trajs []*trajectory.Trajectory, cfg *config.EvolutionConfig) error {
	srv := api.NewServer(store, trajs, cfg)
	defer srv.Close()

	mux := srv.ServeMux()
	if err := store.AttachAdminRoutes(mux, "Bundle diagrams"); err != nil {
		return err
	}
	server := &http.Server{
		Addr:    addr,
		Handler: api.LoggingMiddleware(mux),
	}

	errc := make(chan error, 1)
	go func() {
		monitoring.Statusf(monitoring.TagEvolution, "serving on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		return server.Close()
	}
	return nil
}
