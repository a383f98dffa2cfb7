package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/hanpama/graphcache/internal/cache/sqlcache"
	"github.com/hanpama/graphcache/internal/client"
	"github.com/hanpama/graphcache/internal/config"
	"github.com/hanpama/graphcache/internal/fetcher"
	"github.com/hanpama/graphcache/internal/language"
	"github.com/hanpama/graphcache/internal/operation"
	"github.com/hanpama/graphcache/internal/record"
)

const rootUsage = `graphcache: GraphQL client with a normalized cache

USAGE:
  graphcache [global flags] <command> [flags]

GLOBAL FLAGS:
  -config <file>            TOML configuration file
  -metrics.addr <addr>      Serve Prometheus metrics on addr
  -otel.endpoint <addr>     OTLP collector endpoint

COMMANDS:
  query            Run an operation and print the responses
  watch            Run a query and print it again whenever it changes
  cache            Inspect or edit the SQLite cache (dump, remove, clear)
  help             Show help for any command
`

const queryUsage = `query FLAGS:
  -endpoint <url>           GraphQL endpoint (overrides config)
  -query <document>         Operation document
  -query-file <file>        Read the operation document from file
  -operation <name>         Operation to run when the document has several
  -variables <json>         Variables as a JSON object
  -policy <name>            cache-first, cache-only, network-only, network-first,
                            cache-and-network (default: from config)
  -schema <file>            SDL schema used to validate the document
  -header <Name: value>     Extra request header. Repeatable
  -cache.sqlite <file>      Durable cache file (overrides config)
`

const watchUsage = `watch FLAGS:
  (all query flags, plus)
  -interval <duration>      Refetch from the network every interval (default: 30s)
  -count <n>                Exit after n deliveries (default: 0, run until interrupted)
`

const cacheUsage = `cache USAGE:
  graphcache cache [-cache.sqlite <file>] dump
  graphcache cache [-cache.sqlite <file>] remove [-cascade] <key>...
  graphcache cache [-cache.sqlite <file>] clear
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		log.Fatal(err)
	}
}

type globals struct {
	configPath   string
	metricsAddr  string
	otelEndpoint string
}

func (g globals) config() (*config.Config, error) {
	cfg, err := loadConfig(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.metricsAddr != "" {
		cfg.Telemetry.MetricsAddr = g.metricsAddr
	}
	if g.otelEndpoint != "" {
		cfg.Telemetry.OTelEndpoint = g.otelEndpoint
	}
	return cfg, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var g globals
	global := flag.NewFlagSet("graphcache", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer)) // silence automatic output
	global.StringVar(&g.configPath, "config", "", "TOML configuration file")
	global.StringVar(&g.metricsAddr, "metrics.addr", "", "Prometheus metrics address")
	global.StringVar(&g.otelEndpoint, "otel.endpoint", "", "OTLP collector endpoint")
	if err := global.Parse(args); err != nil {
		fmt.Fprint(stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "query":
		return cmdQuery(ctx, g, cmdArgs, stdout, stderr)
	case "watch":
		return cmdWatch(ctx, g, cmdArgs, stdout, stderr)
	case "cache":
		return cmdCache(ctx, g, cmdArgs, stdout, stderr)
	case "help":
		return cmdHelp(cmdArgs, stdout)
	default:
		fmt.Fprint(stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, rootUsage)
		return nil
	}
	switch args[0] {
	case "query":
		fmt.Fprint(stdout, queryUsage)
	case "watch":
		fmt.Fprint(stdout, queryUsage, watchUsage)
	case "cache":
		fmt.Fprint(stdout, cacheUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

type stringListFlag []string

func (s *stringListFlag) String() string { return "" }

func (s *stringListFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// operationFlags are shared by query and watch.
type operationFlags struct {
	endpoint   string
	query      string
	queryFile  string
	opName     string
	variables  string
	policy     string
	schema     string
	sqlitePath string
	headers    stringListFlag
}

func (f *operationFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.endpoint, "endpoint", "", "GraphQL endpoint")
	fs.StringVar(&f.query, "query", "", "Operation document")
	fs.StringVar(&f.queryFile, "query-file", "", "Operation document file")
	fs.StringVar(&f.opName, "operation", "", "Operation name")
	fs.StringVar(&f.variables, "variables", "", "Variables JSON object")
	fs.StringVar(&f.policy, "policy", "", "Fetch policy")
	fs.StringVar(&f.schema, "schema", "", "SDL schema file")
	fs.StringVar(&f.sqlitePath, "cache.sqlite", "", "Durable cache file")
	fs.Var(&f.headers, "header", "Extra request header")
}

// apply copies flags that were set over cfg.
func (f *operationFlags) apply(cfg *config.Config) error {
	if f.endpoint != "" {
		cfg.Endpoint = f.endpoint
	}
	if f.policy != "" {
		cfg.FetchPolicy = f.policy
	}
	if f.schema != "" {
		cfg.Schema = f.schema
	}
	if f.sqlitePath != "" {
		cfg.Cache.SQLitePath = f.sqlitePath
	}
	for _, h := range f.headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return fmt.Errorf("invalid header %q", h)
		}
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		cfg.Headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return nil
}

func (f *operationFlags) operation(s *stack) (*operation.Operation, error) {
	source := f.query
	if f.queryFile != "" {
		data, err := os.ReadFile(f.queryFile)
		if err != nil {
			return nil, err
		}
		source = string(data)
	}
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("-query or -query-file is required")
	}
	var variables map[string]any
	if f.variables != "" {
		dec := json.NewDecoder(strings.NewReader(f.variables))
		dec.UseNumber()
		if err := dec.Decode(&variables); err != nil {
			return nil, fmt.Errorf("-variables: %w", err)
		}
	}
	return s.newOperation(source, variables, f.opName)
}

func (f *operationFlags) setup(ctx context.Context, g globals, stderr io.Writer) (*stack, *operation.Operation, error) {
	cfg, err := g.config()
	if err != nil {
		return nil, nil, err
	}
	if err := f.apply(cfg); err != nil {
		return nil, nil, err
	}
	s, err := newStack(ctx, cfg, stderr)
	if err != nil {
		return nil, nil, err
	}
	op, err := f.operation(s)
	if err != nil {
		_ = s.Close()
		return nil, nil, err
	}
	return s, op, nil
}

type output struct {
	Data      map[string]any    `json:"data,omitempty"`
	Errors    []operation.Error `json:"errors,omitempty"`
	FromCache bool              `json:"fromCache"`
}

func printResponse(w io.Writer, resp *operation.Response) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(output{Data: resp.Data, Errors: resp.Errors, FromCache: resp.FromCache})
}

func cmdQuery(ctx context.Context, g globals, args []string, stdout, stderr io.Writer) error {
	var f operationFlags
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	f.register(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(stderr, queryUsage)
		return err
	}
	s, op, err := f.setup(ctx, g, stderr)
	if err != nil {
		return err
	}
	defer s.Close()

	var call *client.Call
	if op.Type() == language.Mutation {
		call = s.client.Mutate(ctx, op)
	} else {
		call = s.client.Query(ctx, op)
	}

	done := make(chan error, 1)
	finish := func(err error) {
		select {
		case done <- err:
		default:
		}
	}
	err = call.Enqueue(client.CallbackFuncs{
		Response: func(resp *operation.Response) {
			if err := printResponse(stdout, resp); err != nil {
				s.logger.Error("print response", "err", err)
			}
		},
		Status: func(st client.Status) {
			if st == client.StatusCompleted {
				finish(nil)
			}
		},
		Failure:  finish,
		Canceled: func() { finish(client.ErrCanceled) },
	})
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		call.Cancel()
		return ctx.Err()
	}
}

func cmdWatch(ctx context.Context, g globals, args []string, stdout, stderr io.Writer) error {
	var f operationFlags
	interval := 30 * time.Second
	count := 0
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	f.register(fs)
	fs.DurationVar(&interval, "interval", interval, "Network refetch interval")
	fs.IntVar(&count, "count", count, "Exit after n deliveries")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(stderr, queryUsage, watchUsage)
		return err
	}
	if interval <= 0 {
		return fmt.Errorf("-interval must be positive")
	}
	s, op, err := f.setup(ctx, g, stderr)
	if err != nil {
		return err
	}
	defer s.Close()

	w := s.client.Watch(ctx, op).RefetchPolicy(fetcher.NetworkOnly)
	deliveries := make(chan struct{})
	failed := make(chan error, 1)
	stopped := make(chan struct{})
	defer close(stopped)
	err = w.EnqueueAndWatch(client.CallbackFuncs{
		Response: func(resp *operation.Response) {
			if err := printResponse(stdout, resp); err != nil {
				s.logger.Error("print response", "err", err)
			}
			select {
			case deliveries <- struct{}{}:
			case <-stopped:
			}
		},
		Failure: func(err error) {
			select {
			case failed <- err:
			default:
			}
		},
	})
	if err != nil {
		return err
	}
	defer w.Cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	seen := 0
	for {
		select {
		case <-deliveries:
			seen++
			if count > 0 && seen >= count {
				return nil
			}
		case err := <-failed:
			return err
		case <-ticker.C:
			if err := w.Refetch(); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func cmdCache(ctx context.Context, g globals, args []string, stdout, stderr io.Writer) error {
	sqlitePath := ""
	fs := flag.NewFlagSet("cache", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&sqlitePath, "cache.sqlite", sqlitePath, "Durable cache file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(stderr, cacheUsage)
		return err
	}
	if sqlitePath == "" {
		cfg, err := g.config()
		if err != nil {
			return err
		}
		sqlitePath = cfg.Cache.SQLitePath
	}
	if sqlitePath == "" {
		fmt.Fprint(stderr, cacheUsage)
		return fmt.Errorf("-cache.sqlite is required")
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprint(stderr, cacheUsage)
		return fmt.Errorf("missing cache command")
	}

	c, err := sqlcache.Open(ctx, sqlitePath)
	if err != nil {
		return err
	}
	defer c.Close()

	switch rest[0] {
	case "dump":
		records, err := c.Dump(ctx)
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(records))
		for k := range records {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			raw, err := record.Marshal(records[k])
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "%s\t%s\n", k, raw)
		}
		return nil
	case "remove":
		rfs := flag.NewFlagSet("remove", flag.ContinueOnError)
		rfs.SetOutput(new(bytes.Buffer))
		cascade := rfs.Bool("cascade", false, "Also remove referenced records")
		if err := rfs.Parse(rest[1:]); err != nil {
			fmt.Fprint(stderr, cacheUsage)
			return err
		}
		if rfs.NArg() == 0 {
			return fmt.Errorf("remove: missing key")
		}
		removed := 0
		for _, key := range rfs.Args() {
			ok, err := c.Remove(ctx, key, *cascade)
			if err != nil {
				return err
			}
			if ok {
				removed++
			}
		}
		fmt.Fprintf(stdout, "removed %d\n", removed)
		return nil
	case "clear":
		return c.Clear(ctx)
	default:
		fmt.Fprint(stderr, cacheUsage)
		return fmt.Errorf("unknown cache command %q", rest[0])
	}
}
