// Command boltctl is a reference CLI over the gobolt core: it connects
// (direct or routing), runs one query, and prints the records. It exists
// to exercise the stack end to end and as a manual integration-test
// harness; it does not implement the high-level Session/Transaction API
// the core itself leaves out of scope.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/jroosing/gobolt/internal/address"
	"github.com/jroosing/gobolt/internal/authtoken"
	"github.com/jroosing/gobolt/internal/connector"
	"github.com/jroosing/gobolt/internal/driverconfig"
	"github.com/jroosing/gobolt/internal/iobolt/bolt"
	"github.com/jroosing/gobolt/internal/logging"
	"github.com/jroosing/gobolt/internal/pool"
	routingpool "github.com/jroosing/gobolt/internal/pool/routing"
	"github.com/jroosing/gobolt/internal/recordstream"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "diag" {
		if err := runDiag(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		return
	}
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// cliFlags holds parsed command-line flag values; an empty string/zero
// value means "let the layered config decide" (see applyOverrides).
type cliFlags struct {
	uri       string
	user      string
	password  string
	database  string
	query     string
	config    string
	fetchSize int64
	routing   bool
	debug     bool
}

func parseFlags(args []string) cliFlags {
	fs := flag.NewFlagSet("boltctl", flag.ExitOnError)
	var f cliFlags
	fs.StringVar(&f.uri, "uri", "", "connection URI, e.g. bolt://localhost:7687 or neo4j://host:7687")
	fs.StringVar(&f.user, "user", "", "username")
	fs.StringVar(&f.password, "password", "", "password")
	fs.StringVar(&f.database, "database", "", "target database")
	fs.StringVar(&f.query, "query", "RETURN 1 AS n", "query to run")
	fs.StringVar(&f.config, "config", "", "path to a YAML config file")
	fs.Int64Var(&f.fetchSize, "fetch-size", 0, "PULL fetch size override (0 keeps the config default)")
	fs.BoolVar(&f.routing, "routing", false, "force cluster-routing mode even for a bolt:// URI")
	fs.BoolVar(&f.debug, "debug", false, "enable debug logging")
	fs.Parse(args)
	return f
}

func applyOverrides(cli *driverconfig.CLIConfig, f cliFlags) {
	if f.uri != "" {
		cli.URI = f.uri
	}
	if f.user != "" {
		cli.Username = f.user
	}
	if f.password != "" {
		cli.Password = f.password
	}
	if f.database != "" {
		cli.Database = f.database
	}
	if f.fetchSize != 0 {
		cli.FetchSize = f.fetchSize
	}
	if f.debug {
		cli.LogLevel = "DEBUG"
	}
}

func run(args []string) error {
	f := parseFlags(args)

	cli, err := driverconfig.LoadFromEnvironment(f.config)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyOverrides(cli, f)

	logger := logging.Configure(logging.Config{Level: cli.LogLevel})

	connCfg, err := driverconfig.ParseURI(cli.URI)
	if err != nil {
		return fmt.Errorf("parsing uri: %w", err)
	}
	if f.routing {
		connCfg.Routing = true
	}

	auth := authtoken.None()
	if cli.Username != "" {
		auth = authtoken.Basic(cli.Username, cli.Password, "")
	}
	connectorCfg := connector.Config{
		UserAgent:      "boltctl/0 (" + uuid.NewString()[:8] + ")",
		RoutingContext: connCfg.RoutingContext,
		Auth:           auth,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cli.ConnectionTimeout)
	defer cancel()
	deadline := time.Now().Add(cli.ConnectionTimeout)

	conn, release, err := acquireConnection(ctx, deadline, *connCfg, connectorCfg, cli, logger)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer release()

	stream := recordstream.New(conn, nil, cli.FetchSize, true, cli.ConnectionTimeout)
	if err := stream.Run(f.query, nil, bolt.Extra{Db: cli.Database}); err != nil {
		return fmt.Errorf("running query: %w", err)
	}

	if keys := stream.Keys(); len(keys) > 0 {
		fmt.Println(strings.Join(keys, "\t"))
	}
	count := 0
	for {
		rec, ok, err := stream.Next()
		if err != nil {
			return fmt.Errorf("reading records: %w", err)
		}
		if !ok {
			break
		}
		count++
		fmt.Println(formatRecord(rec))
	}
	logger.Info("query complete", "records", count)
	return nil
}

// acquireConnection borrows a connection either from a single-address pool
// (direct bolt:// URIs) or a routing pool (neo4j:// URIs, or -routing),
// returning a release func that returns it to whichever pool it came from.
func acquireConnection(ctx context.Context, deadline time.Time, connCfg driverconfig.ConnectionConfig, connectorCfg connector.Config, cli *driverconfig.CLIConfig, logger *slog.Logger) (bolt.Protocol, func(), error) {
	if !connCfg.Routing {
		p := pool.New(pool.Config{Max: cli.MaxConnectionPoolSize}, connector.New(connCfg.Address, connectorCfg), logger)
		conn, err := p.Acquire(ctx, deadline, nil)
		if err != nil {
			return nil, nil, err
		}
		return conn, func() { p.Release(conn) }, nil
	}

	rp := routingpool.New(routingpool.Config{
		Seed:           connCfg.Address,
		SubPool:        pool.Config{Max: cli.MaxConnectionPoolSize},
		RoutingContext: connCfg.RoutingContext,
	}, func(addr address.Address) pool.Opener {
		return connector.New(addr, connectorCfg)
	}, logger)

	conn, addr, err := rp.Acquire(ctx, cli.Database, routingpool.ModeWrite, deadline, nil)
	if err != nil {
		return nil, nil, err
	}
	return conn, func() { rp.Release(addr, conn) }, nil
}

func formatRecord(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%v", v)
	}
	return strings.Join(parts, "\t")
}

// runDiag prints host resource stats alongside an instance id, the way a
// driver's diagnostic subcommand helps a user attach useful context to a
// bug report.
func runDiag(args []string) error {
	fs := flag.NewFlagSet("diag", flag.ExitOnError)
	fs.Parse(args)

	percents, err := cpu.Percent(200*time.Millisecond, false)
	if err != nil {
		return fmt.Errorf("reading cpu stats: %w", err)
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return fmt.Errorf("reading memory stats: %w", err)
	}

	fmt.Printf("instance_id=%s\n", uuid.NewString())
	fmt.Printf("cpu_percent=%.1f\n", firstOr(percents, 0))
	fmt.Printf("mem_total_mb=%d\n", vm.Total/1024/1024)
	fmt.Printf("mem_used_percent=%.1f\n", vm.UsedPercent)
	return nil
}

func firstOr(xs []float64, def float64) float64 {
	if len(xs) == 0 {
		return def
	}
	return xs[0]
}
