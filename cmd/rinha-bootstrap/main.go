// Command rinha-bootstrap prepares the rinha MongoDB database before the
// ledger service starts: it ensures the transactions collection and its
// indexes, then verifies the result.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andretpc/rinha/bootstrap"
	"github.com/andretpc/rinha/config"
	"github.com/andretpc/rinha/log"
	"github.com/andretpc/rinha/mongo"
	"github.com/andretpc/rinha/zap"
	"github.com/fatih/color"
	"github.com/google/uuid"
	flag "github.com/spf13/pflag"
)

const (
	appName      = "rinha-bootstrap"
	syncTimeout  = 2 * time.Second
	closeTimeout = 5 * time.Second
)

// errIncomplete is returned when verification finds the collection or an index missing.
var errIncomplete = errors.New("bootstrap verification failed")

type options struct {
	envFile  string
	uri      string
	logLevel string
	verify   bool
	noColor  bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options

	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.envFile, "env-file", ".env", "Path of an optional dotenv file")
	fs.StringVar(&opts.uri, "uri", "", "MongoDB connection URI (overrides MONGODB_URL)")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")
	fs.BoolVar(&opts.verify, "verify", false, "Only check the database, do not create anything")
	fs.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: %s [options]\n\nEnsures the %s.%s collection and its indexes exist.\n\nOptions:\n",
			appName, bootstrap.DatabaseName, bootstrap.TransactionsCollection)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	return opts, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)

	stop()

	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		}

		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	if opts.noColor {
		color.NoColor = true
	}

	cfg, err := config.Load(opts.envFile)
	if err != nil {
		return err
	}

	if opts.uri != "" {
		cfg.MongoURL = opts.uri
	}

	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}

	zapLogger, err := zap.New(cfg.Logger(appName))
	if err != nil {
		return err
	}

	logger := zapLogger.With(log.String("run_id", uuid.NewString()))

	defer func() {
		syncCtx, cancel := context.WithTimeout(context.Background(), syncTimeout)
		defer cancel()

		_ = logger.Sync(syncCtx)
	}()

	mongoCfg, err := cfg.Mongo()
	if err != nil {
		return err
	}

	mongoCfg.Logger = logger

	client, err := mongo.NewClient(ctx, mongoCfg)
	if err != nil {
		logger.Log(ctx, log.LevelError, "mongo connection failed", log.Err(err))

		return err
	}

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()

		if closeErr := client.Close(closeCtx); closeErr != nil {
			logger.Log(closeCtx, log.LevelWarn, "mongo close failed", log.Err(closeErr))
		}
	}()

	return execute(ctx, client, opts.verify, logger, stdout)
}

// target is what execute needs from the connection.
type target interface {
	bootstrap.Store
	bootstrap.Inspector
}

func execute(ctx context.Context, client target, verifyOnly bool, logger log.Logger, stdout io.Writer) error {
	if !verifyOnly {
		started := time.Now()

		if err := bootstrap.Run(ctx, client); err != nil {
			logger.Log(ctx, log.LevelError, "bootstrap failed", log.Err(err))

			return err
		}

		logger.Log(ctx, log.LevelInfo, "bootstrap finished",
			log.String("database", bootstrap.DatabaseName),
			log.String("collection", bootstrap.TransactionsCollection),
			log.Duration("elapsed", time.Since(started)),
		)
	}

	report, err := bootstrap.Verify(ctx, client)
	if err != nil {
		logger.Log(ctx, log.LevelError, "verification failed", log.Err(err))

		return err
	}

	printReport(stdout, report)

	for _, status := range report.Duplicated() {
		logger.Log(ctx, log.LevelWarn, "index key pattern matched more than once",
			log.String("index", status.Index.String()),
			log.Int("count", status.Count),
		)
	}

	if !report.Complete() {
		logger.Log(ctx, log.LevelWarn, "bootstrap incomplete", log.String("report", report.String()))

		return errIncomplete
	}

	return nil
}
