// Command migrate applies a SQL migration script to the configured
// database, skipping statements whose objects already exist.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"anzacash/internal/config"
	"anzacash/internal/database"
	"anzacash/internal/logger"
	"anzacash/internal/migrate"
)

const (
	exitFatal  = 1
	exitStrict = 2
)

type report struct {
	File    string           `json:"file"`
	Summary *migrate.Summary `json:"summary"`
	Missing []string         `json:"missing,omitempty"`
	Checks  []migrate.Check  `json:"checks,omitempty"`
}

func main() {
	expect := flag.String("expect", "", `schema to verify afterwards, e.g. "users,users.sponsor_id,users#idx_users_email"`)
	asJSON := flag.Bool("json", false, "print the report as JSON")
	strict := flag.Bool("strict", false, "exit non-zero when a statement fails or a verification is missing")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <file.sql>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(exitFatal)
	}

	cfg := config.LoadConfig()
	logger.InitLogger(os.Stderr, logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := run(ctx, cfg, flag.Arg(0), *expect, *asJSON, *strict, os.Stdout)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, cfg *config.Config, file, expect string, asJSON, strict bool, out io.Writer) int {
	if err := cfg.Validate(); err != nil {
		logger.Errorf("Invalid configuration: %v", err)
		return exitFatal
	}
	expectations, err := migrate.ParseExpectations(expect)
	if err != nil {
		logger.Errorf("Invalid -expect: %v", err)
		return exitFatal
	}

	db, err := database.Open(cfg)
	if err != nil {
		logger.Errorf("%v", err)
		return exitFatal
	}
	defer database.Close(db)

	classifier, ok := migrate.ClassifierFor(db.Dialector.Name())
	if !ok {
		logger.Errorf("No error classifier for %s", db.Dialector.Name())
		return exitFatal
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Errorf("%v", err)
		return exitFatal
	}

	runner := migrate.NewRunner(sqlDB, classifier, cfg.MigrationStatementTimeout)
	summary, err := runner.RunFile(ctx, file)
	rep := report{File: file, Summary: summary}
	if err != nil {
		logger.Errorf("Migration aborted: %v", err)
		if summary != nil {
			printReport(out, rep, asJSON)
		}
		return exitFatal
	}

	if len(expectations) > 0 {
		rep.Checks = migrate.Verify(db.Migrator(), expectations)
		for _, c := range migrate.Missing(rep.Checks) {
			rep.Missing = append(rep.Missing, c.String())
		}
	}
	printReport(out, rep, asJSON)

	if strict && (len(summary.Errors) > 0 || len(rep.Missing) > 0) {
		return exitStrict
	}
	return 0
}

func printReport(out io.Writer, rep report, asJSON bool) {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		_ = enc.Encode(rep)
		return
	}

	s := rep.Summary
	fmt.Fprintf(out, "%s: %d statements completed (%d already applied), %d failed\n",
		rep.File, s.Completed, s.Skipped, len(s.Errors))
	for _, e := range s.Errors {
		fmt.Fprintf(out, "  statement %d: %s\n    %s\n", e.Ordinal, e.Error, e.Statement)
	}
	for _, c := range rep.Checks {
		state := "ok"
		if !c.Present {
			state = "MISSING"
		}
		fmt.Fprintf(out, "  verify %-40s %s\n", c.String(), state)
	}
}
