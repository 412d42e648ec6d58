package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dvloznov/finance-analytics/internal/app"
	"github.com/dvloznov/finance-analytics/internal/config"
	"github.com/dvloznov/finance-analytics/internal/jobs"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := newRootCmd(runAnalysis(os.Stdout)).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runAnalysis returns a runner that executes jobs synchronously against
// BigQuery and writes indented JSON to out.
func runAnalysis(out io.Writer) runner {
	return func(ctx context.Context, configFile string, job *jobs.AnalysisJob) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		log, err := app.NewLogger(cfg.Log, "analytics-cli")
		if err != nil {
			return err
		}

		a, err := app.New(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Service.Handle(a.Context(ctx), job); err != nil {
			return err
		}
		return writeResult(out, job.Result)
	}
}

func writeResult(out io.Writer, result json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, result, "", "  "); err != nil {
		return fmt.Errorf("formatting result: %w", err)
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(out)
	return err
}
