package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dvloznov/finance-analytics/internal/domain"
	"github.com/dvloznov/finance-analytics/internal/jobs"
)

// runner executes one analysis job and writes its result.
type runner func(ctx context.Context, configFile string, job *jobs.AnalysisJob) error

type scopeFlags struct {
	organization string
	user         string
	account      string
	category     string
	start        string
	end          string
}

func (f *scopeFlags) register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.organization, "org", "", "organization id (required)")
	cmd.PersistentFlags().StringVar(&f.user, "user", "", "restrict to one user")
	cmd.PersistentFlags().StringVar(&f.account, "account", "", "restrict to one account")
	cmd.PersistentFlags().StringVar(&f.category, "category", "", "restrict to one category")
	cmd.PersistentFlags().StringVar(&f.start, "start", "", "first transaction date, YYYY-MM-DD")
	cmd.PersistentFlags().StringVar(&f.end, "end", "", "last transaction date, YYYY-MM-DD")
}

func (f *scopeFlags) scope() (domain.Scope, error) {
	if f.organization == "" {
		return domain.Scope{}, fmt.Errorf("--org is required")
	}
	s := domain.Scope{
		OrganizationID: f.organization,
		UserID:         f.user,
		AccountID:      f.account,
		CategoryID:     f.category,
	}
	var err error
	if s.StartDate, err = parseDate("--start", f.start); err != nil {
		return domain.Scope{}, err
	}
	if s.EndDate, err = parseDate("--end", f.end); err != nil {
		return domain.Scope{}, err
	}
	return s, nil
}

func parseDate(flag, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q, expected YYYY-MM-DD", flag, value)
	}
	return &t, nil
}

func newRootCmd(run runner) *cobra.Command {
	var (
		configFile string
		scope      scopeFlags
		params     jobs.Params
	)

	root := &cobra.Command{
		Use:   "analytics",
		Short: "Run transaction analytics from the command line",
		Long: `Runs anomaly detection, forecasting and clustering over the transactions
of one organization and prints the JSON result.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file")
	scope.register(root)

	command := func(use, short string, jobType jobs.JobType) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := scope.scope()
				if err != nil {
					return err
				}
				job := &jobs.AnalysisJob{Type: jobType, Scope: s, Params: params}
				return run(cmd.Context(), configFile, job)
			},
		}
	}

	anomalies := command("anomalies", "Flag transactions with unusual amounts", jobs.JobTypeDetectAnomalies)
	anomalies.Flags().Float64Var(&params.Threshold, "threshold", 0, "z-score threshold (default from config)")

	multivariate := command("multivariate", "Flag outliers over the full feature vector", jobs.JobTypeDetectMultivariate)
	multivariate.Flags().Float64Var(&params.Contamination, "contamination", 0, "expected share of anomalies (default from config)")

	all := command("all-anomalies", "Run both detectors and merge their findings", jobs.JobTypeDetectAll)
	all.Flags().Float64Var(&params.Threshold, "threshold", 0, "z-score threshold (default from config)")
	all.Flags().Float64Var(&params.Contamination, "contamination", 0, "expected share of anomalies (default from config)")

	spending := command("forecast-spending", "Forecast monthly spending", jobs.JobTypeForecastSpending)
	spending.Flags().IntVar(&params.MonthsAhead, "months", 0, "months to forecast (default from config)")

	cashflow := command("forecast-cashflow", "Forecast monthly net cash flow", jobs.JobTypeForecastCashFlow)
	cashflow.Flags().IntVar(&params.MonthsAhead, "months", 0, "months to forecast (default from config)")

	clusters := command("cluster", "Segment transactions into spending clusters", jobs.JobTypeCluster)
	clusters.Flags().IntVar(&params.Clusters, "clusters", 0, "number of clusters (default from config)")

	root.AddCommand(anomalies, multivariate, all, spending, cashflow, clusters)
	return root
}
