package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcourtman/shellgate/internal/config"
	"github.com/rcourtman/shellgate/internal/logging"
	"github.com/rcourtman/shellgate/pkg/reporting"
)

var (
	reportDate   string
	reportOutput string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render a day's audit journal as a PDF report",
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.Init(logging.Config{
			Format:    "auto",
			Level:     "warn",
			Component: "shellgate",
		})

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}

		date := time.Now()
		if reportDate != "" {
			date, err = time.Parse("2006-01-02", reportDate)
			if err != nil {
				return fmt.Errorf("invalid date %q, expected YYYY-MM-DD", reportDate)
			}
		}

		data, err := reporting.LoadDay(cfg.LogsDir, date)
		if err != nil {
			return err
		}

		pdfBytes, err := reporting.NewPDFGenerator().Generate(data)
		if err != nil {
			return fmt.Errorf("render report: %w", err)
		}

		out := reportOutput
		if out == "" {
			out = fmt.Sprintf("shellgate-report-%s.pdf", date.Format("2006-01-02"))
		}
		if err := os.WriteFile(out, pdfBytes, 0o644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		fmt.Printf("Wrote %s (%d entries, %d blocked)\n", out, data.Entries, len(data.Blocked))
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportDate, "date", "", "report date as YYYY-MM-DD (default today)")
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "output PDF path")
}
