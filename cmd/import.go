package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scentdex/catalog-cli/internal/importer"
)

var (
	importCSVPath string
	importWorkers int
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Seed the catalog from the fragrance CSV dataset",
	Long:  "Loads the semicolon-delimited seed dataset into the canonical store. Re-running is safe: rows upsert by external key and verified fields are never overwritten.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("import"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		f, err := os.Open(importCSVPath)
		if err != nil {
			return eris.Wrap(err, "open csv")
		}
		defer f.Close()

		im := importer.New(st, importer.Options{Workers: importWorkers})
		res, err := im.Run(ctx, f)
		if err != nil {
			return eris.Wrap(err, "import csv")
		}

		zap.L().Info("import complete",
			zap.String("csv", importCSVPath),
			zap.Int("rows", res.Rows),
			zap.Int("created", res.Created),
			zap.Int("enhanced", res.Enhanced),
			zap.Int("unchanged", res.Unchanged),
			zap.Int("skipped", res.Skipped),
			zap.Int("failed", res.Failed),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importCSVPath, "csv", "", "path to the seed CSV file (required)")
	importCmd.Flags().IntVar(&importWorkers, "workers", 0, "concurrent upsert workers (default 8)")
	_ = importCmd.MarkFlagRequired("csv")
	rootCmd.AddCommand(importCmd)
}
