// Command metnorm converts gridded NetCDF, block HDF5 and CSV inputs into
// normalized CSV tables.
//
// Usage:
//
//	metnorm -in era5-2021-jan.nc -out era5.csv
//	metnorm -in us_tmp2m-20210101.h5,us_tmp2m-20210115.h5 -out ./csv -years 2021
//	metnorm -in history.h5 -format frame -years 2015,2016 -out history.csv
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.ngs.io/metnorm/internal/adapter/store/blocks"
	"go.ngs.io/metnorm/internal/adapter/store/csv"
	"go.ngs.io/metnorm/internal/adapter/store/grid"
	"go.ngs.io/metnorm/internal/config"
	"go.ngs.io/metnorm/internal/observability"
	"go.ngs.io/metnorm/internal/retrieval"
	"go.ngs.io/metnorm/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	in := flag.String("in", "", "comma-separated input files (.nc, .h5, .csv)")
	out := flag.String("out", "", "output CSV file, or directory with several inputs (default: stdout)")
	format := flag.String("format", "", "input format override: netcdf, hdf5, frame or csv")
	years := flag.String("years", "", "comma-separated years to keep")
	dateColumn := flag.String("date-column", "", "date column the year filter applies to")
	flag.Parse()

	if *in == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -in")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := cfg.NewLogger()
	metrics := observability.NewMetrics()

	uc := usecase.NewNormalizeUseCase(
		grid.NewDecoder(grid.DefaultConfig(), logger, metrics),
		blocks.NewReader(blocks.DefaultLayout(), logger, metrics),
		retrieval.NewBuilder(cfg.DailyStatTimeZone, cfg.Era5Frequency),
		logger,
		metrics,
		cfg.MaxParallel,
	)

	var filter []int
	if *years != "" {
		if filter, err = usecase.ParseYears(*years); err != nil {
			return err
		}
	}

	var reqs []usecase.LoadRequest
	for _, path := range strings.Split(*in, ",") {
		reqs = append(reqs, usecase.LoadRequest{
			Path:       strings.TrimSpace(path),
			Format:     *format,
			Years:      filter,
			DateColumn: *dateColumn,
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	results, err := uc.LoadMany(ctx, reqs)
	if err != nil {
		return err
	}

	switch {
	case *out == "" && len(results) == 1:
		return csv.Write(os.Stdout, results[0].Table)
	case *out == "":
		return fmt.Errorf("-out must name a directory when converting several inputs")
	case len(results) == 1:
		return csv.WriteFile(*out, results[0].Table)
	}

	if err := os.MkdirAll(*out, 0o750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	for i, res := range results {
		base := filepath.Base(reqs[i].Path)
		target := filepath.Join(*out, strings.TrimSuffix(base, filepath.Ext(base))+".csv")
		if err := csv.WriteFile(target, res.Table); err != nil {
			return err
		}
		logger.Info("wrote table", "input", reqs[i].Path, "output", target,
			"rows", res.Table.Len(), "dropped", res.Report.RowsDropped, "narrowed", res.Report.Narrowed)
	}
	return nil
}
