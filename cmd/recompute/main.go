/*
main.go - One-shot recompute tool

PURPOSE:
  Recomputes enabled amounts and sale aggregates from the stored collection
  events, commission records and payouts. Used after manual data repairs or
  when the server's background scheduler is disabled.

USAGE:
  ./recompute -db=commissions.db                 # every tenant
  ./recompute -db=commissions.db -tenant=acme    # one tenant

Exits non-zero when any sale failed to recompute.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/config"
	"github.com/warp/commission-engine/logging"
	"github.com/warp/commission-engine/store/sqlite"
	"go.uber.org/zap"
)

func main() {
	defaults, err := config.FromEnv(os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}

	dbPath := flag.String("db", defaults.DatabasePath, "SQLite database path")
	tenant := flag.String("tenant", "", "recompute a single tenant (default: all)")
	logMode := flag.String("log", defaults.LogMode, "log mode: debug or production")
	flag.Parse()

	log, err := logging.New(*logMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatal("failed to open database", zap.String("path", *dbPath), zap.Error(err))
	}
	defer store.Close()

	svc := commission.NewService(commission.Options{
		Store:        store,
		Participants: store,
		Owners:       store,
		Audit:        store,
		Logger:       log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = commission.WithActor(ctx, commission.Actor{ID: "recompute-cli", Name: "recompute tool"})

	var reports []commission.TenantRecomputeReport
	if *tenant != "" {
		r, rerr := svc.RecomputeTenant(ctx, commission.TenantID(*tenant))
		reports, err = []commission.TenantRecomputeReport{r}, rerr
	} else {
		reports, err = svc.RecomputeAll(ctx)
	}

	failed := 0
	for _, r := range reports {
		printReport(os.Stdout, r)
		failed += len(r.Failed)
	}
	if err != nil {
		log.Error("recompute finished with errors", zap.Int("failed", failed), zap.Error(err))
		stop()
		os.Exit(1)
	}
}

func printReport(w io.Writer, r commission.TenantRecomputeReport) {
	fmt.Fprintf(w, "tenant %s: %s sales recomputed\n", r.TenantID, humanize.Comma(int64(r.Sales)))
	fmt.Fprintf(w, "  collected:  %s\n", money(r.Totals.TotalCollected.InexactFloat64()))
	fmt.Fprintf(w, "  available:  %s\n", money(r.Totals.AvailableCommission.InexactFloat64()))
	fmt.Fprintf(w, "  paid out:   %s\n", money(r.Totals.TotalPaidToParticipants.InexactFloat64()))

	ids := make([]string, 0, len(r.Failed))
	for id := range r.Failed {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(w, "  FAILED %s: %v\n", id, r.Failed[commission.SaleID(id)])
	}
}

func money(v float64) string {
	return humanize.CommafWithDigits(v, 2)
}
