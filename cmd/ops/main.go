package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/maksblyz/reeve/internal/billing"
	"github.com/maksblyz/reeve/internal/config"
	"github.com/maksblyz/reeve/internal/ops"
	"github.com/maksblyz/reeve/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "backup":
		if err := cmdBackup(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "backup failed:", err)
			os.Exit(1)
		}
	case "restore":
		if err := cmdRestore(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "restore failed:", err)
			os.Exit(1)
		}
	case "reconcile":
		if err := cmdReconcile(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "reconcile failed:", err)
			os.Exit(1)
		}
	default:
		printUsage()
		os.Exit(2)
	}
}

func cmdBackup(args []string) error {
	fs := flag.NewFlagSet("backup", flag.ContinueOnError)
	dbPath := fs.String("db", "data/reeve.db", "path to the sqlite database")
	out := fs.String("out", "", "output archive path (.tar.gz)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *out == "" {
		ts := time.Now().UTC().Format("20060102T150405Z")
		*out = filepath.Join("backups", "reeve-"+ts+".tar.gz")
	}

	if err := ops.BackupDatabase(*dbPath, *out); err != nil {
		return err
	}
	fmt.Println(*out)
	return nil
}

func cmdRestore(args []string) error {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	archive := fs.String("archive", "", "input backup archive (.tar.gz)")
	target := fs.String("target-dir", "data-restored", "restore target directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *archive == "" {
		return fmt.Errorf("archive is required")
	}
	return ops.RestoreDatabase(*archive, *target)
}

func cmdReconcile(args []string) error {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	configPath := fs.String("config", "reeve_config.yml", "path to the server config")
	dryRun := fs.Bool("dry-run", false, "report what would be charged without charging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	defer db.Close()

	var gateway billing.Gateway
	switch cfg.Billing.Mode {
	case "fake":
		gateway = billing.NewFakeGateway()
	default:
		gateway, err = billing.NewStripeGateway(config.StripeSecretKey(), config.StripeWebhookSecret(), log.Default())
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	report, err := ops.Reconcile(ctx, ops.ReconcileOptions{
		DB:           db,
		Gateway:      gateway,
		Currency:     cfg.Billing.Currency,
		LockDuration: cfg.LockDuration(),
		DryRun:       *dryRun,
		Logger:       log.Default(),
	})
	if err != nil {
		return err
	}
	fmt.Printf("scanned=%d charged=%d failed=%d skipped=%d\n",
		report.Scanned, report.Charged, report.Failed, report.Skipped)
	return nil
}

func printUsage() {
	fmt.Println("usage:")
	fmt.Println("  reeve-ops backup    --db data/reeve.db --out backups/backup.tar.gz")
	fmt.Println("  reeve-ops restore   --archive backups/backup.tar.gz --target-dir data-restored")
	fmt.Println("  reeve-ops reconcile --config reeve_config.yml [--dry-run]")
}
