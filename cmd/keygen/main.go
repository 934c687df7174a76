// Command keygen is the vendor-side license administration tool:
// issue, inspect, revoke, extend and export licenses in the
// entitlement store.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"coursesmith/internal/config"
	"coursesmith/internal/license"
	"coursesmith/internal/store"
)

const usage = `usage: keygen <command> [flags]

commands:
  generate   issue a new license
  list       list all licenses
  search     find licenses by email or key substring
  ban        revoke a license
  unban      reinstate a revoked license
  extend     push a license expiry out
  stats      summarize the license population
  export     write all licenses to an xlsx workbook

  encrypt-credentials  write a passphrase-encrypted store credentials file
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err := run(os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "keygen: %v\n", err)
		os.Exit(1)
	}
}

func run(command string, args []string) error {
	_ = godotenv.Load()

	// Commands that need no store backend dispatch before config
	// validation can demand one.
	switch command {
	case "encrypt-credentials":
		return cmdEncryptCredentials(args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Admin tooling logs to stderr only; file logging belongs to the
	// service.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	st, err := buildStore(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	issuer := license.NewIssuer(license.NewKeySigner(cfg.License.SigningSecret), st)

	switch command {
	case "generate":
		return cmdGenerate(ctx, issuer, args)
	case "list":
		return cmdList(ctx, st, args)
	case "search":
		return cmdSearch(ctx, st, args)
	case "ban":
		return cmdBan(ctx, issuer, args, true)
	case "unban":
		return cmdBan(ctx, issuer, args, false)
	case "extend":
		return cmdExtend(ctx, issuer, args)
	case "stats":
		return cmdStats(ctx, st, args)
	case "export":
		return cmdExport(ctx, st, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func buildStore(cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store.Backend {
	case "rest":
		return store.NewRESTStore(cfg.Store, logger), nil
	case "postgres":
		return store.NewPostgresStore(cfg.Store.PostgresDSN, logger)
	case "sheets":
		return store.NewSheetsStore(context.Background(), cfg.Store, logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func cmdGenerate(ctx context.Context, issuer *license.Issuer, args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	email := fs.String("email", "", "buyer email (required)")
	tier := fs.String("tier", license.TierStandard, "tier: trial, standard, enterprise, lifetime")
	durationFlag := fs.String("duration", string(license.Duration1Year), "duration: none, 3d, 1m, 3m, 6m, 1y")
	devices := fs.Int("devices", 0, "max devices (default 3, clamped to 1-100)")
	fs.Parse(args)

	if *email == "" {
		return fmt.Errorf("generate: -email is required")
	}

	duration, err := license.ParseDuration(*durationFlag)
	if err != nil {
		return err
	}

	rec, err := issuer.Issue(ctx, *email, *tier, duration, *devices)
	if err != nil {
		return err
	}

	fmt.Printf("key:      %s\n", rec.LicenseKey)
	fmt.Printf("email:    %s\n", rec.Email)
	fmt.Printf("tier:     %s\n", rec.Tier)
	fmt.Printf("devices:  %d\n", rec.MaxDevices)
	fmt.Printf("expires:  %s\n", formatExpiry(rec.ValidUntil))
	return nil
}

func cmdList(ctx context.Context, st store.Store, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	fs.Parse(args)

	records, err := st.List(ctx)
	if err != nil {
		return err
	}
	printRecords(records)
	return nil
}

func cmdSearch(ctx context.Context, st store.Store, args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	query := fs.String("q", "", "substring of email or license key (required)")
	fs.Parse(args)

	if *query == "" {
		return fmt.Errorf("search: -q is required")
	}

	records, err := st.List(ctx)
	if err != nil {
		return err
	}

	q := strings.ToLower(*query)
	var matched []store.LicenseRecord
	for _, rec := range records {
		if strings.Contains(strings.ToLower(rec.Email), q) ||
			strings.Contains(strings.ToLower(rec.LicenseKey), q) {
			matched = append(matched, rec)
		}
	}
	printRecords(matched)
	return nil
}

func cmdBan(ctx context.Context, issuer *license.Issuer, args []string, ban bool) error {
	name := "ban"
	if !ban {
		name = "unban"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	key := fs.String("key", "", "license key (required)")
	fs.Parse(args)

	if *key == "" {
		return fmt.Errorf("%s: -key is required", name)
	}

	if ban {
		if err := issuer.Revoke(ctx, *key); err != nil {
			return err
		}
		fmt.Printf("revoked %s\n", license.Normalize(*key))
		return nil
	}
	if err := issuer.Reinstate(ctx, *key); err != nil {
		return err
	}
	fmt.Printf("reinstated %s\n", license.Normalize(*key))
	return nil
}

func cmdExtend(ctx context.Context, issuer *license.Issuer, args []string) error {
	fs := flag.NewFlagSet("extend", flag.ExitOnError)
	key := fs.String("key", "", "license key (required)")
	durationFlag := fs.String("duration", string(license.Duration1Month), "extension: 3d, 1m, 3m, 6m, 1y")
	fs.Parse(args)

	if *key == "" {
		return fmt.Errorf("extend: -key is required")
	}

	duration, err := license.ParseDuration(*durationFlag)
	if err != nil {
		return err
	}

	until, err := issuer.Extend(ctx, *key, duration)
	if err != nil {
		return err
	}
	fmt.Printf("extended %s until %s\n", license.Normalize(*key), until.Format("2006-01-02"))
	return nil
}

func cmdStats(ctx context.Context, st store.Store, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.Parse(args)

	records, err := st.List(ctx)
	if err != nil {
		return err
	}

	stats := store.ComputeStats(records, time.Now().UTC())
	fmt.Printf("total:    %d\n", stats.Total)
	fmt.Printf("active:   %d\n", stats.Active)
	fmt.Printf("banned:   %d\n", stats.Banned)
	fmt.Printf("expired:  %d\n", stats.Expired)
	for _, tier := range license.Tiers() {
		if n := stats.ByTier[tier]; n > 0 {
			fmt.Printf("  %-12s %d\n", tier+":", n)
		}
	}
	return nil
}

func printRecords(records []store.LicenseRecord) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tEMAIL\tTIER\tEXPIRES\tDEVICES\tBANNED")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%t\n",
			rec.LicenseKey, rec.Email, rec.Tier,
			formatExpiry(rec.ValidUntil),
			len(rec.BoundDevices), rec.MaxDevices,
			rec.IsBanned,
		)
	}
	w.Flush()
}

func formatExpiry(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format("2006-01-02")
}
