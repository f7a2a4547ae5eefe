package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/danmarg/msync/lib/imapremote"
	"github.com/danmarg/msync/lib/maildir"
	"github.com/danmarg/msync/lib/memremote"
	"github.com/danmarg/msync/lib/syncengine"
)

const progressUpdateFreqSecs = 2.0

func main() {
	app := &cli.App{
		Name:    "msync",
		Usage:   "Differentially synchronize a Maildir tree against an IMAP account",
		Version: "0.0.1",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "account", Required: true, Usage: "Account name, used for the cache and lock file"},
			&cli.StringFlag{Name: "directory", Required: true, Usage: "Maildir root to sync into/from"},
			&cli.StringFlag{Name: "imap-addr", Usage: "IMAP server address (host:port); omit to use --demo instead"},
			&cli.StringFlag{Name: "imap-user", Usage: "IMAP username"},
			&cli.StringFlag{Name: "imap-pass", Usage: "IMAP password"},
			&cli.UintFlag{Name: "imap-rate", Value: 10, Usage: "Max IMAP commands per second"},
			&cli.BoolFlag{Name: "demo", Usage: "Use an in-memory remote instead of a real IMAP server"},
			&cli.StringFlag{Name: "include", Usage: "Comma-separated folders to sync (default: all)"},
			&cli.StringFlag{Name: "exclude", Usage: "Comma-separated folders to skip"},
			&cli.StringSliceFlag{Name: "folder-alias", Usage: "Canonicalize a folder name, as from=to (e.g. --folder-alias inbox=INBOX); may be repeated"},
			&cli.BoolFlag{Name: "dry-run", Usage: "Compute the patch and report it without applying anything"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	dir := ctx.String("directory")
	if s, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		if err := os.MkdirAll(dir, 0766); err != nil {
			return err
		}
	} else if !s.IsDir() {
		return fmt.Errorf("%s exists and is not a directory", dir)
	}

	left, err := maildir.NewBackend(dir)
	if err != nil {
		return err
	}

	right, err := remoteBackend(ctx)
	if err != nil {
		return err
	}
	if closer, ok := right.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	strategy, err := strategyFromFlags(ctx)
	if err != nil {
		return err
	}

	builder := syncengine.NewConfigBuilder(ctx.String("account")).
		SyncEnabled(true).
		SyncDir(dir).
		DryRun(ctx.Bool("dry-run")).
		Strategy(strategy)
	for _, alias := range ctx.StringSlice("folder-alias") {
		from, to, err := splitFolderAlias(alias)
		if err != nil {
			return err
		}
		builder.FolderAlias(from, to)
	}
	cfg, err := builder.Build()
	if err != nil {
		return err
	}

	lastPrint := time.Time{}
	bus := syncengine.NewBus(func(ctx context.Context, e syncengine.Event) error {
		if time.Since(lastPrint).Seconds() < progressUpdateFreqSecs {
			return nil
		}
		lastPrint = time.Now()
		fmt.Printf("\r%s", e)
		return nil
	})

	controller := &syncengine.Controller{Left: left, Right: right, Bus: bus}
	report, err := controller.Sync(context.Background(), cfg)
	if err != nil {
		return err
	}
	fmt.Println()
	printSummary(report)
	return nil
}

func remoteBackend(ctx *cli.Context) (syncengine.Backend, error) {
	if ctx.Bool("demo") || ctx.String("imap-addr") == "" {
		return memremote.New(), nil
	}
	return imapremote.Dial(ctx.String("imap-addr"), ctx.String("imap-user"), ctx.String("imap-pass"), ctx.Uint("imap-rate"))
}

func strategyFromFlags(ctx *cli.Context) (syncengine.Strategy, error) {
	include := splitNonEmpty(ctx.String("include"))
	exclude := splitNonEmpty(ctx.String("exclude"))
	switch {
	case len(include) > 0 && len(exclude) > 0:
		return syncengine.Strategy{}, fmt.Errorf("--include and --exclude are mutually exclusive")
	case len(include) > 0:
		return syncengine.IncludeStrategy(toFolderNames(include)...), nil
	case len(exclude) > 0:
		return syncengine.ExcludeStrategy(toFolderNames(exclude)...), nil
	default:
		return syncengine.AllStrategy(), nil
	}
}

func splitFolderAlias(s string) (from, to string, err error) {
	parts := strings.SplitN(s, "=", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("--folder-alias %q: want from=to", s)
	}
	return parts[0], parts[1], nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func toFolderNames(names []string) []syncengine.FolderName {
	out := make([]syncengine.FolderName, len(names))
	for i, n := range names {
		out[i] = syncengine.FolderName(n)
	}
	return out
}

func printSummary(r syncengine.Report) {
	fmt.Printf("folders: %d hunks applied, %d cache updates\n", len(r.Folders.Hunks), len(r.Folders.CacheHunks))
	fmt.Printf("envelopes: %d hunks applied, %d cache updates\n", len(r.Envelopes.Hunks), len(r.Envelopes.CacheHunks))
	for _, res := range r.Folders.Hunks {
		if res.Err != nil {
			fmt.Printf("  folder error: %s: %v\n", res.Hunk, res.Err)
		}
	}
	for _, res := range r.Envelopes.Hunks {
		if res.Err != nil {
			fmt.Printf("  envelope error: %s: %v\n", res.Hunk, res.Err)
		}
	}
	for folder, errs := range r.Envelopes.Expunged {
		if errs[0] != nil || errs[1] != nil {
			fmt.Printf("  expunge error in %s: left=%v right=%v\n", folder, errs[0], errs[1])
		}
	}
}
