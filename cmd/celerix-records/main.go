package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/celerix-dev/celerix-records/internal/config"
	"github.com/celerix-dev/celerix-records/internal/logging"
	"github.com/celerix-dev/celerix-records/pkg/filter"
	"github.com/celerix-dev/celerix-records/pkg/schema"
	"github.com/celerix-dev/celerix-records/pkg/sdk"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logging.SetLevel("warn")

	session, err := sdk.New(cfg.Client)
	if err != nil {
		log.Fatalf("Failed to configure client for %s: %v", cfg.Client.BaseURL, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	command := strings.ToUpper(os.Args[1])
	args := os.Args[2:]

	switch command {
	case "QUERY":
		params, token, useImport, err := parseQueryArgs(args)
		if err != nil {
			log.Fatalf("%v\nUsage: celerix-records QUERY [field=value ...] [--page <token>] [--import]", err)
		}
		if useImport || session.PreferImport {
			if err := runImport(ctx, session); err != nil {
				log.Fatal(err)
			}
		}
		page, err := session.Query(ctx, params, token)
		if err != nil {
			log.Fatal(err)
		}
		printPage(page)

	case "IMPORT":
		if err := runImport(ctx, session); err != nil {
			log.Fatal(err)
		}
		snap := session.Snapshot()
		fmt.Printf("Imported %s records.\n", humanize.Comma(int64(snap.Len())))

	case "STATS":
		stats, err := session.Client.Stats(ctx)
		if err != nil {
			log.Fatal(err)
		}
		printJSON(stats)

	case "BATCHES":
		batches, err := session.Client.Batches(ctx)
		if err != nil {
			log.Fatal(err)
		}
		for _, b := range batches {
			fmt.Printf("%-6s %-30s %s\n", b.ID, b.Name, humanize.Time(b.CreatedAt))
		}

	case "FIELDS":
		for _, f := range filter.Fields() {
			line := fmt.Sprintf("%-20s %s", f.Name, f.Kind)
			if len(f.Values) > 0 {
				line += " (" + strings.Join(f.Values, ", ") + ")"
			}
			fmt.Println(line)
		}

	case "PING":
		if err := session.Client.Ping(ctx); err != nil {
			log.Fatal(err)
		}
		fmt.Println("PONG")

	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
	}
}

// parseQueryArgs reads field=value pairs plus the --page and --import flags.
func parseQueryArgs(args []string) (filter.Params, schema.Token, bool, error) {
	var (
		params    filter.Params
		token     schema.Token
		useImport bool
	)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch arg {
		case "--import":
			useImport = true
			continue
		case "--page":
			if i+1 >= len(args) {
				return params, "", false, errors.New("--page needs a token")
			}
			i++
			token = schema.Token(args[i])
			continue
		}
		field, value, ok := strings.Cut(arg, "=")
		if !ok {
			return params, "", false, fmt.Errorf("expected field=value, got %q", arg)
		}
		pred, err := filter.Parse(field, value)
		if err != nil {
			return params, "", false, err
		}
		params = params.With(pred)
	}
	return params, token, useImport, params.Validate()
}

func runImport(ctx context.Context, session *sdk.Session) error {
	if session.Mode() == sdk.ModeNone {
		return errors.New("import needs a session: set CELERIX_RECORDS_TOKEN to your API token")
	}
	start := time.Now()
	err := session.ImportAll(ctx, func(p sdk.Progress) {
		fmt.Fprintf(os.Stderr, "\r%s", formatProgress(p))
		if p.Done {
			fmt.Fprintln(os.Stderr)
		}
	})
	if err != nil {
		var pde *sdk.PartialDataError
		if errors.As(err, &pde) {
			fmt.Fprintln(os.Stderr)
		}
		return fmt.Errorf("import failed: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Import finished in %s.\n", time.Since(start).Round(time.Millisecond))
	return nil
}

func formatProgress(p sdk.Progress) string {
	var b strings.Builder
	if pct, ok := p.Percent(); ok {
		fmt.Fprintf(&b, "%5.1f%% ", pct)
	}
	b.WriteString(humanize.Bytes(uint64(p.Loaded)))
	if p.Total >= 0 {
		b.WriteString(" / " + humanize.Bytes(uint64(p.Total)))
	}
	fmt.Fprintf(&b, "  %s/s", humanize.Bytes(uint64(p.Throughput)))
	switch {
	case p.Done:
		b.WriteString("  done")
	case p.ETAKnown:
		fmt.Fprintf(&b, "  ETA %s", p.ETA.Round(time.Second))
	default:
		b.WriteString("  ETA --")
	}
	return b.String()
}

func printPage(page schema.Page) {
	fmt.Printf("%s matching records\n", humanize.Comma(int64(page.Count)))
	for _, r := range page.Items {
		fmt.Printf("%-6s %-10s %-30s %s\n", r.ID, r.VoterNo, r.Naam, r.Thikana)
	}
	if page.HasPrevious() {
		fmt.Printf("previous: %s\n", page.Previous)
	}
	if page.HasNext() {
		fmt.Printf("next:     %s\n", page.Next)
	}
}

func printUsage() {
	fmt.Println("Celerix Records CLI - query the records collection")
	fmt.Println("\nUsage:")
	fmt.Println("  celerix-records QUERY [field=value ...] [--page <token>] [--import]")
	fmt.Println("  celerix-records IMPORT")
	fmt.Println("  celerix-records STATS")
	fmt.Println("  celerix-records BATCHES")
	fmt.Println("  celerix-records FIELDS")
	fmt.Println("  celerix-records PING")
	fmt.Println("\nEnvironment Variables:")
	fmt.Println("  CELERIX_RECORDS_URL       Base URL of the backend (default: http://127.0.0.1:8000)")
	fmt.Println("  CELERIX_RECORDS_TOKEN     API token")
	fmt.Println("  CELERIX_RECORDS_MODE      direct or import (default: direct)")
	fmt.Println("  CELERIX_RECORDS_CONFIG    Optional YAML config file")
}

func printJSON(v any) {
	bytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(bytes))
}
