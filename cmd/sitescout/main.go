package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/ChamsBouzaiene/sitescout/internal/config"
	"github.com/ChamsBouzaiene/sitescout/internal/controller"
	"github.com/ChamsBouzaiene/sitescout/internal/task"
)

func main() {
	// Load .env file if it exists; explicit environment wins.
	_ = godotenv.Load()

	// The terminal report goes to stdout; everything else to stderr.
	log.SetOutput(os.Stderr)

	ctx := context.Background()

	args := os.Args[1:]
	if len(args) > 0 && args[0] == "search" {
		if err := runSearchCommand(ctx, args[1:]); err != nil {
			log.Fatalf("search command failed: %v", err)
		}
		return
	}

	if err := runScoutCommand(ctx, args); err != nil {
		log.Fatalf("command failed: %v", err)
	}
}

func runScoutCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sitescout", flag.ExitOnError)
	urlFlag := fs.String("url", "", "Target site URL (required)")
	goalFlag := fs.String("goal", "", "Extraction goal in plain language (required)")
	samples := fs.Int("samples", 0, "Maximum records to collect (default 20)")
	budget := fs.Int("budget", 0, "Repair iterations before giving up (default 3)")
	threshold := fs.Float64("threshold", 0, "Quality gate threshold in (0,1] (default 0.6)")
	timeout := fs.Int("timeout", 0, "Total task timeout in seconds (default 1800)")
	dataDir := fs.String("data-dir", "", "Journal and report index location (default: user config dir)")
	noBrowser := fs.Bool("no-browser", false, "Probe with plain HTTP only, skip headless Chrome")
	progress := fs.Bool("progress", true, "Log phase transitions to stderr")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := loadUserConfig()

	sub := applyConfigDefaults(task.Submission{
		SiteURL:        *urlFlag,
		UserGoal:       *goalFlag,
		MaxSamples:     *samples,
		RepairBudget:   *budget,
		Threshold:      *threshold,
		TimeoutSeconds: *timeout,
	}, cfg)
	tk, err := sub.Build()
	if err != nil {
		// A malformed submission is still reported through the terminal
		// payload, not as a bare process error.
		return printResult(controller.RejectedResult(err), 1)
	}

	env, err := prepareRuntimeEnv(ctx, cfg, *dataDir, *noBrowser)
	if err != nil {
		return err
	}
	defer env.Close()

	opts := env.ControllerOptions()
	if *progress {
		opts.Hooks = append(opts.Hooks, controller.LogHook{})
	}

	ctrl, err := controller.New(tk, opts)
	if err != nil {
		return err
	}

	res := ctrl.Run(ctx)

	exitCode := 0
	if !res.Success {
		exitCode = 1
	}
	return printResult(res, exitCode)
}

// applyConfigDefaults fills submission fields the flags left at zero from
// the user configuration. Explicit flags win; Build applies the built-in
// defaults to whatever remains unset.
func applyConfigDefaults(sub task.Submission, cfg *config.Config) task.Submission {
	if sub.MaxSamples == 0 {
		sub.MaxSamples = cfg.MaxSamples
	}
	if sub.RepairBudget == 0 {
		sub.RepairBudget = cfg.RepairBudget
	}
	if sub.Threshold == 0 {
		sub.Threshold = cfg.QualityThreshold
	}
	return sub
}

func printResult(res *task.Result, exitCode int) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode terminal report: %w", err)
	}
	fmt.Println(string(data))
	if exitCode != 0 {
		os.Exit(exitCode)
	}
	return nil
}

func runSearchCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	dataDir := fs.String("data-dir", "", "Journal and report index location (default: user config dir)")
	k := fs.Int("k", 10, "Maximum hits to print")

	if err := fs.Parse(args); err != nil {
		return err
	}
	query := fs.Arg(0)
	if query == "" {
		return fmt.Errorf("usage: sitescout search [flags] <query>")
	}

	env, err := prepareRuntimeEnv(ctx, loadUserConfig(), *dataDir, true)
	if err != nil {
		return err
	}
	defer env.Close()

	if env.Reports == nil {
		return fmt.Errorf("report index unavailable")
	}

	hits, err := env.Reports.Search(query, *k)
	if err != nil {
		return err
	}
	if len(hits) == 0 {
		fmt.Println("no matching reports")
		return nil
	}
	for _, h := range hits {
		fmt.Printf("%-16s %-40s %-24s %.3f\n", h.TaskID, h.SiteURL, h.Reason, h.Score)
	}
	return nil
}
