package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tetherbot/tether/internal/config"
	"github.com/tetherbot/tether/internal/engine"
	"github.com/tetherbot/tether/internal/github"
	"github.com/tetherbot/tether/internal/review"
	"github.com/tetherbot/tether/internal/tempid"
	"github.com/tetherbot/tether/internal/types"
)

var (
	inputFlag      string
	resolutionFlag string
	outputFlag     string
	prFlag         int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Dispatch a batch of operations against the configured repository",
	Long: `Reads a JSONL batch file (one request object per line), dispatches every
request in dependency order, and writes a JSON report with per-request
outcomes and the final temporary-identifier resolution table.

Per-request failures are recorded in the report, not raised: the exit code
is zero whenever the batch itself could be processed.`,
	RunE: runBatch,
}

func init() {
	runCmd.Flags().StringVar(&inputFlag, "input", "", "JSONL batch file to dispatch (required)")
	runCmd.Flags().StringVar(&resolutionFlag, "resolution", "", "Carried-in resolution table from a previous run (JSON)")
	runCmd.Flags().StringVar(&outputFlag, "output", "", "Write the report to a file instead of stdout")
	runCmd.Flags().IntVar(&prFlag, "pr", 0, "Pull request number for code-review submissions")
	_ = runCmd.MarkFlagRequired("input")
}

func runBatch(cmd *cobra.Command, _ []string) error {
	// Flags beat config file and environment.
	if repoFlag != "" {
		config.Override("repo", repoFlag)
	}
	if prefixFlag != "" {
		config.Override("prefix", prefixFlag)
	}

	owner, name, tokenEnv, err := resolveScope(inputFlag)
	if err != nil {
		return err
	}
	token := os.Getenv(tokenEnv)
	if token == "" {
		return fmt.Errorf("no token found in $%s", tokenEnv)
	}

	batch, err := loadBatch(inputFlag)
	if err != nil {
		return err
	}
	log.Info().Int("requests", len(batch)).Str("repo", owner+"/"+name).Msg("loaded batch")

	matcher := tempid.NewMatcher(config.GetString("prefix"))
	table := tempid.NewTable(log)
	if resolutionFlag != "" {
		seed, err := loadResolution(resolutionFlag)
		if err != nil {
			return err
		}
		table = tempid.NewTableFrom(seed, log)
		log.Info().Int("entries", table.Len()).Msg("seeded resolution table")
	}

	client := github.NewClient(token, owner, name)
	if timeout := config.GetDuration("timeout"); timeout > 0 {
		client.HTTPClient.Timeout = timeout
	}
	buffer := review.NewBuffer(log)
	handlers := &github.Handlers{
		Client:  client,
		Matcher: matcher,
		Buffer:  buffer,
		Log:     log,
	}

	eng := engine.New(engine.Options{
		Registry: handlers.Registry(config.GetStringSlice("enabled"), config.GetStringSlice("standalone"), config.GetStringSlice("custom")),
		Matcher:  matcher,
		Table:    table,
		Buffer:   buffer,
		Updater:  &github.Updater{Client: client},
		Reviewer: &github.Reviewer{Client: client, PullRequest: prFlag},
		Scope:    client.Scope(),
		Log:      log,
	})

	report := eng.Run(cmd.Context(), batch)
	if err := writeReport(report, outputFlag); err != nil {
		return err
	}
	printSummary(report)
	return nil
}

// resolveScope returns the target repository and the name of the token env
// var. When the working directory's config names no repository, the batch
// file may belong to another project entirely; its config.yaml is then read
// directly, since the viper instance never saw that directory.
func resolveScope(inputPath string) (owner, name, tokenEnv string, err error) {
	tokenEnv = config.GetString("token-env")
	owner, name, ok := config.Repo()
	if !ok {
		if dir, derr := config.FindProjectDir(filepath.Dir(inputPath)); derr == nil {
			local := config.LoadLocalConfigWithEnv(dir)
			owner, name, ok = config.SplitRepo(local.Repo)
			if local.TokenEnv != "" {
				tokenEnv = local.TokenEnv
			}
		}
	}
	if !ok {
		return "", "", "", fmt.Errorf("no target repository: set repo in .tether/config.yaml or pass --repo owner/name")
	}
	if tokenEnv == "" {
		tokenEnv = "GITHUB_TOKEN"
	}
	return owner, name, tokenEnv, nil
}

// loadBatch reads one request per line, skipping blank lines. Line numbers
// in errors are 1-based to match editors.
func loadBatch(path string) ([]types.Request, error) {
	f, err := os.Open(path) // #nosec G304 - path supplied by the operator
	if err != nil {
		return nil, fmt.Errorf("opening batch: %w", err)
	}
	defer func() { _ = f.Close() }()

	var batch []types.Request
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var req types.Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			return nil, fmt.Errorf("batch line %d: %w", lineNo, err)
		}
		req.Index = len(batch)
		batch = append(batch, req)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading batch: %w", err)
	}
	return batch, nil
}

func loadResolution(path string) (map[string]types.Ref, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path supplied by the operator
	if err != nil {
		return nil, fmt.Errorf("opening resolution table: %w", err)
	}
	var seed map[string]types.Ref
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parsing resolution table: %w", err)
	}
	return seed, nil
}

func writeReport(report *types.Report, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	data = append(data, '\n')
	if path == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

// printSummary writes a one-glance colored tally to stderr, keeping stdout
// clean for the report itself.
func printSummary(report *types.Report) {
	if quietFlag {
		return
	}
	success, errored, deferred, skipped := report.Counts()

	parts := []string{color.GreenString("%d succeeded", success)}
	if errored > 0 {
		parts = append(parts, color.RedString("%d failed", errored))
	}
	if deferred > 0 {
		parts = append(parts, color.YellowString("%d deferred", deferred))
	}
	if skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", skipped))
	}
	if report.SyntheticUpdates > 0 {
		parts = append(parts, color.CyanString("%d patched", report.SyntheticUpdates))
	}
	fmt.Fprintln(os.Stderr, strings.Join(parts, ", "))
}
