package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/target/cognitriage-api/internal/bootstrap"
	"github.com/target/cognitriage-api/internal/domain/model"
	"github.com/target/cognitriage-api/internal/domain/triage"
	"github.com/target/cognitriage-api/internal/pipeline"
	"github.com/target/cognitriage-api/internal/service"
)

const (
	defaultRunTimeout = 2 * time.Minute
	pollInterval      = 100 * time.Millisecond
)

type policyCheckOptions struct {
	File string
}

func parsePolicyCheckFlags(args []string, defaultFile string) (policyCheckOptions, error) {
	fs := flag.NewFlagSet("policy-check", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts policyCheckOptions
	fs.StringVar(&opts.File, "file", defaultFile, "Policy file to check (empty for the embedded policy)")
	if err := fs.Parse(args); err != nil {
		return policyCheckOptions{}, err
	}
	opts.File = strings.TrimSpace(opts.File)
	return opts, nil
}

func runPolicyCheck(cmdCtx *commandContext, args []string) error {
	opts, err := parsePolicyCheckFlags(args, cmdCtx.Config.Pipeline.PolicyFile)
	if err != nil {
		return err
	}

	policy, err := loadPolicy(opts.File)
	if err != nil {
		return err
	}
	projection, err := validatePolicy(policy)
	if err != nil {
		return err
	}
	return printPolicy(cmdCtx.Out, opts.File, policy, projection)
}

func loadPolicy(path string) (*triage.Policy, error) {
	if path == "" {
		return triage.DefaultPolicy()
	}
	return triage.LoadPolicy(path)
}

// validatePolicy builds the registry and projection the server would build.
func validatePolicy(policy *triage.Policy) (*pipeline.Projection, error) {
	retriever, err := triage.NewEvidenceRetriever(triage.EvidenceOptions{Mode: triage.EvidenceModeStatic})
	if err != nil {
		return nil, err
	}
	if _, err := triage.NewRegistry(triage.RegistryOptions{Policy: policy, Evidence: retriever}); err != nil {
		return nil, fmt.Errorf("stage plan: %w", err)
	}
	projection, err := triage.NewProjection(policy)
	if err != nil {
		return nil, fmt.Errorf("result projection: %w", err)
	}
	return projection, nil
}

func printPolicy(w io.Writer, source string, policy *triage.Policy, projection *pipeline.Projection) error {
	if source == "" {
		source = "(embedded)"
	}
	if err := writef(w, "Policy %s v%d from %s: OK\n\n", policy.Pipeline, policy.Version, source); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if err := writeln(tw, "#\tSTAGE\tDEPENDS ON\tCHECKPOINT"); err != nil {
		return err
	}
	for i, sp := range policy.Stages {
		deps := strings.Join(sp.DependsOn, ",")
		if deps == "" {
			deps = "-"
		}
		if err := writef(tw, "%d\t%s\t%s\t%d%%\n", i+1, sp.Name, deps, sp.Checkpoint); err != nil {
			return err
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if err := writef(w, "\nScore range: %d-%d\nEvidence max results: %d\n",
		policy.Ingestion.MinTotal, policy.Ingestion.MaxTotal, policy.Evidence.MaxResults); err != nil {
		return err
	}
	return writef(w, "Result projection: %s\n", projection.Expression())
}

type triageRunOptions struct {
	Score   string
	Meta    string
	Files   []string
	Timeout time.Duration
	Raw     bool
}

func parseTriageRunFlags(args []string) (triageRunOptions, error) {
	fs := flag.NewFlagSet("triage-run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts triageRunOptions
	fs.StringVar(&opts.Score, "moca", "", `Cognitive score JSON, e.g. '{"total": 24}' (required)`)
	fs.StringVar(&opts.Meta, "meta", "", "Patient metadata JSON")
	fs.Func("file", "Path of an uploaded file (repeatable, at least one)", func(v string) error {
		if strings.TrimSpace(v) == "" {
			return errors.New("file path cannot be empty")
		}
		opts.Files = append(opts.Files, v)
		return nil
	})
	fs.DurationVar(&opts.Timeout, "timeout", defaultRunTimeout, "Maximum time to wait for the job")
	fs.BoolVar(&opts.Raw, "json", false, "Print the raw result document")

	if err := fs.Parse(args); err != nil {
		return triageRunOptions{}, err
	}
	if strings.TrimSpace(opts.Score) == "" {
		return triageRunOptions{}, errors.New("--moca is required")
	}
	if len(opts.Files) == 0 {
		return triageRunOptions{}, errors.New("at least one --file is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultRunTimeout
	}
	return opts, nil
}

func describeFiles(paths []string) ([]model.UploadedFile, error) {
	files := make([]model.UploadedFile, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory", p)
		}
		files = append(files, model.UploadedFile{
			Name:        filepath.Base(p),
			Size:        info.Size(),
			ContentType: mime.TypeByExtension(filepath.Ext(p)),
		})
	}
	return files, nil
}

func runTriage(cmdCtx *commandContext, args []string) error {
	opts, err := parseTriageRunFlags(args)
	if err != nil {
		return err
	}
	files, err := describeFiles(opts.Files)
	if err != nil {
		return err
	}

	svc, closeFn, err := buildLocalServices(cmdCtx)
	if err != nil {
		return err
	}
	defer closeFn()

	view, err := runLocalJob(cmdCtx.Ctx, svc, service.SubmitRequest{
		Files:        files,
		ScoreJSON:    []byte(opts.Score),
		MetadataJSON: []byte(opts.Meta),
	}, opts.Timeout)
	if err != nil {
		return err
	}
	return printJobResult(cmdCtx.Out, view, opts.Raw)
}

// buildLocalServices wires the same services the server runs, using Redis only
// when it is configured and reachable.
func buildLocalServices(cmdCtx *commandContext) (bootstrap.ServiceContainer, func(), error) {
	var client redis.UniversalClient
	if cmdCtx.Config.Redis.Enabled {
		c, err := maybeConnectRedis(cmdCtx.Logger, &cmdCtx.Config.Redis)
		switch {
		case err == nil:
			client = c
		case errors.Is(err, errRedisNotConfigured):
		default:
			cmdCtx.Logger.Warn("continuing without literature cache", "error", err)
		}
	}

	cfg := cmdCtx.Config
	svc, err := bootstrap.NewServices(&bootstrap.ServiceDeps{
		Config:      &cfg,
		RedisClient: client,
		Logger:      cmdCtx.Logger,
	})
	if err != nil {
		closeRedis(client, cmdCtx.Logger)
		return bootstrap.ServiceContainer{}, nil, err
	}
	return svc, func() {
		if err := svc.Observability.Close(); err != nil {
			cmdCtx.Logger.Warn("close metrics sink failed", "error", err)
		}
		closeRedis(client, cmdCtx.Logger)
	}, nil
}

// runLocalJob submits req, drives the runner until the job ends and returns its result.
func runLocalJob(
	ctx context.Context,
	svc bootstrap.ServiceContainer,
	req service.SubmitRequest,
	timeout time.Duration,
) (*service.JobResultView, error) {
	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- svc.Runner.Run(runCtx) }()
	defer func() {
		stop()
		<-done
	}()

	job, err := svc.Submission.Submit(ctx, req)
	if err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		status, err := svc.Query.Status(waitCtx, job.ID)
		if err != nil {
			return nil, err
		}
		if status.Status.Terminal() {
			return svc.Query.Result(waitCtx, job.ID)
		}
		select {
		case <-waitCtx.Done():
			if _, cancelErr := svc.Submission.Cancel(context.WithoutCancel(ctx), job.ID); cancelErr != nil {
				return nil, errors.Join(waitCtx.Err(), cancelErr)
			}
			return nil, fmt.Errorf("job %s: %w", job.ID, waitCtx.Err())
		case <-ticker.C:
		}
	}
}

func printJobResult(w io.Writer, view *service.JobResultView, raw bool) error {
	if raw {
		out, err := json.MarshalIndent(view, "", "  ")
		if err != nil {
			return err
		}
		return writeln(w, string(out))
	}

	if err := writef(w, "Job %s: %s\n", view.JobID, view.Status); err != nil {
		return err
	}
	if view.Error != nil {
		return writef(w, "Error: %s\n", *view.Error)
	}

	var doc struct {
		Triage    triage.RiskOutput `json:"triage"`
		Citations []model.Citation  `json:"citations"`
	}
	if err := json.Unmarshal(view.Result, &doc); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	if err := writef(w, "Risk tier: %s (confidence %.2f)\n", doc.Triage.RiskTier, doc.Triage.ConfidenceScore); err != nil {
		return err
	}
	for _, r := range doc.Triage.KeyRationale {
		if err := writef(w, "  - %s\n", r); err != nil {
			return err
		}
	}
	return printCitations(w, doc.Citations)
}

func printCitations(w io.Writer, citations []model.Citation) error {
	if len(citations) == 0 {
		return writeln(w, "No citations")
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if err := writeln(tw, "YEAR\tSTRENGTH\tTITLE\tLINK"); err != nil {
		return err
	}
	for _, c := range citations {
		year := c.Year
		if year == "" {
			year = "-"
		}
		if err := writef(tw, "%s\t%s\t%s\t%s\n", year, c.Strength, c.Title, c.Link); err != nil {
			return err
		}
	}
	return tw.Flush()
}

type literatureSearchOptions struct {
	Record string
}

func parseLiteratureSearchFlags(args []string) (literatureSearchOptions, error) {
	fs := flag.NewFlagSet("literature-search", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts literatureSearchOptions
	fs.StringVar(&opts.Record, "record", "-", `Patient record JSON, or "-" to read stdin`)
	if err := fs.Parse(args); err != nil {
		return literatureSearchOptions{}, err
	}
	return opts, nil
}

func runLiteratureSearch(cmdCtx *commandContext, args []string) error {
	opts, err := parseLiteratureSearchFlags(args)
	if err != nil {
		return err
	}
	raw, err := readRecord(opts.Record, os.Stdin)
	if err != nil {
		return err
	}

	svc, closeFn, err := buildLocalServices(cmdCtx)
	if err != nil {
		return err
	}
	defer closeFn()

	res, err := svc.Literature.SearchJSON(cmdCtx.Ctx, raw)
	if err != nil {
		return err
	}
	if err := writef(cmdCtx.Out, "Query: %s\nProvenance: %s\n\n", res.QueryUsed, res.Provenance); err != nil {
		return err
	}
	return printCitations(cmdCtx.Out, res.Papers)
}

func readRecord(arg string, stdin io.Reader) ([]byte, error) {
	if arg != "-" {
		return []byte(arg), nil
	}
	raw, err := io.ReadAll(io.LimitReader(stdin, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read record: %w", err)
	}
	return raw, nil
}
