// ABOUTME: CLI entrypoint: run/validate/show subcommands over a workflow file.
// ABOUTME: Wires the Anthropic backend, workspace runner, and console interviewer into the engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bromanko/attractor-sub001/cli"
	"github.com/bromanko/attractor-sub001/llmbackend"
	"github.com/bromanko/attractor-sub001/pipeline"
	"github.com/bromanko/attractor-sub001/pipeline/runstate"
	"github.com/bromanko/attractor-sub001/workflow"
)

const (
	exitSuccess = 0
	exitFailure = 1
	exitCancel  = 130
)

func main() {
	loadDotEnv(".env")
	os.Exit(dispatch(os.Args[1:]))
}

func dispatch(args []string) int {
	if len(args) == 0 {
		printUsage()
		return exitFailure
	}

	switch args[0] {
	case "run":
		return cmdRun(args[1:])
	case "validate":
		return cmdValidate(args[1:])
	case "show":
		return cmdShow(args[1:])
	case "-h", "--help", "help":
		printUsage()
		return exitSuccess
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		printUsage()
		return exitFailure
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: pipeline <run|validate|show> <workflow-file> [flags]")
}

func readSource(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}

func cmdRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	resume := fs.Bool("resume", false, "resume from the checkpoint file instead of starting fresh")
	approveAll := fs.Bool("approve-all", false, "auto-approve every human gate instead of prompting")
	logsDir := fs.String("logs", "", "directory for per-node artifacts and the checkpoint file")
	tools := fs.String("tools", "coding", "tool profile: none, read-only, or coding")
	dryRun := fs.Bool("dry-run", false, "validate and print the run plan without executing")
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: pipeline run <workflow-file> [flags]")
		return exitFailure
	}
	source, err := readSource(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, cli.Failure(err.Error()))
		return exitFailure
	}

	graph, diags, err := workflow.LoadWithDiagnostics(source)
	if err != nil {
		fmt.Fprintln(os.Stderr, cli.Failure(err.Error()))
		return exitFailure
	}
	printDiagnostics(diags)

	if *dryRun {
		fmt.Println(cli.Banner("dry run"))
		fmt.Println(cli.RenderASCII(graph))
		return exitSuccess
	}

	checkpointPath := ""
	if *logsDir != "" {
		checkpointPath = *logsDir + "/checkpoint.json"
	}
	for _, node := range graph.Nodes {
		if node.Attrs["type"] == "tool" {
			if _, set := node.Attrs["tools_profile"]; !set {
				node.Attrs["tools_profile"] = *tools
			}
		}
	}

	runner, err := pipeline.NewExecWorkspaceRunner()
	if err != nil {
		fmt.Fprintln(os.Stderr, cli.Failure(fmt.Sprintf("workspace runner: %v", err)))
		return exitFailure
	}
	registry := pipeline.NewWorkspaceRegistry()

	var interviewer pipeline.Interviewer
	if *approveAll {
		interviewer = pipeline.NewAutoApproveInterviewer("")
	} else {
		interviewer = pipeline.NewConsoleInterviewer()
	}

	backend := detectBackend()
	handlers := pipeline.NewDefaultHandlerRegistry(backend, interviewer, runner, registry)

	cleanupHandler, _ := handlers.Get("workspace.cleanup").(*pipeline.WorkspaceCleanupHandler)

	runID := pipeline.GenerateRunID()
	var store *runstate.Store
	if *logsDir != "" {
		var storeErr error
		store, storeErr = runstate.Open(*logsDir + "/runs.db")
		if storeErr != nil {
			fmt.Fprintln(os.Stderr, cli.Warn(fmt.Sprintf("run state store unavailable: %v", storeErr)))
		} else {
			defer store.Close()
			if err := store.CreateRun(runstate.RunRecord{
				ID: runID, WorkflowFile: fs.Arg(0), Status: "running", StartedAt: time.Now(),
			}); err != nil {
				fmt.Fprintln(os.Stderr, cli.Warn(err.Error()))
			}
		}
	}

	eventSink := verboseEventSink
	if store != nil {
		eventSink = func(evt pipeline.PipelineEvent) {
			verboseEventSink(evt)
			if err := store.RecordEvent(runID, evt); err != nil {
				fmt.Fprintln(os.Stderr, cli.Warn(fmt.Sprintf("recording event: %v", err)))
			}
		}
	}

	engine := pipeline.NewEngine(pipeline.EngineConfig{
		LogsRoot:         *logsDir,
		CheckpointPath:   checkpointPath,
		Handlers:         handlers,
		DefaultRetry:     pipeline.RetryPolicyStandard(),
		EventSink:        eventSink,
		WorkspaceCleanup: cleanupHandler,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\ninterrupted, cancelling run...")
		cancel()
	}()

	var result *pipeline.RunResult
	if *resume && checkpointPath != "" {
		result, err = engine.ResumeFromCheckpoint(ctx, graph, checkpointPath)
	} else {
		result, err = engine.Run(ctx, graph)
	}

	finalizeRun := func(status, errMsg string) {
		if store == nil {
			return
		}
		now := time.Now()
		if updateErr := store.UpdateRun(runstate.RunRecord{
			ID: runID, WorkflowFile: fs.Arg(0), Status: status, StartedAt: now, CompletedAt: &now, Error: errMsg,
		}); updateErr != nil {
			fmt.Fprintln(os.Stderr, cli.Warn(updateErr.Error()))
		}
	}

	if result != nil && result.Cancelled {
		finalizeRun("cancelled", "")
		fmt.Fprintln(os.Stderr, cli.Warn("run cancelled"))
		return exitCancel
	}
	if err != nil {
		finalizeRun("failed", err.Error())
		fmt.Fprintln(os.Stderr, cli.Failure(err.Error()))
		return exitFailure
	}

	if result.Status == pipeline.RunStatusFail {
		reason := "pipeline failed"
		if result.FinalOutcome != nil && result.FinalOutcome.FailureReason != "" {
			reason = result.FinalOutcome.FailureReason
		}
		fmt.Fprintln(os.Stderr, cli.Failure(reason))
		if fs := result.FailureSummary; fs != nil {
			fmt.Fprintln(os.Stderr, cli.Dim(fmt.Sprintf("failed node: %s", fs.FailedNode)))
			if fs.Digest != "" {
				fmt.Fprintln(os.Stderr, cli.Dim(fmt.Sprintf("digest: %s", fs.Digest)))
			}
			if fs.RerunCommand != "" {
				fmt.Fprintln(os.Stderr, cli.Dim(fmt.Sprintf("rerun: %s", fs.RerunCommand)))
			}
			if fs.LogsPath != "" {
				fmt.Fprintln(os.Stderr, cli.Dim(fmt.Sprintf("logs: %s", fs.LogsPath)))
			}
		}
		fmt.Println(cli.Dim(fmt.Sprintf("completed nodes: %v", result.CompletedNodes)))
		finalizeRun("failed", reason)
		return exitFailure
	}

	fmt.Println(cli.Success("run completed"))
	if result.FinalOutcome != nil {
		fmt.Printf("final status: %s\n", result.FinalOutcome.Status)
	}
	fmt.Println(cli.Dim(fmt.Sprintf("completed nodes: %v", result.CompletedNodes)))
	finalizeRun("completed", "")
	return exitSuccess
}

func cmdValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: pipeline validate <workflow-file>")
		return exitFailure
	}

	source, err := readSource(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, cli.Failure(err.Error()))
		return exitFailure
	}

	graph, diags, loadErr := workflow.LoadWithDiagnostics(source)
	printDiagnostics(diags)

	hasError := false
	for _, d := range diags {
		if d.Severity == pipeline.SeverityError {
			hasError = true
		}
	}
	if loadErr != nil {
		fmt.Fprintln(os.Stderr, cli.Failure(loadErr.Error()))
		return exitFailure
	}

	graphDiags := pipeline.Validate(graph)
	printDiagnostics(graphDiags)
	for _, d := range graphDiags {
		if d.Severity == pipeline.SeverityError {
			hasError = true
		}
	}

	if hasError {
		fmt.Println(cli.Failure("validation failed"))
		return exitFailure
	}
	fmt.Println(cli.Success("workflow is valid"))
	return exitSuccess
}

func cmdShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	format := fs.String("format", "ascii", "output format: ascii, boxart, or dot")
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: pipeline show <workflow-file> [--format ascii|boxart|dot]")
		return exitFailure
	}

	source, err := readSource(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, cli.Failure(err.Error()))
		return exitFailure
	}

	graph, _, err := workflow.LoadWithDiagnostics(source)
	if err != nil {
		fmt.Fprintln(os.Stderr, cli.Failure(err.Error()))
		return exitFailure
	}

	switch *format {
	case "ascii":
		fmt.Print(cli.RenderASCII(graph))
	case "boxart":
		fmt.Println(cli.RenderBoxArt(graph))
	case "dot":
		dot := cli.ToDOT(graph)
		if err := cli.ValidateDOT(dot); err != nil {
			fmt.Fprintln(os.Stderr, cli.Failure(fmt.Sprintf("generated dot failed validation: %v", err)))
			return exitFailure
		}
		fmt.Print(dot)
	default:
		fmt.Fprintf(os.Stderr, "unknown format %q\n", *format)
		return exitFailure
	}

	if workflow.IsDeclarativeSource(source) {
		if def, err := workflow.ParseKDL(source); err == nil && def.Models != nil {
			if yamlOut, err := workflow.ExportModelsYAML(def.Models); err == nil && yamlOut != "" {
				fmt.Println(cli.Dim("--- models ---"))
				fmt.Print(yamlOut)
			}
		}
	}

	return exitSuccess
}

func printDiagnostics(diags []pipeline.Diagnostic) {
	for _, d := range diags {
		line := fmt.Sprintf("[%s] %s: %s", d.Severity, d.Rule, d.Message)
		if d.NodeID != "" {
			line += fmt.Sprintf(" (node: %s)", d.NodeID)
		}
		if d.Fix != "" {
			line += fmt.Sprintf(" -- fix: %s", d.Fix)
		}
		if d.Severity == pipeline.SeverityError {
			fmt.Fprintln(os.Stderr, cli.Failure(line))
		} else {
			fmt.Fprintln(os.Stderr, cli.Warn(line))
		}
	}
}

func detectBackend() pipeline.LLMBackend {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return llmbackend.NewAnthropicBackend(key, os.Getenv("ANTHROPIC_MODEL"))
	}
	return nil
}

func verboseEventSink(evt pipeline.PipelineEvent) {
	switch evt.Kind {
	case pipeline.EventStageStarted:
		fmt.Fprintf(os.Stderr, "[stage] %s started\n", evt.NodeID)
	case pipeline.EventStageCompleted:
		fmt.Fprintf(os.Stderr, "[stage] %s completed\n", evt.NodeID)
	case pipeline.EventStageFailed:
		fmt.Fprintf(os.Stderr, "[stage] %s failed\n", evt.NodeID)
	case pipeline.EventStageRetrying:
		fmt.Fprintf(os.Stderr, "[stage] %s retrying\n", evt.NodeID)
	case pipeline.EventCheckpointSaved:
		fmt.Fprintf(os.Stderr, "[checkpoint] saved\n")
	}
}
