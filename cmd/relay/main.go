package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"relay/internal/agent"
	"relay/internal/checkpoint"
	"relay/internal/config"
	"relay/internal/llm"
	"relay/internal/matcher"
	"relay/internal/prompt"
	"relay/internal/repl"
	"relay/internal/store"
	"relay/internal/thread"
	"relay/internal/tools"
	"relay/internal/ui"
	"relay/internal/workspace"
)

// Version info set by ldflags at build time
var (
	version    = "dev"
	commitHash = "dev"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "config.yaml", "path to config file")
	model := flag.String("model", "", "override model name")
	baseURL := flag.String("base-url", "", "override LLM base URL")
	workspaceRoot := flag.String("workspace", "", "override workspace root directory")
	logFile := flag.String("log", "relay.log", "log file path (empty to disable)")
	execPrompt := flag.String("p", "", "exec mode: run with this prompt and exit after completion")
	quietPrompt := flag.String("pq", "", "quiet exec mode: run with this prompt and only print the final response")
	threadPrefix := flag.String("t", "", "resume the thread whose id starts with this prefix")
	listThreads := flag.Bool("threads", false, "list stored threads and exit")
	deleteThread := flag.String("delete", "", "delete the thread with this id prefix and exit")
	showVersion := flag.Bool("version", false, "show version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("relay %s-%s\n", version, commitHash)
		return
	}

	// Determine exec mode and quiet mode
	var execMode bool
	var promptText string
	var quietMode bool
	if *quietPrompt != "" {
		execMode = true
		promptText = *quietPrompt
		quietMode = true
	} else if *execPrompt != "" {
		execMode = true
		promptText = *execPrompt
	}

	writer := ui.NewWriter()
	if quietMode {
		writer.SetQuiet(true)
	}
	// Exec mode routes progress to stderr so stdout carries only the answer
	if execMode {
		writer.SetHeadless(true)
	}

	// Load config; a missing file falls back to defaults so relay runs
	// without any setup.
	var cfg *config.Config
	if _, err := os.Stat(*configPath); err == nil {
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	} else {
		cfg = config.Default()
	}

	// Apply flag overrides
	if *model != "" {
		cfg.LLM.Model = *model
	}
	if *baseURL != "" {
		cfg.LLM.BaseURL = *baseURL
	}
	if *workspaceRoot != "" {
		abs, err := filepath.Abs(*workspaceRoot)
		if err != nil {
			log.Fatalf("Failed to resolve workspace root: %v", err)
		}
		cfg.Workspace.Root = abs
	}
	if cfg.Workspace.Root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			log.Fatalf("Failed to determine working directory: %v", err)
		}
		cfg.Workspace.Root = cwd
	}

	logger, err := agent.NewLogger(*logFile, false)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Close()

	// One relay per state dir; the lock also covers the store file
	stateLock, err := workspace.AcquireLock(cfg.Workspace.StateDir)
	if err != nil {
		log.Fatalf("Failed to acquire state lock: %v", err)
	}
	defer stateLock.Release()

	st, err := store.Open(cfg.Store.Path, time.Duration(cfg.Store.DebounceMS)*time.Millisecond)
	if err != nil {
		log.Fatalf("Failed to open thread store: %v", err)
	}
	defer st.Close()

	if *listThreads {
		infos, err := st.List()
		if err != nil {
			log.Fatalf("Failed to list threads: %v", err)
		}
		if len(infos) == 0 {
			fmt.Println("No threads found.")
			return
		}
		fmt.Printf("%-36s  %-16s  %s\n", "ID", "MODIFIED", "MESSAGES")
		for _, info := range infos {
			fmt.Printf("%-36s  %-16s  %d\n", info.ID, info.ModifiedAt.Format("2006-01-02 15:04"), info.MessageCount)
		}
		return
	}

	files := checkpoint.LocalFiles{}
	checkpoints := checkpoint.NewManager(files)

	if *deleteThread != "" {
		id, err := resolveThreadID(st, *deleteThread)
		if err != nil {
			log.Fatalf("%v", err)
		}
		if err := st.Delete(id); err != nil {
			log.Fatalf("Failed to delete thread: %v", err)
		}
		checkpoints.Invalidate(id)
		fmt.Printf("Deleted thread %s\n", id)
		return
	}

	llmClient := llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey)

	registry := tools.NewRegistry()
	registry.Enable(tools.NewReadFile(cfg.Workspace.Root, files))
	registry.Enable(tools.NewWriteFile(cfg.Workspace.Root, files))
	registry.Enable(tools.NewEditFile(cfg.Workspace.Root, files, matcher.New(cfg.Matcher)))
	registry.Enable(tools.NewRunCommand(tools.ExecRunner{Dir: cfg.Workspace.Root}))

	gateway := tools.NewGateway(registry, cfg.Approvals, files, checkpoints)

	publisher := agent.NewPublisher(time.Duration(cfg.Stream.PublishIntervalMS) * time.Millisecond)
	compactor := agent.NewCompactor(cfg.Compaction.KeepRecentToolResults)

	systemPrompt := prompt.NewGenerator(registry, cfg).GenerateSystemPrompt()

	controller := agent.NewController(agent.ControllerOptions{
		Cfg:          cfg,
		Transport:    llmClient,
		Registry:     registry,
		Gateway:      gateway,
		Checkpoints:  checkpoints,
		Store:        st,
		Publisher:    publisher,
		Compactor:    compactor,
		Logger:       logger,
		SystemPrompt: systemPrompt,
	})

	th, err := openThread(st, *threadPrefix)
	if err != nil {
		log.Fatalf("%v", err)
	}
	st.Register(th)

	ctx := context.Background()

	if execMode {
		if err := repl.RunExec(ctx, controller, writer, th, promptText); err != nil {
			log.Fatalf("Turn failed: %v", err)
		}
		return
	}

	writer.StartupInfo(fmt.Sprintf("relay %s", version))
	writer.StartupInfo(fmt.Sprintf("Model: %s @ %s", cfg.LLM.Model, cfg.LLM.BaseURL))
	writer.StartupInfo(fmt.Sprintf("Workspace: %s", cfg.Workspace.Root))
	writer.StartupInfo(fmt.Sprintf("Tools: %s", strings.Join(registry.List(), ", ")))
	if *logFile != "" {
		writer.StartupInfo(fmt.Sprintf("Logs: %s", *logFile))
	}
	fmt.Println()

	r := repl.New(controller, checkpoints, st, writer, th)
	r.AttachPublisher(publisher)
	if err := r.Run(ctx); err != nil {
		log.Fatalf("REPL failed: %v", err)
	}
}

// openThread resumes the thread matching prefix, or starts a fresh one when
// no prefix is given.
func openThread(st *store.Store, prefix string) (*thread.Thread, error) {
	if prefix == "" {
		return thread.New(), nil
	}
	id, err := resolveThreadID(st, prefix)
	if err != nil {
		return nil, err
	}
	return st.Load(id)
}

func resolveThreadID(st *store.Store, prefix string) (string, error) {
	infos, err := st.List()
	if err != nil {
		return "", err
	}
	var matches []string
	for _, info := range infos {
		if strings.HasPrefix(info.ID, prefix) {
			matches = append(matches, info.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no thread matches %q", prefix)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%q matches %d threads; use a longer prefix", prefix, len(matches))
	}
}
