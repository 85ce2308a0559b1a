// Command koval is the CLI entrypoint: an interactive single-agent REPL by
// default, or a bounded-concurrency multi-agent swarm via the swarm
// subcommand.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/koval/koval/internal/agent"
	"github.com/koval/koval/internal/chatclient"
	"github.com/koval/koval/internal/config"
	"github.com/koval/koval/internal/protocol"
	"github.com/koval/koval/internal/swarm"
	"github.com/koval/koval/internal/tools"
)

func main() {
	if err := setupFileLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to setup logging: %v\n", err)
	}

	flagPrompt := flag.String("prompt", "", "initial prompt to start the conversation")
	flag.StringVar(flagPrompt, "p", "", "initial prompt to start the conversation")
	flag.Parse()

	configPath := filepath.Join(".", "config.toml")
	if dataDir, err := config.DataDir(); err == nil {
		dataDirPath := filepath.Join(dataDir, "config.toml")
		if _, err := os.Stat(dataDirPath); err == nil {
			configPath = dataDirPath
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	client := chatclient.New(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey)

	args := flag.Args()
	if len(args) > 0 && args[0] == "swarm" {
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Usage: koval swarm <task>")
			os.Exit(1)
		}
		task := strings.Join(args[1:], " ")
		runSwarm(cfg, client, task)
		return
	}

	if len(args) > 0 && args[0] == "cli" {
		cliFlags := flag.NewFlagSet("cli", flag.ExitOnError)
		cliFlags.StringVar(flagPrompt, "prompt", *flagPrompt, "initial prompt to start the conversation")
		cliFlags.StringVar(flagPrompt, "p", *flagPrompt, "initial prompt to start the conversation")
		_ = cliFlags.Parse(args[1:])
	}

	runCLI(cfg, client, *flagPrompt)
}

func runSwarm(cfg config.Config, client *chatclient.Client, task string) {
	orch := swarm.New(client, cfg.Model, cfg.MaxWorkers)
	results, err := orch.Run(context.Background(), task)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error running swarm: %v\n", err)
		os.Exit(1)
	}

	for _, r := range results {
		status := "FAILED"
		if r.Success {
			status = "OK"
		}
		fmt.Printf("[%d] %s (%s, attempts=%d)\n", r.Index, r.Task, status, r.Attempts)
		if r.Err != nil {
			fmt.Fprintf(os.Stderr, "[Agent %d] error: %v\n", r.Index, r.Err)
		}
	}
}

func runCLI(cfg config.Config, client *chatclient.Client, initialPrompt string) {
	workDir, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error getting working directory: %v\n", err)
		os.Exit(1)
	}

	registry := tools.NewRegistry()
	registry.Register(tools.NewShellTool(workDir))
	registry.Register(&tools.ReadFileTool{WorkDir: workDir})
	registry.Register(&tools.WriteFileTool{WorkDir: workDir})
	registry.Register(&tools.ListDirTool{WorkDir: workDir})

	a := agent.New(client, cfg.Model, registry)

	fmt.Println("Welcome to Koval. Type '/exit' to quit.")

	ctx := context.Background()

	if initialPrompt != "" {
		fmt.Printf("User: %s\n", initialPrompt)
		a.AddMessage(protocol.UserMessage(initialPrompt))
		if err := a.Run(ctx, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "/exit" || input == "/quit" {
			break
		}
		if input == "" {
			continue
		}

		a.AddMessage(protocol.UserMessage(input))
		if err := a.Run(ctx, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
}

// setupFileLogging redirects zerolog's global logger to a file under the
// data directory — logs never pollute stdout, which the CLI reserves for
// conversation output.
func setupFileLogging() error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	dataDir, err := config.DataDir()
	if err != nil {
		return err
	}

	logDir := filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(logDir, 0750); err != nil {
		return err
	}

	logFile := filepath.Join(logDir, "koval.log")
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	log.Logger = log.Output(file)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	return nil
}
