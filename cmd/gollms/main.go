// Command gollms exercises the inference client against a configured
// backend: connection checks, model listing, chat (streamed to stdout),
// tokenization, context-size lookup and image generation.
package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"gollms"
	"gollms/config"
	"gollms/internal/observability"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	model := fs.String("model", "", "model override")
	verbose := fs.Bool("v", false, "enable debug logging")

	var prompt, file string
	switch cmd {
	case "chat", "image", "tokenize":
		fs.StringVar(&prompt, "prompt", "", "prompt or text input")
	case "extract":
		fs.StringVar(&file, "file", "", "file to extract text from")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	store, err := cfg.Store()
	if err != nil {
		slog.Error("failed to open model cache store", "error", err)
		os.Exit(1)
	}

	client, err := gollms.New(cfg.ClientConfig(),
		gollms.WithStore(store),
		gollms.WithLogger(logger),
		gollms.WithMetrics(observability.NewHooks()),
	)
	if err != nil {
		slog.Error("failed to create client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	// Ctrl-C cancels the in-flight request; the client reports it as a
	// plain cancellation, distinct from a timeout.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, client, cmd, prompt, file, *model, fs.Args()); err != nil {
		slog.Error("command failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, client *gollms.Client, cmd, prompt, file, model string, rest []string) error {
	switch cmd {
	case "check":
		summary := client.TestConnection(ctx)
		fmt.Println(summary.Message)
		if !summary.OK {
			os.Exit(1)
		}
		return nil

	case "models":
		models, err := client.Models(ctx, true)
		if err != nil {
			return err
		}
		for _, m := range models {
			fmt.Println(m.ID)
		}
		return nil

	case "chat":
		if prompt == "" {
			prompt = strings.Join(rest, " ")
		}
		messages := []gollms.Message{{Role: gollms.RoleUser, Content: prompt}}
		opts := []gollms.ChatOption{gollms.OnDelta(func(delta string) {
			fmt.Print(delta)
		})}
		if model != "" {
			opts = append(opts, gollms.WithModel(model))
		}
		_, err := client.Chat(ctx, messages, opts...)
		fmt.Println()
		return err

	case "tokenize":
		if prompt == "" {
			prompt = strings.Join(rest, " ")
		}
		res, err := client.Tokenize(ctx, prompt, model)
		if err != nil {
			return err
		}
		suffix := ""
		if res.Estimated {
			suffix = " (estimated)"
		}
		fmt.Printf("%d tokens%s\n", res.Count, suffix)
		return nil

	case "context-size":
		res, err := client.ContextSize(ctx, model)
		if err != nil {
			return err
		}
		suffix := ""
		if res.Estimated {
			suffix = " (estimated)"
		}
		fmt.Printf("%d%s\n", res.Size, suffix)
		return nil

	case "extract":
		if file == "" {
			return fmt.Errorf("-file is required")
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		text, err := client.ExtractText(ctx, base64.StdEncoding.EncodeToString(data), filepath.Base(file))
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil

	case "image":
		if prompt == "" {
			prompt = strings.Join(rest, " ")
		}
		b64, err := client.GenerateImage(ctx, prompt)
		if err != nil {
			return err
		}
		data, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return fmt.Errorf("failed to decode image payload: %w", err)
		}
		out := "gollms-image.png"
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return err
		}
		fmt.Println(out)
		return nil

	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: gollms <command> [flags]

commands:
  check         test the backend connection
  models        list available models
  chat          send a chat prompt, streaming the reply
  tokenize      count tokens in text
  context-size  report the model's context window
  extract       extract text from a file via the backend
  image         generate an image from a prompt

flags: -config <file> -model <name> -prompt <text> -file <path> -v`)
}
