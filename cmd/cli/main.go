package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cardshelf/cardshelf/internal/config"
	"github.com/cardshelf/cardshelf/internal/logger"
	"github.com/cardshelf/cardshelf/internal/policy"
	"github.com/cardshelf/cardshelf/internal/uploader"
	"github.com/cardshelf/cardshelf/internal/version"
)

type cliOptions struct {
	configPath  string
	username    string
	password    string
	jwtToken    string
	apiBaseURL  string
	visibility  string
	tags        string
	timeout     time.Duration
	showVersion bool
}

func main() {
	opts := parseFlags()
	if opts.showVersion {
		fmt.Printf("Cardshelf CLI %s\n", version.GetInfo())
		return
	}
	ctx := context.Background()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Log.Level, cfg.Log.Format)

	if strings.TrimSpace(opts.apiBaseURL) == "" {
		opts.apiBaseURL = defaultAPIBaseURL(cfg.Server.Addr)
	}
	if strings.TrimSpace(opts.apiBaseURL) == "" {
		logger.L.Error("api url is required")
		os.Exit(1)
	}
	opts.apiBaseURL = normalizeBaseURL(opts.apiBaseURL)

	file := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if file == "" {
		fmt.Fprintln(os.Stderr, "usage: cardshelf-cli [flags] <card file>")
		os.Exit(1)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		logger.L.Error("read card file", slog.Any("error", err))
		os.Exit(1)
	}

	jwtToken := strings.TrimSpace(opts.jwtToken)
	client := &http.Client{Timeout: opts.timeout}
	if jwtToken == "" {
		username, password, err := resolveLoginCredentials(opts, cfg)
		if err != nil {
			logger.L.Error("resolve login", slog.Any("error", err))
			os.Exit(1)
		}
		loginCtx := ctx
		if opts.timeout > 0 {
			var cancel context.CancelFunc
			loginCtx, cancel = context.WithTimeout(ctx, opts.timeout)
			defer cancel()
		}
		jwtToken, err = resolveJWTToken(loginCtx, client, opts.apiBaseURL, username, password)
		if err != nil {
			logger.L.Error("resolve jwt", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Large uploads stream many parts; the per-request timeout applies to
	// each part, not the whole transfer.
	transport := newAPITransport(client, opts.apiBaseURL, jwtToken)
	pol := policy.NewService(cfg)

	var tags []string
	if raw := strings.TrimSpace(opts.tags); raw != "" {
		tags = strings.Split(raw, ",")
	}

	card, _, err := uploader.New(transport).Upload(ctx, filepath.Base(file), data, uploader.Options{
		Visibility:     opts.visibility,
		Tags:           tags,
		DirectLimit:    pol.DirectLimit(),
		ChunkSize:      pol.ChunkSize(),
		PresignEnabled: pol.PresignEnabled(),
		OnProgress:     printProgress,
	})
	if err != nil {
		logger.L.Error("upload failed", slog.Any("error", err))
		os.Exit(1)
	}
	fmt.Printf("Uploaded %q as %s\n", card.Name, card.Slug)
}

func parseFlags() cliOptions {
	var opts cliOptions
	defaultConfig := os.Getenv("CONFIG_PATH")
	if strings.TrimSpace(defaultConfig) == "" {
		defaultConfig = config.DefaultConfigPath
	}

	flag.StringVar(&opts.configPath, "config", defaultConfig, "Path to config.toml")
	flag.StringVar(&opts.username, "username", "", "Username for login")
	flag.StringVar(&opts.password, "password", "", "Password for login (or set CARDSHELF_PASSWORD)")
	flag.StringVar(&opts.jwtToken, "jwt", "", "JWT token (optional)")
	flag.StringVar(&opts.apiBaseURL, "api-url", "", "API server base URL (e.g. http://127.0.0.1:8080)")
	flag.StringVar(&opts.visibility, "visibility", policy.VisibilityPrivate, "Card visibility: public, private, unlisted")
	flag.StringVar(&opts.tags, "tags", "", "Comma-separated tags")
	flag.DurationVar(&opts.timeout, "timeout", 5*time.Minute, "Per-request timeout")
	flag.BoolVar(&opts.showVersion, "version", false, "Show version information")
	flag.Parse()

	return opts
}

func printProgress(p uploader.Progress) {
	switch p.Stage {
	case uploader.StageUploading:
		if p.TotalParts > 1 {
			fmt.Fprintf(os.Stderr, "uploading: %d/%d parts (%.0f%%)\n", p.PartsCompleted, p.TotalParts, p.Percent)
		}
	case uploader.StageFinalizing:
		fmt.Fprintln(os.Stderr, "finalizing...")
	case uploader.StageError:
		fmt.Fprintf(os.Stderr, "error: %v\n", p.Err)
	}
}

func normalizeBaseURL(value string) string {
	return strings.TrimRight(strings.TrimSpace(value), "/")
}

func defaultAPIBaseURL(addr string) string {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		return normalizeBaseURL(trimmed)
	}
	if strings.HasPrefix(trimmed, ":") {
		return "http://127.0.0.1" + trimmed
	}
	return "http://" + trimmed
}

func resolveLoginCredentials(opts cliOptions, cfg config.Config) (string, string, error) {
	username := strings.TrimSpace(opts.username)
	if username == "" {
		username = strings.TrimSpace(cfg.Admin.Username)
	}
	if username == "" {
		return "", "", fmt.Errorf("username is required for login")
	}

	password := strings.TrimSpace(opts.password)
	if password == "" {
		password = strings.TrimSpace(os.Getenv("CARDSHELF_PASSWORD"))
	}
	if password == "" {
		if candidate := strings.TrimSpace(cfg.Admin.Password); candidate != "" && candidate != "change-your-password-here" {
			password = candidate
		}
	}
	if password == "" {
		return "", "", fmt.Errorf("password is required; pass --password or set CARDSHELF_PASSWORD")
	}
	return username, password, nil
}
