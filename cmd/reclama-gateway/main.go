// ABOUTME: Entry point for reclama-gateway
// ABOUTME: Serves the claims intake gateway and provides setup helpers

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/reclama-gateway/internal/auth"
	"github.com/2389/reclama-gateway/internal/config"
	"github.com/2389/reclama-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                 _                                     _
 _ __ ___  ___| | __ _ _ __ ___   __ _       __ _ __ _| |_ _____      ____ _ _   _
| '__/ _ \/ __| |/ _' | '_ ' _ \ / _' |_____/ _' / _' | __/ _ \ \ /\ / / _' | | | |
| | |  __/ (__| | (_| | | | | | | (_| |_____| (_| (_| | ||  __/\ V  V / (_| | |_| |
|_|  \___|\___|_|\__,_|_| |_| |_|\__,_|     \__, \__,_|\__\___| \_/\_/ \__,_|\__, |
                                            |___/                            |___/
`

func usage() {
	fmt.Println("Usage: reclama-gateway <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                  Start the gateway server")
	fmt.Println("  init [--force]         Write a starter config file")
	fmt.Println("  health                 Check gateway health")
	fmt.Println("  token --sub NAME       Issue an observer API token")
	fmt.Println("  hash-password          Hash a dashboard password read from stdin")
	fmt.Println("  version                Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Args[2:])
	case "health":
		err = runHealth(ctx)
	case "token":
		err = runToken(os.Args[2:])
	case "hash-password":
		err = runHashPassword(os.Stdin, os.Stdout)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := config.DefaultPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	if cfg.Server.HTTPAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Channel:   %s\n", cfg.Channel.Provider)
	green.Print("    ▶ ")
	if cfg.Database.Path != "" {
		fmt.Printf("Archive:   %s\n", cfg.Database.Path)
	} else {
		fmt.Print("Archive:   ")
		yellow.Println("in memory")
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if cfg.Auth.JWTSecret == "" {
		green.Print("    ▶ ")
		yellow.Println("Observer API is unauthenticated (auth.jwt_secret not set)")
	}

	fmt.Println()

	logger.Info("starting reclama-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"provider", cfg.Channel.Provider,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runInit(args []string) error {
	force := false
	for _, arg := range args {
		switch arg {
		case "--force", "-f":
			force = true
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	path := config.DefaultPath()
	if err := config.WriteStarter(path, force); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Created config: %s\n", path)
	fmt.Println()
	fmt.Println("  Fill in the channel credentials, then start the server:")
	fmt.Println("    reclama-gateway serve")
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Server.HTTPAddr == "" {
		return errors.New("server.http_addr is not set; health checks over tailscale are not supported")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

// parseTokenArgs accepts "--sub value", "--sub=value" and an optional
// "--ttl duration".
func parseTokenArgs(args []string) (string, time.Duration, error) {
	var sub, ttlRaw string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--sub" || arg == "--ttl":
			if i+1 >= len(args) {
				return "", 0, fmt.Errorf("%s requires a value", arg)
			}
			if arg == "--sub" {
				sub = args[i+1]
			} else {
				ttlRaw = args[i+1]
			}
			i++
		case strings.HasPrefix(arg, "--sub="):
			sub = strings.TrimPrefix(arg, "--sub=")
		case strings.HasPrefix(arg, "--ttl="):
			ttlRaw = strings.TrimPrefix(arg, "--ttl=")
		case strings.HasPrefix(arg, "-"):
			return "", 0, fmt.Errorf("unknown flag: %s", arg)
		default:
			return "", 0, fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	sub = strings.TrimSpace(sub)
	if sub == "" {
		return "", 0, errors.New("--sub flag is required")
	}

	var ttl time.Duration
	if ttlRaw != "" {
		d, err := time.ParseDuration(ttlRaw)
		if err != nil || d <= 0 {
			return "", 0, fmt.Errorf("invalid --ttl %q", ttlRaw)
		}
		ttl = d
	}
	return sub, ttl, nil
}

func runToken(args []string) error {
	sub, ttl, err := parseTokenArgs(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not configured")
	}
	if ttl == 0 {
		ttl = cfg.Auth.TokenTTL
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(sub, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}

// runHashPassword reads one line from in and prints its bcrypt hash, ready
// for auth.password_hash.
func runHashPassword(in io.Reader, out io.Writer) error {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading password: %w", err)
	}
	hash, err := auth.HashPassword(strings.TrimRight(line, "\r\n"))
	if err != nil {
		return err
	}
	fmt.Fprintln(out, hash)
	return nil
}
