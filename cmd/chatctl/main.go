package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/relaychat/internal/client"
	"github.com/danmuck/relaychat/internal/client/tui"
	"github.com/danmuck/relaychat/internal/config"
	"github.com/danmuck/relaychat/internal/logging"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	logging.ConfigureInteractive()

	configPath := flag.String("config", "", "chat config path (default cmd/chatctl/config.toml when present)")
	name := flag.String("name", "", "name of the user (default "+client.DefaultName+")")
	addr := flag.String("addr", "", "relay to connect to, host:port or ws(s):// URL (default "+client.DefaultAddress+")")
	flag.Parse()

	path := strings.TrimSpace(*configPath)
	required := path != ""
	if !required {
		path, _ = config.DefaultPath(config.KindChat)
	}
	cfg, err := loadClientConfig(path, required)
	if err != nil {
		fail(err)
	}
	if *name != "" {
		cfg.Name = *name
	}
	if v := strings.TrimSpace(*addr); v != "" {
		cfg.Address = v
	}
	if err := validateClientConfig(cfg); err != nil {
		fail(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	session, err := client.Dial(ctx, cfg)
	stop()
	if err != nil {
		fail(err)
	}
	defer session.Close()

	if err := tui.Run(session, cfg.Address); err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "chatctl: %v\n", err)
	os.Exit(1)
}
