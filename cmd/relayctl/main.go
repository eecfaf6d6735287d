package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/relaychat/internal/config"
	"github.com/danmuck/relaychat/internal/logging"
	"github.com/danmuck/relaychat/internal/server"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	logging.ConfigureRuntime()

	configPath := flag.String("config", "", "relay config path (default cmd/relayctl/config.toml when present)")
	addr := flag.String("addr", "", "bind to this address, overrides config addr")
	adminAddr := flag.String("admin", "", "admin HTTP listen address, overrides config admin_listen_addr")
	flag.Parse()

	path := strings.TrimSpace(*configPath)
	required := path != ""
	if !required {
		path, _ = config.DefaultPath(config.KindRelay)
	}
	cfg, err := loadServiceConfig(path, required)
	if err != nil {
		fmt.Fprintf(os.Stderr, "relayctl: %v\n", err)
		os.Exit(1)
	}
	if v := strings.TrimSpace(*addr); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(*adminAddr); v != "" {
		cfg.AdminListenAddr = v
	}

	svc := server.NewServiceWithConfig(cfg)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "relayctl: %v\n", err)
		os.Exit(1)
	}
}
