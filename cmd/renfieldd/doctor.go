package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/ebongard/renfield/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("renfieldd doctor")
	fmt.Printf("  Version: %s\n", Version)
	fmt.Printf("  OS:      %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:      %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:  %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (not found, defaults will be used)")
	} else {
		fmt.Println(" (found)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	checkPostgres(cfg)
	checkOllama(cfg)
}

func checkPostgres(cfg *config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN)
	if err != nil {
		fmt.Printf("  Postgres: FAILED to open pool (%s)\n", err)
		return
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		fmt.Printf("  Postgres: FAILED to ping %s:%d/%s (%s)\n", cfg.Database.Host, cfg.Database.Port, cfg.Database.Name, err)
		return
	}
	fmt.Printf("  Postgres: OK (%s:%d/%s)\n", cfg.Database.Host, cfg.Database.Port, cfg.Database.Name)
}

func checkOllama(cfg *config.Config) {
	snap := cfg.Snapshot()
	seen := map[string]bool{}
	client := &http.Client{Timeout: 5 * time.Second}
	for role, rc := range snap.LLM.Roles {
		if seen[rc.Endpoint] {
			continue
		}
		seen[rc.Endpoint] = true
		resp, err := client.Get(rc.Endpoint + "/api/tags")
		if err != nil {
			fmt.Printf("  Ollama (role=%s, %s): FAILED (%s)\n", role, rc.Endpoint, err)
			continue
		}
		resp.Body.Close()
		fmt.Printf("  Ollama (role=%s, %s): OK (HTTP %d)\n", role, rc.Endpoint, resp.StatusCode)
	}
}
