package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/sitememo/internal/config"
	"github.com/nextlevelbuilder/sitememo/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor(cmd.Context())
		},
	}
}

func runDoctor(ctx context.Context) {
	fmt.Println("sitememo doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Storage:")
	fmt.Printf("    %-12s %s\n", "DSN:", redactDSN(cfg.Storage.DSN))
	fmt.Printf("    %-12s %s\n", "Profile:", config.NormalizeProfile(cfg.Storage.Profile))
	checkStore(ctx, cfg)

	fmt.Println()
	fmt.Println("  Backups:")
	dir := config.ExpandHome(cfg.Backup.Dir)
	fmt.Printf("    %-12s %s", "Dir:", dir)
	if _, err := os.Stat(dir); err != nil {
		fmt.Println(" (NOT FOUND)")
	} else {
		fmt.Println(" (OK)")
	}
	schedule := cfg.Backup.Schedule
	if schedule == "" {
		schedule = "(disabled)"
	}
	fmt.Printf("    %-12s %s\n", "Schedule:", schedule)
	fmt.Printf("    %-12s %v\n", "Encrypted:", cfg.Backup.Key != "")

	fmt.Println()
	fmt.Println("  Gateway:")
	fmt.Printf("    %-12s %s\n", "Addr:", cfg.Gateway.Addr())
	fmt.Printf("    %-12s %v\n", "Auth:", cfg.Gateway.Token != "")
	checkGateway(ctx, cfg.Gateway.Addr())

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkStore(ctx context.Context, cfg *config.Config) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	a, err := openApp(ctx, cfg)
	if err != nil {
		fmt.Printf("    %-12s FAILED: %s\n", "Open:", err)
		return
	}
	defer a.Close()
	fmt.Printf("    %-12s OK\n", "Open:")

	rc, err := a.memos.Reconcile(ctx)
	if err != nil {
		fmt.Printf("    %-12s FAILED: %s\n", "Memos:", err)
		return
	}
	fmt.Printf("    %-12s %d (format %s", "Memos:", len(rc.Memos), rc.Format)
	if n := len(rc.Synthesized); n > 0 {
		fmt.Printf(", %d legacy, run 'sitememo migrate'", n)
	}
	fmt.Println(")")

	list, err := a.templates.List(ctx)
	if err != nil {
		fmt.Printf("    %-12s FAILED: %s\n", "Templates:", err)
		return
	}
	fmt.Printf("    %-12s %d\n", "Templates:", len(list))
}

func checkGateway(ctx context.Context, addr string) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/healthz", nil)
	if err != nil {
		fmt.Printf("    %-12s %s\n", "Status:", err)
		return
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("    %-12s not running\n", "Status:")
		return
	}
	defer resp.Body.Close()

	var health struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		fmt.Printf("    %-12s unexpected response (%s)\n", "Status:", resp.Status)
		return
	}
	fmt.Printf("    %-12s %s, %d clients\n", "Status:", health.Status, health.Clients)
}
