package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Metroman-Development/Metro-Bot-sub001/internal/config"
	"github.com/Metroman-Development/Metro-Bot-sub001/internal/ipc"
)

// statusworker is a presentation-layer process without database access: all
// reads go through the master's IPC socket.
func main() {
	configPath := flag.String("config", os.Getenv("METRO_CONFIG"), "path to YAML config")
	interval := flag.Duration("interval", time.Minute, "status poll interval")
	flag.Parse()

	logger := log.New(os.Stdout, "statusworker ", log.LstdFlags|log.Lmsgprefix)
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	proxy, err := ipc.Dial(cfg.IPC.Socket, cfg.IPC.CallTimeout, logger)
	if err != nil {
		logger.Fatalf("ipc dial: %v", err)
	}
	defer proxy.Close()
	logger.Printf("connected to master: socket=%s", cfg.IPC.Socket)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	report(ctx, proxy, logger)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report(ctx, proxy, logger)
		}
	}
}

func report(ctx context.Context, proxy *ipc.Proxy, logger *log.Logger) {
	rows, err := proxy.Query(ctx, `
SELECT status_code, severity, summary_en, updated_at
FROM network_summary
WHERE id = 1`)
	if err != nil {
		logger.Printf("summary query failed: err=%v", err)
		return
	}
	if len(rows) == 0 {
		logger.Printf("no network summary yet")
		return
	}
	row := rows[0]
	logger.Printf("network: status=%v severity=%v summary=%v updated_at=%v",
		row["status_code"], row["severity"], row["summary_en"], row["updated_at"])

	affected, err := proxy.Query(ctx, `
SELECT line_id, status_code, message
FROM line_status
WHERE status_code <> '1'
ORDER BY line_id`)
	if err != nil {
		logger.Printf("line query failed: err=%v", err)
		return
	}
	for _, line := range affected {
		logger.Printf("affected line: id=%v status=%v message=%v",
			line["line_id"], line["status_code"], line["message"])
	}
}
