package cli

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check if the Portico server is running",
		Long:  "Check the serve process recorded in the data directory and probe its /readyz endpoint.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
}

func runStatus() error {
	pid, err := readPID()
	if err != nil {
		fmt.Println("Server is not running (no PID file found).")
		return nil
	}

	if !isProcessRunning(pid) {
		removePID()
		fmt.Println("Server is not running (stale PID file removed).")
		return nil
	}

	host, port := "127.0.0.1", 8080
	if cfg, err := loadConfig(); err == nil {
		port = cfg.Server.Port
		if cfg.Server.Host != "" && cfg.Server.Host != "0.0.0.0" && cfg.Server.Host != "::" {
			host = cfg.Server.Host
		}
	}

	readyURL := "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/readyz"
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(readyURL)
	if err != nil {
		fmt.Printf("Server process is running (PID %d) but not responding to HTTP.\n", pid)
		return nil
	}
	resp.Body.Close()

	state := "ready"
	if resp.StatusCode != http.StatusOK {
		state = "degraded"
	}
	fmt.Printf("Server is running (PID %d)\n", pid)
	fmt.Printf("  Ready:  %s (%d, %s)\n", readyURL, resp.StatusCode, state)
	fmt.Printf("  Data:   %s\n", resolveDataDir())
	return nil
}
