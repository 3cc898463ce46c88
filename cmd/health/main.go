// Command health probes a running submissions server and reports per-unit
// status, for deploy checks and on-call spelunking.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/normal-oj/submissions/internal/environment"
)

type feedbackRow struct {
	unit    string
	health  int // 0 - OK, 1 - Warning, 2 - Error
	message string
}

func main() {
	addr := flag.String("addr", "http://localhost:8080", "base URL of the submissions server")
	settings := flag.String("settings", "", "TOML settings file to validate (optional)")
	flag.Parse()

	feedback := []feedbackRow{
		checkServer(*addr),
		checkSettings(*settings),
	}

	worst := 0
	for _, row := range feedback {
		printRow(row)
		if row.health > worst {
			worst = row.health
		}
	}
	if worst == 2 {
		os.Exit(1)
	}
}

func checkServer(base string) feedbackRow {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(base + "/health")
	if err != nil {
		return feedbackRow{unit: "Server", health: 2, message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return feedbackRow{unit: "Server", health: 2,
			message: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Status != "ok" {
		return feedbackRow{unit: "Server", health: 1, message: "responded but payload is off"}
	}
	return feedbackRow{unit: "Server", health: 0, message: "reachable"}
}

func checkSettings(path string) feedbackRow {
	if path == "" {
		return feedbackRow{unit: "Settings", health: 1, message: "no file given, skipped"}
	}
	settings, err := environment.LoadSettings(path)
	if err != nil {
		return feedbackRow{unit: "Settings", health: 2, message: err.Error()}
	}
	return feedbackRow{unit: "Settings", health: 0,
		message: fmt.Sprintf("valid, %d problems", len(settings.Problems))}
}

func printRow(row feedbackRow) {
	label := color.GreenString("OK  ")
	switch row.health {
	case 1:
		label = color.YellowString("WARN")
	case 2:
		label = color.RedString("FAIL")
	}
	fmt.Printf("%s  %-10s %s\n", label, row.unit, row.message)
}
