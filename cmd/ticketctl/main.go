package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/ticketd-io/ticketd/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "health":
		cmdHealth()
	case "tickets":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: ticketctl tickets <list|show|close>")
			os.Exit(1)
		}
		switch os.Args[2] {
		case "list":
			cmdTicketsList(os.Args[3:])
		case "show":
			if len(os.Args) < 4 {
				fmt.Fprintln(os.Stderr, "usage: ticketctl tickets show <id>")
				os.Exit(1)
			}
			cmdTicketsShow(os.Args[3])
		case "close":
			if len(os.Args) < 4 {
				fmt.Fprintln(os.Stderr, "usage: ticketctl tickets close <id>")
				os.Exit(1)
			}
			cmdTicketsClose(os.Args[3])
		default:
			fmt.Fprintf(os.Stderr, "unknown tickets subcommand: %s\n", os.Args[2])
			os.Exit(1)
		}
	case "logs":
		cmdLogs(os.Args[2:])
	case "config":
		if len(os.Args) < 4 || os.Args[2] != "validate" {
			fmt.Fprintln(os.Stderr, "usage: ticketctl config validate <path>")
			os.Exit(1)
		}
		cmdConfigValidate(os.Args[3])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// --- Commands ---

func cmdHealth() {
	body, err := apiGet("/api/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(body))
}

func cmdTicketsList(args []string) {
	fs := flag.NewFlagSet("tickets list", flag.ExitOnError)
	state := fs.String("state", "", "Filter by state (open|closing)")
	fs.Parse(args)

	path := "/api/tickets"
	if *state != "" {
		path += "?state=" + *state
	}

	body, err := apiGet(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var tickets []map[string]any
	json.Unmarshal(body, &tickets)
	for _, t := range tickets {
		fmt.Printf("%-6v %-8v %-14v %s\n", t["id"], t["state"], t["owner"], t["reason"])
	}
}

func cmdTicketsShow(id string) {
	body, err := apiGet("/api/tickets/" + id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdTicketsClose(id string) {
	body, err := apiPost("/api/tickets/" + id + "/close")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var resp map[string]string
	json.Unmarshal(body, &resp)
	fmt.Println(resp["outcome"])
}

func cmdLogs(args []string) {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	level := fs.String("level", "", "Minimum level (info|warn|error)")
	limit := fs.Int("limit", 100, "Max records")
	ticketID := fs.Int("ticket", 0, "Only records for this ticket id")
	fs.Parse(args)

	path := fmt.Sprintf("/api/logs?limit=%d", *limit)
	if *level != "" {
		path += "&level=" + *level
	}
	if *ticketID > 0 {
		path += fmt.Sprintf("&ticket=%d", *ticketID)
	}

	body, err := apiGet(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var records []map[string]any
	json.Unmarshal(body, &records)
	for _, r := range records {
		fmt.Printf("%v %-5v %v\n", r["time"], r["level"], r["message"])
	}
}

func cmdConfigValidate(path string) {
	if _, err := config.Load(path); err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("config is valid")
}

// --- Helpers ---

func apiGet(path string) ([]byte, error) {
	return apiDo(http.MethodGet, path)
}

func apiPost(path string) ([]byte, error) {
	return apiDo(http.MethodPost, path)
}

func apiDo(method, path string) ([]byte, error) {
	base := envOr("TICKETD_API_URL", "http://localhost:8080")

	req, err := http.NewRequest(method, base+path, nil)
	if err != nil {
		return nil, err
	}
	if key := os.Getenv("TICKETD_API_KEY"); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func prettyJSON(data []byte) string {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	out, _ := json.MarshalIndent(v, "", "  ")
	return string(out)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printUsage() {
	fmt.Println("ticketctl — ticketd management CLI")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  health               Check daemon health")
	fmt.Println("  tickets list         List tickets (--state)")
	fmt.Println("  tickets show <id>    Show ticket details")
	fmt.Println("  tickets close <id>   Close a ticket")
	fmt.Println("  logs                 Tail daemon logs (--level, --limit, --ticket)")
	fmt.Println("  config validate <p>  Validate config file")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  TICKETD_API_URL  Daemon URL (default: http://localhost:8080)")
	fmt.Println("  TICKETD_API_KEY  API key for authentication")
}
