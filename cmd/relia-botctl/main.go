package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/davidahmann/relia-bot/internal/identity"
	"github.com/davidahmann/relia-bot/pkg/types"
)

const defaultAddr = "http://localhost:8080"

func main() {
	exitFn(run(os.Args, os.Stdout, os.Stderr))
}

var exitFn = os.Exit
var stdin io.Reader = os.Stdin

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	if len(args) < 2 {
		usage(stderr)
		return 2
	}

	switch args[1] {
	case "chat":
		return handleChat(args[2:], stdout, stderr)
	case "submit":
		return handleSubmit(args[2:], stdout, stderr)
	case "decide":
		return handleDecide(args[2:], stdout, stderr)
	case "sessions":
		return handleSessions(args[2:], stdout, stderr)
	case "roster":
		return handleRoster(args[2:], stdout, stderr)
	default:
		usage(stderr)
		return 2
	}
}

type clientFlags struct {
	addr  *string
	token *string
}

func addClientFlags(fs *flag.FlagSet) clientFlags {
	return clientFlags{
		addr:  fs.String("addr", envOrDefault("RELIA_BOT_ADDR", defaultAddr), "relia-bot API address"),
		token: fs.String("token", envOrDefault("RELIA_BOT_TOKEN", os.Getenv("RELIA_BOT_DEV_TOKEN")), "bearer token"),
	}
}

func handleChat(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cf := addClientFlags(fs)
	ident := fs.String("identity", "", "identity to chat as")
	if err := fs.Parse(args); err != nil {
		fs.Usage()
		return 2
	}
	if *ident == "" {
		fmt.Fprintln(stderr, "chat requires --identity")
		fs.Usage()
		return 2
	}

	send := func(text string) int {
		body, status, err := httpDo(http.DefaultClient, http.MethodPost, *cf.addr+"/v1/messages", *cf.token,
			types.MessageRequest{Identity: *ident, Text: text})
		if err != nil {
			fmt.Fprintln(stderr, err.Error())
			return 1
		}
		if status != http.StatusOK {
			fmt.Fprintf(stderr, "chat failed: %s\n", strings.TrimSpace(string(body)))
			return 1
		}
		var resp types.MessageResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			fmt.Fprintln(stderr, "invalid response:", err)
			return 1
		}
		fmt.Fprintln(stdout, resp.Reply)
		return 0
	}

	if fs.NArg() > 0 {
		return send(strings.Join(fs.Args(), " "))
	}

	scanner := bufio.NewScanner(stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if code := send(line); code != 0 {
			return code
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintln(stderr, "read input:", err)
		return 1
	}
	return 0
}

func handleSubmit(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cf := addClientFlags(fs)
	jsonOut := fs.Bool("json", false, "print raw JSON response")
	var req types.SubmitRequest
	fs.StringVar(&req.RequestID, "id", "", "request id (generated when empty)")
	fs.Float64Var(&req.Quantity, "quantity", 0, "requested quantity")
	fs.StringVar(&req.RequestedBy, "by", "", "requester identity")
	fs.StringVar(&req.RequestedByName, "by-name", "", "requester display name")
	fs.StringVar(&req.Subject, "subject", "", "request subject")
	fs.StringVar(&req.SubjectLabel, "label", "", "subject label")
	fs.StringVar(&req.Title, "title", "", "work item title")
	if err := fs.Parse(args); err != nil {
		fs.Usage()
		return 2
	}
	if req.Quantity <= 0 || req.RequestedBy == "" || req.Subject == "" {
		fmt.Fprintln(stderr, "submit requires --quantity, --by and --subject")
		fs.Usage()
		return 2
	}

	body, status, err := httpDo(http.DefaultClient, http.MethodPost, *cf.addr+"/v1/requests", *cf.token, req)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	if status != http.StatusCreated {
		fmt.Fprintf(stderr, "submit failed: %s\n", strings.TrimSpace(string(body)))
		return 1
	}
	if *jsonOut {
		_, _ = stdout.Write(body)
		return 0
	}

	var view types.RequestView
	if err := json.Unmarshal(body, &view); err != nil {
		fmt.Fprintln(stderr, "invalid response:", err)
		return 1
	}
	fmt.Fprintf(stdout, "request_id=%s work_item_id=%s status=%s\n", view.RequestID, view.WorkItemID, view.Status)
	return 0
}

func handleDecide(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("decide", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cf := addClientFlags(fs)
	jsonOut := fs.Bool("json", false, "print raw JSON response")
	action := fs.String("action", "", "approve or reject")
	quantity := fs.String("quantity", "", "override quantity when approving")
	reason := fs.String("reason", "", "rejection reason")
	actor := fs.String("actor", "", "deciding identity, honored only for the dev token")
	actorName := fs.String("actor-name", "", "deciding display name")
	if err := fs.Parse(args); err != nil {
		fs.Usage()
		return 2
	}
	if fs.NArg() != 1 || *action == "" {
		fmt.Fprintln(stderr, "decide requires <request_id> and --action")
		fs.Usage()
		return 2
	}

	req := types.DecisionRequest{Action: *action, Reason: *reason, Actor: *actor, ActorName: *actorName}
	if *quantity != "" {
		q, err := strconv.ParseFloat(*quantity, 64)
		if err != nil {
			fmt.Fprintln(stderr, "invalid --quantity:", err)
			return 2
		}
		req.Quantity = &q
	}

	body, status, err := httpDo(http.DefaultClient, http.MethodPost,
		*cf.addr+"/v1/requests/"+url.PathEscape(fs.Arg(0))+"/decision", *cf.token, req)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	if *jsonOut {
		_, _ = stdout.Write(body)
		if status != http.StatusOK {
			return 1
		}
		return 0
	}

	var resp types.DecisionResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Outcome == "" {
		fmt.Fprintf(stderr, "decide failed: %s\n", strings.TrimSpace(string(body)))
		return 1
	}
	fmt.Fprintln(stdout, resp.Summary)
	if status != http.StatusOK {
		return 1
	}
	return 0
}

func handleSessions(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("sessions", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cf := addClientFlags(fs)
	jsonOut := fs.Bool("json", false, "print raw JSON response")
	window := fs.Int("window", 0, "activity window in minutes (defaults to the session TTL)")
	if err := fs.Parse(args); err != nil {
		fs.Usage()
		return 2
	}

	endpoint := *cf.addr + "/v1/sessions"
	if *window > 0 {
		endpoint += "?window_minutes=" + strconv.Itoa(*window)
	}
	body, status, err := httpDo(http.DefaultClient, http.MethodGet, endpoint, *cf.token, nil)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	if status != http.StatusOK {
		fmt.Fprintf(stderr, "sessions failed: %s\n", strings.TrimSpace(string(body)))
		return 1
	}
	if *jsonOut {
		_, _ = stdout.Write(body)
		return 0
	}

	var resp types.SessionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		fmt.Fprintln(stderr, "invalid response:", err)
		return 1
	}
	for _, s := range resp.Sessions {
		fmt.Fprintf(stdout, "%s context=%s history=%d last_activity=%s\n", s.Identity, s.Context, s.HistoryLen, s.LastActivityAt)
	}
	fmt.Fprintf(stdout, "%d active in the last %d minutes\n", len(resp.Sessions), resp.WindowMinutes)
	return 0
}

func handleRoster(args []string, stdout io.Writer, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}
	switch args[0] {
	case "lint":
		fs := flag.NewFlagSet("roster lint", flag.ContinueOnError)
		fs.SetOutput(stderr)
		if err := fs.Parse(args[1:]); err != nil {
			fs.Usage()
			return 2
		}
		if fs.NArg() != 1 {
			fmt.Fprintln(stderr, "roster lint requires <roster_path>")
			fs.Usage()
			return 2
		}
		roster, err := identity.LoadRoster(fs.Arg(0))
		if err != nil {
			fmt.Fprintln(stderr, err.Error())
			return 1
		}
		fmt.Fprintf(stdout, "ok members=%d\n", roster.Len())
		return 0
	default:
		usage(stderr)
		return 2
	}
}

func httpDo(client *http.Client, method string, endpoint string, token string, payload any) ([]byte, int, error) {
	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, err
		}
		reqBody = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, endpoint, reqBody)
	if err != nil {
		return nil, 0, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func envOrDefault(key string, fallback string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return fallback
}

func usage(w io.Writer) {
	fmt.Fprint(w, `relia-bot CLI

Usage:
  relia-botctl chat --identity ID [text...] [--addr URL] [--token TOKEN]
  relia-botctl submit --quantity N --by ID --subject S [--by-name NAME] [--label L] [--id ID] [--json]
  relia-botctl decide <request_id> --action approve|reject [--quantity N] [--reason R] [--actor ID] [--json]
  relia-botctl sessions [--window MINUTES] [--json]
  relia-botctl roster lint <roster_path>
`)
}
