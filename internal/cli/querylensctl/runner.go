package querylensctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	UserID     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

// request is what a command resolves to before it is sent.
type request struct {
	method      string
	path        string
	body        io.Reader
	contentType string
}

type command struct {
	argNames string
	route    string
	args     int
	build    func(args []string, flags *commandFlags) (request, error)
}

type commandFlags struct {
	name   string
	status string
}

var commands = map[string]command{
	"health":      {argNames: "", route: "GET /v1/health", args: 0, build: static(http.MethodGet, "/v1/health")},
	"ready":       {argNames: "", route: "GET /v1/ready", args: 0, build: static(http.MethodGet, "/v1/ready")},
	"datasets":    {argNames: "", route: "GET /v1/datasets", args: 0, build: static(http.MethodGet, "/v1/datasets")},
	"dataset":     {argNames: "<id>", route: "GET /v1/datasets/{id}", args: 1, build: withID(http.MethodGet, "/v1/datasets/%d")},
	"schema":      {argNames: "<id>", route: "GET /v1/datasets/{id}/schema", args: 1, build: withID(http.MethodGet, "/v1/datasets/%d/schema")},
	"upload":      {argNames: "<file>", route: "POST /v1/datasets (-name sets the display name)", args: 1, build: buildUpload},
	"delete":      {argNames: "<id>", route: "DELETE /v1/datasets/{id}", args: 1, build: withID(http.MethodDelete, "/v1/datasets/%d")},
	"ask":         {argNames: "<id> <question>", route: "POST /v1/datasets/{id}/ask", args: 2, build: buildAsk},
	"history":     {argNames: "<id>", route: "GET /v1/datasets/{id}/queries", args: 1, build: withID(http.MethodGet, "/v1/datasets/%d/queries")},
	"replay":      {argNames: "<query-id>", route: "POST /v1/queries/{id}/replay", args: 1, build: withID(http.MethodPost, "/v1/queries/%d/replay")},
	"overview":    {argNames: "", route: "GET /v1/analytics/overview", args: 0, build: static(http.MethodGet, "/v1/analytics/overview")},
	"volume":      {argNames: "", route: "GET /v1/analytics/query-volume", args: 0, build: static(http.MethodGet, "/v1/analytics/query-volume")},
	"performance": {argNames: "", route: "GET /v1/analytics/performance", args: 0, build: static(http.MethodGet, "/v1/analytics/performance")},
	"recent":      {argNames: "", route: "GET /v1/analytics/recent-queries", args: 0, build: static(http.MethodGet, "/v1/analytics/recent-queries")},
	"reports":     {argNames: "", route: "GET /v1/reports", args: 0, build: static(http.MethodGet, "/v1/reports")},
	"save-report": {argNames: "<sql>", route: "POST /v1/reports (-status success|failed)", args: 1, build: buildSaveReport},
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("querylensctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "QueryLens API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	userID := fs.String("user-id", defaults.UserID, "User ID header (used when auth is disabled)")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 30*time.Second), "HTTP timeout (e.g. 30s)")
	flags := &commandFlags{}
	fs.StringVar(&flags.name, "name", "", "dataset display name for upload")
	fs.StringVar(&flags.status, "status", "", "report status for save-report")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	name := strings.TrimSpace(fs.Arg(0))
	cmd, ok := commands[name]
	if !ok {
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", name)
		writeUsage(stderr)
		return 2
	}
	rest := fs.Args()[1:]
	if len(rest) < cmd.args {
		_, _ = fmt.Fprintf(stderr, "%s: expected %d argument(s)\n\n", name, cmd.args)
		writeUsage(stderr)
		return 2
	}
	if cmd.args > 0 && len(rest) > cmd.args {
		// trailing words belong to the last argument, so questions need no quoting
		rest = append(rest[:cmd.args-1], strings.Join(rest[cmd.args-1:], " "))
	}

	req, err := cmd.build(rest, flags)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%s: %v\n", name, err)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	endpoint := strings.TrimRight(*baseURL, "/") + req.path
	code, responseBody, err := doRequest(ctx, client, req, endpoint, *apiKey, *userID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func static(method, path string) func([]string, *commandFlags) (request, error) {
	return func([]string, *commandFlags) (request, error) {
		return request{method: method, path: path}, nil
	}
}

func withID(method, pattern string) func([]string, *commandFlags) (request, error) {
	return func(args []string, _ *commandFlags) (request, error) {
		id, err := parseID(args[0])
		if err != nil {
			return request{}, err
		}
		return request{method: method, path: fmt.Sprintf(pattern, id)}, nil
	}
}

func buildAsk(args []string, _ *commandFlags) (request, error) {
	id, err := parseID(args[0])
	if err != nil {
		return request{}, err
	}
	question := strings.TrimSpace(args[1])
	if question == "" {
		return request{}, fmt.Errorf("question is required")
	}
	return jsonRequest(http.MethodPost, fmt.Sprintf("/v1/datasets/%d/ask", id), map[string]any{"question": question})
}

func buildSaveReport(args []string, flags *commandFlags) (request, error) {
	payload := map[string]any{"sql": strings.TrimSpace(args[0])}
	if flags.status != "" {
		payload["status"] = flags.status
	}
	return jsonRequest(http.MethodPost, "/v1/reports", payload)
}

func buildUpload(args []string, flags *commandFlags) (request, error) {
	file, err := os.Open(args[0])
	if err != nil {
		return request{}, fmt.Errorf("open upload: %w", err)
	}
	defer func() { _ = file.Close() }()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if strings.TrimSpace(flags.name) != "" {
		if err := writer.WriteField("name", strings.TrimSpace(flags.name)); err != nil {
			return request{}, fmt.Errorf("write name field: %w", err)
		}
	}
	part, err := writer.CreateFormFile("file", filepath.Base(args[0]))
	if err != nil {
		return request{}, fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return request{}, fmt.Errorf("copy upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return request{}, fmt.Errorf("close multipart: %w", err)
	}
	return request{method: http.MethodPost, path: "/v1/datasets", body: &body, contentType: writer.FormDataContentType()}, nil
}

func jsonRequest(method, path string, payload any) (request, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return request{}, fmt.Errorf("encode request: %w", err)
	}
	return request{method: method, path: path, body: bytes.NewReader(raw), contentType: "application/json"}, nil
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func doRequest(ctx context.Context, client *http.Client, spec request, url, apiKey, userID string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, spec.method, url, spec.body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if spec.contentType != "" {
		req.Header.Set("Content-Type", spec.contentType)
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}
	if strings.TrimSpace(userID) != "" {
		req.Header.Set("X-User-ID", strings.TrimSpace(userID))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: querylensctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cmd := commands[name]
		_, _ = fmt.Fprintf(w, "  %-12s %-16s %s\n", name, cmd.argNames, cmd.route)
	}
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
