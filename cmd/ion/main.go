// Command ion is a headless, provider-agnostic coding-assistant core: it
// drives one conversation session through internal/agent's turn loop,
// reading user input from stdin and printing streamed assistant output,
// tool activity, and retries to stdout.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sacenox/ion/internal/agent"
	"github.com/sacenox/ion/internal/auth"
	"github.com/sacenox/ion/internal/config"
	"github.com/sacenox/ion/internal/mcp"
	"github.com/sacenox/ion/internal/provider"
	"github.com/sacenox/ion/internal/shell"
	"github.com/sacenox/ion/internal/store"
	"github.com/sacenox/ion/internal/tool"
	"github.com/sacenox/ion/internal/tool/builtin"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "ion: "+err.Error())
		os.Exit(1)
	}
}

type cliArgs struct {
	resume     bool
	resumeID   string
	loginProv  string
	logoutProv string
	mode       tool.Mode
	noSandbox  bool
	listModels bool
}

func parseArgs(args []string) (cliArgs, error) {
	out := cliArgs{mode: tool.ModeWrite}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "login":
			if i+1 >= len(args) {
				return out, fmt.Errorf("login requires a provider name")
			}
			out.loginProv = args[i+1]
			i++
		case "logout":
			if i+1 >= len(args) {
				return out, fmt.Errorf("logout requires a provider name")
			}
			out.logoutProv = args[i+1]
			i++
		case "--resume":
			out.resume = true
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				out.resumeID = args[i+1]
				i++
			}
		case "--read":
			out.mode = tool.ModeRead
		case "--write":
			out.mode = tool.ModeWrite
		case "--agi":
			out.mode = tool.ModeAgi
		case "--no-sandbox":
			out.noSandbox = true
		case "--list-models":
			out.listModels = true
		default:
			return out, fmt.Errorf("unrecognized argument: %s", args[i])
		}
	}
	return out, nil
}

func run(args []string) error {
	cli, err := parseArgs(args)
	if err != nil {
		return err
	}

	dataDir, err := config.EnsureDataDir()
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}

	credStore, err := auth.NewStore()
	if err != nil {
		return fmt.Errorf("setup: credential store: %w", err)
	}

	if cli.loginProv != "" {
		return auth.Login(credStore, cli.loginProv, openBrowser)
	}
	if cli.logoutProv != "" {
		return auth.Logout(credStore, cli.logoutProv)
	}

	cfg, err := loadConfig(dataDir)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if cli.listModels {
		return printModels(cfg, credStore)
	}

	cache, err := store.Open(filepath.Join(dataDir, "cache.db"), time.Duration(cfg.Cache.CacheTTLOrDefault())*time.Hour)
	if err != nil {
		return fmt.Errorf("setup: cache: %w", err)
	}
	defer cache.Close()

	prov, err := buildProvider(cfg, credStore)
	if err != nil {
		return fmt.Errorf("provider: %w", err)
	}
	defer prov.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mgr := startMCPServers(ctx, cfg)
	defer mgr.Close()

	workingDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("setup: cwd: %w", err)
	}

	stdin := bufio.NewScanner(os.Stdin)
	stdin.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	// In Write mode, restricted calls route to an interactive prompt; Read
	// mode never asks (restricted is denied outright) and Agi mode never
	// asks (everything is allowed).
	var approver tool.ApprovalHandler
	if cli.mode == tool.ModeWrite {
		approver = terminalApprover(stdin)
	}

	sh := shell.New(workingDir, shell.DefaultBlockFuncs())
	var orch *tool.Orchestrator
	orch = tool.WithBuiltins(cli.mode, approver, tool.Builtins{Tools: []tool.Tool{
		builtin.Read{},
		builtin.Write{},
		builtin.Edit{},
		builtin.Glob{},
		builtin.Grep{},
		builtin.List{},
		builtin.Bash{Shell: sh},
		builtin.WebFetch{Cache: cache},
		builtin.WebSearch{Cache: cache},
		builtin.Compact{},
		builtin.MCPTools{Lister: mcpLister(mgr)},
		builtin.SpawnSubAgent{Runner: agent.NewSubAgentRunner(agent.SubAgentRunnerConfig{
			ConfigDir:  cfg.Agent.SubAgentsDirOrDefault(dataDir),
			Provider:   prov,
			WorkingDir: workingDir,
			NoSandbox:  cli.noSandbox,
			BuildOrchestrator: func(allow []string) *tool.Orchestrator {
				scoped := tool.WithBuiltins(cli.mode, nil, tool.Builtins{Tools: orch.FilterTools(allow)})
				scoped.SetMCPFallback(mcpFallback(mgr))
				return scoped
			},
			Depth: 0,
		})},
	}})
	orch.SetMCPFallback(mcpFallback(mgr))

	permsPath := filepath.Join(dataDir, "permissions.json")
	perms := loadPermissions(permsPath)
	orch.Matrix().LoadPermanent(perms.Tools, perms.Commands)
	orch.Matrix().PersistPermanent = func(tools, commands []string) {
		savePermissions(permsPath, permissionsFile{Tools: tools, Commands: commands})
	}

	sess, err := loadOrCreateSession(cache, workingDir, cfg.DefaultProvider, cli)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}

	if cfg.Agent.SystemPrompt != "" && len(sess.Snapshot()) == 0 {
		sess.Prime(cfg.Agent.SystemPrompt)
	}

	return repl(ctx, stdin, sess, prov, orch, cache, cli)
}

// loadConfig reads the user's TOML config, falling back to an empty one if
// absent so `ion login`/`logout` work before any providers are configured.
func loadConfig(dataDir string) (*config.Config, error) {
	path := filepath.Join(dataDir, "config.toml")
	if _, err := os.Stat(path); err != nil {
		return &config.Config{Providers: map[string]config.ProviderConfig{}}, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.LoadMCPServersFile(".mcp.json"); err != nil {
		log.Warn().Err(err).Msg("failed to load .mcp.json")
	}
	return cfg, nil
}

func buildProvider(cfg *config.Config, credStore *auth.Store) (provider.Provider, error) {
	name := cfg.DefaultProvider
	if name == "" {
		for n := range cfg.Providers {
			name = n
			break
		}
	}
	pc, ok := cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("no provider configured (set default_provider in config.toml)")
	}

	opts := provider.Options{Temperature: pc.Temperature, Thinking: pc.Thinking}

	switch pc.TypeOrDefault() {
	case "ollama":
		return provider.NewOllamaWithTemp(name, pc.Endpoint, pc.Model, pc.Temperature), nil
	case "opencode":
		return provider.NewOpenCodeWithTemp(name, pc.Endpoint, pc.Model, pc.APIKey, pc.Temperature), nil
	case "vllm":
		return provider.NewVLLMWithTemp(name, pc.Endpoint, pc.Model, pc.APIKey, opts), nil
	case "anthropic":
		return provider.NewAnthropic(name, pc.Endpoint, pc.Model, pc.APIKey, opts), nil
	case "openai":
		return provider.NewOpenAIWithOpts(name, pc.Endpoint, pc.Model, pc.APIKey, opts), nil
	case "openai-responses":
		// Fail fast at startup if nobody has logged in, then hand the
		// provider a live source so mid-session refreshes are picked up.
		if _, _, err := chatGPTCredentials(credStore); err != nil {
			return nil, err
		}
		return provider.NewChatGPTWithSource(name, pc.Endpoint, pc.Model, func() (string, string, error) {
			return chatGPTCredentials(credStore)
		}), nil
	case "gemini":
		if _, _, err := geminiCredentials(credStore); err != nil {
			return nil, err
		}
		return provider.NewGeminiWithSource(name, pc.Endpoint, pc.Model, func() (string, string, error) {
			return geminiCredentials(credStore)
		}, opts), nil
	default:
		// "zen": the unified opencode.ai backend, which dispatches by wire
		// shape per request.
		return provider.NewZen(name, pc.APIKey, pc.Endpoint, pc.Model, pc.Temperature)
	}
}

// buildRegistry registers one provider.Factory per configured provider so
// --list-models can enumerate available models across all of them at once,
// instead of only the default provider.
func buildRegistry(cfg *config.Config, credStore *auth.Store) *provider.Registry {
	reg := provider.NewRegistry()
	for name, pc := range cfg.Providers {
		switch pc.TypeOrDefault() {
		case "ollama":
			reg.RegisterFactory(name, provider.NewOllamaFactory(name, pc.Endpoint))
		case "opencode":
			reg.RegisterFactory(name, provider.NewOpenCodeFactory(name, pc.Endpoint, pc.APIKey))
		case "vllm":
			reg.RegisterFactory(name, provider.NewVLLMFactory(name, pc.Endpoint, pc.APIKey))
		case "anthropic":
			reg.RegisterFactory(name, provider.NewAnthropicFactory(name, pc.Endpoint, pc.APIKey))
		case "openai":
			reg.RegisterFactory(name, provider.NewOpenAIFactory(name, pc.Endpoint, pc.APIKey))
		case "openai-responses":
			reg.RegisterFactory(name, provider.NewChatGPTFactory(name, pc.Endpoint, func() (string, string, error) {
				return chatGPTCredentials(credStore)
			}))
		case "gemini":
			reg.RegisterFactory(name, provider.NewGeminiFactory(name, pc.Endpoint, func() (string, string, error) {
				return geminiCredentials(credStore)
			}))
		default:
			reg.RegisterFactory(name, provider.NewZenFactory(name, pc.APIKey, pc.Endpoint))
		}
	}
	return reg
}

// printModels lists every model every configured provider currently offers.
func printModels(cfg *config.Config, credStore *auth.Store) error {
	reg := buildRegistry(cfg, credStore)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	for _, tm := range reg.ListAllModels(ctx, provider.Options{}) {
		fmt.Printf("%s\t%s\n", tm.ProviderName, tm.Model.Name)
	}
	return nil
}

// chatGPTCredentials resolves a (refreshing-if-needed) ChatGPT/Codex OAuth
// access token and account id from the credential store.
func chatGPTCredentials(credStore *auth.Store) (accessToken, accountID string, err error) {
	creds, err := auth.GetCredentials(credStore, auth.ProviderOpenAI)
	if err != nil {
		return "", "", fmt.Errorf("openai-responses: %w", err)
	}
	if creds.OAuth == nil {
		return "", "", fmt.Errorf("openai-responses: no oauth credentials, run 'ion login %s'", auth.ProviderOpenAI)
	}
	return creds.OAuth.AccessToken, creds.OAuth.ChatGPTAccountID, nil
}

// geminiCredentials resolves a (refreshing-if-needed) Google OAuth access
// token and Cloud project id from the credential store.
func geminiCredentials(credStore *auth.Store) (accessToken, projectID string, err error) {
	creds, err := auth.GetCredentials(credStore, auth.ProviderGoogle)
	if err != nil {
		return "", "", fmt.Errorf("gemini: %w", err)
	}
	if creds.OAuth == nil {
		return "", "", fmt.Errorf("gemini: no oauth credentials, run 'ion login %s'", auth.ProviderGoogle)
	}
	return creds.OAuth.AccessToken, creds.OAuth.GoogleProjectID, nil
}

func startMCPServers(ctx context.Context, cfg *config.Config) *mcp.Manager {
	var specs []mcp.ServerSpec
	for name, srv := range cfg.MCP.Servers {
		env := make([]string, 0, len(srv.Env))
		for k, v := range srv.Env {
			env = append(env, k+"="+v)
		}
		specs = append(specs, mcp.ServerSpec{Name: name, Command: srv.Command, Args: srv.Args, Env: env})
	}
	return mcp.NewManager(ctx, specs)
}

func mcpLister(mgr *mcp.Manager) builtin.MCPToolsLister {
	return func(ctx context.Context) ([]builtin.MCPToolInfo, error) {
		tools, err := mgr.ListAllTools(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]builtin.MCPToolInfo, len(tools))
		for i, t := range tools {
			out[i] = builtin.MCPToolInfo{Name: t.Name, Description: t.Description}
		}
		return out, nil
	}
}

func mcpFallback(mgr *mcp.Manager) func(ctx context.Context, toolName string, args map[string]any) (tool.Result, error) {
	return func(ctx context.Context, toolName string, args map[string]any) (tool.Result, error) {
		if !mgr.HasTool(toolName) {
			return tool.Result{IsError: true, Content: fmt.Sprintf("unknown tool: %s", toolName)}, nil
		}
		res, err := mgr.CallTool(ctx, toolName, args)
		if err != nil {
			return tool.Result{IsError: true, Content: err.Error()}, nil
		}
		return tool.Result{Content: mcp.ContentText(res), IsError: res.IsError}, nil
	}
}

func loadOrCreateSession(cache *store.Cache, workingDir, model string, cli cliArgs) (*agent.Session, error) {
	id := cli.resumeID
	if cli.resume && id == "" {
		latest, err := cache.LatestSessionID()
		if err == nil {
			id = latest
		}
	}
	if id == "" {
		return agent.NewSession(workingDir, model), nil
	}

	row, msgs, err := cache.Load(id)
	if err != nil {
		return nil, fmt.Errorf("no session %q to resume", id)
	}
	return agent.Restore(row.ID, row.WorkingDir, row.Model, store.ToProviderMessages(msgs), row.Created, row.Updated), nil
}

func openBrowser(url string) error {
	fmt.Fprintf(os.Stderr, "Open this URL to authenticate:\n%s\n", url)
	return nil
}

// terminalApprover prompts on stderr and reads the operator's answer from
// the shared stdin scanner. The prompt only fires between provider rounds,
// while the REPL loop is blocked inside RunTask, so the two readers never
// race.
func terminalApprover(scanner *bufio.Scanner) tool.ApprovalHandler {
	return func(ctx context.Context, req tool.ApprovalRequest) (tool.ApprovalDecision, error) {
		fmt.Fprintf(os.Stderr, "\napproval needed: %s\n[y]es once / [s]ession / [a]lways / [N]o: ", req.Summary)
		if !scanner.Scan() {
			return tool.ApprovalDeny, nil
		}
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "y", "yes":
			return tool.ApprovalOnce, nil
		case "s", "session":
			return tool.ApprovalSession, nil
		case "a", "always":
			return tool.ApprovalAlways, nil
		default:
			return tool.ApprovalDeny, nil
		}
	}
}

// permissionsFile is the on-disk shape of the permanent allow-lists.
type permissionsFile struct {
	Tools    []string `json:"tools"`
	Commands []string `json:"commands"`
}

// loadPermissions reads the permanent allow-lists; a missing or corrupt
// file is an empty set, not an error.
func loadPermissions(path string) permissionsFile {
	var out permissionsFile
	data, err := os.ReadFile(path)
	if err != nil {
		return out
	}
	if err := json.Unmarshal(data, &out); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("permissions file corrupt, starting fresh")
		return permissionsFile{}
	}
	return out
}

func savePermissions(path string, perms permissionsFile) {
	data, err := json.MarshalIndent(perms, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("failed to persist permissions")
	}
}

// repl drives the read-eval-print loop: read a line from stdin, run one
// agent turn to completion, print the streamed output, persist, repeat.
func repl(ctx context.Context, scanner *bufio.Scanner, sess *agent.Session, prov provider.Provider, orch *tool.Orchestrator, cache *store.Cache, cli cliArgs) error {
	fmt.Fprintln(os.Stderr, "ion ready. Session:", sess.ID)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/exit" || line == "/quit" {
			break
		}

		_ = cache.AddInputHistory(line)

		onEvent := func(e agent.AgentEvent) {
			switch e.Type {
			case agent.EventTextDelta:
				fmt.Print(e.Content)
			case agent.EventToolCallStart:
				fmt.Fprintf(os.Stderr, "\n[tool: %s]\n", e.ToolCallName)
			case agent.EventRetry:
				fmt.Fprintf(os.Stderr, "\n[retry %d: %s]\n", e.RetryAttempt, e.RetryReason)
			case agent.EventError:
				fmt.Fprintf(os.Stderr, "\n[error: %v]\n", e.Err)
			case agent.EventDone:
				fmt.Println()
			}
		}

		err := agent.RunTask(ctx, sess, agent.RunTaskOptions{
			Provider:     prov,
			Orchestrator: orch,
			WorkingDir:   sess.WorkingDir,
			NoSandbox:    cli.noSandbox,
			UserInput:    line,
			OnEvent:      onEvent,
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "turn error:", err)
		}

		if saveErr := cache.Save(store.Session{
			ID:         sess.ID,
			WorkingDir: sess.WorkingDir,
			Model:      sess.Model,
			Created:    sess.Created,
			Updated:    sess.Updated,
		}, store.FromProviderMessages(sess.Snapshot())); saveErr != nil {
			log.Warn().Err(saveErr).Msg("failed to persist session")
		}

		if ctx.Err() != nil {
			break
		}
	}
	return nil
}
