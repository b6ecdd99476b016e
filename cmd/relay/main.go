package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"relay/internal/cli"
	"relay/internal/config"
	"relay/internal/container"
	"relay/internal/dispatch"
	"relay/internal/logger"
	"relay/internal/mcp"
	"relay/internal/session"
	"relay/internal/tool"
	"relay/internal/tool/builtin"
	"relay/internal/web"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	configPath  string
	apiBaseURL  string
	apiKey      string
	model       string
	temperature float32
	timeout     time.Duration
	nativeTools bool
	toolsets    []string
	verbose     bool
	noColor     bool
	addr        string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "relay",
		Short:         "Route natural language requests to tools through a language model",
		Version:       mcp.Implementation.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Config file (default: first of "+strings.Join(config.Locations(), ", ")+")")
	flags.StringVar(&apiBaseURL, "api-base-url", os.Getenv("OPENAI_API_BASE_URL"), "OpenAI API base URL")
	flags.StringVar(&apiKey, "api-key", os.Getenv("OPENAI_API_KEY"), "OpenAI API key")
	flags.StringVar(&model, "model", config.DefaultModel, "Model to use")
	flags.Float32Var(&temperature, "temperature", 0, "Temperature")
	flags.DurationVar(&timeout, "timeout", config.DefaultTimeout, "Oracle call timeout")
	flags.BoolVar(&nativeTools, "native-tools", false, "Advertise tools through function calling")
	flags.StringSliceVar(&toolsets, "toolset", nil, "Built-in toolsets to load (default: all; available: "+strings.Join(builtin.Names(), ", ")+")")
	flags.BoolVar(&verbose, "verbose", false, "Enable verbose output (debug mode)")
	flags.BoolVar(&noColor, "no-color", false, "Disable colored output")

	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive session in the terminal",
		Args:  cobra.NoArgs,
		RunE:  runChat,
	}

	askCmd := &cobra.Command{
		Use:   "ask <request>",
		Short: "Dispatch a single request and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsk,
	}

	webCmd := &cobra.Command{
		Use:   "web",
		Short: "Serve the chat page and JSON endpoint",
		Args:  cobra.NoArgs,
		RunE:  runWeb,
	}
	webCmd.Flags().StringVar(&addr, "addr", "127.0.0.1:5000", "Listen address")

	serveCmd := &cobra.Command{
		Use:   "serve [toolset...]",
		Short: "Serve built-in toolsets over MCP on stdin/stdout",
		Long:  "Serve built-in toolsets over MCP on stdin/stdout.\n\nToolsets (default: all):\n" + toolsetHelp(),
		RunE:  runServe,
	}

	toolsCmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools the dispatcher can call",
		Args:  cobra.NoArgs,
		RunE:  runTools,
	}

	rootCmd.AddCommand(chatCmd, askCmd, webCmd, serveCmd, toolsCmd)

	if err := rootCmd.Execute(); err != nil {
		log := logger.NewLogger(os.Stderr, logger.LevelError)
		log.SetShowTime(false)
		log.SetColorMode(!noColor && isTerminal(os.Stderr))
		log.Error("%v", err)
		os.Exit(1)
	}
}

func toolsetHelp() string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	for _, ts := range builtin.Toolsets() {
		fmt.Fprintf(w, "  %s\t%s\n", ts.Name, ts.Description)
	}
	w.Flush()
	return b.String()
}

// loadConfig reads the config file and applies flag overrides. Flags given
// explicitly win; the API key and base URL flags also fill empty file values.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadWithDefaults()
	}
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("api-key") || cfg.Oracle.APIKey == "" {
		cfg.Oracle.APIKey = apiKey
	}
	if flags.Changed("api-base-url") || cfg.Oracle.BaseURL == "" {
		cfg.Oracle.BaseURL = apiBaseURL
	}
	if flags.Changed("model") {
		cfg.Oracle.Model = model
	}
	if flags.Changed("temperature") {
		cfg.Oracle.Temperature = temperature
	}
	if flags.Changed("timeout") {
		cfg.Oracle.Timeout = timeout
	}
	if flags.Changed("native-tools") {
		cfg.Oracle.NativeTools = nativeTools
	}
	if flags.Changed("toolset") {
		cfg.Toolsets = toolsets
	}
	if flags.Changed("no-color") {
		cfg.Log.NoColor = noColor
	}

	return cfg, cfg.Validate()
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = logger.LevelDebug
	}

	log := logger.NewLogger(os.Stderr, level)
	log.SetColorMode(!cfg.Log.NoColor && isTerminal(os.Stderr))
	return log, nil
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// setup loads configuration and builds the service container
func setup(cmd *cobra.Command, opts container.Options) (context.Context, context.CancelFunc, *config.Config, *logger.Logger, *container.Container, error) {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)

	cfg, err := loadConfig(cmd)
	if err != nil {
		cancel()
		return nil, nil, nil, nil, nil, err
	}

	log, err := newLogger(cfg)
	if err != nil {
		cancel()
		return nil, nil, nil, nil, nil, err
	}
	if cfg.Path != "" {
		log.Debug("Loaded config from %s", cfg.Path)
	}

	c, err := container.New(ctx, cfg, log, opts)
	if err != nil {
		cancel()
		return nil, nil, nil, nil, nil, err
	}

	return ctx, cancel, cfg, log, c, nil
}

func dispatcher(c *container.Container, log *logger.Logger) (*dispatch.Dispatcher, error) {
	d, err := c.Dispatcher()
	if err != nil {
		return nil, err
	}
	log.Info("Registered %d tools: %s", d.Registry().Len(), strings.Join(d.Registry().Names(), ", "))
	return d, nil
}

func runChat(cmd *cobra.Command, args []string) error {
	// requests and confirmation answers come from one reader
	input := bufio.NewScanner(os.Stdin)
	ctx, cancel, cfg, log, c, err := setup(cmd, container.Options{Input: input})
	if err != nil {
		return err
	}
	defer cancel()
	defer c.Close()

	d, err := dispatcher(c, log)
	if err != nil {
		return err
	}

	tty := isTerminal(os.Stdout)
	repl := cli.NewREPL(d, os.Stdin, os.Stdout,
		cli.WithColor(!cfg.Log.NoColor && tty),
		cli.WithProgress(tty),
		cli.WithVerbose(verbose),
		cli.WithLogger(log),
		cli.WithInput(input),
	)
	return repl.Run(ctx)
}

func runAsk(cmd *cobra.Command, args []string) error {
	input := bufio.NewScanner(os.Stdin)
	ctx, cancel, _, log, c, err := setup(cmd, container.Options{Input: input})
	if err != nil {
		return err
	}
	defer cancel()
	defer c.Close()

	d, err := dispatcher(c, log)
	if err != nil {
		return err
	}

	res := d.Dispatch(ctx, session.New(), strings.Join(args, " "))
	fmt.Println(res.Text)
	log.Debug("%s", dispatch.Describe(res))

	if res.State == dispatch.Rejected {
		return fmt.Errorf("request rejected: %w", res.Err)
	}
	return nil
}

func runWeb(cmd *cobra.Command, args []string) error {
	ctx, cancel, _, log, c, err := setup(cmd, container.Options{})
	if err != nil {
		return err
	}
	defer cancel()
	defer c.Close()

	d, err := dispatcher(c, log)
	if err != nil {
		return err
	}

	h := web.NewHandler(d, log, web.WithHealthCheck(c.Health))
	return web.ListenAndServe(ctx, addr, h, log)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	names := args
	if len(names) == 0 {
		names = builtin.Names()
	}

	reg := tool.NewRegistry()
	if err := builtin.Register(reg, names...); err != nil {
		return err
	}
	log.Info("Serving %d tools over MCP stdio: %s", reg.Len(), strings.Join(reg.Names(), ", "))

	return mcp.NewServer("relay", mcp.Implementation.Version, reg, log).Serve(ctx)
}

func runTools(cmd *cobra.Command, args []string) error {
	_, cancel, _, _, c, err := setup(cmd, container.Options{})
	if err != nil {
		return err
	}
	defer cancel()
	defer c.Close()

	reg, err := c.Registry()
	if err != nil {
		return err
	}

	if servers := c.MCPServers(); len(servers) > 0 {
		fmt.Printf("MCP servers: %s\n\n", strings.Join(servers, ", "))
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for d := range reg.DescribeAll() {
		params := make([]string, len(d.Params))
		for i, p := range d.Params {
			params[i] = p.Name
			if !p.Required {
				params[i] += "?"
			}
		}
		fmt.Fprintf(w, "%s(%s)\t%s\n", d.Name, strings.Join(params, ", "), d.Description)
	}
	return w.Flush()
}
