// Package main is the CLI entry point for distributor.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/weblate/distributor/internal/audience"
	"github.com/weblate/distributor/internal/config"
	"github.com/weblate/distributor/internal/domain"
	"github.com/weblate/distributor/internal/infra"
	"github.com/weblate/distributor/internal/permission"
	"github.com/weblate/distributor/internal/plugin"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "distributor",
	Short: "Command, permission and tick scheduling runtime for game server plugins",
	Long: `distributor hosts typed commands, resolves group based permissions and
runs plugin work on a tick synchronized scheduler.

Settings come from DISTRIBUTOR_* environment variables and an optional
.env file.`,
	Version:      Version,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the runtime with a console on stdin",
	Long: `Starts the runtime and reads console commands from stdin, one per line.

Lines starting with "@<id> " are dispatched as that connected player.
".join <id> <name> [op]" and ".leave <id>" simulate players connecting.`,
	RunE: runServe,
}

var commandsCmd = &cobra.Command{
	Use:   "commands",
	Short: "List registered commands",
	RunE:  runCommands,
}

var checkCmd = &cobra.Command{
	Use:   "check <subject-id> <node>",
	Short: "Explain how a permission node resolves for a subject",
	Args:  cobra.ExactArgs(2),
	RunE:  runCheck,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the stored permission table",
	Long:  `Loads the permission store and rejects unknown parents, malformed nodes and inheritance cycles.`,
	RunE:  runValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	envFile    string
	jsonOutput bool
	noConsole  bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "Path to an optional .env file")
	serveCmd.Flags().BoolVar(&noConsole, "no-console", false, "Ignore stdin and run until SIGINT or SIGTERM")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")
	commandsCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output commands as JSON")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(commandsCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() (config.Config, error) {
	return config.Load(envFile)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := infra.NewLogger(infra.LogOptions{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	process, err := infra.NewProcessInspector()
	if err != nil {
		logger.Warn("process inspection unavailable", zap.Error(err))
	}

	out := cmd.OutOrStdout()
	deps := plugin.Deps{
		Store:  store,
		Sender: consoleSender(out),
		Logger: logger,
	}
	if process != nil {
		deps.Process = process
	}
	p, err := plugin.New(cfg, deps)
	if err != nil {
		return err
	}
	if err := registerHostCommands(p); err != nil {
		return err
	}

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	if err := p.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "distributor %s ready, %d commands. Type \"help\".\n", Version, p.Registry().Len())

	if noConsole {
		<-ctx.Done()
	} else if err := newConsole(p, out).Run(ctx, cmd.InOrStdin()); err != nil {
		logger.Error("console stopped", zap.Error(err))
	}
	cancel()
	return p.Stop(context.Background())
}

func runCommands(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.TickRate = 0
	p, err := plugin.New(cfg, plugin.Deps{
		Sender: domain.MessageSenderFunc(func(domain.Audience, domain.MessageKind, string) error { return nil }),
	})
	if err != nil {
		return err
	}
	if err := registerHostCommands(p); err != nil {
		return err
	}
	if err := p.Start(context.Background()); err != nil {
		return err
	}
	defer func() { _ = p.Stop(context.Background()) }()

	type entry struct {
		Name        string   `json:"name"`
		Aliases     []string `json:"aliases,omitempty"`
		Usage       string   `json:"usage"`
		Permission  string   `json:"permission,omitempty"`
		Scope       string   `json:"scope"`
		Description string   `json:"description"`
	}
	var entries []entry
	for _, def := range p.Registry().All() {
		entries = append(entries, entry{
			Name:        def.Name,
			Aliases:     def.Aliases,
			Usage:       def.Usage(),
			Permission:  def.Permission,
			Scope:       def.Scope.String(),
			Description: def.Description,
		})
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	for _, e := range entries {
		perm := e.Permission
		if perm == "" {
			perm = "-"
		}
		fmt.Fprintf(out, "%-40s %-34s %s\n", e.Usage, perm, e.Description)
	}
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	manager, err := loadPermissions()
	if err != nil {
		return err
	}
	subject, node := args[0], args[1]
	if _, err := permission.NormalizeNode(node); err != nil {
		return err
	}

	resolver := manager.Resolver()
	a := audience.Player(subject, subject)
	d := resolver.Explain(a, node)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s = %s\n", subject, node, d.Value)
	if d.Holder == "" {
		fmt.Fprintln(out, "  no holder sets it, denied by default")
	} else {
		fmt.Fprintf(out, "  decided by %s on %s\n", d.Holder, d.Node)
	}
	fmt.Fprintf(out, "  chain: %s\n", strings.Join(resolver.Snapshot().Chain(a), " > "))
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	manager, err := loadPermissions()
	if err != nil {
		return err
	}
	table := manager.Resolver().Snapshot().Table()
	groups := make([]string, 0, len(table.Groups))
	for _, g := range table.Groups {
		groups = append(groups, g.Name)
	}
	sort.Strings(groups)
	fmt.Fprintf(cmd.OutOrStdout(), "ok: %d groups (%s), %d subjects, default group %q\n",
		len(table.Groups), strings.Join(groups, ", "), len(table.Subjects), table.DefaultGroup)
	return nil
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("distributor %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}

// loadPermissions opens the configured store and validates its table.
func loadPermissions() (*permission.Manager, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, closeStore, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	defer closeStore()

	manager := permission.NewManager(permission.NewResolver(nil), store, zap.NewNop())
	if err := manager.Load(); err != nil {
		return nil, err
	}
	return manager, nil
}

// openStore returns the configured permission store and its closer.
func openStore(cfg config.Config) (domain.PermissionStore, func(), error) {
	switch cfg.Store {
	case config.StoreSQLCipher:
		var provider domain.KeyProvider = infra.NewFileKeyProvider(cfg.DataDir)
		if cfg.StoreKey != "" {
			static, err := infra.NewStaticKeyProvider(cfg.StoreKey)
			if err != nil {
				return nil, nil, err
			}
			provider = static
		}
		key, err := infra.LoadOrCreateKey(provider)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load database key: %w", err)
		}
		store, err := infra.NewEncryptedPermissionStore(cfg.DataDir, key)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return infra.NewYAMLPermissionStore(cfg.PermissionsDir()), func() {}, nil
	}
}

// consoleSender prints every message to out, prefixed with its recipient.
func consoleSender(out io.Writer) domain.MessageSender {
	var mu sync.Mutex
	return domain.MessageSenderFunc(func(to domain.Audience, kind domain.MessageKind, message string) error {
		mu.Lock()
		defer mu.Unlock()
		prefix := to.ID
		if to.Name != "" && to.Name != to.ID {
			prefix = to.Name
		}
		_, err := fmt.Fprintf(out, "[%s -> %s] %s\n", kind, prefix, message)
		return err
	})
}
