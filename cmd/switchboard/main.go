package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"switchboard/internal/history"
	"switchboard/internal/types"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose      bool
	configPath   string
	workspaceDir string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "switchboard",
	Short: "switchboard - one conversation across claude, codex, and gemini",
	Long: `switchboard keeps a single conversation alive across the claude,
codex, and gemini CLIs. It maps the conversation to one durable session per
engine, replays each engine's transcript, and packs prior context into every
prompt so switching engines mid-conversation carries the thread along.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// chatCmd sends one message on a conversation
var chatCmd = &cobra.Command{
	Use:   "chat [conversation-id] [message...]",
	Short: "Send a message on a conversation using the chosen engine",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		engineName, _ := cmd.Flags().GetString("engine")
		engine, err := types.ParseEngine(engineName)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		a, err := newApp(ctx, configPath)
		if err != nil {
			return err
		}
		defer a.close()

		conversationID := args[0]
		message := strings.Join(args[1:], " ")

		reply, err := a.chat.Send(ctx, conversationID, engine, resolveWorkspace(), message)
		if err != nil {
			return err
		}

		fmt.Println(reply.Text)
		if verbose {
			fmt.Fprintf(os.Stderr, "\n[session=%s new=%v bridge=%v source=%s context=%d tokens total=%d tokens]\n",
				reply.SessionID, reply.IsNewSession, reply.IsEngineBridge,
				reply.ContextSource, reply.ContextTokens, reply.TotalTokens)
		}
		return nil
	},
}

// sessionsCmd lists and manages durable conversations
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List known conversations and their engine sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		defer a.close()

		rows, err := a.store.ListConversations()
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Println("No conversations yet.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CONVERSATION\tLAST ENGINE\tTITLE\tLAST USED")
		for _, row := range rows {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				row.ConversationID, row.Engine, row.Title,
				row.LastUsedAt.Local().Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show [conversation-id]",
	Short: "Show every engine session backing a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		defer a.close()

		rows, err := a.store.ListSessionsByConversation(args[0])
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Printf("No sessions for conversation %s\n", args[0])
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ENGINE\tSESSION\tTHREAD\tLAST USED")
		for _, row := range rows {
			thread := row.NativeThreadID
			if thread == "" {
				thread = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				row.Engine, row.ID, thread,
				row.LastUsedAt.Local().Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete [conversation-id]",
	Short: "Delete a conversation's sessions and summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.store.DeleteConversation(args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted conversation %s\n", args[0])
		return nil
	},
}

// historyCmd prints a transcript page for one engine session
var historyCmd = &cobra.Command{
	Use:   "history [session-id]",
	Short: "Print messages from an engine session's transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engineName, _ := cmd.Flags().GetString("engine")
		limit, _ := cmd.Flags().GetInt("limit")

		engine, err := types.ParseEngine(engineName)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		defer a.close()

		page, err := a.loader.LoadMessages(history.LoadParams{
			SessionID:     args[0],
			Engine:        engine,
			WorkspacePath: resolveWorkspace(),
			Limit:         limit,
		})
		if err != nil {
			return err
		}
		if len(page.Messages) == 0 {
			fmt.Println("No messages.")
			return nil
		}

		for _, msg := range page.Messages {
			fmt.Printf("[%s] %s: %s\n",
				msg.CreatedAt.Local().Format("15:04:05"), msg.Role, msg.Content)
		}
		if page.Pagination.HasMore {
			fmt.Printf("\n(%d of %d messages, older omitted)\n",
				len(page.Messages), page.Pagination.Total)
		}
		return nil
	},
}

// discoverCmd lists engine-native sessions found on disk for a workspace
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List engine sessions discoverable on disk for this workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		defer a.close()

		descs, err := a.index.ListSessions(cmd.Context(), resolveWorkspace())
		if err != nil {
			return err
		}
		if len(descs) == 0 {
			fmt.Println("No sessions found on disk.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ENGINE\tSESSION\tMODIFIED\tSIZE")
		for _, d := range descs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n",
				d.Engine, d.SessionID,
				d.ModTime.Local().Format("2006-01-02 15:04"), d.Size)
		}
		return w.Flush()
	},
}

// summaryCmd shows or regenerates a conversation's rolling summary
var summaryCmd = &cobra.Command{
	Use:   "summary [conversation-id]",
	Short: "Show the stored summary for a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		defer a.close()

		sum, err := a.sums.GetSummary(args[0])
		if err != nil {
			return err
		}
		if sum == nil {
			fmt.Printf("No summary for conversation %s\n", args[0])
			return nil
		}

		fmt.Printf("Summary (v%d, updated %s)\n\n", sum.Version,
			sum.UpdatedAt.Local().Format("2006-01-02 15:04"))
		fmt.Println(sum.LongSummary)
		if len(sum.KeyDecisions) > 0 {
			fmt.Println("\nKey decisions:")
			for _, d := range sum.KeyDecisions {
				fmt.Printf("  - %s\n", d)
			}
		}
		if len(sum.FilesModified) > 0 {
			fmt.Println("\nFiles modified:")
			for _, f := range sum.FilesModified {
				fmt.Printf("  - %s\n", f)
			}
		}
		return nil
	},
}

func resolveWorkspace() string {
	if workspaceDir != "" {
		return workspaceDir
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "config file path")
	rootCmd.PersistentFlags().StringVarP(&workspaceDir, "workspace", "w", "", "workspace path (default: current directory)")

	chatCmd.Flags().StringP("engine", "e", "claude", "engine to use (claude, codex, gemini)")
	historyCmd.Flags().StringP("engine", "e", "claude", "engine owning the session")
	historyCmd.Flags().IntP("limit", "n", 50, "maximum messages to print")

	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(summaryCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
