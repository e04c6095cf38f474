package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/chatty/internal/config"
	"github.com/kalambet/chatty/internal/export"
	"github.com/kalambet/chatty/internal/storage"
	"github.com/kalambet/chatty/internal/tasks"
)

type conversationRow struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	Status       string `json:"status"`
	Started      string `json:"start_timestamp"`
	MessageCount int    `json:"message_count"`
	Summary      string `json:"ai_summary"`
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}

func userQuery(cmd *cobra.Command) string {
	user, _ := cmd.Flags().GetString("user")
	if user == "" {
		return ""
	}
	return "user_id=" + url.QueryEscape(user)
}

func withQuery(path string, params ...string) string {
	var parts []string
	for _, p := range params {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return path
	}
	return path + "?" + strings.Join(parts, "&")
}

// --- conversations ---

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"conv"},
	Short:   "Browse and manage conversations",
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), withQuery("/api/conversations", fmt.Sprintf("limit=%d", limit), userQuery(cmd)))
		if err != nil {
			return err
		}

		var rows []conversationRow
		if err := decodeJSON(resp, &rows); err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Println("No conversations.")
			return nil
		}
		for _, r := range rows {
			fmt.Printf("%s  %-6s  %3d msgs  %s\n",
				colorize(colorBold, fmt.Sprintf("#%d", r.ID)), r.Status, r.MessageCount, truncate(r.Title, 60))
		}
		return nil
	},
}

var conversationsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a conversation with its messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/api/conversations/%d", id))
		if err != nil {
			return err
		}

		var detail struct {
			conversationRow
			Messages []struct {
				Sender    string `json:"sender"`
				Content   string `json:"content"`
				Timestamp string `json:"timestamp"`
			} `json:"messages"`
		}
		if err := decodeJSON(resp, &detail); err != nil {
			return err
		}

		fmt.Printf("%s [%s]\n", colorize(colorBold, detail.Title), detail.Status)
		if detail.Summary != "" {
			fmt.Printf("  %s\n", detail.Summary)
		}
		for _, m := range detail.Messages {
			label := colorize(colorCyan, m.Sender)
			fmt.Printf("\n%s  %s\n%s\n", label, m.Timestamp, m.Content)
		}
		return nil
	},
}

var conversationsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search conversations by keyword or meaning",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		semantic, _ := cmd.Flags().GetBool("semantic")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := withQuery("/api/conversations/search",
			"q="+url.QueryEscape(query),
			"semantic="+strconv.FormatBool(semantic),
			userQuery(cmd))
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var out struct {
			Results []struct {
				conversationRow
				Score  float64 `json:"relevance_score"`
				Method string  `json:"search_method"`
			} `json:"results"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		if len(out.Results) == 0 {
			fmt.Println("No results found.")
			return nil
		}
		for _, r := range out.Results {
			fmt.Printf("%s [%s %.3f] %s\n",
				colorize(colorBold, fmt.Sprintf("#%d", r.ID)), r.Method, r.Score, truncate(r.Title, 60))
		}
		return nil
	},
}

var conversationsExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export a conversation as JSON, Markdown or PDF",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/api/conversations/%d/export/%s", id, url.PathEscape(format)))
		if err != nil {
			return err
		}
		if resp.StatusCode >= 400 {
			return decodeJSON(resp, nil)
		}
		defer resp.Body.Close()

		w := io.Writer(os.Stdout)
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			w = f
		}
		if _, err := io.Copy(w, resp.Body); err != nil {
			return fmt.Errorf("writing export: %w", err)
		}
		if output != "" {
			printSuccess("Conversation %d exported to %s", id, output)
		}
		return nil
	},
}

var conversationsEndCmd = &cobra.Command{
	Use:   "end <id>",
	Short: "End a conversation and generate its summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), fmt.Sprintf("/api/conversations/%d/end", id), nil)
		if err != nil {
			return err
		}
		var out struct {
			Summary string `json:"summary"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		printSuccess("Conversation %d ended", id)
		if out.Summary != "" {
			fmt.Println(out.Summary)
		}
		return nil
	},
}

// reindex writes embeddings straight into the local database.
var conversationsReindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the semantic search index for a user's conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		limit, _ := cmd.Flags().GetInt("limit")
		if user == "" {
			user = storage.DefaultUserID
		}

		return withLocalApp(cmd.Context(), func(ctx context.Context, a *app) error {
			n, err := a.search.IndexAll(ctx, user, limit)
			if err != nil {
				return err
			}
			printSuccess("Indexed %d conversations for %s", n, user)
			return nil
		})
	},
}

func init() {
	conversationsListCmd.Flags().Int("limit", 20, "maximum number of conversations")
	conversationsSearchCmd.Flags().Bool("semantic", false, "use the vector index")
	conversationsExportCmd.Flags().String("format", export.FormatMarkdown, "json, markdown or pdf")
	conversationsExportCmd.Flags().String("output", "", "output file path (default: stdout)")
	conversationsReindexCmd.Flags().Int("limit", 1000, "maximum number of conversations")

	for _, c := range []*cobra.Command{conversationsListCmd, conversationsSearchCmd, conversationsReindexCmd} {
		c.Flags().String("user", "", "user ID (default: default_user)")
	}

	conversationsCmd.AddCommand(conversationsListCmd)
	conversationsCmd.AddCommand(conversationsShowCmd)
	conversationsCmd.AddCommand(conversationsSearchCmd)
	conversationsCmd.AddCommand(conversationsExportCmd)
	conversationsCmd.AddCommand(conversationsEndCmd)
	conversationsCmd.AddCommand(conversationsReindexCmd)
}

// --- intelligence ---

var intelligenceCmd = &cobra.Command{
	Use:     "intelligence",
	Aliases: []string{"intel"},
	Short:   "Inspect what has been learned about a user",
}

var intelligenceShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the learned profile and stats as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), withQuery("/api/intelligence/user", userQuery(cmd)))
		if err != nil {
			return err
		}
		var out any
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var intelligenceContextCmd = &cobra.Command{
	Use:   "context",
	Short: "Print the personalization text injected into prompts",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), withQuery("/api/intelligence/context", userQuery(cmd)))
		if err != nil {
			return err
		}
		var out struct {
			Context    string  `json:"context"`
			Confidence float64 `json:"confidence"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		if out.Context == "" {
			fmt.Println("Nothing learned yet.")
			return nil
		}
		fmt.Println(out.Context)
		printStatus("Confidence", "%.2f", out.Confidence)
		return nil
	},
}

var intelligenceHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent learning events",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		kind, _ := cmd.Flags().GetString("type")

		params := []string{fmt.Sprintf("limit=%d", limit), userQuery(cmd)}
		if kind != "" {
			params = append(params, "event_type="+url.QueryEscape(kind))
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), withQuery("/api/intelligence/history", params...))
		if err != nil {
			return err
		}
		var out struct {
			Events []struct {
				Type        string  `json:"event_type"`
				Description string  `json:"description"`
				Confidence  float64 `json:"confidence"`
				Timestamp   string  `json:"timestamp"`
			} `json:"events"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		if len(out.Events) == 0 {
			fmt.Println("No learning events.")
			return nil
		}
		for _, e := range out.Events {
			fmt.Printf("%s  %-24s %.2f  %s\n", e.Timestamp, colorize(colorCyan, e.Type), e.Confidence, e.Description)
		}
		return nil
	},
}

var intelligenceAnalyzeCmd = &cobra.Command{
	Use:   "analyze <conversation-id>",
	Short: "Analyze one conversation now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), fmt.Sprintf("/api/intelligence/analyze/%d", id), nil)
		if err != nil {
			return err
		}
		var out struct {
			Learned []struct {
				Description string `json:"description"`
			} `json:"learned"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		printSuccess("Conversation %d analyzed", id)
		for _, e := range out.Learned {
			printStep("%s", e.Description)
		}
		return nil
	},
}

var intelligenceAnalyzeAllCmd = &cobra.Command{
	Use:   "analyze-all",
	Short: "Analyze every conversation of a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), withQuery("/api/intelligence/analyze-all", userQuery(cmd)), nil)
		if err != nil {
			return err
		}
		var out struct {
			Analyzed int `json:"analyzed"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		printSuccess("Analyzed %d conversations", out.Analyzed)
		return nil
	},
}

var intelligenceResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete everything learned about a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This deletes all learned intelligence, insights and events. Use --confirm to proceed.")
			return nil
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), withQuery("/api/intelligence/reset", userQuery(cmd)), nil)
		if err != nil {
			return err
		}
		var out struct {
			Deleted map[string]int64 `json:"deleted"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		printSuccess("Deleted %d records, %d insights, %d events",
			out.Deleted["intelligence_records"], out.Deleted["insights"], out.Deleted["learning_events"])
		return nil
	},
}

func init() {
	intelligenceHistoryCmd.Flags().Int("limit", 20, "maximum number of events")
	intelligenceHistoryCmd.Flags().String("type", "", "only events of this type")
	intelligenceResetCmd.Flags().Bool("confirm", false, "confirm the reset")

	for _, c := range []*cobra.Command{
		intelligenceShowCmd, intelligenceContextCmd, intelligenceHistoryCmd,
		intelligenceAnalyzeAllCmd, intelligenceResetCmd,
	} {
		c.Flags().String("user", "", "user ID (default: default_user)")
		intelligenceCmd.AddCommand(c)
	}
	intelligenceCmd.AddCommand(intelligenceAnalyzeCmd)
}

// --- tasks ---

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Run periodic maintenance tasks",
}

var tasksRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one task immediately against the local database",
	Long: fmt.Sprintf(`Run one task immediately against the local database.

Tasks: %s`, strings.Join(tasks.Names(), ", ")),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("task")
		if name == "" {
			return fmt.Errorf("--task is required (one of %s)", strings.Join(tasks.Names(), ", "))
		}

		return withLocalApp(cmd.Context(), func(ctx context.Context, a *app) error {
			printStep("Running %s...", name)
			res, err := a.runner.RunOnce(ctx, name)
			if err != nil {
				return err
			}
			printSuccess("%s: %d processed, %d skipped, %d failed", name, res.Processed, res.Skipped, res.Failed)
			return nil
		})
	},
}

func init() {
	tasksRunCmd.Flags().String("task", "", "task name")
	tasksCmd.AddCommand(tasksRunCmd)
}

func withLocalApp(ctx context.Context, fn func(context.Context, *app) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "("+k.EnvVar+")"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
