package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/config"
	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/uploads"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about the uploaded file",
	Long: `Ask a question about the uploaded file.

Examples:
  clinicchat ask "How many patients are from Lahore?"
  clinicchat ask --session front-desk "List patients with a pending balance"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		// Ctrl-C asks the server to stop this request before giving up locally.
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		requestID := uuid.NewString()
		reply, err := client.ask(ctx, strings.Join(args, " "), requestID)
		if err != nil {
			if ctx.Err() != nil && cmd.Context().Err() == nil {
				stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if resp, err := client.post(stopCtx, "/stop_execution", map[string]string{"request_id": requestID}); err == nil {
					resp.Body.Close()
				}
				printWarning("Request %s stopped", requestID)
				return nil
			}
			return err
		}
		fmt.Println(reply.Response)
		return nil
	},
}

// --- cancel ---

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Stop the running questions of this session",
	RunE: func(cmd *cobra.Command, args []string) error {
		requestID, _ := cmd.Flags().GetString("request-id")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		// An empty request id stops every run of the session.
		resp, err := client.post(cmd.Context(), "/stop_execution", map[string]string{"request_id": requestID})
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Stop requested for session %s", client.session)
		return nil
	},
}

func init() {
	cancelCmd.Flags().String("request-id", "", "stop only this request")
}

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a CSV file and make it the active dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if !uploads.Allowed(path) {
			return fmt.Errorf("%s: only %s files can be uploaded", path, strings.Join(uploads.AllowedExtensions, ", "))
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		printStep("Uploading %s...", path)
		if err := client.uploadFile(cmd.Context(), path); err != nil {
			return err
		}

		// The form endpoint always redirects, so confirm through the
		// management API when it is available.
		name, err := client.activeFile(cmd.Context())
		switch {
		case err != nil:
			printSuccess("Uploaded %s", path)
		case name == "":
			return fmt.Errorf("server rejected %s", path)
		default:
			printSuccess("Active file is now %s", name)
		}
		return nil
	},
}

// --- file ---

var fileCmd = &cobra.Command{
	Use:   "file",
	Short: "Show or delete the active file",
}

var fileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the active file",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		name, err := client.activeFile(cmd.Context())
		if err != nil {
			return err
		}
		if name == "" {
			fmt.Println("No file uploaded.")
			return nil
		}
		fmt.Println(name)
		return nil
	},
}

var fileDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the active file",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := client.postForm(cmd.Context(), "/delete_file"); err != nil {
			return err
		}
		printSuccess("Active file deleted")
		return nil
	},
}

func init() {
	fileCmd.AddCommand(fileShowCmd)
	fileCmd.AddCommand(fileDeleteCmd)
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect or clear the chat log",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent chat records",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		page, err := client.history(cmd.Context(), limit, offset)
		if err != nil {
			return err
		}

		if len(page.Records) == 0 {
			fmt.Println("No chat records found.")
			return nil
		}
		for _, rec := range page.Records {
			fmt.Printf("%s  %s  %s\n",
				colorize(colorCyan, fmt.Sprintf("#%d", rec.ID)),
				rec.CreatedAt.Format("2006-01-02 15:04"),
				clip(rec.Message, 80),
			)
			fmt.Printf("    %s\n", clip(rec.Response, 120))
		}
		if shown := offset + len(page.Records); shown < page.Total {
			fmt.Printf("\n%d of %d records shown\n", shown, page.Total)
		}
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every chat record",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete ALL chat records. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if client.token == "" {
			return errNoToken
		}
		resp, err := client.delete(cmd.Context(), "/api/history")
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Chat history cleared")
		return nil
	},
}

func init() {
	historyListCmd.Flags().Int("limit", 20, "maximum number of records to list")
	historyListCmd.Flags().Int("offset", 0, "number of records to skip")
	historyClearCmd.Flags().Bool("confirm", false, "confirm deletion")
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyClearCmd)
}

// clip shortens s to n runes, collapsing newlines.
func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
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
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "$"+k.EnvVar))
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

		printSuccess("Set %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
