package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/aide/internal/config"
)

type turnResponse struct {
	User struct {
		Text string `json:"text"`
	} `json:"user"`
	Reply struct {
		Text     string `json:"text"`
		Category string `json:"category"`
	} `json:"reply"`
	Suggestions []string `json:"suggestions"`
	Action      *struct {
		Status  string `json:"status"`
		Action  string `json:"action"`
		Message string `json:"message"`
	} `json:"action"`
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask [text...]",
	Short: "Send one utterance, or read utterances from stdin line by line",
	Long: `Send text to the assistant and print its reply.

With no arguments, each line read from stdin is sent as its own turn, so a
confirmation question can be answered on the next line.

Examples:
  aide ask "how did I sleep this week?"
  aide ask book a ride to the airport`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		if len(args) > 0 {
			return sendTurn(cmd, client, out, strings.Join(args, " "))
		}

		sc := bufio.NewScanner(cmd.InOrStdin())
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			if err := sendTurn(cmd, client, out, line); err != nil {
				return err
			}
		}
		return sc.Err()
	},
}

func sendTurn(cmd *cobra.Command, client *apiClient, out io.Writer, text string) error {
	var res turnResponse
	if err := client.call(cmd.Context(), http.MethodPost, "/v1/turns", map[string]string{"text": text, "source": "cli"}, &res); err != nil {
		return err
	}
	printTurnLine(out, "assistant", res.Reply.Text)
	printSuggestions(out, res.Suggestions)
	return nil
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the recent conversation window",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var body struct {
			Turns []struct {
				Role      string `json:"role"`
				Text      string `json:"text"`
				Timestamp string `json:"timestamp"`
			} `json:"turns"`
		}
		if err := client.call(cmd.Context(), http.MethodGet, "/v1/history", nil, &body); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(body.Turns) == 0 {
			fmt.Fprintln(out, "No conversation yet.")
			return nil
		}
		for _, t := range body.Turns {
			printTurnLine(out, t.Role, t.Text)
		}
		return nil
	},
}

// --- persona ---

var personaCmd = &cobra.Command{
	Use:   "persona",
	Short: "Show or update the assistant persona",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printJSONFrom(cmd, "/v1/persona")
	},
}

var personaScoreCmd = &cobra.Command{
	Use:   "score <0-100>",
	Short: "Report a new proficiency score",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		score, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid score %q: %w", args[0], err)
		}
		integration, _ := cmd.Flags().GetString("integration")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		body := map[string]any{"score": score}
		if integration != "" {
			body["integration"] = integration
		}
		var st struct {
			Tier          string  `json:"tier"`
			VoiceIdentity string  `json:"voice_identity"`
			Score         float64 `json:"score"`
		}
		if err := client.call(cmd.Context(), http.MethodPost, "/v1/persona/score", body, &st); err != nil {
			return err
		}
		printSuccess("Persona %s (voice %s, score %g)", st.Tier, st.VoiceIdentity, st.Score)
		return nil
	},
}

func init() {
	personaScoreCmd.Flags().String("integration", "", "name of the integration that changed the score")
	personaCmd.AddCommand(personaScoreCmd)
}

// --- trust ---

var trustCmd = &cobra.Command{
	Use:   "trust [0-100]",
	Short: "Show or set how much aide may do without asking",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var body struct {
			Trust float64 `json:"trust"`
		}
		if len(args) == 0 {
			if err := client.call(cmd.Context(), http.MethodGet, "/v1/trust", nil, &body); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%g\n", body.Trust)
			return nil
		}

		v, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid trust %q: %w", args[0], err)
		}
		if err := client.call(cmd.Context(), http.MethodPut, "/v1/trust", map[string]float64{"trust": v}, &body); err != nil {
			return err
		}
		printSuccess("Trust set to %g", body.Trust)
		return nil
	},
}

// --- prefs ---

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Show or update preferences",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printJSONFrom(cmd, "/v1/preferences")
	},
}

var prefsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a preference (an empty value clears it)",
	Long: `Set a preference used to personalize replies.

Keys: name, locale, units, communication.tone, communication.verbosity,
interests (comma-separated).`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var result map[string]any
		if err := client.call(cmd.Context(), http.MethodPatch, "/v1/preferences", map[string]string{key: value}, &result); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	prefsCmd.AddCommand(prefsSetCmd)
}

func printJSONFrom(cmd *cobra.Command, path string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	var v any
	if err := client.call(cmd.Context(), http.MethodGet, path, nil, &v); err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
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
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorDim, "("+k.Source+")"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value (an empty value restores the default)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
