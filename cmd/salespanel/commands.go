package main

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mkovacs/salespanel/internal/config"
)

// --- analyze ---

var analyzeCmd = &cobra.Command{
	Use:   "analyze <url>",
	Short: "Analyze a website for sales intelligence",
	Long: `Analyze a website for sales intelligence.

Examples:
  salespanel analyze https://acme.com
  salespanel analyze --force https://acme.com/pricing`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/analyze", map[string]any{
			"url":          args[0],
			"forceRefresh": force,
		})
		if err != nil {
			return err
		}

		var result struct {
			Status      string `json:"status"`
			Reason      string `json:"reason"`
			ReuseSource string `json:"reuseSource"`
			Error       string `json:"error"`
			Analysis    *struct {
				WhatTheyDo          string `json:"whatTheyDo"`
				TargetCustomer      string `json:"targetCustomer"`
				ValueProposition    string `json:"valueProposition"`
				SalesAngle          string `json:"salesAngle"`
				SalesReadinessScore int    `json:"salesReadinessScore"`
				BestSalesPersona    struct {
					Persona string `json:"persona"`
					Reason  string `json:"reason"`
				} `json:"bestSalesPersona"`
				RecommendedOutreach struct {
					Message string `json:"message"`
				} `json:"recommendedOutreach"`
			} `json:"analysis"`
			Quota struct {
				RemainingToday int `json:"remaining_today"`
				DailyLimit     int `json:"daily_limit"`
			} `json:"quota"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		switch result.Status {
		case "done", "reused":
			if result.ReuseSource != "" {
				printStep("Reused previous analysis (%s)", result.ReuseSource)
			}
		case "blocked":
			printWarning("Analysis blocked: %s", result.Reason)
			return nil
		case "failed":
			return fmt.Errorf("analysis failed: %s", result.Error)
		default:
			printWarning("Analysis did not run (%s)", result.Status)
			return nil
		}

		a := result.Analysis
		if a == nil {
			return fmt.Errorf("no analysis in response")
		}
		printStatus("What they do", "%s", a.WhatTheyDo)
		printStatus("Target customer", "%s", a.TargetCustomer)
		printStatus("Value proposition", "%s", a.ValueProposition)
		printStatus("Sales angle", "%s", a.SalesAngle)
		printStatus("Readiness score", "%d/100", a.SalesReadinessScore)
		printStatus("Best persona", "%s: %s", a.BestSalesPersona.Persona, a.BestSalesPersona.Reason)
		if a.RecommendedOutreach.Message != "" {
			fmt.Fprintf(os.Stderr, "\n%s\n%s\n", colorize(colorBold, "Suggested outreach:"), a.RecommendedOutreach.Message)
		}
		printStatus("Quota", "%d/%d analyses left today", result.Quota.RemainingToday, result.Quota.DailyLimit)
		return nil
	},
}

func init() {
	analyzeCmd.Flags().Bool("force", false, "force a fresh analysis even if a recent one exists")
}

// --- saved ---

var savedCmd = &cobra.Command{
	Use:   "saved",
	Short: "Manage saved analyses",
}

var savedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved analyses",
	RunE: func(cmd *cobra.Command, args []string) error {
		search, _ := cmd.Flags().GetString("search")
		persona, _ := cmd.Flags().GetString("persona")
		minScore, _ := cmd.Flags().GetInt("min-score")
		page, _ := cmd.Flags().GetInt("page")

		q := url.Values{}
		if search != "" {
			q.Set("search", search)
		}
		if persona != "" {
			q.Set("persona", persona)
		}
		if minScore > 0 {
			q.Set("minScore", fmt.Sprintf("%d", minScore))
		}
		if page > 0 {
			q.Set("page", fmt.Sprintf("%d", page))
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/saved"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var list struct {
			Items []struct {
				ID            string `json:"id"`
				Domain        string `json:"domain"`
				Title         string `json:"title"`
				Score         int    `json:"salesReadinessScore"`
				Persona       string `json:"bestPersona"`
				CreatedAt     string `json:"createdAt"`
				PendingDelete bool   `json:"pendingDelete"`
			} `json:"items"`
			Total int `json:"total"`
			Page  int `json:"page"`
		}
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}

		if len(list.Items) == 0 {
			fmt.Println("No saved analyses.")
			return nil
		}

		for _, it := range list.Items {
			marker := ""
			if it.PendingDelete {
				marker = colorize(colorYellow, " (pending delete)")
			}
			fmt.Printf("%s  %-24s  score %3d  %-16s  %s%s\n",
				colorize(colorCyan, it.ID[:8]),
				it.Domain,
				it.Score,
				it.Persona,
				it.Title,
				marker,
			)
		}
		fmt.Printf("\n%d total (page %d)\n", list.Total, list.Page)
		return nil
	},
}

var savedDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete saved analyses (undoable for a few seconds)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var result map[string]any
		if len(args) == 1 {
			resp, err := client.delete(cmd.Context(), "/saved/"+args[0], nil)
			if err != nil {
				return err
			}
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}
		} else {
			resp, err := client.delete(cmd.Context(), "/saved", map[string]any{"ids": args})
			if err != nil {
				return err
			}
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}
		}

		printSuccess("Delete pending for %d item(s); run `salespanel saved undo` within 5s to restore", len(args))
		return nil
	},
}

var savedUndoCmd = &cobra.Command{
	Use:   "undo <id>...",
	Short: "Restore saved analyses whose delete is still pending",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/saved/undo", map[string]any{"ids": args})
		if err != nil {
			return err
		}
		var result struct {
			Count int `json:"count"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.Count == 0 {
			printWarning("Nothing to restore; the undo window may have expired")
			return nil
		}
		printSuccess("Restored %d item(s)", result.Count)
		return nil
	},
}

var savedSaveCmd = &cobra.Command{
	Use:   "save <url>",
	Short: "Analyze and save a company",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/saved", map[string]any{"url": args[0]})
		if err != nil {
			return err
		}
		var result struct {
			Record struct {
				ID     string `json:"id"`
				Domain string `json:"domain"`
			} `json:"record"`
			AlreadySaved bool `json:"alreadySaved"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.AlreadySaved {
			printStep("%s was already saved (%s)", result.Record.Domain, result.Record.ID[:8])
			return nil
		}
		printSuccess("Saved %s (%s)", result.Record.Domain, result.Record.ID[:8])
		return nil
	},
}

func init() {
	savedListCmd.Flags().String("search", "", "free-text search over title, domain, description")
	savedListCmd.Flags().String("persona", "", "filter by recommended persona")
	savedListCmd.Flags().Int("min-score", 0, "minimum sales readiness score")
	savedListCmd.Flags().Int("page", 0, "page number (zero-based)")

	savedCmd.AddCommand(savedListCmd)
	savedCmd.AddCommand(savedSaveCmd)
	savedCmd.AddCommand(savedDeleteCmd)
	savedCmd.AddCommand(savedUndoCmd)
}

// --- export ---

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export saved analyses as CSV or XLSX",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/export?format="+url.QueryEscape(format))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
		}

		var writer io.Writer = os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			writer = f
		}
		if _, err := io.Copy(writer, resp.Body); err != nil {
			return fmt.Errorf("writing export: %w", err)
		}
		if output != "" {
			printSuccess("Exported to %s", output)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().String("format", "csv", "export format: csv or xlsx")
	exportCmd.Flags().String("output", "", "output file path (default: stdout)")
}

// --- cache ---

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the local analysis cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear all cached analyses and analyzed-today flags",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/cache/clear", nil)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Cache cleared")
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
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
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: fmt.Sprintf(`Set a configuration value.

Valid keys:
  %s`, strings.Join(config.ValidKeys(), "\n  ")),
	Args: cobra.ExactArgs(2),
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
