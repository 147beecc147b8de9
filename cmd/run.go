package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scout-cli/api/schemas"
	"github.com/xkilldash9x/scout-cli/internal/agent"
	"github.com/xkilldash9x/scout-cli/internal/browser"
	"github.com/xkilldash9x/scout-cli/internal/config"
	"github.com/xkilldash9x/scout-cli/internal/llmclient"
	"github.com/xkilldash9x/scout-cli/internal/observability"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run \"task description\"",
		Short: "Runs one natural-language task against a live page",
		Example: `  scout run "log in as demo@example.com and open the billing page" --url https://app.example.com
  scout run "find the cheapest laptop and add it to the cart" --url https://shop.example.com --auto-approve`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind override flags to their viper keys so command-line values
			// win over the config file and environment.
			if err := v.BindPFlag("agent.auto_approve", cmd.Flags().Lookup("auto-approve")); err != nil {
				return err
			}
			if err := v.BindPFlag("agent.max_steps", cmd.Flags().Lookup("max-steps")); err != nil {
				return err
			}
			return v.BindPFlag("agent.screenshot_dir", cmd.Flags().Lookup("screenshot-dir"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Use the context passed from main (signal-aware).
			ctx := cmd.Context()
			logger := observability.GetLogger()

			// 1. Configuration finalization. Flags were bound in PreRunE,
			// after the root command already loaded the config, so re-read it
			// to apply the overrides with the right precedence.
			runCfg, err := config.NewConfigFromViper(v)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("headed") {
				headed, _ := cmd.Flags().GetBool("headed")
				runCfg.Browser.Headless = !headed
			}

			task := strings.TrimSpace(args[0])
			startURL, _ := cmd.Flags().GetString("url")
			if startURL != "" && !strings.Contains(startURL, "://") {
				startURL = "https://" + startURL
			}

			logger.Info("Starting task",
				zap.String("task", task),
				zap.String("start_url", startURL),
				zap.Bool("headless", runCfg.Browser.Headless),
				zap.Bool("auto_approve", runCfg.Agent.AutoApprove),
				zap.Int("max_steps", runCfg.Agent.MaxSteps),
			)
			if runCfg.Agent.AutoApprove {
				logger.Warn("Auto-approve is on; destructive actions will run without confirmation")
			}

			// 2. Initialize components.
			components, err := initializeRunComponents(ctx, runCfg, logger)
			if err != nil {
				if components != nil {
					components.Shutdown()
				}
				return fmt.Errorf("failed to initialize: %w", err)
			}
			defer components.Shutdown()

			// 3. Open the starting page, when one was given. Without a URL
			// the model starts from a blank tab and must navigate itself.
			if startURL != "" {
				status, err := components.Page.Navigate(ctx, startURL)
				if err != nil {
					return fmt.Errorf("could not open start URL: %w", err)
				}
				if status >= 400 {
					logger.Warn("Start URL answered with an error status",
						zap.String("url", startURL),
						zap.Int("status", status),
					)
				}
				_ = components.Page.WaitForStability(ctx)
			}

			// 4. Run the loop.
			var confirmer schemas.Confirmer
			if !runCfg.Agent.AutoApprove {
				confirmer = newStdinConfirmer(cmd.OutOrStdout())
			}
			runner := agent.New(logger, runCfg.Agent, components.Page, components.LLM, confirmer)

			result, err := runner.Run(ctx, task)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Warn("Task aborted by signal")
					return err
				}
				return err
			}

			// 5. Final output.
			fmt.Fprintf(cmd.OutOrStdout(), "\nTask %s after %d steps.\n", resultVerb(result.Status), result.Steps)
			if result.Message != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", result.Message)
			}
			if result.Status != agent.StatusDone {
				return fmt.Errorf("task ended %s: %s", result.Status, result.Message)
			}
			return nil
		},
	}

	runCmd.Flags().StringP("url", "u", "", "URL to open before the task starts")
	runCmd.Flags().Bool("auto-approve", false, "Skip confirmation prompts for destructive actions. (Overrides config/env)")
	runCmd.Flags().Int("max-steps", 0, "Maximum model decisions per task. (Overrides config/env)")
	runCmd.Flags().String("screenshot-dir", "", "Directory for vision-fallback screenshots. (Overrides config/env)")
	runCmd.Flags().Bool("headed", false, "Run the browser with a visible window")

	return runCmd
}

// runComponents holds the initialized services for one task run.
type runComponents struct {
	Page *browser.Session
	LLM  schemas.LLMClient
}

// Shutdown closes the browser and the model client, bounded so a hung
// browser cannot block process exit.
func (rc *runComponents) Shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if rc.Page != nil {
		if err := rc.Page.Close(shutdownCtx); err != nil {
			observability.GetLogger().Warn("Error during browser shutdown", zap.Error(err))
		}
	}
	if rc.LLM != nil {
		if err := rc.LLM.Close(); err != nil {
			observability.GetLogger().Warn("Error closing LLM client", zap.Error(err))
		}
	}
}

// initializeRunComponents handles dependency construction.
func initializeRunComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*runComponents, error) {
	components := &runComponents{}

	// 1. Model client first; a missing API key should fail before a browser
	// ever launches.
	llm, err := llmclient.NewClient(ctx, cfg.LLM, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	components.LLM = llm

	// 2. Browser session.
	page, err := browser.NewSession(ctx, cfg.Browser, logger)
	if err != nil {
		return components, fmt.Errorf("failed to start browser: %w", err)
	}
	components.Page = page

	return components, nil
}

func resultVerb(status agent.TaskStatus) string {
	switch status {
	case agent.StatusDone:
		return "completed"
	case agent.StatusStuck:
		return "got stuck"
	case agent.StatusLimit:
		return "hit the step limit"
	default:
		return "aborted"
	}
}
