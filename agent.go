package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"climbwall/browseragent"
	"climbwall/controllers"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const quickstartTask = "Compare the price of gpt-4o and DeepSeek-V3"

func agentFactory(opts *options) browseragent.AgentFactory {
	config := opts.config
	return browseragent.ChromeAgentFactory(
		controllers.AgentBrowserConfig(config),
		browseragent.Config{MaxSteps: config.Agent.MaxSteps, StepInterval: config.Agent.StepInterval},
		config.Agent.BaseURL,
		config.Agent.Model,
	)
}

func newAgentCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Serve the browser automation UI",
		RunE: func(cmd *cobra.Command, args []string) error {
			config := opts.config
			log.Info("Starting climbwall browser agent UI...")
			runner, err := browseragent.NewRunner(controllers.AgentRunnerConfig(config), agentFactory(opts))
			if err != nil {
				return err
			}
			defer runner.Close()

			r := controllers.NewAgentRouter(runner, config)
			// tasks and previews are long lived requests
			return serve("Browser agent UI", config.Agent.Port, r, 0, func() {
				for _, task := range runner.Registry().Active() {
					runner.Cancel(task)
				}
			})
		},
	}
	cmd.AddCommand(newAgentRunCmd(opts))
	return cmd
}

func newAgentRunCmd(opts *options) *cobra.Command {
	var req browseragent.TaskRequest
	var wait bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single browser task from the command line",
		RunE: func(cmd *cobra.Command, args []string) error {
			config := opts.config
			if req.APIKey == "" {
				req.APIKey = os.Getenv("OPENAI_API_KEY")
			}
			if req.BaseURL == "" {
				req.BaseURL = "https://api.openai.com/v1"
			}
			runner, err := browseragent.NewRunner(controllers.AgentRunnerConfig(config), agentFactory(opts))
			if err != nil {
				return err
			}
			defer runner.Close()

			start := time.Now()
			result, err := runner.RunTask(cmd.Context(), req)
			if err != nil {
				return err
			}
			log.Info(fmt.Sprintf("Task finished in %s", time.Since(start).Round(time.Second)))

			out := cmd.OutOrStdout()
			encoder := json.NewEncoder(out)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(result); err != nil {
				return err
			}
			if wait {
				fmt.Fprint(out, "Press Enter to continue...")
				_, _ = bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Task, "task", quickstartTask, "task description")
	cmd.Flags().StringVar(&req.BaseURL, "base-url", "", "OpenAI compatible API root, defaults to https://api.openai.com/v1")
	cmd.Flags().StringVar(&req.APIKey, "api-key", "", "API key, defaults to $OPENAI_API_KEY")
	cmd.Flags().StringVar(&req.Model, "model", "gpt-4o-mini", "model name")
	cmd.Flags().IntVar(&req.MaxSteps, "max-steps", 10, "maximum number of steps")
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for Enter before exiting")
	return cmd
}
