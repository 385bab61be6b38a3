package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"climbwall/controllers"
	"climbwall/ollama"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func ollamaClient(opts *options) (*ollama.Client, error) {
	return ollama.NewClient(opts.config.Ollama.BaseURL, opts.config.Ollama.Timeout)
}

func newChatCmd(opts *options) *cobra.Command {
	var model string
	var stream bool
	cmd := &cobra.Command{
		Use:   "chat [prompt]",
		Short: "Ask the local model a question",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := "Who are you?"
			if len(args) == 1 {
				prompt = args[0]
			}
			if model == "" {
				model = opts.config.Ollama.Model
			}
			req := ollama.ChatRequest{Model: model, Messages: []ollama.Message{{Role: "user", Content: prompt}}}
			out := cmd.OutOrStdout()

			client, err := ollamaClient(opts)
			if err != nil {
				return err
			}
			if stream {
				err := client.ChatStream(cmd.Context(), req, func(chunk ollama.ChatResponse) error {
					_, err := io.WriteString(out, chunk.Message.Content)
					return err
				})
				fmt.Fprintln(out)
				return err
			}
			response, err := client.Chat(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, response.Message.Content)
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "model name, defaults to ollama.model")
	cmd.Flags().BoolVar(&stream, "stream", false, "print the answer while it is generated")
	return cmd
}

func newGenerateCmd(opts *options) *cobra.Command {
	var model string
	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Complete a prompt with the local model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if model == "" {
				model = opts.config.Ollama.Model
			}
			client, err := ollamaClient(opts)
			if err != nil {
				return err
			}
			response, err := client.Generate(cmd.Context(), ollama.GenerateRequest{Model: model, Prompt: args[0]})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), response.Response)
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "model name, defaults to ollama.model")
	return cmd
}

const (
	completePrompt = "def Sort(s: str) -> str:\n    \"\"\" "
	completeSuffix = "\n    return result\n"
)

func newCompleteCmd(opts *options) *cobra.Command {
	var model, prompt, suffix string
	var numPredict int
	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Fill in the code between a prefix and a suffix",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ollamaClient(opts)
			if err != nil {
				return err
			}
			response, err := client.Generate(cmd.Context(), ollama.GenerateRequest{
				Model:  model,
				Prompt: prompt,
				Suffix: suffix,
				Options: &ollama.Options{
					NumPredict:  ollama.Int(numPredict),
					Temperature: ollama.Float(0),
					TopP:        ollama.Float(0.9),
					Stop:        []string{"<EOT>"},
				},
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), response.Response)
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", "qwen2.5-coder:0.5b", "code model name")
	cmd.Flags().StringVar(&prompt, "prompt", completePrompt, "code before the gap")
	cmd.Flags().StringVar(&suffix, "suffix", completeSuffix, "code after the gap")
	cmd.Flags().IntVar(&numPredict, "num-predict", 128, "maximum number of tokens to generate")
	return cmd
}

func newCompareCmd(opts *options) *cobra.Command {
	var models []string
	var concurrency int
	cmd := &cobra.Command{
		Use:   "compare [prompt]",
		Short: "Ask several local models the same question",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := "Who are you?"
			if len(args) == 1 {
				prompt = args[0]
			}
			client, err := ollamaClient(opts)
			if err != nil {
				return err
			}
			results := ollama.Compare(cmd.Context(), client, prompt, models, concurrency)
			return printCompare(cmd.OutOrStdout(), results)
		},
	}
	cmd.Flags().StringSliceVar(&models, "models", ollama.CompareModels, "models to compare")
	cmd.Flags().IntVar(&concurrency, "concurrency", 2, "models queried at the same time")
	return cmd
}

// printCompare Print the answers in the order of the models, fails when every model failed
func printCompare(out io.Writer, results []ollama.CompareResult) error {
	failed := 0
	for _, result := range results {
		if result.Err != nil {
			failed++
			fmt.Fprintf(out, "%s  Error: %s\n\n", result.Model, result.Err.Error())
			continue
		}
		fmt.Fprintf(out, "%s  Response: %s\n", result.Model, strings.TrimSpace(result.Response))
		fmt.Fprintf(out, "(%s)\n\n", result.Duration.Round(time.Millisecond))
	}
	if len(results) > 0 && failed == len(results) {
		return fmt.Errorf("all %d models failed", failed)
	}
	return nil
}

func newChatServerCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "chat-server",
		Short: "Serve a websocket chat with the local model",
		RunE: func(cmd *cobra.Command, args []string) error {
			config := opts.config
			log.Info(fmt.Sprintf("Chatting with %s at %s", config.Ollama.Model, config.Ollama.BaseURL))
			client, err := ollamaClient(opts)
			if err != nil {
				return err
			}
			r := controllers.NewChatRouter(client, config.Ollama.Model)
			return serve("Chat server", config.Ollama.Port, r, 0)
		},
	}
}
