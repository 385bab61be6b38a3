package main

import (
	"time"

	"climbwall/tutorial"

	"github.com/spf13/cobra"
)

func newTutorialCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tutorial",
		Short: "Small web framework tutorial apps",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "hello",
			Short: "Hello, World!",
			RunE: func(cmd *cobra.Command, args []string) error {
				return serve("Hello tutorial", opts.config.Tutorial.Port, tutorial.NewHelloRouter(), 10*time.Second)
			},
		},
		&cobra.Command{
			Use:   "basics",
			Short: "Routing, requests, responses, templates, sessions and error pages",
			RunE: func(cmd *cobra.Command, args []string) error {
				r := tutorial.NewBasicsRouter(opts.config.Tutorial.SecretKey)
				return serve("Basics tutorial", opts.config.Tutorial.Port, r, 10*time.Second)
			},
		},
	)
	return cmd
}
