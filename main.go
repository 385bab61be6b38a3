package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"climbwall/utils"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type options struct {
	configPath string
	debug      bool
	config     *utils.Config
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "climbwall",
		Short:         "Interactive climbing wall segmentation, browser agent and local model tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Debug mode enables gin-gonic debug mode
			if opts.debug {
				log.SetLevel(log.DebugLevel)
				gin.SetMode(gin.DebugMode)
			} else {
				gin.SetMode(gin.ReleaseMode)
			}

			loadEnv(dotenvPath)

			if err := utils.ValidateConfigPath(opts.configPath); err != nil {
				return err
			}
			config, err := utils.NewConfig(opts.configPath)
			if err != nil {
				return err
			}
			opts.config = config
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", utils.DefaultConfigPath, "path to config file")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging and gin debug mode")

	root.AddCommand(
		newServeCmd(opts),
		newAgentCmd(opts),
		newChatCmd(opts),
		newGenerateCmd(opts),
		newCompleteCmd(opts),
		newCompareCmd(opts),
		newChatServerCmd(opts),
		newTutorialCmd(opts),
	)
	return root
}

const dotenvPath = ".env"

// loadEnv Load API keys and endpoints from a dotenv file, variables already set win.
// A missing file is not an error.
func loadEnv(path string) {
	if err := godotenv.Load(path); err != nil {
		log.Debug(fmt.Sprintf("No env file loaded from %s: %s", path, err.Error()))
	}
}

// serve Run handler on port until SIGINT or SIGTERM, then shut down gracefully.
// onShutdown functions run when the shutdown starts.
func serve(name string, port string, handler http.Handler, writeTimeout time.Duration, onShutdown ...func()) error {
	addr := fmt.Sprintf(":%s", port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: writeTimeout,
	}
	for _, f := range onShutdown {
		srv.RegisterOnShutdown(f)
	}

	errs := make(chan error, 1)
	go func() {
		// service connections
		log.Info(fmt.Sprintf("%s listening on %s", name, addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	// kill (no param) default send syscall.SIGTERM
	// kill -2 is syscall.SIGINT
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)
	select {
	case err := <-errs:
		return fmt.Errorf("listen: %w", err)
	case <-quit:
	}
	log.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	log.Info("Server exiting")
	return nil
}

func main() {
	// cancels a running one shot command, servers handle the signals in serve
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Fatal(err)
	}
}
