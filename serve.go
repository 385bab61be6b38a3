package main

import (
	"fmt"
	"time"

	"climbwall/controllers"
	"climbwall/models"
	"climbwall/segment"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *options) *cobra.Command {
	var checkpoint, device, modelType, output string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the interactive climbing wall segmentation tool",
		RunE: func(cmd *cobra.Command, args []string) error {
			config := opts.config
			if cmd.Flags().Changed("checkpoint") {
				config.Segment.Checkpoint = checkpoint
			}
			if cmd.Flags().Changed("device") {
				config.Segment.Device = device
			}
			if cmd.Flags().Changed("model-type") {
				config.Segment.ModelType = modelType
			}
			if output != "" {
				config.Server.SavePath = output
			}
			log.Info("Starting climbwall segmentation server...")

			// Connect to the database
			dsn := config.Database.DSN
			if dsn == "" && config.Database.Driver != "mysql" {
				dsn = config.Sqlite.Filename
			}
			if err := models.ConnectDataBase(config.Database.Driver, dsn); err != nil {
				return err
			}

			predictorConfig := segment.PredictorConfig{
				BaseURL:    config.Segment.PredictorURL,
				ModelType:  config.Segment.ModelType,
				Checkpoint: config.Segment.Checkpoint,
				Device:     config.Segment.Device,
				Timeout:    config.Segment.Timeout,
			}
			sessionConfig := segment.SessionConfig{
				UndoCapacity:    config.Segment.UndoCapacity,
				HistoryCapacity: config.Segment.HistoryCapacity,
			}
			log.Info(fmt.Sprintf("Loading %s model from %s on %s", predictorConfig.ModelType, predictorConfig.Checkpoint, predictorConfig.Device))

			// Sessions are released once they have been idle for the session ttl
			cache := segment.NewSessionCache(time.Minute, config.Segment.SessionTTL, func(id string) *segment.Session {
				return segment.NewSession(id, segment.NewHTTPPredictor(predictorConfig), sessionConfig)
			})
			defer func() {
				log.Info("Emptying session cache...")
				cache.EmptyCache()
				cache.Stop()
			}()

			r := controllers.NewSegmentRouter(cache, config)
			return serve("Segmentation server", config.Server.Port, r, 5*time.Minute)
		},
	}
	cmd.Flags().StringVar(&checkpoint, "checkpoint", "", "segmentation model checkpoint")
	cmd.Flags().StringVar(&device, "device", "", "device the model runs on (cpu, cuda, mps)")
	cmd.Flags().StringVar(&modelType, "model-type", "", "segmentation model type (vit_h, vit_l, vit_b)")
	cmd.Flags().StringVar(&output, "output", "", "directory where masks are written, defaults to server.save_path")
	return cmd
}
