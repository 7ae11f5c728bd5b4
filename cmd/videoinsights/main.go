package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"video-insights-go/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "videoinsights",
	Short: "Turn a video file into a structured multi-modal analysis artifact",
}

func main() {
	_ = godotenv.Load() // loads .env

	rootCmd.AddCommand(analyzeCmd)
	if err := rootCmd.Execute(); err != nil {
		logger.New().WithError(err).Error("command failed")
		os.Exit(1)
	}
}
