package main

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"video-insights-go/internal/aiclient"
	"video-insights-go/internal/config"
	"video-insights-go/internal/faces"
	"video-insights-go/internal/frames"
	"video-insights-go/internal/logger"
	"video-insights-go/internal/mediaextract"
	"video-insights-go/internal/pipeline"
	"video-insights-go/internal/progress"
	"video-insights-go/internal/report"
	"video-insights-go/internal/segments"
	"video-insights-go/internal/topics"
	"video-insights-go/internal/usage"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <video-file>",
	Short: "Run the full analysis pipeline on one video file",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyze,
}

func init() {
	analyzeCmd.Flags().Bool("faces", false, "Enable face detection")
	analyzeCmd.Flags().Float64("interval", 0, "Frame extraction interval in seconds (0 = config default)")
	analyzeCmd.Flags().Int("max-frames", 0, "Maximum frames to extract (0 = config default)")
	analyzeCmd.Flags().String("out", "result.json", "Path for the JSON result")
	analyzeCmd.Flags().String("report", "", "Optional path for an xlsx report")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	log := logger.New()
	log.WithField("service", "video-insights-go").Info("starting analysis")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	path := args[0]
	video, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read video: %w", err)
	}

	detectFaces, _ := cmd.Flags().GetBool("faces")
	interval, _ := cmd.Flags().GetFloat64("interval")
	maxFrames, _ := cmd.Flags().GetInt("max-frames")
	outPath, _ := cmd.Flags().GetString("out")
	reportPath, _ := cmd.Flags().GetString("report")

	tracker := usage.NewTracker()
	client := aiclient.New(cfg, tracker, log.Entry)
	runner := pipeline.NewRunner(
		mediaextract.NewFFmpeg(log.Entry),
		client,
		segments.NewProcessor(client, cfg.Pipeline.EmbeddingBatchSize, log.Entry),
		topics.NewExtractor(client, cfg.Models.Topics, cfg.Models.Summary, log.Entry),
		frames.NewProcessor(client, client, cfg.Pipeline.FrameWorkers, log.Entry),
		faces.New(client, client, faces.Config{
			Workers:        cfg.Pipeline.FaceWorkers,
			ConfidenceMin:  cfg.Pipeline.FaceConfidenceMin,
			CropPadding:    cfg.Pipeline.FaceCropPadding,
			CropMaxHeight:  cfg.Pipeline.FaceCropMaxHeight,
			DedupWindowSec: cfg.Pipeline.FaceDedupWindowSec,
			DedupIoU:       cfg.Pipeline.FaceDedupIoU,
		}, log.Entry),
		tracker,
		cfg.Models,
		cfg.Pipeline,
		log.Entry,
	)

	req := pipeline.Request{
		Video:            video,
		Filename:         filepath.Base(path),
		MimeType:         mimeTypeOf(path),
		FaceDetection:    detectFaces,
		FrameIntervalSec: interval,
		MaxFrames:        maxFrames,
	}
	result, err := runner.Run(context.Background(), req, progress.NewLogReporter(log.Entry))
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	log.WithField("path", outPath).Info("result written")

	if reportPath != "" {
		if err := report.Write(reportPath, result); err != nil {
			return err
		}
		log.WithField("path", reportPath).Info("report written")
	}
	return nil
}

func mimeTypeOf(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}
