package report

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"video-insights-go/internal/types"
)

// Write exports a PipelineResult as an xlsx workbook: one sheet per output
// collection plus an overview and the usage ledger. Image bytes stay out of
// the workbook.
func Write(path string, res *types.PipelineResult) error {
	f := excelize.NewFile()
	defer f.Close()

	writeOverview(f, res)
	writeSegments(f, res.Segments)
	writeTopics(f, res.Topics)
	writeFrames(f, res.Frames)
	writeFaces(f, res.Faces)
	writeUsage(f, res.Stats.Usage)

	f.DeleteSheet("Sheet1")
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

func writeOverview(f *excelize.File, res *types.PipelineResult) {
	sheet := "Overview"
	f.NewSheet(sheet)
	rows := [][]any{
		{"Video ID", res.VideoID},
		{"Filename", res.Filename},
		{"MIME type", res.MimeType},
		{"SHA-256", res.SourceSHA256},
		{"Duration (s)", res.Metadata.DurationSec},
		{"Resolution", fmt.Sprintf("%dx%d", res.Metadata.Width, res.Metadata.Height)},
		{"Language", res.Language},
		{"Summary", res.Summary},
		{"Segments", res.Stats.TotalSegments},
		{"Topics", res.Stats.TotalTopics},
		{"Frames", res.Stats.TotalFrames},
		{"Faces", res.Stats.TotalFaces},
		{"Processing time (s)", res.Stats.ProcessingTimeSec},
		{"Total tokens", res.Stats.Usage.TotalTokens},
		{"Total cost (USD)", res.Stats.Usage.TotalCostUSD},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		f.SetSheetRow(sheet, cell, &row)
	}
}

func writeSegments(f *excelize.File, segments []types.Segment) {
	sheet := "Segments"
	f.NewSheet(sheet)
	f.SetSheetRow(sheet, "A1", &[]any{"Segment ID", "Start (s)", "End (s)", "Confidence", "Text"})
	for i, s := range segments {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		f.SetSheetRow(sheet, cell, &[]any{s.SegmentID, s.StartSec, s.EndSec, s.Confidence, s.Text})
	}
}

func writeTopics(f *excelize.File, topics []types.Topic) {
	sheet := "Topics"
	f.NewSheet(sheet)
	f.SetSheetRow(sheet, "A1", &[]any{"Topic ID", "Label", "Description", "Summary", "Segment IDs"})
	for i, t := range topics {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		f.SetSheetRow(sheet, cell, &[]any{
			t.TopicID, t.Label, t.Description, t.Summary, strings.Join(t.SegmentIDs, ", "),
		})
	}
}

func writeFrames(f *excelize.File, frames []types.Frame) {
	sheet := "Frames"
	f.NewSheet(sheet)
	f.SetSheetRow(sheet, "A1", &[]any{"Frame ID", "Timestamp (s)", "Caption"})
	for i, fr := range frames {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		f.SetSheetRow(sheet, cell, &[]any{fr.FrameID, fr.TimestampSec, fr.Caption})
	}
}

func writeFaces(f *excelize.File, faces []types.Face) {
	sheet := "Faces"
	f.NewSheet(sheet)
	f.SetSheetRow(sheet, "A1", &[]any{"Face ID", "Frame ID", "Timestamp (s)", "X", "Y", "Width", "Height"})
	for i, fc := range faces {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		f.SetSheetRow(sheet, cell, &[]any{
			fc.FaceID, fc.FrameID, fc.TimestampSec, fc.Box.X, fc.Box.Y, fc.Box.Width, fc.Box.Height,
		})
	}
}

func writeUsage(f *excelize.File, stats types.UsageStats) {
	sheet := "Usage"
	f.NewSheet(sheet)
	f.SetSheetRow(sheet, "A1", &[]any{"Model", "Input tokens", "Output tokens", "Cost (USD)"})
	row := 2
	for _, m := range stats.PerModel {
		cell, _ := excelize.CoordinatesToCellName(1, row)
		f.SetSheetRow(sheet, cell, &[]any{m.Model, m.InputTokens, m.OutputTokens, m.CostUSD})
		row++
	}
	cell, _ := excelize.CoordinatesToCellName(1, row+1)
	f.SetSheetRow(sheet, cell, &[]any{"Total", stats.TotalTokens, "", stats.TotalCostUSD})
}
