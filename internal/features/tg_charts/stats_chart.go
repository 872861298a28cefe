package tg_charts

import (
	"bytes"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"onion-alerts/internal/domain"
	logging "onion-alerts/internal/infra/log"

	"github.com/fogleman/gg"
	"go.uber.org/zap"
)

const (
	chartWidth  = 1400
	chartHeight = 800

	titleX = 80.0
	titleY = 90.0

	subtitleY = 140.0

	chartAreaLeft   = 120.0
	chartAreaRight  = 1320.0
	chartAreaTop    = 220.0
	chartAreaBottom = 680.0

	barWidth = 160.0

	gridLinesCount = 4
	gridLineStartX = 80.0
	gridLineEndX   = 1360.0

	titleFontSize    = 48.0
	mainFontSize     = 28.0
	barValueFontSize = 32.0
	labelFontSize    = 24.0

	barValueOffsetY = 16.0
	labelOffsetY    = 40.0
)

var levelColors = map[domain.AlertLevel]color.RGBA{
	domain.LevelMin:      {90, 160, 255, 255},
	domain.LevelMedium:   {255, 196, 0, 255},
	domain.LevelMax:      {0, 220, 120, 255},
	domain.LevelLargeBuy: {255, 90, 90, 255},
	domain.LevelUpgrade:  {190, 120, 255, 255},
}

var fontPaths = []string{
	"etc/fonts/InterVariable.ttf",
	"etc/fonts/Inter-Regular.ttf",
	"./etc/fonts/InterVariable.ttf",
	"~/Library/Fonts/InterVariable.ttf",
	"/Library/Fonts/Inter-Regular.ttf",
	"/System/Library/Fonts/Supplemental/Arial.ttf",
	"/usr/share/fonts/truetype/inter/Inter-Regular.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/liberation/LiberationSans-Regular.ttf",
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if homeDir, err := os.UserHomeDir(); err == nil {
			return filepath.Join(homeDir, path[1:])
		}
	}
	return path
}

// findFont returns the first loadable font path, or "" to use gg's default face.
func findFont(dc *gg.Context) string {
	for _, p := range fontPaths {
		expanded := expandPath(p)
		if _, err := os.Stat(expanded); err != nil {
			continue
		}
		if err := dc.LoadFontFace(expanded, mainFontSize); err == nil {
			return expanded
		} else {
			logging.LogWarn("Font file exists but failed to load", zap.String("path", expanded), zap.Error(err))
		}
	}
	logging.LogDebug("No TTF font found, using default face", zap.Int("paths_checked", len(fontPaths)))
	return ""
}

// RenderAlertsChart draws a bar per alert level for the tokens currently tracked.
func RenderAlertsChart(counts map[domain.AlertLevel]int, tracked int, now time.Time) (*gg.Context, error) {
	dc := gg.NewContext(chartWidth, chartHeight)
	dc.SetColor(color.Black)
	dc.Clear()

	fontPath := findFont(dc)
	setFont := func(size float64) {
		if fontPath != "" {
			_ = dc.LoadFontFace(fontPath, size)
		}
	}

	setFont(titleFontSize)
	dc.SetColor(color.White)
	dc.DrawString("Alerts by level", titleX, titleY)

	setFont(mainFontSize)
	dc.SetColor(color.RGBA{160, 160, 160, 255})
	dc.DrawString(fmt.Sprintf("%d tokens tracked · %s UTC", tracked, now.UTC().Format("2006-01-02 15:04")), titleX, subtitleY)

	maxCount := 0
	for _, l := range domain.AllLevels {
		if counts[l] > maxCount {
			maxCount = counts[l]
		}
	}
	maxY := niceCeil(maxCount)
	chartAreaHeight := chartAreaBottom - chartAreaTop

	dc.SetColor(color.RGBA{60, 60, 60, 255})
	dc.SetLineWidth(1)
	for i := 0; i <= gridLinesCount; i++ {
		y := chartAreaBottom - float64(i)/gridLinesCount*chartAreaHeight
		dc.DrawLine(gridLineStartX, y, gridLineEndX, y)
		dc.Stroke()
	}

	n := len(domain.AllLevels)
	slot := (chartAreaRight - chartAreaLeft) / float64(n)
	for i, level := range domain.AllLevels {
		count := counts[level]
		barX := chartAreaLeft + float64(i)*slot + (slot-barWidth)/2
		barHeight := float64(count) / float64(maxY) * chartAreaHeight
		barY := chartAreaBottom - barHeight

		dc.SetColor(levelColors[level])
		dc.DrawRectangle(barX, barY, barWidth, barHeight)
		dc.Fill()

		setFont(barValueFontSize)
		dc.SetColor(color.White)
		value := strconv.Itoa(count)
		w, _ := dc.MeasureString(value)
		dc.DrawString(value, barX+(barWidth-w)/2, barY-barValueOffsetY)

		setFont(labelFontSize)
		label := level.Label()
		w, _ = dc.MeasureString(label)
		dc.DrawString(label, barX+(barWidth-w)/2, chartAreaBottom+labelOffsetY)
	}

	return dc, nil
}

// AlertsChartPNG renders the chart into memory for upload.
func AlertsChartPNG(counts map[domain.AlertLevel]int, tracked int, now time.Time) ([]byte, error) {
	dc, err := RenderAlertsChart(counts, tracked, now)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode chart: %w", err)
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("chart is empty after rendering")
	}
	return buf.Bytes(), nil
}

// GenerateAlertsChart writes the chart to dir/alerts_chart.png and returns the path.
func GenerateAlertsChart(counts map[domain.AlertLevel]int, tracked int, dir string) (string, error) {
	data, err := AlertsChartPNG(counts, tracked, time.Now())
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create charts directory: %w", err)
	}
	filename := filepath.Join(dir, "alerts_chart.png")
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return "", fmt.Errorf("failed to save chart: %w", err)
	}

	logging.LogInfo("Alerts chart generated successfully",
		zap.String("filename", filename),
		zap.Int("fileSize", len(data)))
	return filename, nil
}

// niceCeil rounds up to a grid-friendly maximum (multiple of gridLinesCount).
func niceCeil(v int) int {
	if v <= 0 {
		return gridLinesCount
	}
	step := (v + gridLinesCount - 1) / gridLinesCount
	return step * gridLinesCount
}
