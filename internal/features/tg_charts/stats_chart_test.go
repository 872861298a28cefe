package tg_charts

import (
	"bytes"
	"image/png"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onion-alerts/internal/domain"
)

func TestAlertsChartPNG(t *testing.T) {
	counts := map[domain.AlertLevel]int{
		domain.LevelMin:    12,
		domain.LevelMedium: 4,
		domain.LevelMax:    1,
	}
	data, err := AlertsChartPNG(counts, 40, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, chartWidth, img.Bounds().Dx())
	assert.Equal(t, chartHeight, img.Bounds().Dy())
}

func TestGenerateAlertsChartWritesFile(t *testing.T) {
	dir := t.TempDir()
	path, err := GenerateAlertsChart(map[domain.AlertLevel]int{}, 0, dir)
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestNiceCeil(t *testing.T) {
	assert.Equal(t, 4, niceCeil(0))
	assert.Equal(t, 4, niceCeil(3))
	assert.Equal(t, 12, niceCeil(12))
	assert.Equal(t, 16, niceCeil(13))
}
