package main

import (
	"fmt"
	"os"

	"onion-alerts/internal/domain"
	"onion-alerts/internal/features/tg_charts"
)

// go run etc/tools/test_chart.go
// in etc/charts/alerts_chart.png
func main() {
	fmt.Println("Generating test chart...")

	counts := map[domain.AlertLevel]int{
		domain.LevelMin:      42,
		domain.LevelMedium:   17,
		domain.LevelMax:      5,
		domain.LevelLargeBuy: 2,
		domain.LevelUpgrade:  9,
	}
	chartPath, err := tg_charts.GenerateAlertsChart(counts, 120, "etc/charts")
	if err != nil {
		fmt.Printf("Error generating chart: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Chart generated successfully: %s\n", chartPath)
	fmt.Println("Open the file to see the result!")
}
