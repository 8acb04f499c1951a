package main

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/yitech/livecandles/model/candle"
	"github.com/yitech/livecandles/timeline"
)

// ── styles ────────────────────────────────────────────────────────────────────

var (
	bullStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#26a641"))
	bearStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#e05c5c"))
	wickStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	liveStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#e3b341"))
	axisStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#555555"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#aaaaaa"))
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#555555"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#e05c5c"))
	selStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#e3b341"))
	panelStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444444"))
)

const (
	yAxisWidth = 11 // "  12345.67 │"
	labelEvery = 10
)

// renderChart draws the newest candles that fit in width×height.
func renderChart(candles []candle.Candle, width, height int) string {
	chartH := height
	if chartH < 3 {
		chartH = 3
	}
	maxCols := (width - yAxisWidth) / 2 // each candle occupies 2 chars
	if maxCols < 1 {
		maxCols = 1
	}
	if len(candles) > maxCols {
		candles = candles[len(candles)-maxCols:]
	}
	if len(candles) == 0 {
		return axisStyle.Render("no candles yet")
	}

	// Price range across visible candles.
	lo, hi := bounds(candles)
	if hi == lo {
		hi = lo + 1
	}

	cols := len(candles) * 2
	grid := make([][]string, chartH)
	for r := range grid {
		grid[r] = make([]string, cols)
		for c := range grid[r] {
			grid[r][c] = " "
		}
	}
	for i, c := range candles {
		renderCandle(grid, c, i*2, chartH, hi, lo)
	}

	var b strings.Builder
	for row := 0; row < chartH; row++ {
		label := fmt.Sprintf("%9.2f │", rowToPrice(row, chartH, hi, lo))
		b.WriteString(axisStyle.Render(label))
		b.WriteString(strings.Join(grid[row], ""))
		b.WriteByte('\n')
	}

	b.WriteString(axisStyle.Render(strings.Repeat("─", yAxisWidth+cols)))
	b.WriteByte('\n')
	b.WriteString(strings.Repeat(" ", yAxisWidth))
	b.WriteString(axisStyle.Render(timeAxis(candles)))
	return b.String()
}

// timeAxis places a label under every labelEvery-th candle. Labels are
// five characters wide and each candle two, so a label spans three
// candle columns and the columns it covers are skipped.
func timeAxis(candles []candle.Candle) string {
	var b strings.Builder
	layout := "15:04"
	if len(candles) > 0 && candles[0].Interval >= 24*time.Hour {
		layout = "01/02"
	}
	width := 0
	for i, c := range candles {
		col := i * 2
		if col < width {
			continue
		}
		if i%labelEvery == 0 && col+5 <= len(candles)*2 {
			b.WriteString(c.Start.Local().Format(layout))
			width = col + 5
			continue
		}
		b.WriteString("  ")
		width = col + 2
	}
	return b.String()
}

// renderCandle paints one candle into the grid at column x (0-indexed, 2 wide).
func renderCandle(grid [][]string, c candle.Candle, x, chartH int, hi, lo float64) {
	open := c.Open.InexactFloat64()
	cls := c.Close.InexactFloat64()

	style := bullStyle
	if !c.Bullish() {
		style = bearStyle
	}
	if !c.Complete {
		style = liveStyle
	}

	fH := float64(chartH)
	bodyTop := priceToRow(math.Max(open, cls), fH, hi, lo)
	bodyBot := priceToRow(math.Min(open, cls), fH, hi, lo)
	wickTop := priceToRow(c.High.InexactFloat64(), fH, hi, lo)
	wickBot := priceToRow(c.Low.InexactFloat64(), fH, hi, lo)

	for row := 0; row < chartH; row++ {
		inBody := row >= bodyTop && row <= bodyBot
		inWick := row >= wickTop && row <= wickBot

		left, right := " ", " "
		switch {
		case inBody:
			left = style.Render("█")
			right = style.Render("█")
		case inWick:
			left = wickStyle.Render("│")
		}

		if x < len(grid[row]) {
			grid[row][x] = left
		}
		if x+1 < len(grid[row]) {
			grid[row][x+1] = right
		}
	}
}

// priceToRow converts a price to a grid row (0 = top = high).
func priceToRow(price, chartH float64, hi, lo float64) int {
	if hi == lo {
		return int(chartH) / 2
	}
	row := (hi - price) / (hi - lo) * (chartH - 1)
	r := int(math.Round(row))
	if r < 0 {
		r = 0
	}
	if r >= int(chartH) {
		r = int(chartH) - 1
	}
	return r
}

// rowToPrice is the inverse of priceToRow.
func rowToPrice(row, chartH int, hi, lo float64) float64 {
	if chartH <= 1 {
		return hi
	}
	return hi - float64(row)/float64(chartH-1)*(hi-lo)
}

func bounds(candles []candle.Candle) (lo, hi float64) {
	l, h := timeline.PriceRange(candles)
	return l.InexactFloat64(), h.InexactFloat64()
}
