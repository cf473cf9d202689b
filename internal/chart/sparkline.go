package chart

import (
	"fmt"
	"math"
	"strings"
)

// Braille blocks for better alignment and resolution (4 sub-blocks high)
// Empty, 1/4, 1/2, 3/4, Full
var blocks = []rune{'⠀', '⣀', '⣤', '⣶', '⣿'}

const subBlocksPerLine = 4.0

// Sparkline draws values as a multi-line Braille bar chart with min and
// max labels. It returns "" for fewer than two values.
func Sparkline(values []float64, height int) string {
	if len(values) < 2 || height <= 0 {
		return ""
	}

	minVal, maxVal := values[0], values[0]
	for _, v := range values {
		minVal = math.Min(minVal, v)
		maxVal = math.Max(maxVal, v)
	}

	// Dynamic scaling with buffer
	buffer := 10.0
	minVal = math.Max(0, minVal-buffer)
	maxVal += buffer
	rangeVal := maxVal - minVal

	rows := make([][]rune, height)
	for i := range rows {
		rows[i] = []rune(strings.Repeat(string(blocks[0]), len(values)))
	}

	for x, val := range values {
		totalSubBlocks := (val - minVal) / rangeVal * float64(height) * subBlocksPerLine

		// Fill lines from bottom up
		for y := range height {
			lineIdx := height - 1 - y
			lineStart := float64(y) * subBlocksPerLine
			lineEnd := float64(y+1) * subBlocksPerLine

			if totalSubBlocks >= lineEnd {
				rows[lineIdx][x] = blocks[len(blocks)-1]
			} else if totalSubBlocks > lineStart {
				remainder := int(math.Round(totalSubBlocks - lineStart))
				remainder = max(0, min(remainder, len(blocks)-1))
				rows[lineIdx][x] = blocks[remainder]
			}
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Max: %.0f\n", maxVal)
	for _, row := range rows {
		b.WriteString(string(row))
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Min: %.0f", minVal)
	return b.String()
}
