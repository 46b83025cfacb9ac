package util

import (
	"fmt"
	"io"

	"github.com/common-nighthawk/go-figure"
)

// ANSI 颜色
const (
	ColorReset  = "\x1b[0m"
	ColorRed    = "\x1b[1;31m"
	ColorGreen  = "\x1b[1;32m"
	ColorYellow = "\x1b[1;33m"
	ColorBlue   = "\x1b[1;34m"
	ColorCyan   = "\x1b[1;36m"
)

var colors = map[string]string{
	"red":    ColorRed,
	"green":  ColorGreen,
	"yellow": ColorYellow,
	"blue":   ColorBlue,
	"cyan":   ColorCyan,
}

// colorCode 颜色名转 ANSI 码，未知名称不着色
func colorCode(name string) string {
	if c, ok := colors[name]; ok {
		return c
	}
	return ColorReset
}

// PrintBanner 打印统一颜色的 ASCII banner，下方附一行说明（可为空）
func PrintBanner(w io.Writer, text, subtitle, color string) {
	fig := figure.NewFigure(text, "", true)
	ansi := colorCode(color)
	for _, line := range fig.Slicify() {
		fmt.Fprintln(w, ansi+line+ColorReset)
	}
	if subtitle != "" {
		fmt.Fprintln(w, ansi+subtitle+ColorReset)
	}
}
