// Package color gives agent and task labels a stable terminal color so
// interleaved progress lines are easy to follow.
package color

import (
	"hash/fnv"

	fcolor "github.com/fatih/color"
)

var palette = []*fcolor.Color{
	fcolor.New(fcolor.FgHiRed),
	fcolor.New(fcolor.FgHiGreen),
	fcolor.New(fcolor.FgHiYellow),
	fcolor.New(fcolor.FgHiBlue),
	fcolor.New(fcolor.FgHiMagenta),
	fcolor.New(fcolor.FgHiCyan),
	fcolor.New(fcolor.FgRed),
	fcolor.New(fcolor.FgGreen),
	fcolor.New(fcolor.FgYellow),
	fcolor.New(fcolor.FgBlue),
	fcolor.New(fcolor.FgMagenta),
	fcolor.New(fcolor.FgCyan),
}

// For returns the color assigned to key. The same key always gets the same
// color. NO_COLOR and non-terminal output are honored by fatih/color.
func For(key string) *fcolor.Color {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return palette[h.Sum32()%uint32(len(palette))]
}

// Prefix renders "[key]" in key's color.
func Prefix(key string) string {
	return For(key).Sprintf("[%s]", key)
}
