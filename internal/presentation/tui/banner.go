package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the railhub banner, colored when the terminal supports it.
func PrintBanner(w io.Writer) {
	p := termenv.NewOutput(w).ColorProfile()
	lines := []struct {
		text  string
		color string
	}{
		{"            _ _ _           _     ", "#fbbf24"},
		{"  _ __ __ _(_) | |__  _   _| |__  ", "#f59e0b"},
		{" | '__/ _` | | | '_ \\| | | | '_ \\ ", "#f97316"},
		{" | | | (_| | | | | | | |_| | |_) |", "#ef4444"},
		{" |_|  \\__,_|_|_|_| |_|\\__,_|_.__/ ", "#dc2626"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w)
}
