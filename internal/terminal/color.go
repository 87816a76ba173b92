// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package terminal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

var palette = map[string]*color.Color{
	"red":     color.New(color.FgRed),
	"green":   color.New(color.FgGreen),
	"yellow":  color.New(color.FgYellow),
	"blue":    color.New(color.FgBlue),
	"magenta": color.New(color.FgMagenta),
	"cyan":    color.New(color.FgCyan),
	"dim":     color.New(color.Faint),
	"bold":    color.New(color.Bold),
}

// ColorRenderer writes to out with fatih/color styling and reads answers
// from in. Color follows color.NoColor, which honours NO_COLOR and
// non-terminal output; FORCE_COLOR turns it back on.
type ColorRenderer struct {
	out   io.Writer
	in    *bufio.Reader
	color bool
}

func NewColorRenderer(out io.Writer, in io.Reader) *ColorRenderer {
	enabled := !color.NoColor
	if os.Getenv("FORCE_COLOR") != "" {
		enabled = true
	}
	if out != os.Stdout {
		enabled = false
	}
	return &ColorRenderer{out: out, in: bufio.NewReader(in), color: enabled}
}

// NewStdRenderer renders to stdout and reads stdin.
func NewStdRenderer() *ColorRenderer {
	return NewColorRenderer(os.Stdout, os.Stdin)
}

func (r *ColorRenderer) IsTTY() bool {
	return r.color
}

func (r *ColorRenderer) Print(a ...any) {
	fmt.Fprint(r.out, a...)
}

func (r *ColorRenderer) Printf(format string, a ...any) {
	fmt.Fprintf(r.out, format, a...)
}

func (r *ColorRenderer) Println(a ...any) {
	fmt.Fprintln(r.out, a...)
}

func (r *ColorRenderer) ReadLine() (string, error) {
	line, err := r.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (r *ColorRenderer) Colorize(text, name string) string {
	c, ok := palette[name]
	if !ok || !r.color {
		return text
	}
	c.EnableColor()
	return c.Sprint(text)
}

func (r *ColorRenderer) Success() string {
	return r.Colorize("[OK]", "green")
}

func (r *ColorRenderer) Warning() string {
	return r.Colorize("[!]", "yellow")
}

func (r *ColorRenderer) Error() string {
	return r.Colorize("[X]", "red")
}
