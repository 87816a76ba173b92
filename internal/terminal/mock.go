// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package terminal

import (
	"fmt"
	"io"
	"strings"
)

// MockRenderer records output and replays scripted input lines.
type MockRenderer struct {
	Output []string
	Input  []string
	TTY    bool
}

func NewMockRenderer(input ...string) *MockRenderer {
	return &MockRenderer{Input: input}
}

func (m *MockRenderer) Print(a ...any) {
	m.Output = append(m.Output, fmt.Sprint(a...))
}

func (m *MockRenderer) Printf(format string, a ...any) {
	m.Output = append(m.Output, fmt.Sprintf(format, a...))
}

func (m *MockRenderer) Println(a ...any) {
	m.Output = append(m.Output, fmt.Sprintln(a...))
}

func (m *MockRenderer) Colorize(text, color string) string {
	if !m.TTY {
		return text
	}
	return "[" + color + "]" + text + "[reset]"
}

func (m *MockRenderer) Success() string { return m.Colorize("[OK]", "green") }
func (m *MockRenderer) Warning() string { return m.Colorize("[!]", "yellow") }
func (m *MockRenderer) Error() string   { return m.Colorize("[X]", "red") }

func (m *MockRenderer) ReadLine() (string, error) {
	if len(m.Input) == 0 {
		return "", io.EOF
	}
	line := m.Input[0]
	m.Input = m.Input[1:]
	return line, nil
}

func (m *MockRenderer) IsTTY() bool {
	return m.TTY
}

func (m *MockRenderer) AllOutput() string {
	return strings.Join(m.Output, "")
}
