// Copyright 2026 The SensorGrid Authors
// SPDX-License-Identifier: Apache-2.0

// Package prompt implements the interactive side of configuration
// collection: default-bearing line prompts that re-prompt until the
// field validator accepts, no-echo secret entry, and the confirmation
// gates that precede any mutation. The validators themselves live in
// lib/provision so the flag-driven path applies exactly the same rules.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// maxAttempts bounds the re-prompt loop. Exhausting it is a
// precondition failure, not a fatal install failure: nothing has been
// mutated yet.
const maxAttempts = 5

// Prompter reads operator input. The zero value is not usable; construct
// with New (stdin/stderr) or NewWithStreams (tests).
type Prompter struct {
	in         *bufio.Scanner
	out        io.Writer
	readSecret func() (string, error)
}

// New returns a Prompter on stdin and stderr. Secrets are read with
// terminal echo disabled when stdin is a terminal, and as a plain line
// otherwise (piped input).
func New() *Prompter {
	prompter := &Prompter{
		in:  bufio.NewScanner(os.Stdin),
		out: os.Stderr,
	}
	prompter.readSecret = func() (string, error) {
		stdinFd := int(os.Stdin.Fd())
		if !term.IsTerminal(stdinFd) {
			return prompter.readLine()
		}
		data, err := term.ReadPassword(stdinFd)
		fmt.Fprintln(prompter.out)
		if err != nil {
			return "", fmt.Errorf("reading secret: %w", err)
		}
		return string(data), nil
	}
	return prompter
}

// NewWithStreams returns a Prompter over explicit streams. Secret reads
// fall back to plain line reads; tests use this.
func NewWithStreams(in io.Reader, out io.Writer) *Prompter {
	prompter := &Prompter{
		in:  bufio.NewScanner(in),
		out: out,
	}
	prompter.readSecret = prompter.readLine
	return prompter
}

func (p *Prompter) readLine() (string, error) {
	if !p.in.Scan() {
		if err := p.in.Err(); err != nil {
			return "", fmt.Errorf("reading input: %w", err)
		}
		return "", io.EOF
	}
	return strings.TrimSpace(p.in.Text()), nil
}

// String prompts for a string field. Empty input accepts the default;
// invalid input re-prompts with the rejection reason until the attempt
// budget is exhausted.
func (p *Prompter) String(label, defaultValue string, validate func(string) error) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		fmt.Fprintf(p.out, "%s [%s]: ", label, defaultValue)
		line, err := p.readLine()
		if err != nil {
			return "", err
		}
		if line == "" {
			line = defaultValue
		}
		if err := validate(line); err != nil {
			fmt.Fprintf(p.out, "  %v\n", err)
			continue
		}
		return line, nil
	}
	return "", fmt.Errorf("no valid value for %s after %d attempts", label, maxAttempts)
}

// Int prompts for an integer field with the same loop semantics as
// String.
func (p *Prompter) Int(label string, defaultValue int, validate func(int) error) (int, error) {
	value, err := p.String(label, strconv.Itoa(defaultValue), func(raw string) error {
		parsed, parseErr := strconv.Atoi(raw)
		if parseErr != nil {
			return fmt.Errorf("%q is not a number", raw)
		}
		return validate(parsed)
	})
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(value)
}

// Secret prompts for a secret without echoing it. Empty input
// re-prompts; there is no default.
func (p *Prompter) Secret(label string, validate func(string) error) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		fmt.Fprintf(p.out, "%s: ", label)
		value, err := p.readSecret()
		if err != nil {
			return "", err
		}
		if err := validate(value); err != nil {
			fmt.Fprintf(p.out, "  %v\n", err)
			continue
		}
		return value, nil
	}
	return "", fmt.Errorf("no valid value for %s after %d attempts", label, maxAttempts)
}

// Confirm asks a yes/no question. Only an explicit "y" or "yes" counts
// as consent; everything else, including empty input, declines.
func (p *Prompter) Confirm(question string) (bool, error) {
	fmt.Fprintf(p.out, "%s [y/N]: ", question)
	line, err := p.readLine()
	if err != nil {
		return false, err
	}
	switch strings.ToLower(line) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
