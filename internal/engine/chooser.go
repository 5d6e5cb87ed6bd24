package engine

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/BadgerOps/epggen/internal/match"
)

// Action is the operator's decision on an ambiguous match.
type Action int

const (
	// Skip leaves this entry unresolved.
	Skip Action = iota
	// SkipAll leaves this entry and every later ambiguous entry unresolved.
	SkipAll
	// Pick binds the candidate at Choice.Index.
	Pick
)

// Choice is the answer of a Chooser.
type Choice struct {
	Action Action
	// Index into the candidate slice, set for Pick.
	Index int
}

// Chooser resolves ambiguous matches.
type Chooser interface {
	Choose(target string, candidates []match.Candidate) (Choice, error)
}

// SkipChooser skips every ambiguous entry.
type SkipChooser struct{}

// Choose implements Chooser.
func (SkipChooser) Choose(string, []match.Candidate) (Choice, error) {
	return Choice{Action: Skip}, nil
}

// PromptChooser asks on Out and reads answers from In, one per line.
type PromptChooser struct {
	in  *bufio.Reader
	out io.Writer
}

// NewPromptChooser creates a PromptChooser.
func NewPromptChooser(in io.Reader, out io.Writer) *PromptChooser {
	return &PromptChooser{in: bufio.NewReader(in), out: out}
}

// Choose lists the candidates and waits for an answer. An empty answer, a
// number below 1 or end of input skips the entry; anything unparseable or
// past the last candidate asks again.
func (c *PromptChooser) Choose(target string, candidates []match.Candidate) (Choice, error) {
	fmt.Fprintf(c.out, "\nChoose channel mapping for %q:\n", target)
	fmt.Fprintln(c.out, "A. (skip all)")
	fmt.Fprintln(c.out, "0. (skip)")
	for i, cand := range candidates {
		fmt.Fprintf(c.out, "%d. %q (%s)\n", i+1, cand.Alias, cand.Provider)
	}
	defer fmt.Fprintln(c.out)

	for {
		fmt.Fprintf(c.out, "Enter (0 .. %d or \"A\", default: 0): ", len(candidates))
		line, err := c.in.ReadString('\n')
		if err != nil && err != io.EOF {
			return Choice{}, fmt.Errorf("reading answer: %w", err)
		}
		answer := strings.TrimSpace(line)
		if answer == "" {
			return Choice{Action: Skip}, nil
		}
		if strings.EqualFold(answer, "a") {
			return Choice{Action: SkipAll}, nil
		}
		n, convErr := strconv.Atoi(answer)
		if convErr == nil && n <= len(candidates) {
			if n <= 0 {
				return Choice{Action: Skip}, nil
			}
			return Choice{Action: Pick, Index: n - 1}, nil
		}
		if err == io.EOF {
			return Choice{Action: Skip}, nil
		}
	}
}
