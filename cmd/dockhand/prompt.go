package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/parcade/dockhand/internal/core/request"
)

// =============================================================================
// Interactive Prompts
// =============================================================================

// prompter collects operator input line by line. Reads come from an
// injectable reader so tests can script answers; secrets fall back to
// line reads when stdin is not a terminal.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{
		in:  bufio.NewReader(in),
		out: out,
	}
}

// ask prints a label and reads one trimmed line. An empty answer returns
// the fallback.
func (p *prompter) ask(label, fallback string) (string, error) {
	if fallback != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, fallback)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	line, err := p.in.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return "", fmt.Errorf("read input: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return fallback, nil
	}
	return line, nil
}

// askSecret reads a value without echoing it. The value never goes to any
// log; callers hold it only inside the validated request.
func (p *prompter) askSecret(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(p.out)
		if err != nil {
			return "", fmt.Errorf("read secret: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}
	line, err := p.in.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// collectDeployInput prompts for every deployment request field.
func (p *prompter) collectDeployInput() (request.RawInput, error) {
	var in request.RawInput
	var err error

	if in.RepoURL, err = p.ask("Repository URL", ""); err != nil {
		return in, err
	}
	if in.Credential, err = p.askSecret("Access token"); err != nil {
		return in, err
	}
	if in.Branch, err = p.ask("Branch", request.DefaultBranch); err != nil {
		return in, err
	}
	if in.SSHUser, err = p.ask("Remote user", ""); err != nil {
		return in, err
	}
	if in.Host, err = p.ask("Remote host", ""); err != nil {
		return in, err
	}
	if in.KeyPath, err = p.ask("SSH key path", "~/.ssh/id_rsa"); err != nil {
		return in, err
	}
	if in.InternalPort, err = p.ask("Application port", ""); err != nil {
		return in, err
	}
	if in.ExternalPort, err = p.ask("Published port", in.InternalPort); err != nil {
		return in, err
	}
	return in, nil
}

// teardownInput is what the cleanup path needs to find and reach the
// deployment: the host keys the journal lookup, user and key open the
// session.
type teardownInput struct {
	Host    string
	SSHUser string
	KeyPath string
}

func (p *prompter) collectTeardownInput() (teardownInput, error) {
	var in teardownInput
	var err error

	if in.Host, err = p.ask("Remote host", ""); err != nil {
		return in, err
	}
	if in.SSHUser, err = p.ask("Remote user", ""); err != nil {
		return in, err
	}
	if in.KeyPath, err = p.ask("SSH key path", "~/.ssh/id_rsa"); err != nil {
		return in, err
	}
	return in, nil
}
