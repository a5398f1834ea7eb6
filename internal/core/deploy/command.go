package deploy

import "strings"

// =============================================================================
// Remote Command Construction
// =============================================================================

// Command is a remote command built from an explicit argument vector.
// Arguments are quoted when rendered, so repository names, paths, and other
// operator-influenced values cannot inject shell syntax into the remote
// command line.
type Command struct {
	argv []string
}

// NewCommand builds a command from a program name and its arguments.
func NewCommand(name string, args ...string) Command {
	return Command{argv: append([]string{name}, args...)}
}

// WithSudo prefixes the command with sudo -n (never prompts on the remote).
func (c Command) WithSudo() Command {
	return Command{argv: append([]string{"sudo", "-n"}, c.argv...)}
}

// String renders the command as a single shell line with every argument
// single-quoted.
func (c Command) String() string {
	quoted := make([]string, 0, len(c.argv))
	for _, a := range c.argv {
		quoted = append(quoted, Quote(a))
	}
	return strings.Join(quoted, " ")
}

// Argv returns a copy of the argument vector.
func (c Command) Argv() []string {
	out := make([]string, len(c.argv))
	copy(out, c.argv)
	return out
}

// Script joins commands with && so the sequence stops at the first failure.
func Script(cmds ...Command) string {
	parts := make([]string, 0, len(cmds))
	for _, c := range cmds {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, " && ")
}

// Quote wraps s in POSIX single quotes, escaping embedded single quotes.
// A plain identifier is returned as-is for readable command lines.
func Quote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n\"'`$\\|&;<>()*?[]#~=%!{}") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
