package remote

import (
	"github.com/alessio/shellescape"
)

// Command is a remote invocation kept as structured arguments until it is
// rendered for the remote shell.
type Command struct {
	Dir  string   // Remote working directory; empty means the login directory
	Args []string // Program and arguments
}

// NewCommand returns a command running args in the login directory.
func NewCommand(args ...string) Command {
	return Command{Args: args}
}

// In returns a copy of c that runs inside dir.
func (c Command) In(dir string) Command {
	c.Dir = dir
	return c
}

// String renders c for a POSIX shell. Arguments containing shell
// metacharacters are single-quoted.
//
// Example:
//
//	NewCommand("maiden", "build", "prod", "1.0").In("/tmp/ws").String()
//	// cd /tmp/ws && maiden build prod 1.0
func (c Command) String() string {
	line := shellescape.QuoteCommand(c.Args)
	if c.Dir != "" {
		line = "cd " + shellescape.Quote(c.Dir) + " && " + line
	}
	return line
}
