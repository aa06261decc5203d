package process

import (
	"io"
	"strings"
)

// Command is an executable plus arguments. It is never passed through a shell.
type Command struct {
	Name string   `json:"name" mapstructure:"name"`
	Args []string `json:"args" mapstructure:"args"`

	// Output, when set, receives a copy of stdout as it is produced.
	// Write errors on Output never interrupt capture.
	Output io.Writer `json:"-" mapstructure:"-"`

	// NoCapture streams stdout to Output only. Wait then returns no output,
	// so long-lived processes do not accumulate it in memory.
	NoCapture bool `json:"-" mapstructure:"-"`
}

// ParseCommand splits a configured command line on whitespace.
// Quoting is not interpreted; use the list form in config for arguments with spaces.
func ParseCommand(line string) Command {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return Command{}
	}
	return Command{Name: parts[0], Args: parts[1:]}
}

// Empty reports whether the command has no executable.
func (c Command) Empty() bool { return strings.TrimSpace(c.Name) == "" }

// Expand returns a copy with every "{key}" placeholder in the arguments replaced.
func (c Command) Expand(vars map[string]string) Command {
	out := c
	out.Args = make([]string, len(c.Args))
	for i, a := range c.Args {
		for k, v := range vars {
			a = strings.ReplaceAll(a, "{"+k+"}", v)
		}
		out.Args[i] = a
	}
	return out
}

// WithOutput returns a copy that tees stdout into w.
func (c Command) WithOutput(w io.Writer) Command {
	c.Args = append([]string(nil), c.Args...)
	c.Output = w
	return c
}

// Streamed returns a copy whose stdout is not retained by the handle.
func (c Command) Streamed() Command {
	c.Args = append([]string(nil), c.Args...)
	c.NoCapture = true
	return c
}

func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}
