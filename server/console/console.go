package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/dm-vev/adamant/server"
)

// Console reads commands from an io.Reader (defaulting to os.Stdin) and runs
// them against a Server. Command output is written to a Logger.
type Console struct {
	srv    *server.Server
	log    *slog.Logger
	reader io.Reader
}

// New returns a Console bound to the Server passed. The console reads from
// os.Stdin and writes command output to the Logger passed.
func New(srv *server.Server, log *slog.Logger) *Console {
	if log == nil {
		log = slog.Default()
	}
	return &Console{srv: srv, log: log, reader: os.Stdin}
}

// WithReader sets the reader commands are read from.
func (c *Console) WithReader(r io.Reader) *Console {
	if r != nil {
		c.reader = r
	}
	return c
}

// Run reads and executes commands until the context is cancelled, the reader
// reaches EOF or the stop command is run.
func (c *Console) Run(ctx context.Context) {
	scanner := bufio.NewScanner(c.reader)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				c.log.Error("console input error", "err", err)
			}
			return
		}
		o := c.Execute(scanner.Text())
		for _, msg := range o.Messages() {
			c.log.Info(msg)
		}
		for _, err := range o.Errors() {
			c.log.Error(err.Error())
		}
		if o.stop {
			return
		}
	}
}

// Execute runs a single command line and returns its Output. A leading slash
// is optional.
func (c *Console) Execute(line string) *Output {
	o := &Output{}
	args := strings.Fields(strings.TrimPrefix(strings.TrimSpace(line), "/"))
	if len(args) == 0 {
		return o
	}
	command, ok := commands[strings.ToLower(args[0])]
	if !ok {
		o.Errorf("Unknown command: %v. Please check that the command exists and that you have permission to use it.", args[0])
		return o
	}
	command.run(c.srv, args[1:], o)
	return o
}

// Output holds the messages and errors produced by a command.
type Output struct {
	messages []string
	errors   []error
	stop     bool
}

// Printf adds a formatted message to the Output.
func (o *Output) Printf(format string, a ...any) {
	o.messages = append(o.messages, fmt.Sprintf(format, a...))
}

// Print adds a message to the Output.
func (o *Output) Print(a ...any) {
	o.messages = append(o.messages, fmt.Sprint(a...))
}

// Errorf adds a formatted error to the Output.
func (o *Output) Errorf(format string, a ...any) {
	o.errors = append(o.errors, fmt.Errorf(format, a...))
}

// Error adds an error to the Output.
func (o *Output) Error(err error) {
	o.errors = append(o.errors, err)
}

// Messages returns the messages of the Output.
func (o *Output) Messages() []string { return o.messages }

// Errors returns the errors of the Output.
func (o *Output) Errors() []error { return o.errors }
