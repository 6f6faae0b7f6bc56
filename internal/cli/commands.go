// Package cli implements the interactive RCON console. Lines starting with a
// dot are console commands; every other line is sent to the selected server.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/energizer-project/rconnect/internal/db"
	"github.com/energizer-project/rconnect/internal/events"
	"github.com/energizer-project/rconnect/internal/pool"
)

// Sessions is the part of the session pool the console drives.
type Sessions interface {
	Exec(ctx context.Context, name, command string) (string, error)
	Drop(name string)
	Status(name string) (pool.Status, error)
	Statuses() []pool.Status
}

// History is the read side of the audit log.
type History interface {
	History(f db.HistoryFilter) ([]db.CommandRecord, error)
}

// errQuit ends the console loop.
var errQuit = errors.New("quit")

// CLI is an interactive console over the session pool.
type CLI struct {
	sessions Sessions
	history  History
	eventBus *events.EventBus

	in  io.Reader
	out io.Writer
	// mu serializes writes to out between the prompt loop and the push printer.
	mu      sync.Mutex
	current string
}

// NewCLI creates a console reading in and writing out. history and eventBus
// may be nil.
func NewCLI(sessions Sessions, history History, eventBus *events.EventBus, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		sessions: sessions,
		history:  history,
		eventBus: eventBus,
		in:       in,
		out:      out,
	}
}

// Use selects the server plain lines are sent to.
func (c *CLI) Use(name string) error {
	st, err := c.sessions.Status(name)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.current = st.Name
	c.mu.Unlock()
	return nil
}

// Start runs the prompt loop until EOF, .quit or ctx is cancelled.
func (c *CLI) Start(ctx context.Context) error {
	if c.eventBus != nil {
		stream := c.eventBus.Stream(64, events.EventResponse, events.EventEnd)
		defer stream.Close()
		go c.printPushes(stream)
	}

	c.printf("rconnect console. Type .help for console commands.\n")

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		readErr <- scanner.Err()
		close(lines)
	}()

	for {
		c.printf("%s> ", c.prompt())
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				c.printf("\n")
				return <-readErr
			}
			if err := c.Execute(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				c.printf("Error: %v\n", err)
			}
		}
	}
}

// Execute handles one console line.
func (c *CLI) Execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, ".") {
		return c.send(ctx, line)
	}

	parts := strings.Fields(line[1:])
	if len(parts) == 0 {
		return nil
	}
	args := parts[1:]

	switch strings.ToLower(parts[0]) {
	case "help", "h", "?":
		c.printHelp()
	case "servers", "ls":
		c.printServers()
	case "use":
		if len(args) != 1 {
			return fmt.Errorf("usage: .use <server>")
		}
		return c.Use(args[0])
	case "status", "s":
		return c.printStatus(args)
	case "history":
		return c.printHistory(args)
	case "disconnect":
		name, err := c.target(args)
		if err != nil {
			return err
		}
		c.sessions.Drop(name)
		c.printf("disconnected from %s\n", name)
	case "quit", "exit", "q":
		return errQuit
	default:
		return fmt.Errorf("unknown console command %q, type .help", parts[0])
	}
	return nil
}

func (c *CLI) send(ctx context.Context, command string) error {
	name, err := c.target(nil)
	if err != nil {
		return err
	}
	resp, err := c.sessions.Exec(ctx, name, command)
	if err != nil {
		return err
	}
	if resp = strings.TrimRight(resp, "\r\n"); resp != "" {
		c.printf("%s\n", resp)
	}
	return nil
}

// target returns the server named in args, or the selected one.
func (c *CLI) target(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == "" {
		return "", fmt.Errorf("no server selected, use .use <server>")
	}
	return c.current, nil
}

func (c *CLI) prompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == "" {
		return "rconnect"
	}
	return c.current
}

// printPushes prints unsolicited output of the selected server.
func (c *CLI) printPushes(stream *events.Stream) {
	for ev := range stream.C() {
		c.mu.Lock()
		current := c.current
		c.mu.Unlock()
		if !strings.EqualFold(ev.Source, current) {
			continue
		}
		switch p := ev.Payload.(type) {
		case events.ResponsePayload:
			c.printf("\n[%s] %s\n", ev.Source, strings.TrimRight(p.Body, "\r\n"))
		case events.EndPayload:
			if p.Cause != "" {
				c.printf("\n[%s] connection lost: %s\n", ev.Source, p.Cause)
			}
		}
	}
}

// printHelp displays available commands.
func (c *CLI) printHelp() {
	c.printf(`
Console commands:
  .servers            List configured servers
  .use <server>       Select the server plain lines are sent to
  .status [server]    Show session details
  .history [n]        Show the last n audited commands of the server
  .disconnect [srv]   End the session; the next command reconnects
  .quit               Leave the console
  .help               Show this help message

Anything else is sent to the selected server as an RCON command.

`)
}

// printServers displays every configured server in a table.
func (c *CLI) printServers() {
	statuses := c.sessions.Statuses()

	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out)
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Name", "Game", "Address", "State", "Pending", "Failures", "Last Error"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, st := range statuses {
		name := st.Name
		if strings.EqualFold(name, c.current) {
			name = "* " + name
		}
		tw.Append([]string{
			name,
			st.Game,
			st.Address,
			st.State.String(),
			strconv.Itoa(st.Pending),
			strconv.Itoa(st.Failures),
			st.LastError,
		})
	}

	tw.Render()
	fmt.Fprintln(c.out)
}

// printStatus prints detailed info for a single server.
func (c *CLI) printStatus(args []string) error {
	name, err := c.target(args)
	if err != nil {
		return err
	}
	st, err := c.sessions.Status(name)
	if err != nil {
		return err
	}

	c.printf("\n  Server:     %s\n", st.Name)
	c.printf("  Game:       %s\n", st.Game)
	c.printf("  Address:    %s\n", st.Address)
	c.printf("  State:      %s\n", st.State)
	if st.SessionID != "" {
		c.printf("  Session:    %s\n", st.SessionID)
	}
	if st.ConnectedAt != nil {
		c.printf("  Connected:  %s (%s ago)\n", st.ConnectedAt.Format(time.RFC3339), time.Since(*st.ConnectedAt).Round(time.Second))
	}
	c.printf("  Pending:    %d\n", st.Pending)
	c.printf("  Failures:   %d\n", st.Failures)
	if st.LastError != "" {
		c.printf("  Last error: %s\n", st.LastError)
	}
	if st.RetryAt != nil {
		c.printf("  Retry at:   %s\n", st.RetryAt.Format(time.RFC3339))
	}
	c.printf("\n")
	return nil
}

// printHistory shows recent audited commands of the selected server.
func (c *CLI) printHistory(args []string) error {
	if c.history == nil {
		return fmt.Errorf("audit log is disabled")
	}
	name, err := c.target(nil)
	if err != nil {
		return err
	}
	limit := 20
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid count %q", args[0])
		}
		limit = n
	}

	records, err := c.history.History(db.HistoryFilter{Server: name, Limit: limit})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Time", "Command", "Duration", "Result"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	for _, r := range records {
		result := "ok"
		if r.Error != "" {
			result = r.Error
		}
		tw.Append([]string{
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			r.Command,
			r.Duration.Round(time.Millisecond).String(),
			result,
		})
	}
	tw.Render()
	return nil
}

func (c *CLI) printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}
