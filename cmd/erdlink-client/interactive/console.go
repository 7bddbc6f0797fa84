// Package interactive provides the interactive command-line interface
// for erdlink-client.
package interactive

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/erdlink/erdlink-go/pkg/appliance"
	"github.com/erdlink/erdlink-go/pkg/connection"
)

// Session is the supervisor surface the console needs.
type Session interface {
	State() connection.State
	Retries() int
	SessionID() string
	UserID() (string, error)
	Appliances() *appliance.Registry
	Disconnect()
}

// Commander writes to appliances over the live connection.
type Commander interface {
	SetValue(ctx context.Context, applianceID, attr, value string) error
	RequestUpdate(ctx context.Context, applianceID string) error
}

// Console handles interactive mode for erdlink-client.
type Console struct {
	rl  *readline.Instance
	out io.Writer

	session Session
	cmd     Commander
	started time.Time
}

// New creates the console and its terminal. Create it before the logger
// so log output can go through Stdout.
func New() (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "erdlink> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{rl: rl, out: rl.Stdout(), started: time.Now()}, nil
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (c *Console) Stdout() io.Writer {
	return c.out
}

// Attach connects the console to a session and prints appliance events
// published on bus.
func (c *Console) Attach(session Session, cmd Commander, bus connection.Subscriber) {
	c.session = session
	c.cmd = cmd
	if bus == nil {
		return
	}
	bus.Subscribe(connection.EventConnected, func(connection.Event) {
		fmt.Fprintln(c.out, "[connected]")
	})
	bus.Subscribe(connection.EventDisconnected, func(connection.Event) {
		fmt.Fprintln(c.out, "[disconnected]")
	})
	bus.Subscribe(connection.EventApplianceInitialUpdate, func(e connection.Event) {
		fmt.Fprintf(c.out, "[appliance] %s ready\n", e.Appliance)
	})
	bus.Subscribe(connection.EventApplianceAvailable, func(e connection.Event) {
		fmt.Fprintf(c.out, "[appliance] %s online\n", e.Appliance.ID())
	})
	bus.Subscribe(connection.EventApplianceUnavailable, func(e connection.Event) {
		fmt.Fprintf(c.out, "[appliance] %s offline\n", e.Appliance.ID())
	})
}

// Close releases the terminal and unblocks a running Run.
func (c *Console) Close() error {
	if c.rl == nil {
		return nil
	}
	return c.rl.Close()
}

// Run starts the interactive command loop.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}

		if c.Execute(ctx, line) {
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}
	}
}

// Execute runs one command line. It reports true when the console should exit.
func (c *Console) Execute(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()
	case "status", "s":
		c.cmdStatus()
	case "appliances", "ls":
		c.cmdAppliances()
	case "show":
		c.cmdShow(args)
	case "set":
		c.cmdSet(ctx, args)
	case "refresh", "r":
		c.cmdRefresh(ctx, args)
	case "disconnect":
		c.session.Disconnect()
		fmt.Fprintln(c.out, "Disconnected.")
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
erdlink Commands:
  Session:
    status                    - Show session state
    disconnect                - Disconnect from the cloud

  Appliances:
    appliances                - List known appliances
    show <id>                 - Show all attribute values of an appliance
    set <id> <attr> <value>   - Write an attribute (e.g. set D828C9000001 0x5100 01)
    refresh <id>              - Request a full attribute update

  General:
    help                      - Show this help
    quit                      - Exit`)
}

func (c *Console) cmdStatus() {
	user, err := c.session.UserID()
	if err != nil {
		user = "-"
	}
	fmt.Fprintf(c.out, "State:      %s\n", c.session.State())
	fmt.Fprintf(c.out, "Retries:    %d\n", c.session.Retries())
	fmt.Fprintf(c.out, "User:       %s\n", user)
	fmt.Fprintf(c.out, "Session:    %s\n", c.session.SessionID())
	fmt.Fprintf(c.out, "Appliances: %d\n", c.session.Appliances().Len())
	if !c.started.IsZero() {
		fmt.Fprintf(c.out, "Uptime:     %s\n", time.Since(c.started).Round(time.Second))
	}
}

func (c *Console) cmdAppliances() {
	list := c.session.Appliances().List()
	if len(list) == 0 {
		fmt.Fprintln(c.out, "No appliances.")
		return
	}
	fmt.Fprintf(c.out, "%-20s %-8s %-8s %s\n", "ID", "TYPE", "ONLINE", "ATTRS")
	for _, a := range list {
		typ := a.Type()
		if typ == "" {
			typ = "?"
		}
		fmt.Fprintf(c.out, "%-20s %-8s %-8t %d\n", a.ID(), typ, a.Available(), len(a.Values()))
	}
}

func (c *Console) cmdShow(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: show <id>")
		return
	}
	a := c.session.Appliances().Get(args[0])
	if a == nil {
		fmt.Fprintf(c.out, "Unknown appliance: %s\n", args[0])
		return
	}

	values := a.Values()
	attrs := make([]string, 0, len(values))
	for attr := range values {
		attrs = append(attrs, attr)
	}
	sort.Strings(attrs)
	for _, attr := range attrs {
		fmt.Fprintf(c.out, "%s = %s\n", attr, values[attr])
	}
}

func (c *Console) cmdSet(ctx context.Context, args []string) {
	if len(args) != 3 {
		fmt.Fprintln(c.out, "Usage: set <id> <attr> <value>")
		return
	}
	if err := c.cmd.SetValue(ctx, args[0], args[1], args[2]); err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Sent %s=%s to %s\n", args[1], args[2], args[0])
}

func (c *Console) cmdRefresh(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: refresh <id>")
		return
	}
	if err := c.cmd.RequestUpdate(ctx, args[0]); err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Requested update for %s\n", args[0])
}
