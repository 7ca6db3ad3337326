package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/worldland/miner-fleet/internal/domain"
	"github.com/worldland/miner-fleet/internal/logging"
	"github.com/worldland/miner-fleet/internal/schedule"
	"github.com/worldland/miner-fleet/internal/services"
)

const prompt = "minerctl> "

// Fleet is the controller surface the console drives
type Fleet interface {
	AddDevice(ctx context.Context, address string) (services.AddOutcome, error)
	RemoveDevice(ctx context.Context, address string) (services.RemoveOutcome, error)
	ListDevices() []domain.DeviceStatus
	Resync(ctx context.Context) []schedule.Outcome
}

// WindowSource reports the window in force now
type WindowSource interface {
	Current() schedule.Window
}

// Console is a line-oriented operator console. Commands are handled one at
// a time on the goroutine that calls Run.
type Console struct {
	fleet   Fleet
	windows WindowSource
	in      io.Reader
	out     io.Writer
	logger  *logging.Logger

	lines chan string
}

// New creates a console reading commands from in and writing to out
func New(fleet Fleet, windows WindowSource, in io.Reader, out io.Writer, logger *logging.Logger) *Console {
	return &Console{
		fleet:   fleet,
		windows: windows,
		in:      in,
		out:     out,
		logger:  logger.With("component", "console"),
	}
}

// Run processes commands until quit, end of input or ctx is cancelled
func (c *Console) Run(ctx context.Context) error {
	c.lines = make(chan string)
	scanErr := make(chan error, 1)
	go c.scan(ctx, scanErr)

	PrintHelp(c.out)
	for {
		line, ok := c.readLine(ctx, prompt)
		if !ok {
			break
		}
		if quit := c.handle(ctx, line); quit {
			return nil
		}
	}

	if ctx.Err() != nil {
		return nil
	}
	return <-scanErr
}

func (c *Console) scan(ctx context.Context, errCh chan<- error) {
	defer close(c.lines)

	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		select {
		case c.lines <- strings.TrimSpace(scanner.Text()):
		case <-ctx.Done():
			errCh <- nil
			return
		}
	}
	errCh <- scanner.Err()
}

func (c *Console) readLine(ctx context.Context, p string) (string, bool) {
	fmt.Fprint(c.out, p)
	select {
	case <-ctx.Done():
		return "", false
	case line, ok := <-c.lines:
		return line, ok
	}
}

// handle runs one command line and reports whether the console should exit
func (c *Console) handle(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	cmd, args := strings.ToLower(fields[0]), fields[1:]
	switch cmd {
	case "add":
		c.forEachAddress(ctx, args, "Enter miner IP to add (or 'back'): ", c.add)
	case "remove", "rm":
		c.forEachAddress(ctx, args, "Enter miner IP to remove (or 'back'): ", c.remove)
	case "list", "ls":
		PrintDevicesTable(c.out, c.fleet.ListDevices(), c.windows.Current())
	case "sync":
		PrintSyncResults(c.out, c.fleet.Resync(ctx))
	case "help", "?":
		PrintHelp(c.out)
	case "quit", "exit":
		return true
	default:
		PrintError(c.out, fmt.Sprintf("unknown command %q, type 'help'", cmd))
	}
	return false
}

// forEachAddress applies fn to every argument, or prompts for addresses
// until 'back' when none were given
func (c *Console) forEachAddress(ctx context.Context, args []string, p string, fn func(context.Context, string)) {
	if len(args) > 0 {
		for _, address := range args {
			fn(ctx, address)
		}
		return
	}

	for {
		line, ok := c.readLine(ctx, p)
		if !ok || strings.EqualFold(line, "back") {
			return
		}
		if line != "" {
			fn(ctx, line)
		}
	}
}

func (c *Console) add(ctx context.Context, address string) {
	outcome, err := c.fleet.AddDevice(ctx, address)
	switch outcome {
	case services.AddInvalidAddress:
		PrintError(c.out, fmt.Sprintf("%s is not an IP address", address))
	case services.AddDuplicate:
		PrintError(c.out, fmt.Sprintf("%s is already in the fleet", address))
	default:
		if err != nil {
			PrintSuccess(c.out, fmt.Sprintf("Added %s, initialisation pending: %v", address, err))
			return
		}
		PrintSuccess(c.out, fmt.Sprintf("Added %s", address))
	}
}

func (c *Console) remove(ctx context.Context, address string) {
	outcome, err := c.fleet.RemoveDevice(ctx, address)
	switch outcome {
	case services.RemoveNotFound:
		PrintError(c.out, fmt.Sprintf("%s is not in the fleet", address))
	case services.RemoveLogoutFailed:
		c.logger.Warn("remove refused", "address", address, "error", err)
		PrintError(c.out, fmt.Sprintf("logout of %s failed, device kept: %v", address, err))
	default:
		PrintSuccess(c.out, fmt.Sprintf("Removed %s", address))
	}
}
