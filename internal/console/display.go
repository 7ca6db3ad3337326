package console

import (
	"fmt"
	"io"
	"strings"

	"github.com/worldland/miner-fleet/internal/domain"
	"github.com/worldland/miner-fleet/internal/schedule"
)

// PrintHeader prints a section header
func PrintHeader(w io.Writer, title string) {
	fmt.Fprintf(w, "\n=== %s ===\n", title)
}

// PrintField prints a labeled field
func PrintField(w io.Writer, label, value string) {
	fmt.Fprintf(w, "  %-14s %s\n", label+":", value)
}

// PrintDevicesTable displays fleet members in a table format
func PrintDevicesTable(w io.Writer, devices []domain.DeviceStatus, window schedule.Window) {
	PrintHeader(w, fmt.Sprintf("Devices (%d)", len(devices)))
	PrintField(w, "Window", window.String())

	if len(devices) == 0 {
		fmt.Fprintln(w, "  (no devices in fleet)")
		return
	}

	// Table header
	fmt.Fprintf(w, "  %-40s %-12s %-12s\n", "Address", "Profile", "Curtailment")
	fmt.Fprintf(w, "  %-40s %-12s %-12s\n",
		strings.Repeat("-", 39), strings.Repeat("-", 12), strings.Repeat("-", 12))

	for _, d := range devices {
		fmt.Fprintf(w, "  %-40s %-12s %-12s\n", d.Address, d.Profile, d.Curtailment)
	}
}

// PrintSyncResults displays the outcome of a re-sync
func PrintSyncResults(w io.Writer, outcomes []schedule.Outcome) {
	PrintHeader(w, fmt.Sprintf("Sync (%d)", len(outcomes)))

	if len(outcomes) == 0 {
		fmt.Fprintln(w, "  (no devices in fleet)")
		return
	}
	for _, o := range outcomes {
		if o.Err != nil {
			fmt.Fprintf(w, "  %-40s failed: %v\n", o.Address, o.Err)
			continue
		}
		fmt.Fprintf(w, "  %-40s %s\n", o.Address, o.Window.String())
	}
}

// PrintHelp lists the console commands
func PrintHelp(w io.Writer) {
	PrintHeader(w, "Commands")
	PrintField(w, "add [ip...]", "add miners (prompts until 'back' without arguments)")
	PrintField(w, "remove [ip...]", "log out and remove miners")
	PrintField(w, "list", "show fleet members and their state")
	PrintField(w, "sync", "re-apply the current window to every miner")
	PrintField(w, "quit", "stop the controller")
}

// PrintSuccess prints a success message
func PrintSuccess(w io.Writer, message string) {
	fmt.Fprintf(w, "%s\n", message)
}

// PrintError prints an error message
func PrintError(w io.Writer, message string) {
	fmt.Fprintf(w, "Error: %s\n", message)
}
