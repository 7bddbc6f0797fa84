// Command erdlink-log is a tool for viewing and analyzing erdlink session
// captures.
//
// Capture files are written by erdlink-client with the --protocol-log flag.
//
// Usage:
//
//	erdlink-log <command> [flags] <file.elog>
//
// Commands:
//
//	view     View capture in human-readable format
//	export   Export capture to JSONL or CSV
//	stats    Show statistics about the capture
//
// Examples:
//
//	# View all events
//	erdlink-log view session.elog
//
//	# View only session state changes
//	erdlink-log view --category state session.elog
//
//	# View incoming frames for one appliance
//	erdlink-log view --direction in --appliance D828C9000001 session.elog
//
//	# Export to CSV
//	erdlink-log export --format csv -o session.csv session.elog
//
//	# Show statistics
//	erdlink-log stats session.elog
package main

import (
	"os"

	"github.com/alecthomas/kong"

	"github.com/erdlink/erdlink-go/cmd/erdlink-log/commands"
)

var CLI struct {
	View   commands.ViewCmd   `cmd:"" help:"View capture in human-readable format."`
	Export commands.ExportCmd `cmd:"" help:"Export capture to JSONL or CSV."`
	Stats  commands.StatsCmd  `cmd:"" help:"Show statistics about the capture."`
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("erdlink-log"),
		kong.Description("erdlink session capture analyzer."),
		kong.UsageOnError(),
	)
	err := ctx.Run(&commands.Globals{Stdout: os.Stdout})
	ctx.FatalIfErrorf(err)
}
