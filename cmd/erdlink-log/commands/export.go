package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/erdlink/erdlink-go/pkg/log"
)

// ExportCmd implements 'erdlink-log export'.
type ExportCmd struct {
	Filter FilterFlags `embed:""`
	Format string      `help:"Output format." enum:"jsonl,csv" default:"jsonl"`
	Output string      `short:"o" help:"Output file (default: stdout)." type:"path"`
	File   string      `arg:"" help:"Capture file (.elog)." type:"existingfile"`
}

func (c *ExportCmd) Run(g *Globals) error {
	filter, err := c.Filter.Build()
	if err != nil {
		return err
	}

	w := g.Stdout
	if c.Output != "" {
		f, err := os.Create(c.Output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	return RunExport(c.File, filter, c.Format, w)
}

// RunExport writes the matching events of path to w in format.
func RunExport(path string, filter ViewFilter, format string, w io.Writer) error {
	switch format {
	case "jsonl":
		encoder := json.NewEncoder(w)
		return forEach(path, filter, func(e log.Event) error {
			if err := encoder.Encode(e); err != nil {
				return fmt.Errorf("failed to encode event: %w", err)
			}
			return nil
		})
	case "csv":
		return exportCSV(path, filter, w)
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}
}

func exportCSV(path string, filter ViewFilter, w io.Writer) error {
	cw := csv.NewWriter(w)

	header := []string{"timestamp", "session_id", "direction", "layer", "category", "appliance_id", "type", "detail"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	err := forEach(path, filter, func(event log.Event) error {
		eventType, detail, direction := "unknown", "", ""
		switch {
		case event.Message != nil:
			eventType = "message"
			detail = event.Message.Kind
			direction = event.Direction.String()
		case event.StateChange != nil:
			eventType = "state"
			detail = event.StateChange.OldState + "->" + event.StateChange.NewState
		case event.Appliance != nil:
			eventType = "appliance"
			if event.Appliance.Available != nil {
				detail = fmt.Sprintf("available=%t", *event.Appliance.Available)
			} else if event.Appliance.Initialized {
				detail = "initialized"
			}
		case event.Auth != nil:
			eventType = "auth"
			detail = fmt.Sprintf("%s success=%t", event.Auth.Flow, event.Auth.Success)
		case event.Error != nil:
			eventType = "error"
			detail = event.Error.Message
		}

		row := []string{
			event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
			event.SessionID,
			direction,
			event.Layer.String(),
			event.Category.String(),
			event.ApplianceID,
			eventType,
			detail,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
		return nil
	})
	cw.Flush()
	if err != nil {
		return err
	}
	return cw.Error()
}
