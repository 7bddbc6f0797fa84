// Package commands implements the erdlink-log CLI commands.
package commands

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/erdlink/erdlink-go/pkg/log"
)

// Globals is passed to every command's Run method.
type Globals struct {
	Stdout io.Writer
}

// FilterFlags selects events. Empty flags match everything.
type FilterFlags struct {
	Layer     string `help:"Filter by layer (transport, auth, session)."`
	Direction string `help:"Filter by direction (in, out)."`
	Category  string `help:"Filter by category (message, state, appliance, auth, error)."`
	Session   string `help:"Filter by session ID."`
	Appliance string `help:"Filter by appliance ID."`
}

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	log.Filter
	Direction *log.Direction
}

// Build parses the flags into a ViewFilter.
func (f FilterFlags) Build() (ViewFilter, error) {
	filter := ViewFilter{Filter: log.Filter{SessionID: f.Session, ApplianceID: f.Appliance}}

	if f.Layer != "" {
		l, err := ParseLayerFlag(f.Layer)
		if err != nil {
			return filter, err
		}
		filter.Layer = &l
	}
	if f.Direction != "" {
		d, err := ParseDirectionFlag(f.Direction)
		if err != nil {
			return filter, err
		}
		filter.Direction = &d
	}
	if f.Category != "" {
		c, err := ParseCategoryFlag(f.Category)
		if err != nil {
			return filter, err
		}
		filter.Category = &c
	}
	return filter, nil
}

// ViewCmd implements 'erdlink-log view'.
type ViewCmd struct {
	Filter FilterFlags `embed:""`
	File string `arg:"" help:"Capture file (.elog)." type:"existingfile"`
}

func (c *ViewCmd) Run(g *Globals) error {
	filter, err := c.Filter.Build()
	if err != nil {
		return err
	}
	return RunView(c.File, filter, g.Stdout)
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// Header line: timestamp [session] DIRECTION LAYER Type
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")

	var typeLabel string
	switch {
	case event.Message != nil:
		typeLabel = "Message " + event.Message.Kind
	case event.StateChange != nil:
		typeLabel = "State"
	case event.Appliance != nil:
		typeLabel = "Appliance"
	case event.Auth != nil:
		typeLabel = "Auth"
	case event.Error != nil:
		typeLabel = "Error"
	default:
		typeLabel = "Unknown"
	}

	dir := "-"
	if event.Message != nil {
		dir = event.Direction.String()
	}
	fmt.Fprintf(w, "%s [session:%s] %-3s %s %s\n", ts, shortenID(event.SessionID), dir, event.Layer, typeLabel)

	if event.ApplianceID != "" {
		fmt.Fprintf(w, "  Appliance: %s\n", event.ApplianceID)
	}

	switch {
	case event.Message != nil:
		formatMessageDetails(w, event.Message)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Appliance != nil:
		formatApplianceDetails(w, event.Appliance)
	case event.Auth != nil:
		fmt.Fprintf(w, "  Flow: %s  Success: %t\n", event.Auth.Flow, event.Auth.Success)
		if !event.Auth.Expiry.IsZero() {
			fmt.Fprintf(w, "  Expiry: %s\n", event.Auth.Expiry.UTC().Format("2006-01-02T15:04:05Z"))
		}
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w) // Blank line between events
}

// shortenID returns the first 8 characters of a session ID.
func shortenID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatMessageDetails(w io.Writer, msg *log.MessageEvent) {
	fmt.Fprintf(w, "  Size: %d bytes\n", msg.Size)
	if len(msg.Attributes) == 0 {
		return
	}
	attrs := make([]string, 0, len(msg.Attributes))
	for attr := range msg.Attributes {
		attrs = append(attrs, attr)
	}
	sort.Strings(attrs)
	for _, attr := range attrs {
		fmt.Fprintf(w, "  %s = %s\n", attr, msg.Attributes[attr])
	}
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  %s -> %s (retries %d)\n", sc.OldState, sc.NewState, sc.Retries)
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatApplianceDetails(w io.Writer, ae *log.ApplianceEvent) {
	if ae.Available != nil {
		fmt.Fprintf(w, "  Available: %t\n", *ae.Available)
	}
	if ae.Initialized {
		fmt.Fprintf(w, "  Initialized: type %s\n", ae.Type)
	}
}

func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer)
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Fatal {
		fmt.Fprintln(w, "  Fatal: true")
	}
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// ParseLayerFlag parses a layer string from command-line flag (case-insensitive).
func ParseLayerFlag(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "transport":
		return log.LayerTransport, nil
	case "auth":
		return log.LayerAuth, nil
	case "session":
		return log.LayerSession, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be transport, auth, or session)", s)
	}
}

// ParseDirectionFlag parses a direction string from command-line flag (case-insensitive).
func ParseDirectionFlag(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// ParseCategoryFlag parses a category string from command-line flag (case-insensitive).
func ParseCategoryFlag(s string) (log.Category, error) {
	c, ok := log.ParseCategory(strings.ToUpper(s))
	if !ok {
		return 0, fmt.Errorf("invalid category: %s (must be message, state, appliance, auth, or error)", s)
	}
	return c, nil
}

// forEach calls fn for every event in path that matches filter.
func forEach(path string, filter ViewFilter, fn func(log.Event) error) error {
	reader, err := log.NewFilteredReader(path, filter.Filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		// Direction only applies to transport messages.
		if filter.Direction != nil && (event.Message == nil || event.Direction != *filter.Direction) {
			continue
		}
		if err := fn(event); err != nil {
			return err
		}
	}
}

// RunView executes the view command.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	return forEach(path, filter, func(e log.Event) error {
		formatEvent(output, e)
		return nil
	})
}
