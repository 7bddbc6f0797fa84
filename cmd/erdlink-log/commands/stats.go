package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/erdlink/erdlink-go/pkg/log"
)

// StatsCmd implements 'erdlink-log stats'.
type StatsCmd struct {
	File string `arg:"" help:"Capture file (.elog)." type:"existingfile"`
}

func (c *StatsCmd) Run(g *Globals) error {
	return RunStats(c.File, g.Stdout)
}

// Stats holds aggregate statistics about a capture file.
type Stats struct {
	TotalEvents      int
	EventsByLayer    map[log.Layer]int
	EventsByCategory map[log.Category]int
	Transitions      map[string]int
	Sessions         map[string]*SessionStats
	Errors           int
	FatalErrors      int
	TimeRange        struct {
		Start time.Time
		End   time.Time
	}
}

// SessionStats holds statistics for a single session.
type SessionStats struct {
	FirstSeen   time.Time
	LastSeen    time.Time
	Events      int
	Connects    int
	Drops       int
	Logins      int
	LoginErrors int
	Appliances  map[string]bool
	FinalState  string
}

// RunStats analyzes the capture file and prints statistics.
func RunStats(path string, w io.Writer) error {
	stats := &Stats{
		EventsByLayer:    make(map[log.Layer]int),
		EventsByCategory: make(map[log.Category]int),
		Transitions:      make(map[string]int),
		Sessions:         make(map[string]*SessionStats),
	}

	err := forEach(path, ViewFilter{}, func(event log.Event) error {
		stats.add(event)
		return nil
	})
	if err != nil {
		return err
	}

	printStats(w, stats)
	return nil
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	sess, ok := s.Sessions[event.SessionID]
	if !ok {
		sess = &SessionStats{
			FirstSeen:  event.Timestamp,
			LastSeen:   event.Timestamp,
			Appliances: make(map[string]bool),
		}
		s.Sessions[event.SessionID] = sess
	}
	sess.Events++
	if event.Timestamp.After(sess.LastSeen) {
		sess.LastSeen = event.Timestamp
	}
	if event.ApplianceID != "" {
		sess.Appliances[event.ApplianceID] = true
	}

	switch {
	case event.StateChange != nil:
		sc := event.StateChange
		s.Transitions[sc.OldState+" -> "+sc.NewState]++
		switch sc.NewState {
		case "CONNECTED":
			sess.Connects++
		case "DROPPED":
			sess.Drops++
		}
		sess.FinalState = sc.NewState
	case event.Auth != nil:
		sess.Logins++
		if !event.Auth.Success {
			sess.LoginErrors++
		}
	case event.Error != nil:
		s.Errors++
		if event.Error.Fatal {
			s.FatalErrors++
		}
	}
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== erdlink Session Capture Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerAuth, log.LayerSession} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for c := log.CategoryMessage; c <= log.CategoryError; c++ {
		if count := stats.EventsByCategory[c]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", c.String()+":", count)
		}
	}

	if len(stats.Transitions) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "State Transitions:")
		keys := make([]string, 0, len(stats.Transitions))
		for k := range stats.Transitions {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %-40s %d\n", k, stats.Transitions[k])
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Sessions: %d\n", len(stats.Sessions))
	if len(stats.Sessions) > 0 {
		type sessionInfo struct {
			id    string
			stats *SessionStats
		}
		sessions := make([]sessionInfo, 0, len(stats.Sessions))
		for id, ss := range stats.Sessions {
			sessions = append(sessions, sessionInfo{id, ss})
		}
		sort.Slice(sessions, func(i, j int) bool {
			return sessions[i].stats.FirstSeen.Before(sessions[j].stats.FirstSeen)
		})

		fmt.Fprintln(w)
		for _, s := range sessions {
			duration := s.stats.LastSeen.Sub(s.stats.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %d events, duration %s\n", shortenID(s.id), s.stats.Events, duration)
			fmt.Fprintf(w, "           Connects: %d  Drops: %d  Logins: %d (%d failed)\n",
				s.stats.Connects, s.stats.Drops, s.stats.Logins, s.stats.LoginErrors)
			if len(s.stats.Appliances) > 0 {
				fmt.Fprintf(w, "           Appliances: %d\n", len(s.stats.Appliances))
			}
			if s.stats.FinalState != "" {
				fmt.Fprintf(w, "           Final state: %s\n", s.stats.FinalState)
			}
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d (%d fatal)\n", stats.Errors, stats.FatalErrors)
	}
}
