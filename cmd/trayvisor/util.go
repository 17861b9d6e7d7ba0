package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/loykin/trayvisor/pkg/client"
)

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}

func printStatus(w io.Writer, st client.ServiceStatus) {
	line := fmt.Sprintf("%s: %s", st.Name, st.State)
	if st.PID > 0 {
		line += fmt.Sprintf(" (pid %d, up %s)", st.PID, time.Since(st.StartedAt).Round(time.Second))
	}
	if st.Exit != nil {
		if st.Exit.Signal != "" {
			line += fmt.Sprintf(" last exit: signal %s", st.Exit.Signal)
		} else {
			line += fmt.Sprintf(" last exit: code %d", st.Exit.Code)
		}
	}
	if st.Restarts > 0 {
		line += fmt.Sprintf(" restarts=%d", st.Restarts)
	}
	if !st.NextRestartAt.IsZero() {
		line += fmt.Sprintf(" next restart in %s", time.Until(st.NextRestartAt).Round(time.Millisecond))
	}
	if st.Failed {
		line += " FAILED"
	}
	if st.LastError != "" {
		line += ": " + st.LastError
	}
	_, _ = fmt.Fprintln(w, line)
}

func printHistory(w io.Writer, evs []client.Event) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tFROM\tTO\tPID\tEXIT\tERROR")
	for _, e := range evs {
		exit := ""
		switch {
		case e.Signal != "":
			exit = e.Signal
		case e.ExitCode != nil:
			exit = fmt.Sprint(*e.ExitCode)
		}
		pid := ""
		if e.PID > 0 {
			pid = fmt.Sprint(e.PID)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.OccurredAt.Local().Format(time.DateTime), e.From, e.To, pid, exit, e.Error)
	}
	_ = tw.Flush()
}
