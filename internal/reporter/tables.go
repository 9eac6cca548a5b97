package reporter

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ppiankov/pgokache/internal/model"
)

// WriteSetup renders a setup check result. Non-text formats emit JSON.
func WriteSetup(w io.Writer, info *model.SetupInfo, format Format) error {
	if format != FormatText {
		return WriteJSON(w, info)
	}
	p := painter(isTTY(w))

	color := colorRed
	if info.Ready {
		color = colorGreen
	}
	if _, err := fmt.Fprintf(w, "%s %s\n", info.InstanceID, p.paint(color, string(info.Status))); err != nil {
		return err
	}
	if info.Version != "" {
		if _, err := fmt.Fprintf(w, "  server: %s\n", info.Version); err != nil {
			return err
		}
	}
	for _, c := range info.Checks {
		v := "skipped"
		if c.Value != nil {
			v = fmt.Sprint(c.Value)
		}
		if _, err := fmt.Fprintf(w, "  %s: %s\n", c.Name, v); err != nil {
			return err
		}
	}
	if info.Error != nil {
		if _, err := fmt.Fprintf(w, "  error: %s: %s\n", info.Error.Kind, info.Error.Detail); err != nil {
			return err
		}
	}
	if len(info.Guide) > 0 {
		if _, err := fmt.Fprintln(w, "\nNext steps:"); err != nil {
			return err
		}
		for i, step := range info.Guide {
			if _, err := fmt.Fprintf(w, "  %d. %s\n", i+1, step); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteSetupStates renders stored readiness verdicts.
func WriteSetupStates(w io.Writer, states []model.SetupState, format Format) error {
	if format != FormatText {
		return WriteJSON(w, states)
	}
	if len(states) == 0 {
		_, err := fmt.Fprintln(w, "No instances checked.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INSTANCE\tSTATUS\tREADY\tPG\tCHECKED")
	for _, s := range states {
		pg := "-"
		if s.PGVersionNum != nil {
			pg = fmt.Sprint(*s.PGVersionNum)
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n", s.InstanceID, s.Status, s.Ready, pg, s.LastCheckedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

// WriteInstances renders registered instances. Passwords are never part
// of an Instance.
func WriteInstances(w io.Writer, insts []model.Instance, format Format) error {
	if format != FormatText {
		return WriteJSON(w, insts)
	}
	if len(insts) == 0 {
		_, err := fmt.Fprintln(w, "No instances registered.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTARGET\tSSL")
	for _, in := range insts {
		fmt.Fprintf(tw, "%s\t%s\t%s@%s:%d/%s\t%s\n", in.ID, in.Name, in.User, in.Host, in.Port, in.DBName, in.SSLMode)
	}
	return tw.Flush()
}

// WriteSnapshots renders the latest snapshot of each instance with its
// top statements.
func WriteSnapshots(w io.Writer, snaps []model.Snapshot, format Format) error {
	if format != FormatText {
		return WriteJSON(w, snaps)
	}
	if len(snaps) == 0 {
		_, err := fmt.Fprintln(w, "No snapshots.")
		return err
	}
	p := painter(isTTY(w))
	for i, s := range snaps {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		header := fmt.Sprintf("%s snapshot %s at %s (%d statements)",
			s.InstanceID, s.ID, s.CapturedAt.Format(time.RFC3339), len(s.Stats))
		if _, err := fmt.Fprintln(w, p.paint(colorBold, header)); err != nil {
			return err
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  QUERYID\tCALLS\tTOTAL_MS\tMEAN_MS\tROWS\tREAD\tTEMP\tQUERY")
		for _, st := range s.Stats {
			fmt.Fprintf(tw, "  %s\t%d\t%.1f\t%.2f\t%d\t%d\t%d\t%s\n",
				st.QueryID, st.Calls, st.TotalTimeMs, st.MeanTimeMs, st.Rows,
				st.SharedBlksRead, st.TempBlksWritten, oneLine(st.Query, 80))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func oneLine(q string, n int) string {
	q = strings.Join(strings.Fields(q), " ")
	if r := []rune(q); len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return q
}
