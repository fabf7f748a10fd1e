package app

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/olekukonko/tablewriter"

	"github.com/stacklok/promptsync/internal/merge"
	"github.com/stacklok/promptsync/internal/service"
	"github.com/stacklok/promptsync/internal/status"
	pkgsync "github.com/stacklok/promptsync/internal/sync"
)

const (
	outputText = "text"
	outputJSON = "json"
)

// printer writes human readable output. The renderer drops colors when the
// writer is not a terminal.
type printer struct {
	w io.Writer

	title   lipgloss.Style
	label   lipgloss.Style
	ok      lipgloss.Style
	warn    lipgloss.Style
	failure lipgloss.Style
	muted   lipgloss.Style
}

func newPrinter(w io.Writer) *printer {
	r := lipgloss.NewRenderer(w)
	p := &printer{
		w:       w,
		title:   r.NewStyle().Bold(true),
		label:   r.NewStyle().Bold(true).Width(22),
		ok:      r.NewStyle().Foreground(lipgloss.Color("2")),
		warn:    r.NewStyle().Foreground(lipgloss.Color("3")),
		failure: r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		muted:   r.NewStyle().Foreground(lipgloss.Color("8")),
	}
	return p
}

func (p *printer) println(s string) {
	_, _ = fmt.Fprintln(p.w, s)
}

func (p *printer) heading(s string) {
	p.println(p.title.Render(s))
}

func (p *printer) keyValues(rows [][2]string) {
	for _, row := range rows {
		if row[1] == "" {
			continue
		}
		p.println(p.label.Render(row[0]+":") + row[1])
	}
}

func (p *printer) table(header []string, rows [][]string) error {
	table := tablewriter.NewWriter(p.w)
	h := make([]any, len(header))
	for i, s := range header {
		h[i] = s
	}
	table.Header(h...)
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func validateOutput(format string) error {
	switch format {
	case outputText, outputJSON:
		return nil
	default:
		return fmt.Errorf("unsupported output format %q (text or json)", format)
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "never"
	}
	return t.Local().Format(time.DateTime)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// printStatus renders the sync status
func (p *printer) printStatus(st *service.Status) {
	p.heading("Sync status")

	phase := string(st.Phase)
	if phase == "" {
		phase = "Idle"
	}
	switch {
	case st.InProgress:
		phase = p.warn.Render("Syncing")
	case st.Phase == status.SyncPhaseFailed:
		phase = p.failure.Render(phase)
	case st.Phase == status.SyncPhaseComplete:
		phase = p.ok.Render(phase)
	}

	connection := "not tested"
	if st.ConnectionTested {
		connection = p.failure.Render("failing")
		if st.ConnectionValid {
			connection = p.ok.Render("ok")
		}
		if st.ConnectionMessage != "" {
			connection += " " + p.muted.Render("("+st.ConnectionMessage+")")
		}
	}

	rows := [][2]string{
		{"Enabled", yesNo(st.Enabled)},
		{"Automatic sync", yesNo(st.AutoSync)},
		{"Provider", string(st.Provider)},
		{"Location", st.Location},
		{"Device", st.DeviceID},
		{"Connection", connection},
		{"Phase", phase},
		{"Message", st.Message},
		{"Last attempt", formatTime(st.LastAttempt)},
		{"Last sync", formatTime(st.LastSyncTime)},
		{"Items", strconv.Itoa(st.ItemCount)},
	}
	if st.ConsecutiveFailures > 0 {
		rows = append(rows, [2]string{"Failures", p.warn.Render(strconv.Itoa(st.ConsecutiveFailures))})
	}
	if st.AutoSyncSuspended {
		rows = append(rows, [2]string{"Suspended", p.failure.Render(st.SuspendedReason)})
	}
	p.keyValues(rows)
}

// printResult renders the outcome of a sync run
func (p *printer) printResult(res *pkgsync.Result) {
	switch {
	case res.NeedsConfirmation:
		p.println(p.warn.Render("Sync paused: merging needs confirmation"))
		if res.MergeInfo != nil {
			p.printMergeInfo(res.MergeInfo)
		}
		p.println(p.muted.Render(`Run "promptsync sync --confirm" to merge.`))
		return
	case res.Success:
		p.println(p.ok.Render("Sync complete") + " " + p.muted.Render(res.Message))
	default:
		p.println(p.failure.Render("Sync failed") + " " + res.Message)
	}

	p.keyValues([][2]string{
		{"Path", string(res.Path)},
		{"Processed", strconv.Itoa(res.ItemsProcessed)},
		{"Created", strconv.Itoa(res.ItemsCreated)},
		{"Updated", strconv.Itoa(res.ItemsUpdated)},
		{"Deleted", strconv.Itoa(res.ItemsDeleted)},
		{"Uploaded", strconv.Itoa(res.ItemsUploaded)},
		{"Conflicts resolved", strconv.Itoa(res.ConflictsResolved)},
		{"Duration", res.Duration().Round(time.Millisecond).String()},
	})
	for _, e := range res.Errors {
		p.printErrorInfo(p.failure, "error", e)
	}
	for _, w := range res.Warnings {
		p.printErrorInfo(p.warn, "warning", w)
	}
}

func (p *printer) printErrorInfo(style lipgloss.Style, kind string, e pkgsync.ErrorInfo) {
	p.println(style.Render(fmt.Sprintf("%s [%s]", kind, e.Code)) + " " + e.Message)
	if e.Remediation != "" {
		p.println("  " + p.muted.Render(e.Remediation))
	}
}

func (p *printer) printMergeInfo(info *merge.MergeInfo) {
	p.keyValues([][2]string{
		{"Local items", strconv.Itoa(info.LocalItemCount)},
		{"Remote items", strconv.Itoa(info.RemoteItemCount)},
		{"Conflicting items", strconv.Itoa(info.ConflictingItems)},
		{"Content conflicts", strconv.Itoa(info.ContentConflicts)},
		{"Remote device", info.RemoteDeviceID},
	})
	for _, reason := range info.Reasons {
		p.println("  - " + reason)
	}
}

// printPreview renders a comparison of the local and remote snapshots
func (p *printer) printPreview(preview *pkgsync.Preview) error {
	p.heading("Comparison")
	remote := "none"
	if preview.RemoteExists {
		remote = strconv.Itoa(preview.RemoteItems)
	}
	p.keyValues([][2]string{
		{"Local items", strconv.Itoa(preview.LocalItems)},
		{"Remote items", remote},
		{"Remote device", preview.RemoteDeviceID},
		{"Remote sync id", preview.RemoteSyncID},
	})
	if preview.RemoteNewerApp {
		p.println(p.warn.Render("The remote was written by a newer version (" + preview.RemoteAppVersion + ")"))
	}
	if preview.Confirmation != nil {
		p.println(p.warn.Render("A sync would ask for confirmation before merging"))
		p.printMergeInfo(preview.Confirmation)
	}

	if len(preview.Counts) > 0 {
		actions := make([]string, 0, len(preview.Counts))
		for a, n := range preview.Counts {
			actions = append(actions, fmt.Sprintf("%s=%d", a, n))
		}
		sort.Strings(actions)
		p.keyValues([][2]string{{"Actions", strings.Join(actions, " ")}})
	}

	if len(preview.Entries) == 0 {
		p.println(p.ok.Render("Nothing to sync"))
		return nil
	}

	rows := make([][]string, 0, len(preview.Entries))
	for _, e := range preview.Entries {
		fields := make([]string, 0, len(e.Fields))
		for _, f := range e.Fields {
			fields = append(fields, fmt.Sprintf("%s +%d -%d", f.Field, f.Insertions, f.Deletions))
		}
		rows = append(rows, []string{string(e.Action), string(e.Type), e.Title, e.Reason, strings.Join(fields, ", ")})
	}
	return p.table([]string{"Action", "Type", "Title", "Reason", "Changes"}, rows)
}

// printConnection renders the outcome of a connection test
func (p *printer) printConnection(res *service.ConnectionResult) {
	if res.Valid {
		p.println(p.ok.Render("Connection successful") + " " + p.muted.Render(res.Location))
		return
	}
	p.println(p.failure.Render("Connection failed") + " " + res.Message)
	if res.Error != nil && res.Error.Remediation != "" {
		p.println("  " + p.muted.Render(res.Error.Remediation))
	}
}
