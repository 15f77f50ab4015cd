// Package render prints scripts, timelines and journal entries for the CLI.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"scriptdesk/internal/domain"
	"scriptdesk/internal/failure"
	"scriptdesk/internal/matrix"
	"scriptdesk/internal/status"
)

// UI writes colored output to Out and diagnostics to ErrOut.
type UI struct {
	Verbose bool
	Out     io.Writer
	ErrOut  io.Writer
}

func New() *UI {
	return &UI{Out: os.Stdout, ErrOut: os.Stderr}
}

var (
	successPrefix = color.New(color.FgHiGreen).Sprint("✓")
	warningPrefix = color.New(color.FgHiYellow).Sprint("⚠")
	errorPrefix   = color.New(color.FgHiRed).Sprint("✗")
	infoPrefix    = color.New(color.FgHiBlue).Sprint("i")
	cyan          = color.New(color.FgHiCyan).SprintFunc()
	green         = color.New(color.FgHiGreen).SprintFunc()
	yellow        = color.New(color.FgHiYellow).SprintFunc()
	red           = color.New(color.FgHiRed).SprintFunc()
	faint         = color.New(color.Faint).SprintFunc()
)

func (u *UI) Info(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", infoPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Success(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", successPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Warning(format string, a ...any) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", warningPrefix, fmt.Sprintf(format, a...))
}

// Failure prints the person-facing message for err.
func (u *UI) Failure(err error) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", errorPrefix, failure.Message(err))
	if u.Verbose {
		fmt.Fprintf(u.ErrOut, "  %s\n", faint(err.Error()))
	}
}

// JSON writes v indented.
func (u *UI) JSON(v any) error {
	enc := json.NewEncoder(u.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Badge colors a status label by lifecycle stage.
func Badge(s status.Status) string {
	label := s.Label()
	switch s {
	case status.Approved:
		return green(label)
	case status.Rejected:
		return red(label)
	case status.Submitted, status.AwaitingReview, status.AwaitingApproval:
		return yellow(label)
	case status.InAnalysis, status.InReview, status.InApproval:
		return cyan(label)
	default:
		return faint(label)
	}
}

func (u *UI) table() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(u.Out)
	tw.SetStyle(table.StyleLight)
	return tw
}

// Scripts renders the dashboard list.
func (u *UI) Scripts(scripts []domain.Script) {
	tw := u.table()
	tw.AppendHeader(table.Row{"ID", "Title", "Status", "Responsible", "Submitter", "Submitted"})
	for _, s := range scripts {
		tw.AppendRow(table.Row{s.ID, s.Title, Badge(s.Status), dash(s.AssigneeName()), s.Submitter.Name, day(s.SubmittedAt)})
	}
	tw.Render()
}

// Script renders one snapshot with its timeline, votes, history and the
// actions the current actor may request.
func (u *UI) Script(s domain.Script, actions []matrix.Action) {
	tw := u.table()
	tw.SetTitle(fmt.Sprintf("#%d %s", s.ID, s.Title))
	tw.AppendRow(table.Row{"Status", Badge(s.Status)})
	tw.AppendRow(table.Row{"Responsible", dash(s.AssigneeName())})
	tw.AppendRow(table.Row{"Submitter", submitter(s.Submitter)})
	tw.AppendRow(table.Row{"Submitted", stamp(s.SubmittedAt)})
	if s.AnalysisNotes != "" {
		tw.AppendRow(table.Row{"Analysis notes", s.AnalysisNotes})
	}
	if s.ReviewNotes != "" {
		tw.AppendRow(table.Row{"Review notes", s.ReviewNotes})
	}
	tw.Render()

	u.Timeline(s.Status)
	if len(s.Votes) > 0 {
		u.Votes(s.Votes)
	}
	if len(s.History) > 0 {
		u.History(s.History)
	}
	if actions != nil {
		u.Actions(actions)
	}
}

// Timeline prints the five lifecycle steps on one line.
func (u *UI) Timeline(s status.Status) {
	steps := status.Timeline(s)
	parts := make([]string, 0, len(steps))
	for _, st := range steps {
		switch st.State {
		case status.StepDone:
			parts = append(parts, green("● "+st.Label))
		case status.StepCurrent:
			parts = append(parts, cyan("◉ "+st.Label))
		case status.StepApproved:
			parts = append(parts, green("✓ "+st.Label))
		case status.StepRejected:
			parts = append(parts, red("✗ "+st.Label))
		default:
			parts = append(parts, faint("○ "+st.Label))
		}
	}
	fmt.Fprintln(u.Out, strings.Join(parts, " ─ "))
}

func (u *UI) Votes(votes []domain.Vote) {
	tw := u.table()
	tw.AppendHeader(table.Row{"Approver", "Vote", "Justification"})
	for _, v := range votes {
		verdict := red("against")
		if v.Approve {
			verdict = green("for")
		}
		tw.AppendRow(table.Row{v.Actor.Name, verdict, v.Justification})
	}
	tw.Render()
}

func (u *UI) History(entries []domain.HistoryEntry) {
	tw := u.table()
	tw.AppendHeader(table.Row{"When", "Status", "By", "Note"})
	for _, h := range entries {
		tw.AppendRow(table.Row{stamp(h.At), Badge(h.Status), dash(h.Actor), h.Note})
	}
	tw.Render()
}

func (u *UI) Actions(actions []matrix.Action) {
	if len(actions) == 0 {
		fmt.Fprintln(u.Out, faint("No actions available for your role."))
		return
	}
	names := make([]string, 0, len(actions))
	for _, a := range actions {
		names = append(names, fmt.Sprintf("%s (%s)", a.Label(), a))
	}
	fmt.Fprintf(u.Out, "Actions: %s\n", strings.Join(names, ", "))
}

// Journal renders local journal entries.
func (u *UI) Journal(entries []domain.JournalEntry) {
	tw := u.table()
	tw.AppendHeader(table.Row{"Seq", "When", "Type", "Script", "Actor", "Payload"})
	for _, e := range entries {
		script := ""
		if e.ScriptID > 0 {
			script = fmt.Sprintf("#%d", e.ScriptID)
		}
		actor := ""
		if e.ActorID > 0 {
			actor = fmt.Sprintf("%d", e.ActorID)
		}
		tw.AppendRow(table.Row{e.Seq, e.TS, e.Type, script, actor, e.Payload})
	}
	tw.Render()
}

// Actor renders the signed-in identity.
func (u *UI) Actor(a domain.Actor, s domain.Session) {
	tw := u.table()
	tw.AppendRow(table.Row{"Name", a.Name})
	tw.AppendRow(table.Row{"Email", a.Email})
	tw.AppendRow(table.Row{"Role", a.Role.Label()})
	tw.AppendRow(table.Row{"Signed in", stamp(s.EstablishedAt)})
	if !s.ExpiresAt.IsZero() {
		tw.AppendRow(table.Row{"Expires", stamp(s.ExpiresAt)})
	}
	tw.Render()
}

func submitter(s domain.Submitter) string {
	if s.Email == "" {
		return dash(s.Name)
	}
	return fmt.Sprintf("%s <%s>", s.Name, s.Email)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func day(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
