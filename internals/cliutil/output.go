package cliutil

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/civ-ci/civ/internals/schemas"
)

var (
	green  = lipgloss.Color("#2ecc71")
	red    = lipgloss.Color("#e74c3c")
	yellow = lipgloss.Color("#f1c40f")
	blue   = lipgloss.Color("#3498db")
	gray   = lipgloss.Color("#555")

	headerStyle = lipgloss.NewStyle().Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(gray)
	keyStyle    = lipgloss.NewStyle().Foreground(blue)

	statusStyles = map[schemas.BuildStatus]lipgloss.Style{
		schemas.BuildStatusSuccess:  lipgloss.NewStyle().Foreground(green).Bold(true),
		schemas.BuildStatusFailure:  lipgloss.NewStyle().Foreground(red).Bold(true),
		schemas.BuildStatusError:    lipgloss.NewStyle().Foreground(red).Bold(true),
		schemas.BuildStatusUnstable: lipgloss.NewStyle().Foreground(yellow),
		schemas.BuildStatusAborted:  lipgloss.NewStyle().Foreground(gray),
		schemas.BuildStatusNotBuilt: lipgloss.NewStyle().Foreground(gray),
		schemas.BuildStatusRunning:  lipgloss.NewStyle().Foreground(blue),
	}
)

// Printer renders API responses for people, or as JSON with JSON set.
// Colors and hyperlinks are only used when Out is a terminal.
type Printer struct {
	Out   io.Writer
	JSON  bool
	color bool
	links bool
	now   func() time.Time
}

func NewPrinter(out io.Writer, asJSON bool) *Printer {
	tty := false
	if f, ok := out.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Printer{
		Out:   out,
		JSON:  asJSON,
		color: tty && os.Getenv("NO_COLOR") == "",
		links: tty && SupportsHyperlinks(),
		now:   time.Now,
	}
}

func (p *Printer) paint(style lipgloss.Style, s string) string {
	if !p.color {
		return s
	}
	return style.Render(s)
}

func (p *Printer) status(status schemas.BuildStatus) string {
	style, ok := statusStyles[status]
	if !ok {
		return string(status)
	}
	return p.paint(style, string(status))
}

func (p *Printer) link(label, url string) string {
	if !p.links {
		return label
	}
	return ClickableLink(label, url)
}

func (p *Printer) ago(raw string) string {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return raw
	}
	return humanize.RelTime(t, p.now(), "ago", "from now")
}

func (p *Printer) writeJSON(v any) error {
	encoder := json.NewEncoder(p.Out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func (p *Printer) TaskTriggered(response *schemas.TaskTriggerResponse) error {
	if p.JSON {
		return p.writeJSON(response)
	}
	fmt.Fprintf(p.Out, "task: %s\n", response.Task.ID)
	fmt.Fprintf(p.Out, "job: %s\n", response.Task.JobName)
	fmt.Fprintf(p.Out, "queued: %s\n", p.paint(mutedStyle, response.QueueTaskID))
	return nil
}

func (p *Printer) Tasks(response *schemas.TaskListResponse) error {
	if p.JSON {
		return p.writeJSON(response)
	}
	if len(response.Tasks) == 0 {
		fmt.Fprintln(p.Out, p.paint(mutedStyle, "no tasks"))
		return nil
	}
	rows := [][]string{p.header("ID", "TITLE", "JOB", "ORIGIN", "USER", "CREATED")}
	for _, task := range response.Tasks {
		rows = append(rows, []string{task.ID, task.Title, task.JobName, task.Origin.String(), task.User, p.ago(task.CreatedAt)})
	}
	p.table(rows)
	return nil
}

func (p *Printer) Task(task *schemas.TaskResponse) error {
	if p.JSON {
		return p.writeJSON(task)
	}
	p.field("id", task.ID)
	p.field("title", task.Title)
	p.field("job", task.JobName)
	p.field("origin", task.Origin.String())
	if task.User != "" {
		p.field("user", task.User)
	}
	p.field("created", p.ago(task.CreatedAt))
	p.params(task.Parameters)
	fmt.Fprintf(p.Out, "%s %s\n", p.paint(keyStyle, "builds:"), humanize.Comma(int64(len(task.Builds))))
	if len(task.Builds) > 0 {
		p.buildRows(task.Builds)
	}
	return nil
}

func (p *Printer) Builds(response *schemas.BuildListResponse) error {
	if p.JSON {
		return p.writeJSON(response)
	}
	if len(response.Builds) == 0 {
		fmt.Fprintln(p.Out, p.paint(mutedStyle, "no builds"))
		return nil
	}
	p.buildRows(response.Builds)
	return nil
}

func (p *Printer) buildRows(builds []schemas.BuildResponse) {
	rows := [][]string{p.header("ID", "JOB", "NUMBER", "STATUS", "STARTED", "DURATION")}
	for _, build := range builds {
		number := "-"
		if build.BuildNumber >= 0 {
			number = p.link("#"+humanize.Comma(build.BuildNumber), build.URL)
		}
		started := "-"
		if build.StartTime != "" {
			started = p.ago(build.StartTime)
		}
		rows = append(rows, []string{
			fmt.Sprint(build.ID),
			build.JobName,
			number,
			p.status(build.Status),
			started,
			formatDuration(build.DurationMs),
		})
	}
	p.table(rows)
}

func (p *Printer) Build(build *schemas.BuildResponse) error {
	if p.JSON {
		return p.writeJSON(build)
	}
	p.field("id", fmt.Sprint(build.ID))
	p.field("task", build.TaskID)
	p.field("job", build.JobName)
	if build.BuildNumber >= 0 {
		p.field("number", fmt.Sprint(build.BuildNumber))
		p.field("url", p.link(build.URL, build.URL))
	}
	p.field("status", p.status(build.Status))
	if build.StartTime != "" {
		p.field("started", p.ago(build.StartTime))
	}
	if build.DurationMs > 0 {
		p.field("duration", formatDuration(build.DurationMs))
	}
	p.params(build.Parameters)
	if len(build.Artifacts) > 0 {
		p.field("artifacts", strings.Join(build.Artifacts, ", "))
	}
	if len(build.Stages) > 0 {
		p.stageRows(build.Stages)
	}
	return nil
}

func (p *Printer) Stages(response *schemas.StageListResponse) error {
	if p.JSON {
		return p.writeJSON(response)
	}
	if len(response.Stages) == 0 {
		fmt.Fprintln(p.Out, p.paint(mutedStyle, "no stages"))
		return nil
	}
	p.stageRows(response.Stages)
	return nil
}

func (p *Printer) stageRows(stages []schemas.StageResponse) {
	rows := [][]string{p.header("STAGE", "NAME", "STATE", "RESULT", "DURATION")}
	for _, stage := range stages {
		result := stage.Result
		if status, ok := schemas.ParseBuildStatus(result); ok {
			result = p.status(status)
		}
		rows = append(rows, []string{stage.ID, stage.DisplayName, stage.State, result, formatDuration(stage.DurationMs)})
	}
	p.table(rows)
}

func (p *Printer) Jobs(response *schemas.JobListResponse) error {
	if p.JSON {
		return p.writeJSON(response)
	}
	if len(response.Jobs) == 0 {
		fmt.Fprintln(p.Out, p.paint(mutedStyle, "no jobs"))
		return nil
	}
	rows := [][]string{p.header("JOB", "LAST BUILD", "STATUS", "UPDATED")}
	for _, job := range response.Jobs {
		last := "-"
		if job.LastBuildNumber >= 0 {
			last = "#" + humanize.Comma(job.LastBuildNumber)
		}
		rows = append(rows, []string{p.link(job.Name, job.URL), last, p.status(job.LastBuildStatus), p.ago(job.UpdatedAt)})
	}
	p.table(rows)
	return nil
}

func (p *Printer) Job(job *schemas.JobResponse) error {
	if p.JSON {
		return p.writeJSON(job)
	}
	p.field("job", job.Name)
	if job.URL != "" {
		p.field("url", p.link(job.URL, job.URL))
	}
	if job.LastBuildNumber >= 0 {
		p.field("last build", fmt.Sprintf("#%d %s", job.LastBuildNumber, p.status(job.LastBuildStatus)))
	}
	if job.LatestBuild != nil {
		fmt.Fprintln(p.Out, p.paint(keyStyle, "latest:"))
		p.buildRows([]schemas.BuildResponse{*job.LatestBuild})
	}
	return nil
}

func (p *Printer) field(key, value string) {
	fmt.Fprintf(p.Out, "%s %s\n", p.paint(keyStyle, key+":"), value)
}

func (p *Printer) params(params map[string]string) {
	if len(params) == 0 {
		return
	}
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	fmt.Fprintln(p.Out, p.paint(keyStyle, "parameters:"))
	for _, key := range keys {
		fmt.Fprintf(p.Out, "  %s=%s\n", key, params[key])
	}
}

func (p *Printer) header(columns ...string) []string {
	out := make([]string, len(columns))
	for i, column := range columns {
		out[i] = p.paint(headerStyle, column)
	}
	return out
}

// table left aligns rows on the printed width of each cell, which ignores
// color and hyperlink escapes.
func (p *Printer) table(rows [][]string) {
	var widths []int
	for _, row := range rows {
		for i, cell := range row {
			if i >= len(widths) {
				widths = append(widths, 0)
			}
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}
	for _, row := range rows {
		var line strings.Builder
		for i, cell := range row {
			line.WriteString(cell)
			if i < len(row)-1 {
				line.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(cell)+2))
			}
		}
		fmt.Fprintln(p.Out, strings.TrimRight(line.String(), " "))
	}
}

func formatDuration(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	d := time.Duration(ms) * time.Millisecond
	if d < time.Second {
		return d.String()
	}
	return d.Round(time.Second).String()
}
