package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"songconvert/internal/preflight"
	"songconvert/internal/stage"
	"songconvert/internal/workflow"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

func renderStatus(w io.Writer, snapshot statusSnapshot, colorize bool) {
	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(w, line)
	}
	for _, line := range daemonLines(snapshot, colorize) {
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)

	for _, line := range renderSectionHeader("Checks", colorize) {
		fmt.Fprintln(w, line)
	}
	for _, line := range checkLines(snapshot.Checks, colorize) {
		fmt.Fprintln(w, line)
	}

	if snapshot.Daemon == nil {
		return
	}
	fmt.Fprintln(w)
	for _, line := range renderSectionHeader("Pipeline", colorize) {
		fmt.Fprintln(w, line)
	}
	for _, line := range healthLines(snapshot.Daemon.Health, colorize) {
		fmt.Fprintln(w, line)
	}
	fmt.Fprint(w, renderTable(
		[]string{"Stage", "Workers", "Queued", "In flight", "Processed", "Failed"},
		stageRows(snapshot.Daemon.Stages),
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
	))
	fmt.Fprintln(w)
}

func daemonLines(snapshot statusSnapshot, colorize bool) []string {
	if !snapshot.Running || snapshot.Daemon == nil {
		return []string{renderStatusLine("songconvert", statusError, "Not running ("+snapshot.Address+")", colorize)}
	}
	d := snapshot.Daemon
	kind, state := statusOK, "Running"
	if d.ShuttingDown {
		kind, state = statusWarn, "Draining"
	}
	lines := []string{
		renderStatusLine("songconvert", kind, fmt.Sprintf("%s (pid %d)", state, d.PID), colorize),
		renderStatusLine("Address", statusInfo, d.Address, colorize),
	}
	if !d.StartedAt.IsZero() {
		uptime := time.Since(d.StartedAt).Round(time.Second)
		lines = append(lines, renderStatusLine("Uptime", statusInfo, uptime.String(), colorize))
	}
	return lines
}

func checkLines(results []preflight.Result, colorize bool) []string {
	lines := make([]string, 0, len(results)+1)
	kind := statusOK
	if len(preflight.Failed(results)) > 0 {
		kind = statusError
	}
	lines = append(lines, renderStatusLine("Summary", kind, preflight.Summary(results), colorize))
	for _, r := range results {
		kind := statusOK
		if !r.Passed {
			kind = statusError
		}
		lines = append(lines, renderStatusLine(r.Name, kind, r.Detail, colorize))
	}
	return lines
}

func healthLines(health []stage.Health, colorize bool) []string {
	lines := make([]string, 0, len(health))
	for _, h := range health {
		if h.Ready {
			lines = append(lines, renderStatusLine(h.Name, statusOK, "Ready", colorize))
			continue
		}
		lines = append(lines, renderStatusLine(h.Name, statusWarn, h.Detail, colorize))
	}
	return lines
}

func stageRows(stats []workflow.StageStats) [][]string {
	rows := make([][]string, 0, len(stats))
	for _, s := range stats {
		rows = append(rows, []string{
			s.Name,
			strconv.Itoa(s.Workers),
			strconv.Itoa(s.Queued),
			strconv.FormatInt(s.InFlight, 10),
			strconv.FormatInt(s.Processed, 10),
			strconv.FormatInt(s.Failed, 10),
		})
	}
	return rows
}

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := statusKindLabel(kind)
	if message != "" {
		statusText = fmt.Sprintf("[%s] %s", statusText, message)
	} else {
		statusText = fmt.Sprintf("[%s]", statusText)
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
