package alert

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

type IssueState string

const (
	StateOpen   IssueState = "OPEN"
	StateClosed IssueState = "CLOSED"
)

const (
	DefaultLabel       = "queue-alert"
	DefaultTitlePrefix = "[Pytorch]"

	issuePreamble = "Within the last 5 minutes, these machines had long queues (exact numbers may be out of date):\n"
	issueTrailer  = "\nPlease look at the hud metrics page for more info."
	commentHeader = "These machines started queueing:\n"
)

var queueLinePattern = regexp.MustCompile(`^- (.*), .* machines, .* hours$`)

type (
	TrackingIssue struct {
		Number int        `json:"number"`
		Body   string     `json:"body"`
		State  IssueState `json:"state"`
	}
	IssueDraft struct {
		Title  string   `json:"title"`
		Body   string   `json:"body"`
		Labels []string `json:"labels"`
		State  string   `json:"state"`
	}
	IssueOptions struct {
		Label       string
		TitlePrefix string
	}
)

func (i TrackingIssue) IsOpen() bool {
	return i.State == StateOpen
}

// FormatQueueLine renders one queue entry the way it appears in issue bodies
// and update comments. PreviousMachines parses the same shape back.
func FormatQueueLine(q QueueInfo) string {
	return fmt.Sprintf("- %s, %d machines, %s hours\n", q.Machine, q.Count, formatHours(q.Hours))
}

// formatHours rounds the exact value to two decimals, ties to even, and
// keeps at least one fractional digit: 5 renders as "5.0", 3.14159 as
// "3.14" and 2.675 as "2.67".
func formatHours(h float64) string {
	switch {
	case math.IsNaN(h):
		return "nan"
	case math.IsInf(h, 1):
		return "inf"
	case math.IsInf(h, -1):
		return "-inf"
	}

	s := strings.TrimRight(strconv.FormatFloat(h, 'f', 2, 64), "0")
	if strings.HasSuffix(s, ".") {
		s += "0"
	}

	return s
}

// PreviousMachines lists the machines recorded in an open issue's body.
// Closed issues record nothing.
func PreviousMachines(issue TrackingIssue) map[string]struct{} {
	machines := make(map[string]struct{})
	if !issue.IsOpen() {
		return machines
	}

	for _, line := range strings.Split(issue.Body, "\n") {
		match := queueLinePattern.FindStringSubmatch(strings.TrimSpace(line))
		if match != nil {
			machines[match[1]] = struct{}{}
		}
	}

	return machines
}

// NewlyQueueing returns the entries of current that the previous issue did
// not already list.
func NewlyQueueing(previous TrackingIssue, current []QueueInfo) []QueueInfo {
	known := PreviousMachines(previous)

	var started []QueueInfo
	for _, q := range current {
		if _, ok := known[q.Machine]; !ok {
			started = append(started, q)
		}
	}

	return started
}

// UpdateComment summarises the newly queueing machines. An empty string
// means nothing changed that is worth a notification.
func UpdateComment(previous TrackingIssue, current []QueueInfo) string {
	started := NewlyQueueing(previous, current)
	if len(started) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(commentHeader)
	for _, q := range started {
		b.WriteString(FormatQueueLine(q))
	}
	b.WriteString("\n")

	return b.String()
}

func BuildIssue(queues []QueueInfo, opts IssueOptions) IssueDraft {
	sorted := slices.Clone(queues)
	slices.SortFunc(sorted, func(a, b QueueInfo) int {
		return strings.Compare(a.Machine, b.Machine)
	})

	var body strings.Builder
	body.WriteString(issuePreamble)
	for _, q := range sorted {
		body.WriteString(FormatQueueLine(q))
	}
	body.WriteString(issueTrailer)

	label := opts.Label
	if label == "" {
		label = DefaultLabel
	}

	title := fmt.Sprintf("There are %d machines with long queues", len(sorted))
	if opts.TitlePrefix != "" {
		title = opts.TitlePrefix + " " + title
	}

	return IssueDraft{
		Title:  title,
		Body:   body.String(),
		Labels: []string{label},
		State:  "open",
	}
}
