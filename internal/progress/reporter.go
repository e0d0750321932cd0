package progress

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/maxkimambo/taskrun/internal/logger"
	"github.com/maxkimambo/taskrun/internal/task"
)

// Event is the notification name tasks publish progress under
const Event = "progress"

// Info is the payload of a progress notification
type Info struct {
	Step    int
	Total   int
	Elapsed time.Duration
	Message string
}

// Percent returns the completed share of the work, 0 when Total is unknown
func (i Info) Percent() float64 {
	if i.Total <= 0 {
		return 0
	}
	return float64(i.Step) / float64(i.Total) * 100
}

// Reporter turns progress notifications into user log lines. It reports at
// most once per interval for each run, always including the final step. A
// run's throttle state is dropped when the run settles, however it ends.
type Reporter struct {
	mu             sync.Mutex
	lastReport     map[task.Task]time.Time
	reportInterval time.Duration
	output         func(msg string)
}

// NewReporter creates a new progress reporter
func NewReporter(reportInterval time.Duration) *Reporter {
	return &Reporter{
		lastReport:     make(map[task.Task]time.Time),
		reportInterval: reportInterval,
		output: func(msg string) {
			logger.User.Progressf("%s", msg)
		},
	}
}

// Subscribe registers the reporter for progress events of the given tasks,
// or of every task when none are given.
func (r *Reporter) Subscribe(m *task.Manager, tasks ...string) error {
	return m.OnNotification(task.Selector{Event: Event, Tasks: tasks}, r)
}

// HandleNotification implements task.Handler
func (r *Reporter) HandleNotification(n task.Notification) {
	info, ok := payloadInfo(n.Payload)
	if !ok {
		logger.Op.WithTask(n.TaskName, "").Debugf("Ignoring %s notification without progress info", n.Event)
		return
	}
	report, tracked := r.shouldReport(n.Sender, info)
	if tracked {
		r.forgetOnSettle(n.Sender)
	}
	if report {
		r.output(r.Report(n.TaskName, info))
	}
}

// shouldReport decides whether info is printed. tracked is true when the
// sender gained a throttle entry.
func (r *Reporter) shouldReport(sender task.Task, info Info) (report, tracked bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	final := info.Total > 0 && info.Step >= info.Total
	if final {
		delete(r.lastReport, sender)
		return true, false
	}
	last, seen := r.lastReport[sender]
	if seen && time.Since(last) < r.reportInterval {
		return false, false
	}
	r.lastReport[sender] = time.Now()
	return true, !seen
}

func (r *Reporter) forgetOnSettle(sender task.Task) {
	owner, ok := sender.(interface{ Observer() (*task.Observer, error) })
	if !ok {
		return
	}
	o, err := owner.Observer()
	if err != nil {
		return
	}
	o.Finally(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.lastReport, sender)
	})
}

// Report formats one progress line
func (r *Reporter) Report(name string, info Info) string {
	var sb strings.Builder

	if info.Total > 0 {
		sb.WriteString(fmt.Sprintf("%s: %d/%d (%.1f%%)", name, info.Step, info.Total, info.Percent()))
	} else {
		sb.WriteString(fmt.Sprintf("%s: step %d", name, info.Step))
	}

	if info.Elapsed > 0 {
		sb.WriteString(fmt.Sprintf(" | Elapsed: %s", FormatDuration(info.Elapsed)))
		if eta := CalculateETA(info.Step, info.Total, info.Elapsed); eta > 0 {
			sb.WriteString(fmt.Sprintf(" | ETA: %s", FormatDuration(eta)))
		}
	}

	if info.Message != "" {
		sb.WriteString(" | ")
		sb.WriteString(info.Message)
	}
	return sb.String()
}

func payloadInfo(payload []any) (Info, bool) {
	if len(payload) == 0 {
		return Info{}, false
	}
	switch v := payload[0].(type) {
	case Info:
		return v, true
	case *Info:
		if v != nil {
			return *v, true
		}
	}
	return Info{}, false
}

// CalculateETA estimates time remaining based on current progress
func CalculateETA(completed, total int, elapsed time.Duration) time.Duration {
	if completed <= 0 || total <= 0 || completed >= total {
		return 0
	}

	averageTimePerStep := elapsed / time.Duration(completed)
	return averageTimePerStep * time.Duration(total-completed)
}

// FormatDuration formats a duration in a user-friendly way
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
