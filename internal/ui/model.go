package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/matthieugras/pos-client/internal/worker"
)

// SessionProbe reports the state of the client's token refresh
type SessionProbe func() (refreshing bool, pending int)

// Model represents the UI state
type Model struct {
	// Progress tracking
	totalJobs     int
	completedJobs int
	failedJobs    int
	totalRecords  int

	// Worker tracking
	workers       []worker.WorkerStatus
	numWorkers    int
	workerUpdates <-chan worker.WorkerStatus

	// Backoff state
	isBackingOff     bool
	backoffRemaining time.Duration

	// Token refresh state, sampled on every tick
	probe      SessionProbe
	refreshing bool
	pending    int

	// Progress bars
	overallProgress progress.Model

	// Results channel
	resultsCh <-chan worker.JobResult

	// Recent results for display
	recentResults []resultInfo
	maxRecent     int

	// Errors
	errors []string

	// Fatal error (stops processing but keeps UI visible)
	fatalError string

	// Dimensions
	width  int
	height int

	// State
	quitting   bool
	done       bool
	startTime  time.Time
	finishTime time.Time

	// Quit callback
	onQuit func()
}

type resultInfo struct {
	resource    string
	recordCount int
	success     bool
	errorMsg    string
	outputFile  string
}

// Message types
type ResultMsg worker.JobResult
type WorkerStatusMsg worker.WorkerStatus
type BackoffMsg struct {
	Active   bool
	Duration time.Duration
}
type TickMsg time.Time
type DoneMsg struct{}

// NewModel creates a new UI model
func NewModel(
	totalJobs int,
	numWorkers int,
	resultsCh <-chan worker.JobResult,
	workerUpdates <-chan worker.WorkerStatus,
	probe SessionProbe,
	onQuit func(),
) Model {
	prog := progress.New(
		progress.WithGradient(ProgressGradientStart, ProgressGradientEnd),
		progress.WithWidth(40),
	)

	workers := make([]worker.WorkerStatus, numWorkers)
	for i := range workers {
		workers[i] = worker.WorkerStatus{ID: i, State: worker.WorkerStateIdle}
	}

	return Model{
		totalJobs:       totalJobs,
		numWorkers:      numWorkers,
		workers:         workers,
		workerUpdates:   workerUpdates,
		probe:           probe,
		overallProgress: prog,
		resultsCh:       resultsCh,
		recentResults:   make([]resultInfo, 0, 10),
		maxRecent:       5,
		errors:          make([]string, 0),
		startTime:       time.Now(),
		onQuit:          onQuit,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		waitForResult(m.resultsCh),
		waitForWorkerStatus(m.workerUpdates),
	)
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			if m.onQuit != nil {
				m.onQuit()
			}
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.overallProgress.Width = max(msg.Width-30, 20)
		return m, nil

	case ResultMsg:
		result := worker.JobResult(msg)
		name := result.Job.DisplayName()

		// Handle fatal errors - display prominently, stop timer, but don't exit
		if result.Fatal {
			m.failedJobs++
			if m.fatalError == "" {
				m.fatalError = fmt.Sprintf("%s: session expired, log in again (%v)", name, result.Error)
				m.finishTime = time.Now() // Stop the elapsed timer
				m.errors = append(m.errors, fmt.Sprintf("FATAL: %s", m.fatalError))
			}

			// Clear all worker statuses to idle (status updates may be dropped after cancel)
			for i := range m.workers {
				m.workers[i] = worker.WorkerStatus{ID: i, State: worker.WorkerStateIdle}
			}

			// Don't exit - let user see the error and press 'q' to quit
			return m, waitForResult(m.resultsCh)
		}

		if result.Error != nil {
			m.failedJobs++
			m.addRecentResult(resultInfo{
				resource: name,
				success:  false,
				errorMsg: result.Error.Error(),
			})
			m.errors = append(m.errors, fmt.Sprintf("%s: %v", name, result.Error))
		} else {
			m.completedJobs++
			m.totalRecords += result.RecordCount
			m.addRecentResult(resultInfo{
				resource:    name,
				recordCount: result.RecordCount,
				success:     true,
				outputFile:  result.OutputFile,
			})
		}
		// Stop timer when all jobs are processed
		if m.completedJobs+m.failedJobs >= m.totalJobs && m.finishTime.IsZero() {
			m.finishTime = time.Now()
		}
		return m, waitForResult(m.resultsCh)

	case WorkerStatusMsg:
		// Ignore status updates after fatal error (workers are already shown as idle)
		if m.fatalError != "" {
			return m, nil
		}
		status := worker.WorkerStatus(msg)
		if status.ID >= 0 && status.ID < len(m.workers) {
			m.workers[status.ID] = status
		}
		return m, waitForWorkerStatus(m.workerUpdates)

	case BackoffMsg:
		m.isBackingOff = msg.Active
		m.backoffRemaining = msg.Duration
		return m, nil

	case TickMsg:
		if m.probe != nil {
			m.refreshing, m.pending = m.probe()
		}
		return m, tickCmd()

	case DoneMsg:
		m.done = true
		if m.finishTime.IsZero() {
			m.finishTime = time.Now()
		}
		return m, nil // Keep TUI visible, user can press 'q' to quit

	case progress.FrameMsg:
		progressModel, cmd := m.overallProgress.Update(msg)
		m.overallProgress = progressModel.(progress.Model)
		return m, cmd
	}

	return m, nil
}

func (m *Model) addRecentResult(r resultInfo) {
	m.recentResults = append(m.recentResults, r)
	if len(m.recentResults) > m.maxRecent {
		m.recentResults = m.recentResults[1:]
	}
}

// View renders the UI
func (m Model) View() string {
	if m.quitting {
		return m.renderFinalSummary()
	}

	var b strings.Builder

	// Header
	header := TitleStyle.Render(" POS Data Fetch ")
	b.WriteString(header + "\n\n")

	// Fatal error banner (if any)
	if m.fatalError != "" {
		bannerWidth := m.width - 6
		if bannerWidth < 40 {
			bannerWidth = 80
		}
		b.WriteString(FatalBannerStyle.Width(bannerWidth).Render("FATAL ERROR: "+m.fatalError) + "\n\n")
	}

	// Overall progress
	completed := m.completedJobs + m.failedJobs
	pct := 0.0
	if m.totalJobs > 0 {
		pct = float64(completed) / float64(m.totalJobs)
	}
	progressLine := fmt.Sprintf("Progress: %s %d/%d resources",
		m.overallProgress.ViewAs(pct), completed, m.totalJobs)
	b.WriteString(progressLine + "\n\n")

	// Stats
	var elapsed time.Duration
	if m.finishTime.IsZero() {
		elapsed = time.Since(m.startTime).Round(time.Second)
	} else {
		elapsed = m.finishTime.Sub(m.startTime).Round(time.Second)
	}
	stats := fmt.Sprintf("Completed: %s  Failed: %s  Records: %s  Elapsed: %s",
		SuccessStyle.Render(fmt.Sprintf("%d", m.completedJobs)),
		ErrorStyle.Render(fmt.Sprintf("%d", m.failedJobs)),
		HighlightStyle.Render(fmt.Sprintf("%d", m.totalRecords)),
		elapsed)
	b.WriteString(stats + "\n\n")

	// Workers status
	b.WriteString(MutedStyle.Render("Workers:") + "\n")
	for _, w := range m.workers {
		b.WriteString(renderWorker(w) + "\n")
	}

	// Session indicator
	if m.refreshing {
		b.WriteString("\n")
		b.WriteString(RefreshStyle.Render(
			fmt.Sprintf("⟳ Refreshing session token (%d requests waiting)", m.pending)) + "\n")
	}

	// Backoff indicator
	if m.isBackingOff {
		b.WriteString("\n")
		backoffMsg := WarningStyle.Render(
			fmt.Sprintf("⚠ Rate limited - backing off for %s", m.backoffRemaining.Round(time.Second)))
		b.WriteString(backoffMsg + "\n")
	}

	// Recent results
	if len(m.recentResults) > 0 {
		b.WriteString("\n" + MutedStyle.Render("Recent:") + "\n")
		for _, r := range m.recentResults {
			var resultLine string
			if r.success {
				resultLine = SuccessStyle.Render(fmt.Sprintf("  ✓ %s (%d records)", r.resource, r.recordCount))
			} else {
				resultLine = ErrorStyle.Render(fmt.Sprintf("  ✗ %s: %s", r.resource, truncate(r.errorMsg, 50)))
			}
			b.WriteString(resultLine + "\n")
		}
	}

	// Footer
	footer := FooterStyle.Render("Press 'q' to quit")
	b.WriteString("\n" + footer)

	return lipgloss.NewStyle().Padding(1, 2).Render(b.String())
}

func renderWorker(w worker.WorkerStatus) string {
	resource := truncate(w.CurrentResource, 20)
	switch w.State {
	case worker.WorkerStateWorking:
		running := time.Since(w.StartedAt).Round(100 * time.Millisecond)
		return WorkerWorkingStyle.Render(fmt.Sprintf("  [%2d] %-20s fetching (%s)", w.ID, resource, running))
	case worker.WorkerStateBackingOff:
		return WorkerBackoffStyle.Render(fmt.Sprintf("  [%2d] %-20s backing off...", w.ID, resource))
	case worker.WorkerStateWriting:
		return WorkerWritingStyle.Render(fmt.Sprintf("  [%2d] %-20s writing (%d)", w.ID, resource, w.Progress))
	case worker.WorkerStateDone:
		return MutedStyle.Render(fmt.Sprintf("  [%2d] done", w.ID))
	default:
		return WorkerIdleStyle.Render(fmt.Sprintf("  [%2d] idle", w.ID))
	}
}

func (m Model) renderFinalSummary() string {
	var b strings.Builder

	elapsed := time.Since(m.startTime).Round(time.Second)

	b.WriteString("\n")
	b.WriteString(TitleStyle.Render(" Fetch Complete ") + "\n\n")

	b.WriteString(fmt.Sprintf("Total resources: %d\n", m.totalJobs))
	b.WriteString(fmt.Sprintf("Completed:       %s\n", SuccessStyle.Render(fmt.Sprintf("%d", m.completedJobs))))
	b.WriteString(fmt.Sprintf("Failed:          %s\n", ErrorStyle.Render(fmt.Sprintf("%d", m.failedJobs))))
	b.WriteString(fmt.Sprintf("Total records:   %s\n", HighlightStyle.Render(fmt.Sprintf("%d", m.totalRecords))))
	b.WriteString(fmt.Sprintf("Duration:        %s\n", elapsed))

	if len(m.errors) > 0 && len(m.errors) <= 10 {
		b.WriteString("\n" + ErrorStyle.Render("Errors:") + "\n")
		for _, err := range m.errors {
			b.WriteString(fmt.Sprintf("  • %s\n", err))
		}
	} else if len(m.errors) > 10 {
		b.WriteString("\n" + ErrorStyle.Render(fmt.Sprintf("Errors: %d (showing first 10)", len(m.errors))) + "\n")
		for _, err := range m.errors[:10] {
			b.WriteString(fmt.Sprintf("  • %s\n", err))
		}
	}

	b.WriteString("\n")
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// Helper commands
func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func waitForResult(ch <-chan worker.JobResult) tea.Cmd {
	return func() tea.Msg {
		result, ok := <-ch
		if !ok {
			return DoneMsg{}
		}
		return ResultMsg(result)
	}
}

func waitForWorkerStatus(ch <-chan worker.WorkerStatus) tea.Cmd {
	return func() tea.Msg {
		status, ok := <-ch
		if !ok {
			return nil
		}
		return WorkerStatusMsg(status)
	}
}
