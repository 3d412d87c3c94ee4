package ui

import (
	"fmt"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/matthieugras/pos-client/internal/api"
	"github.com/matthieugras/pos-client/internal/backoff"
	"github.com/matthieugras/pos-client/internal/worker"
)

// App wraps the Bubble Tea program
type App struct {
	program *tea.Program
	model   Model
}

// NewApp creates a new UI application
func NewApp(
	totalJobs int,
	numWorkers int,
	resultsCh <-chan worker.JobResult,
	workerUpdates <-chan worker.WorkerStatus,
	bo *backoff.GlobalBackoff,
	probe SessionProbe,
	onQuit func(),
) *App {
	app := &App{
		model: NewModel(totalJobs, numWorkers, resultsCh, workerUpdates, probe, onQuit),
	}

	// Forward backoff changes to the UI
	bo.OnChange(func(active bool, d time.Duration) {
		app.Send(BackoffMsg{Active: active, Duration: d})
	})

	return app
}

// CoordinatorProbe samples the refresh state of c
func CoordinatorProbe(c *api.Coordinator) SessionProbe {
	return func() (bool, int) {
		return c.Refreshing(), c.Pending()
	}
}

// Run starts the UI
func (a *App) Run() error {
	a.program = tea.NewProgram(a.model, tea.WithAltScreen())

	if _, err := a.program.Run(); err != nil {
		return fmt.Errorf("UI error: %w", err)
	}

	return nil
}

// Send sends a message to the UI
func (a *App) Send(msg tea.Msg) {
	if a.program != nil {
		a.program.Send(msg)
	}
}

// Quit quits the UI
func (a *App) Quit() {
	if a.program != nil {
		a.program.Quit()
	}
}

// Summary is the outcome of a simple-mode run
type Summary struct {
	Completed int
	Failed    int
	Records   int
	Fatal     error
}

// RunSimple prints results line by line (for non-interactive mode)
func RunSimple(w io.Writer, totalJobs int, resultsCh <-chan worker.JobResult) Summary {
	var s Summary

	fmt.Fprintf(w, "Fetching %d resources...\n\n", totalJobs)

	for result := range resultsCh {
		name := result.Job.DisplayName()
		if result.Error != nil {
			s.Failed++
			if result.Fatal && s.Fatal == nil {
				s.Fatal = result.Error
			}
			fmt.Fprintf(w, "✗ %s: %v\n", name, result.Error)
			continue
		}
		s.Completed++
		s.Records += result.RecordCount
		fmt.Fprintf(w, "✓ %s: %d records -> %s (%s)\n",
			name,
			result.RecordCount,
			result.OutputFile,
			result.Duration.Round(time.Millisecond))
	}

	fmt.Fprintf(w, "\nComplete: %d succeeded, %d failed, %d total records\n",
		s.Completed, s.Failed, s.Records)
	return s
}
