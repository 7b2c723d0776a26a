// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/galileo/ml/train"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// ProgressBarName is the name of the hooks registered by AttachProgressBar.
const ProgressBarName = "galileo.ml.train.commandline.progressBar"

// redrawInterval is the minimum time between two redraws of the stats table.
const redrawInterval = 200 * time.Millisecond

var (
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	normalStyle = lipgloss.NewStyle().Padding(0, 1)
	tableStyle = lipgloss.NewStyle().PaddingLeft(8)
)

// progressBar draws the training progress followed by a table with the current train metrics. Updates
// are queued by the loop hooks and drawn by a separate goroutine, so a slow terminal doesn't slow
// training down.
type progressBar struct {
	out      *termenv.Output
	bar      *progressbar.ProgressBar
	lastStep int

	updates   chan progressUpdate
	drawn     sync.WaitGroup
	drawnRows int
}

// progressUpdate is a number of steps done and the stats rows to display.
type progressUpdate struct {
	steps int
	rows  [][2]string

	// newMax, if > 0, is the newly known number of steps of the run.
	newMax int
}

// merge folds a later update into u.
func (u progressUpdate) merge(later progressUpdate) progressUpdate {
	u.steps += later.steps
	if later.rows != nil {
		u.rows = later.rows
	}
	if later.newMax > 0 {
		u.newMax = later.newMax
	}
	return u
}

func (p *progressBar) onStart(loop *train.Loop, ds train.Dataset) error {
	p.lastStep = loop.LoopStep
	total, description := -1, fmt.Sprintf("Training on %q: ", ds.Name())
	if loop.EndStep >= 0 {
		total = loop.EndStep - loop.StartStep
		description = fmt.Sprintf("Training on %q (%d steps): ", ds.Name(), total)
	}
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionSetTheme(progressbar.ThemeUnicode),
		progressbar.OptionSetWriter(os.Stdout),
	)
	p.drawnRows = 0
	p.updates = make(chan progressUpdate, 128)
	p.drawn.Add(1)
	go p.draw()
	return nil
}

// next blocks for the next update, and merges into it all the other updates already queued.
func (p *progressBar) next() (update progressUpdate, ok bool) {
	update, ok = <-p.updates
	for ok {
		select {
		case later, more := <-p.updates:
			if !more {
				return update, true
			}
			update = update.merge(later)
		default:
			return update, true
		}
	}
	return
}

func (p *progressBar) draw() {
	defer p.drawn.Done()
	for {
		update, ok := p.next()
		if !ok {
			return
		}
		if p.drawnRows > 0 {
			p.out.ClearLines(p.drawnRows)
		}
		if update.newMax > 0 {
			p.bar.ChangeMax(update.newMax)
		}
		_ = p.bar.Add(update.steps)
		stats := lgtable.New().
			Border(lipgloss.RoundedBorder()).
			StyleFunc(func(_, col int) lipgloss.Style {
				if col == 0 {
					return rightAlignedStyle
				}
				return normalStyle
			})
		for _, row := range update.rows {
			stats.Row(row[0], row[1])
		}
		fmt.Println()
		fmt.Println(tableStyle.Render(stats.String()))
		// Progress bar line, the table rows and its top and bottom borders.
		p.drawnRows = len(update.rows) + 3
		time.Sleep(redrawInterval)
	}
}

func (p *progressBar) onStep(loop *train.Loop, trainMetrics []float64) error {
	steps := loop.LoopStep + 1 - p.lastStep
	if steps <= 0 || p.bar.IsFinished() {
		return nil
	}
	p.lastStep = loop.LoopStep + 1
	endStep := "?"
	if loop.EndStep >= 0 {
		endStep = fmt.Sprint(loop.EndStep)
	}
	rows := [][2]string{
		{"Step", fmt.Sprintf("%d / %s", loop.LoopStep, endStep)},
		{"Epoch", fmt.Sprint(loop.Epoch)},
	}
	for ii, metric := range loop.Trainer.TrainMetrics() {
		rows = append(rows, [2]string{metric.Name(), metric.PrettyPrint(trainMetrics[ii])})
	}
	p.updates <- progressUpdate{steps: steps, rows: rows}
	return nil
}

// onEpochEnd updates the size of the bar once the number of steps per epoch is known.
func (p *progressBar) onEpochEnd(loop *train.Loop, _ []float64) error {
	if loop.EndStep > loop.StartStep {
		p.updates <- progressUpdate{newMax: loop.EndStep - loop.StartStep}
	}
	return nil
}

func (p *progressBar) onEnd(_ *train.Loop, _ []float64) error {
	if p.updates != nil {
		close(p.updates)
		p.updates = nil
	}
	p.drawn.Wait()
	fmt.Println()
	return nil
}

// AttachProgressBar displays a progress bar and the train metrics on the terminal every time the loop runs.
// It updates at most 1000 times during a run, and at least every 3 seconds.
func AttachProgressBar(loop *train.Loop) {
	p := &progressBar{out: termenv.NewOutput(os.Stdout)}
	loop.OnStart(ProgressBarName, 0, p.onStart)
	train.NTimesDuringLoop(loop, 1000, ProgressBarName, 0, p.onStep)
	train.PeriodicCallback(loop, 3*time.Second, false, ProgressBarName, 0, p.onStep)
	loop.OnEpochEnd(ProgressBarName, 0, p.onEpochEnd)
	loop.OnEnd(ProgressBarName, 0, p.onEnd)
}
