// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/lambdal/towers/pkg/ml/driver"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// ExtraMetricFn is any function that will give extra values to display along the progress bar.
// It is called at each time the progress bar is updated, and it should return a name and the current value when it is called.
type ExtraMetricFn func() (name, value string)

// ProgressbarStyle to use. Defaults to the ASCII version.
// Consider "progressbar.ThemeUnicode" for a prettier version.
// But it requires some of the graphical symbols to be supported.
var ProgressbarStyle = progressbar.ThemeASCII

// ProgressBarName is the name of the training hooks registered by AttachProgressBar.
const ProgressBarName = "towers.ui.commandline.progressBar"

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	tableBorderColor  = "#705090"
)

// maxUpdateFrequency is the time between updates to the commandline display of stats.
var maxUpdateFrequency = time.Millisecond * 200

// progressBar holds a progressbar being displayed.
type progressBar struct {
	out              io.Writer
	termenv          *termenv.Output
	bar              *progressbar.ProgressBar
	lastStepReported int64

	statsStyle    lipgloss.Style
	statsTable    *lgtable.Table
	isFirstOutput bool

	updates          chan progressBarUpdate
	asyncUpdatesDone sync.WaitGroup

	extraMetricFns []ExtraMetricFn
}

type progressBarUpdate struct {
	amount int
	rows   [][2]string
}

func newProgressBar(out io.Writer, extraMetrics []ExtraMetricFn) *progressBar {
	pBar := &progressBar{
		out:            out,
		termenv:        termenv.NewOutput(out),
		statsStyle:     lipgloss.NewStyle().PaddingLeft(8),
		extraMetricFns: extraMetrics,
	}
	pBar.statsTable = lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return rightAlignedStyle
			}
			return normalStyle
		})
	return pBar
}

func (pBar *progressBar) onStart(status *driver.TrainStatus) error {
	pBar.lastStepReported = status.StartStep
	numSteps := max(status.MaxSteps-status.StartStep, 1)
	pBar.bar = progressbar.NewOptions64(numSteps,
		progressbar.OptionSetDescription("      [bold]"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionSetWriter(pBar.out),
	)
	pBar.isFirstOutput = true
	pBar.updates = make(chan progressBarUpdate, 100) // Large buffer so things are not blocked.
	pBar.asyncUpdatesDone.Add(1)
	go pBar.drawUpdates()
	return nil
}

func (pBar *progressBar) onStep(status *driver.TrainStatus) error {
	amount := status.GlobalStep - pBar.lastStepReported
	if amount <= 0 || pBar.updates == nil {
		return nil
	}
	pBar.lastStepReported = status.GlobalStep
	update := progressBarUpdate{
		amount: int(amount),
		rows: [][2]string{
			{"Global Step", fmt.Sprintf("%s of %s", humanize.Comma(status.GlobalStep), humanize.Comma(status.MaxSteps))},
			{"Median train step duration", FormatDuration(status.MedianStepDuration())},
			{"Loss", fmt.Sprintf("%.4g", status.Loss)},
			{"Training accuracy", fmt.Sprintf("%.2f%%", 100*status.TrainingAccuracy)},
			{"Learning rate", fmt.Sprintf("%.4g", status.LearningRate)},
		},
	}
	for _, extraMetric := range pBar.extraMetricFns {
		name, value := extraMetric()
		update.rows = append(update.rows, [2]string{name, value})
	}
	pBar.updates <- update
	return nil
}

func (pBar *progressBar) onEnd(*driver.TrainStatus) error {
	if pBar.updates != nil {
		close(pBar.updates)
		pBar.asyncUpdatesDone.Wait()
		pBar.updates = nil
	}
	pBar.termenv.ShowCursor()
	_, _ = fmt.Fprintln(pBar.out)
	return nil
}

// drawUpdates asynchronously draws the updates: this is handy if the training is faster than the
// terminal, in particular if running on cloud, with a relatively slow network connection.
func (pBar *progressBar) drawUpdates() {
	defer pBar.asyncUpdatesDone.Done()
	for update := range pBar.updates {
		// Exhaust the updates in the buffer:
		amount := update.amount
	exhaust:
		for {
			select {
			case newUpdate, ok := <-pBar.updates:
				if !ok {
					break exhaust
				}
				amount += newUpdate.amount
				update = newUpdate
			default:
				break exhaust
			}
		}

		pBar.statsTable.Data(lgtable.NewStringData())
		for _, row := range update.rows {
			pBar.statsTable.Row(row[0], row[1])
		}

		// For command-line, we clear the previous lines that will be overwritten.
		pBar.termenv.HideCursor()
		if !pBar.isFirstOutput {
			numLinesToBackup := len(update.rows) + 2 + 2
			pBar.termenv.CursorPrevLine(numLinesToBackup)
		}
		pBar.isFirstOutput = false

		_, _ = fmt.Fprintln(pBar.out, pBar.statsStyle.Render(pBar.statsTable.String()))
		_ = pBar.bar.Add(amount) // Prints progress bar line.
		_, _ = fmt.Fprintln(pBar.out)
		pBar.termenv.ShowCursor()
		time.Sleep(maxUpdateFrequency)
	}
}

// AttachProgressBar creates a commandline progress bar and attaches it to the training hooks of
// app, so that every time it trains, it displays a progress bar with the progression, the loss,
// the training accuracy and the learning rate.
//
// Optionally, one can provide extraMetrics: functions that are called at every update of
// the progress bar and should return a name (title) and a value to be included in the
// updated print-out.
func AttachProgressBar(app *driver.App, extraMetrics ...ExtraMetricFn) {
	AttachProgressBarTo(app, os.Stdout, extraMetrics...)
}

// AttachProgressBarTo is like AttachProgressBar, but draws to out.
func AttachProgressBarTo(app *driver.App, out io.Writer, extraMetrics ...ExtraMetricFn) {
	pBar := newProgressBar(out, extraMetrics)
	app.OnTrainStart(ProgressBarName, pBar.onStart)
	app.OnTrainStep(ProgressBarName, pBar.onStep)
	app.OnTrainEnd(ProgressBarName, pBar.onEnd)
}
