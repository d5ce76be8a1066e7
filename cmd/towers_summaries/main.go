// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

// towers_summaries reports on one or more model directories written by towers: the latest
// checkpoint, its variables and the scalar summaries recorded during training and evaluation.
//
// Usage:
//
//	towers_summaries -summary -vars -metrics -plot=loss.png ~/work/model_dir [other_model_dir...]
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/janpfeifer/must"
	"github.com/lambdal/towers/pkg/support/fsutil"
	"github.com/lambdal/towers/ui/commandline"
	"k8s.io/klog/v2"
)

var (
	flagSummary = flag.Bool("summary", false, "Display a summary of the latest checkpoint: global step, "+
		"number of variables and their sizes.")
	flagVars    = flag.Bool("vars", false, "Lists the variables saved in the latest checkpoint.")
	flagMetrics = flag.Bool("metrics", false, "Lists the scalar summaries recorded in the model "+
		"directory and in its \"eval\" subdirectory.")
	flagMetricsNames = flag.String("metrics_names", "", "Comma-separated list of summary tags to include "+
		"in the metrics report and plot. If empty, all tags are included.")
	flagPlot = flag.String("plot", "", "If set, plots the selected summaries as lines over the global step "+
		"and saves the image (PNG, SVG or PDF, according to the extension) to the given path.")
)

var titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		klog.Errorf("Missing model directory to read from. See 'towers_summaries -help'")
		os.Exit(1)
	}
	if !*flagSummary && !*flagVars && !*flagMetrics && *flagPlot == "" {
		*flagSummary = true
	}
	dirs := make([]string, len(args))
	for ii, arg := range args {
		dirs[ii] = must.M1(fsutil.ReplaceTildeInDir(arg))
	}
	var names []string
	if *flagMetricsNames != "" {
		names = strings.Split(*flagMetricsNames, ",")
	}
	report(dirs, names)
}

func report(dirs, names []string) {
	if *flagSummary {
		fmt.Println(titleStyle.Render("Summary"))
		fmt.Println(must.M1(summaryTable(dirs)).Render())
	}
	if *flagVars {
		for _, dir := range dirs {
			fmt.Println(titleStyle.Render("Variables: " + dir))
			fmt.Println(must.M1(variablesTable(dir)).Render())
		}
	}
	if !*flagMetrics && *flagPlot == "" {
		return
	}
	series := must.M1(collectSeries(dirs, names))
	if *flagMetrics {
		fmt.Println(titleStyle.Render("Metrics"))
		fmt.Println(commandline.FormatScalars(series))
	}
	if *flagPlot != "" {
		must.M(plotSeries(series, *flagPlot))
		fmt.Printf("Plot saved to %q\n", *flagPlot)
	}
}
