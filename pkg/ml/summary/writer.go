// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

package summary

import (
	"bufio"
	"cmp"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/lambdal/towers/pkg/support/fsutil"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// EventFilePrefix is the prefix of the names of the event files.
const EventFilePrefix = "events.out.tfevents."

// Writer appends summary events to a new event file in a directory.
// It is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	buf    *bufio.Writer
	closed bool
}

// NewWriter creates the directory dir if needed, and a new event file in it, named
// "events.out.tfevents.<unix time>.<host>.<uuid>".
func NewWriter(dir string) (*Writer, error) {
	dir, _, err := fsutil.EnsureDir(dir)
	if err != nil {
		return nil, errors.WithMessage(err, "summary.NewWriter")
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	name := fmt.Sprintf("%s%d.%s.%s", EventFilePrefix, time.Now().Unix(), host, uuid.NewString())
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "summary.NewWriter: creating event file in %q", dir)
	}
	w := &Writer{path: path, file: f, buf: bufio.NewWriter(f)}
	if err := w.write(&Event{WallTime: wallTime(), FileVersion: FileVersion}); err != nil {
		_ = f.Close()
		return nil, err
	}
	klog.V(1).Infof("Writing summaries to %s", path)
	return w, nil
}

func wallTime() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// Path of the event file.
func (w *Writer) Path() string {
	return w.path
}

func (w *Writer) write(e *Event) error {
	if err := writeRecord(w.buf, marshalEvent(e)); err != nil {
		return errors.Wrapf(err, "writing event to %s", w.path)
	}
	return nil
}

// AddScalars writes the values at the given step.
func (w *Writer) AddScalars(step int64, values []Value) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.Errorf("summary writer for %s is closed", w.path)
	}
	return w.write(&Event{WallTime: wallTime(), Step: step, Values: slices.Clone(values)})
}

// AddMerged writes the value of a merged summary node, as returned by the graph execution, at the
// given step. It's a no-op for a nil Merged.
func (w *Writer) AddMerged(step int64, merged *Merged, value *tensors.Tensor) error {
	if merged == nil {
		return nil
	}
	values, err := merged.Values(value)
	if err != nil {
		return err
	}
	return w.AddScalars(step, values)
}

// Flush writes the buffered events to the file.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	return errors.Wrapf(w.buf.Flush(), "flushing %s", w.path)
}

// Close flushes and closes the event file. It can be called more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	err := w.buf.Flush()
	if closeErr := w.file.Close(); err == nil {
		err = closeErr
	}
	return errors.Wrapf(err, "closing %s", w.path)
}

// ReadEvents reads all the events of an event file, verifying the checksums.
func ReadEvents(path string) ([]*Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "summary.ReadEvents")
	}
	defer func() { _ = f.Close() }()
	r := bufio.NewReader(f)
	var events []*Event
	for {
		data, err := readRecord(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return events, nil
			}
			return events, errors.WithMessagef(err, "summary.ReadEvents(%q), record #%d", path, len(events))
		}
		e, err := unmarshalEvent(data)
		if err != nil {
			return events, errors.WithMessagef(err, "summary.ReadEvents(%q), record #%d", path, len(events))
		}
		events = append(events, e)
	}
}

// EventFiles lists the event files in dir, oldest first.
func EventFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "listing event files in %q", dir)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), EventFilePrefix) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	slices.Sort(files)
	return files, nil
}

// Point of a scalar time series.
type Point struct {
	Step  int64
	Value float64
}

// ReadScalars reads all the event files in dir and returns the scalar time series per tag.
// Points are sorted by step; when a step was recorded more than once, the last value read wins.
func ReadScalars(dir string) (map[string][]Point, error) {
	files, err := EventFiles(dir)
	if err != nil {
		return nil, err
	}
	byTag := make(map[string]map[int64]float64)
	for _, path := range files {
		events, err := ReadEvents(path)
		if err != nil {
			return nil, err
		}
		for _, e := range events {
			for _, v := range e.Values {
				if byTag[v.Tag] == nil {
					byTag[v.Tag] = make(map[int64]float64)
				}
				byTag[v.Tag][e.Step] = v.Value
			}
		}
	}
	series := make(map[string][]Point, len(byTag))
	for tag, points := range byTag {
		for step, value := range points {
			series[tag] = append(series[tag], Point{Step: step, Value: value})
		}
		slices.SortFunc(series[tag], func(a, b Point) int { return cmp.Compare(a.Step, b.Step) })
	}
	return series, nil
}
