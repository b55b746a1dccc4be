// Command example-worker is a minimal worker program. It counts through a
// number of steps, checkpointing to a file in its slot, and follows the
// client's control messages.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"voltask/internal/worker"
)

const checkpointFile = "example_checkpoint.txt"

func main() {
	steps := flag.Int("steps", 100, "Number of steps to run")
	step := flag.Duration("step", 100*time.Millisecond, "Duration of one step")
	exitCode := flag.Int("exit-code", 0, "Exit code reported at completion")
	flag.Parse()

	code, err := run(*steps, *step, *exitCode)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		if code == 0 {
			code = 1
		}
	}
	os.Exit(code)
}

func run(steps int, step time.Duration, exitCode int) (int, error) {
	dir, err := os.Getwd()
	if err != nil {
		return 1, err
	}
	w, err := worker.Open(dir, worker.Options{})
	if err != nil {
		return 1, err
	}
	defer w.Close()

	done := readCheckpoint(dir)
	cpu := w.InitData().WUCPUTime
	ticker := time.NewTicker(step)
	defer ticker.Stop()

	for done < steps {
		<-ticker.C
		c := w.Poll()
		switch {
		case c.Abort:
			return 1, fmt.Errorf("aborted by client at step %d", done)
		case c.Quit:
			return 0, writeCheckpoint(dir, done)
		case c.HeartbeatLost:
			return 0, writeCheckpoint(dir, done)
		}
		if w.Suspended() {
			continue
		}

		done++
		cpu += step.Seconds()
		if done%10 == 0 {
			if err := writeCheckpoint(dir, done); err != nil {
				return 1, err
			}
			w.Checkpoint(cpu)
		}
		_ = w.ReportStatus(cpu, 0, float64(done)/float64(steps))
	}

	if err := w.Finish(exitCode); err != nil {
		return 1, err
	}
	return exitCode, nil
}

func readCheckpoint(dir string) int {
	data, err := os.ReadFile(filepath.Join(dir, checkpointFile))
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return n
}

func writeCheckpoint(dir string, done int) error {
	tmp := filepath.Join(dir, checkpointFile+".tmp")
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(done)+"\n"), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, checkpointFile))
}
