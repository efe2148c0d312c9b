//go:build linux
// +build linux

package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"cubo/internal/state"
	"cubo/pkg/cubo_errors"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

var (
	logsFollow     bool
	logsTail       string
	logsShowStdout bool
	logsShowStderr bool
	logsTimestamps bool
)

var logsCmd = &cobra.Command{
	Use:   "logs [OPTIONS] CONTAINER",
	Short: "Fetch a container's logs",
	Long: `Fetches a container's stdout/stderr logs.

Examples:
  cubo logs my_container
  cubo logs -f my_container         # follow new output
  cubo logs --tail 100 my_container # show only the last 100 lines
  cubo logs --stdout my_container   # stdout only`,
	Args: cobra.ExactArgs(1),
	RunE: showLogs,
}

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "follow new log output")
	logsCmd.Flags().StringVarP(&logsTail, "tail", "n", "all", `show the last N lines (default "all")`)
	logsCmd.Flags().BoolVar(&logsShowStdout, "stdout", false, "show only stdout")
	logsCmd.Flags().BoolVar(&logsShowStderr, "stderr", false, "show only stderr")
	logsCmd.Flags().BoolVarP(&logsTimestamps, "timestamps", "t", false, "show timestamps (reserved, currently ignored)")
}

func showLogs(cmd *cobra.Command, args []string) error {
	containerID := args[0]

	store, err := state.NewStore(resolvedRoot())
	if err != nil {
		return fmt.Errorf("%w: failed to initialize state store: %v", cubo_errors.ErrRuntime, err)
	}

	containerState, err := store.Get(containerID)
	if err != nil {
		return fmt.Errorf("%w: %v", cubo_errors.ErrContainerNotFound, err)
	}

	if logsTimestamps {
		fmt.Fprintln(os.Stderr, "Warning: --timestamps is reserved for future use, currently ignored")
	}

	logDir := containerState.GetLogDir()
	stdoutPath := filepath.Join(logDir, "stdout.log")
	stderrPath := filepath.Join(logDir, "stderr.log")

	showBoth := !logsShowStdout && !logsShowStderr

	tailLines := -1
	if logsTail != "all" {
		n, err := strconv.Atoi(logsTail)
		if err != nil {
			return fmt.Errorf("%w: invalid tail value %q (expected a number or \"all\")", cubo_errors.ErrUsage, logsTail)
		}
		if n < 0 {
			return fmt.Errorf("%w: invalid tail value %d (must be non-negative)", cubo_errors.ErrUsage, n)
		}
		tailLines = n
	}

	if logsFollow {
		return followLogs(containerState, stdoutPath, stderrPath, showBoth, logsShowStdout, logsShowStderr, tailLines)
	}

	if showBoth || logsShowStdout {
		if err := outputLogFile(stdoutPath, tailLines); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: cannot read stdout.log: %v\n", err)
		}
	}

	if showBoth || logsShowStderr {
		if err := outputLogFile(stderrPath, tailLines); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: cannot read stderr.log: %v\n", err)
		}
	}

	return nil
}

func outputLogFile(path string, tailLines int) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if tailLines < 0 {
		_, err := io.Copy(os.Stdout, file)
		return err
	}

	lines, err := readLastNLines(file, tailLines)
	if err != nil {
		return err
	}

	for _, line := range lines {
		fmt.Print(line)
	}

	return nil
}

// readLastNLines keeps only the last n lines in a ring buffer rather than
// reading the whole file into memory.
func readLastNLines(file *os.File, n int) ([]string, error) {
	if n == 0 {
		return nil, nil
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	ring := make([]string, n)
	count := 0
	for scanner.Scan() {
		ring[count%n] = scanner.Text() + "\n"
		count++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if count == 0 {
		return nil, nil
	}
	if count < n {
		return ring[:count], nil
	}

	start := count % n
	lines := make([]string, 0, n)
	lines = append(lines, ring[start:]...)
	lines = append(lines, ring[:start]...)
	return lines, nil
}

// followLogs watches the log files via fsnotify and polls container state
// every 250ms so it exits once the container stops, instead of hanging
// until the user hits Ctrl-C.
func followLogs(containerState *state.ContainerState, stdoutPath, stderrPath string, showBoth, showStdout, showStderr bool, tailLines int) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	var stdoutFile, stderrFile *os.File
	var stdoutOffset, stderrOffset int64

	if showBoth || showStdout {
		stdoutFile, stdoutOffset, err = openAndTail(stdoutPath, tailLines)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to open stdout.log: %w", err)
		}
		if stdoutFile != nil {
			defer stdoutFile.Close()
			if err := watcher.Add(stdoutPath); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: cannot watch stdout.log: %v\n", err)
			}
		}
	}

	if showBoth || showStderr {
		stderrFile, stderrOffset, err = openAndTail(stderrPath, tailLines)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to open stderr.log: %w", err)
		}
		if stderrFile != nil {
			defer stderrFile.Close()
			if err := watcher.Add(stderrPath); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: cannot watch stderr.log: %v\n", err)
			}
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if event.Op&fsnotify.Write == fsnotify.Write {
				if event.Name == stdoutPath && stdoutFile != nil {
					stdoutOffset = readNewContent(stdoutFile, stdoutOffset)
				} else if event.Name == stderrPath && stderrFile != nil {
					stderrOffset = readNewContent(stderrFile, stderrOffset)
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "Watcher error: %v\n", err)

		case <-ticker.C:
			if err := containerState.Reload(); err == nil {
				stopped := containerState.Status == state.StatusStopped ||
					(containerState.Status == state.StatusRunning && !containerState.IsRunning())
				if stopped {
					if stdoutFile != nil {
						readNewContent(stdoutFile, stdoutOffset)
					}
					if stderrFile != nil {
						readNewContent(stderrFile, stderrOffset)
					}
					return nil
				}
			}

		case <-sigChan:
			return nil
		}
	}
}

func openAndTail(path string, tailLines int) (*os.File, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}

	if tailLines >= 0 {
		lines, err := readLastNLines(file, tailLines)
		if err != nil {
			file.Close()
			return nil, 0, err
		}
		for _, line := range lines {
			fmt.Print(line)
		}
	} else {
		if _, err := io.Copy(os.Stdout, file); err != nil {
			file.Close()
			return nil, 0, err
		}
	}

	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		file.Close()
		return nil, 0, err
	}

	return file, offset, nil
}

// readNewContent prints everything written to file since offset, returning
// the new offset. A file that shrank below offset (e.g. truncated) is read
// from the start again.
func readNewContent(file *os.File, offset int64) int64 {
	if info, err := file.Stat(); err == nil {
		if info.Size() < offset {
			offset = 0
		}
	}

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset
	}

	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			fmt.Print(line)
		}
		if err != nil {
			break
		}
	}

	newOffset, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return offset
	}

	return newOffset
}
