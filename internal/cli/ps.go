//go:build linux
// +build linux

package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"cubo/internal/state"
	"cubo/pkg/cubo_errors"
	"cubo/pkg/idutil"

	"github.com/spf13/cobra"
)

var (
	psAll     bool
	psQuiet   bool
	psFormat  string
	psNoTrunc bool
)

var psCmd = &cobra.Command{
	Use:   "ps [CONTAINER...]",
	Short: "List containers",
	Long: `Lists containers.

By default, only running containers are shown; -a shows all of them.
Passing one or more container names/IDs restricts the listing to those
and prints their full per-container detail (blueprint, mounts, port
mappings) as JSON, whatever --format says.

Examples:
  cubo ps                    # running containers
  cubo ps -a                 # all containers
  cubo ps -q                 # container IDs only
  cubo ps --format json      # full JSON detail
  cubo ps --format json my_container`,
	Args: cobra.ArbitraryArgs,
	RunE: listContainers,
}

func init() {
	psCmd.Flags().BoolVarP(&psAll, "all", "a", false, "show all containers (default shows only running)")
	psCmd.Flags().BoolVarP(&psQuiet, "quiet", "q", false, "only print container IDs")
	psCmd.Flags().StringVar(&psFormat, "format", "table", "output format (table or json)")
	psCmd.Flags().BoolVar(&psNoTrunc, "no-trunc", false, "don't truncate output")
}

// PsEntry is a single row of the table/summary-JSON output.
type PsEntry struct {
	ID       string    `json:"Id"`
	Status   string    `json:"Status"`
	Created  time.Time `json:"Created"`
	Command  string    `json:"Command"`
	Pid      int       `json:"Pid,omitempty"`
	ExitCode *int      `json:"ExitCode,omitempty"`
}

// Detail is the full per-container record produced when --format json is
// combined with explicit container arguments, folding what used to be a
// separate inspect subcommand into ps's JSON mode.
type Detail struct {
	ID      string       `json:"Id"`
	Created time.Time    `json:"Created"`
	State   DetailState  `json:"State"`
	Config  DetailConfig `json:"Config"`
	LogPath string       `json:"LogPath"`
}

type DetailState struct {
	Status     string     `json:"Status"`
	Running    bool       `json:"Running"`
	Pid        int        `json:"Pid"`
	ExitCode   int        `json:"ExitCode"`
	StartedAt  *time.Time `json:"StartedAt,omitempty"`
	FinishedAt *time.Time `json:"FinishedAt,omitempty"`
}

type DetailConfig struct {
	Hostname     string                `json:"Hostname"`
	Tty          bool                  `json:"Tty"`
	Cmd          []string              `json:"Cmd"`
	Detached     bool                  `json:"Detached"`
	Rootfs       string                `json:"Rootfs,omitempty"`
	Blueprint    string                `json:"Blueprint,omitempty"`
	Mounts       []state.MountConfig   `json:"Mounts,omitempty"`
	PortMappings []state.PortMapping   `json:"PortMappings,omitempty"`
}

func listContainers(cmd *cobra.Command, args []string) error {
	store, err := state.NewStore(resolvedRoot())
	if err != nil {
		return fmt.Errorf("%w: failed to initialize state store: %v", cubo_errors.ErrRuntime, err)
	}

	if len(args) > 0 {
		return describeContainers(store, args)
	}

	states, err := store.List(psAll)
	if err != nil {
		return fmt.Errorf("%w: failed to list containers: %v", cubo_errors.ErrRuntime, err)
	}

	entries := make([]PsEntry, 0, len(states))
	for _, s := range states {
		config, err := state.LoadConfig(s.GetContainerDir())
		if err != nil {
			continue
		}

		entries = append(entries, PsEntry{
			ID:       s.ID,
			Status:   string(s.Status),
			Created:  s.CreatedAt,
			Command:  strings.Join(config.GetCommand(), " "),
			Pid:      s.Pid,
			ExitCode: s.ExitCode,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Created.After(entries[j].Created)
	})

	switch psFormat {
	case "json":
		return outputJSON(entries)
	case "table":
		return outputTable(entries)
	default:
		return fmt.Errorf("%w: unknown format %q (supported: table, json)", cubo_errors.ErrUsage, psFormat)
	}
}

// describeContainers implements the inspect-folded form of ps: given
// explicit container references, it always emits the full Detail JSON
// regardless of --format, since a table representation of per-container
// detail doesn't make sense.
func describeContainers(store *state.Store, args []string) error {
	details := make([]Detail, 0, len(args))
	hasError := false

	for _, idOrPrefix := range args {
		d, err := describeContainer(store, idOrPrefix)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error inspecting %s: %v\n", idOrPrefix, err)
			hasError = true
			continue
		}
		details = append(details, *d)
	}

	if len(details) > 0 {
		data, err := json.MarshalIndent(details, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(data))
	}

	if hasError {
		return fmt.Errorf("%w: one or more containers could not be inspected", cubo_errors.ErrRuntime)
	}
	return nil
}

func describeContainer(store *state.Store, idOrPrefix string) (*Detail, error) {
	containerState, err := store.Get(idOrPrefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cubo_errors.ErrContainerNotFound, err)
	}

	config, err := state.LoadConfig(containerState.GetContainerDir())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	exitCode := 0
	if containerState.ExitCode != nil {
		exitCode = *containerState.ExitCode
	}

	return &Detail{
		ID:      containerState.ID,
		Created: containerState.CreatedAt,
		State: DetailState{
			Status:     string(containerState.Status),
			Running:    containerState.Status == state.StatusRunning,
			Pid:        containerState.Pid,
			ExitCode:   exitCode,
			StartedAt:  containerState.StartedAt,
			FinishedAt: containerState.FinishedAt,
		},
		Config: DetailConfig{
			Hostname:     config.Hostname,
			Tty:          config.TTY,
			Cmd:          config.GetCommand(),
			Detached:     config.Detached,
			Rootfs:       config.Rootfs,
			Blueprint:    config.Blueprint,
			Mounts:       config.Mounts,
			PortMappings: config.PortMappings,
		},
		LogPath: containerState.GetLogDir(),
	}, nil
}

func outputJSON(entries []PsEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func outputTable(entries []PsEntry) error {
	if psQuiet {
		for _, entry := range entries {
			if psNoTrunc {
				fmt.Println(entry.ID)
			} else {
				fmt.Println(idutil.ShortID(entry.ID))
			}
		}
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "CONTAINER ID\tSTATUS\tCREATED\tCOMMAND")

	for _, entry := range entries {
		id := entry.ID
		if !psNoTrunc {
			id = idutil.ShortID(id)
		}

		command := entry.Command
		if !psNoTrunc && len(command) > 30 {
			command = command[:27] + "..."
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id, entry.Status, formatCreatedTime(entry.Created), command)
	}

	return w.Flush()
}

func formatCreatedTime(t time.Time) string {
	duration := time.Since(t)

	switch {
	case duration < time.Minute:
		return "Less than a minute ago"
	case duration < time.Hour:
		minutes := int(duration.Minutes())
		if minutes == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", minutes)
	case duration < 24*time.Hour:
		hours := int(duration.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case duration < 7*24*time.Hour:
		days := int(duration.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	case duration < 30*24*time.Hour:
		weeks := int(duration.Hours() / 24 / 7)
		if weeks == 1 {
			return "1 week ago"
		}
		return fmt.Sprintf("%d weeks ago", weeks)
	default:
		return t.Format("2006-01-02 15:04:05")
	}
}
