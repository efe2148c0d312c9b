//go:build linux
// +build linux

package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"cubo/internal/image"
	"cubo/pkg/cubo_errors"
)

var (
	blueprintQuiet   bool
	blueprintNoTrunc bool
	blueprintFormat  string
)

var blueprintCmd = &cobra.Command{
	Use:   "blueprint [OPTIONS]",
	Short: "List locally stored blueprints",
	Long:  "Lists every blueprint (image) stored locally.",
	RunE:  runBlueprints,
}

func init() {
	blueprintCmd.Flags().BoolVarP(&blueprintQuiet, "quiet", "q", false, "only show blueprint IDs")
	blueprintCmd.Flags().BoolVar(&blueprintNoTrunc, "no-trunc", false, "don't truncate output")
	blueprintCmd.Flags().StringVar(&blueprintFormat, "format", "table", "output format (table or json)")
}

func runBlueprints(cmd *cobra.Command, args []string) error {
	store, err := image.NewStore(resolvedRoot())
	if err != nil {
		return fmt.Errorf("%w: create image store: %v", cubo_errors.ErrRuntime, err)
	}

	blueprints, err := store.List()
	if err != nil {
		return fmt.Errorf("%w: list blueprints: %v", cubo_errors.ErrRuntime, err)
	}

	if blueprintQuiet {
		for _, bp := range blueprints {
			id := bp.ID
			if !blueprintNoTrunc && len(id) > 12 {
				id = id[:12]
			}
			fmt.Println(id)
		}
		return nil
	}

	if blueprintFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(blueprints)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REPOSITORY\tTAG\tBLUEPRINT ID\tCREATED\tSIZE")

	for _, bp := range blueprints {
		id := bp.ID
		if !blueprintNoTrunc && len(id) > 12 {
			id = id[:12]
		}

		repo, tag := parseRepoTag(bp.RepoTag)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", repo, tag, id, formatRelativeTime(bp.Created), formatSize(bp.Size))
	}

	return w.Flush()
}

// parseRepoTag splits a reference into repository and tag. A colon is only
// treated as the tag separator if it falls after the last slash, so a
// registry port in "localhost:5000/alpine:latest" isn't mistaken for one.
func parseRepoTag(ref string) (repo, tag string) {
	slash := strings.LastIndex(ref, "/")
	colon := strings.LastIndex(ref, ":")
	if colon > slash {
		return ref[:colon], ref[colon+1:]
	}
	return ref, "latest"
}

func formatRelativeTime(t time.Time) string {
	if t.IsZero() {
		return "N/A"
	}

	diff := time.Since(t)
	switch {
	case diff < time.Minute:
		return "Less than a minute ago"
	case diff < time.Hour:
		minutes := int(diff.Minutes())
		if minutes == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", minutes)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	case diff < 30*24*time.Hour:
		weeks := int(diff.Hours() / 24 / 7)
		if weeks == 1 {
			return "1 week ago"
		}
		return fmt.Sprintf("%d weeks ago", weeks)
	case diff < 365*24*time.Hour:
		months := int(diff.Hours() / 24 / 30)
		if months == 1 {
			return "1 month ago"
		}
		return fmt.Sprintf("%d months ago", months)
	default:
		years := int(diff.Hours() / 24 / 365)
		if years == 1 {
			return "1 year ago"
		}
		return fmt.Sprintf("%d years ago", years)
	}
}

func formatSize(size int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case size < KB:
		return fmt.Sprintf("%dB", size)
	case size < MB:
		return fmt.Sprintf("%.2fKB", float64(size)/KB)
	case size < GB:
		return fmt.Sprintf("%.2fMB", float64(size)/MB)
	default:
		return fmt.Sprintf("%.2fGB", float64(size)/GB)
	}
}
