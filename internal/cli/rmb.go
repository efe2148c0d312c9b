//go:build linux
// +build linux

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cubo/internal/image"
	"cubo/internal/state"
	"cubo/pkg/cubo_errors"
)

var rmbForce bool

var rmbCmd = &cobra.Command{
	Use:   "rmb [OPTIONS] BLUEPRINT [BLUEPRINT...]",
	Short: "Remove one or more blueprints",
	Long:  "Removes one or more locally stored blueprints (images).",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRmb,
}

func init() {
	rmbCmd.Flags().BoolVarP(&rmbForce, "force", "f", false, "remove even if a container references it")
}

func runRmb(cmd *cobra.Command, args []string) error {
	root := resolvedRoot()

	store, err := image.NewStore(root)
	if err != nil {
		return fmt.Errorf("%w: create image store: %v", cubo_errors.ErrRuntime, err)
	}

	stateStore, err := state.NewStore(root)
	if err != nil {
		return fmt.Errorf("%w: initialize state store: %v", cubo_errors.ErrRuntime, err)
	}

	hasError := false
	for _, ref := range args {
		if err := store.Remove(ref, rmbForce, inUseChecker(stateStore)); err != nil {
			fmt.Fprintf(os.Stderr, "Error removing %s: %v\n", ref, err)
			hasError = true
			continue
		}
		fmt.Println(ref)
	}

	if hasError {
		return fmt.Errorf("%w: one or more blueprints failed to remove", cubo_errors.ErrImageInUse)
	}
	return nil
}

// inUseChecker reports whether any non-removed container's blueprint
// reference matches ref, so image.Store.Remove can refuse deletion of an
// in-use blueprint absent --force.
func inUseChecker(stateStore *state.Store) func(ref string) bool {
	return func(ref string) bool {
		states, err := stateStore.List(true)
		if err != nil {
			return false
		}
		for _, s := range states {
			if s.Blueprint() == ref || s.ImageRef == ref {
				return true
			}
		}
		return false
	}
}
