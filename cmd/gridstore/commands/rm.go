package commands

import (
	"errors"
	"fmt"

	"github.com/marmos91/gridstore/internal/cli/prompt"
	"github.com/spf13/cobra"
)

var rmForce bool

var rmCmd = &cobra.Command{
	Use:   "rm <prefix>",
	Short: "Remove an array",
	Long: `Remove an array: its metadata document and every chunk or shard object
under the prefix.

Examples:
  # Remove with confirmation prompt
  gridstore rm weather/t2m

  # Remove without confirmation
  gridstore rm weather/t2m --force`,
	Args: cobra.ExactArgs(1),
	RunE: runRm,
}

func init() {
	rmCmd.Flags().BoolVarP(&rmForce, "force", "f", false, "Skip confirmation prompt")
}

func runRm(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	prefix := args[0]

	_, st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	var keys []string
	for key, err := range st.List(ctx, prefix) {
		if err != nil {
			return fmt.Errorf("failed to list %q: %w", prefix, err)
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return fmt.Errorf("no array at %q", prefix)
	}

	confirmed, err := prompt.ConfirmWithForce(
		fmt.Sprintf("Remove %q (%d objects)? This cannot be undone.", prefix, len(keys)),
		rmForce,
	)
	if err != nil {
		if errors.Is(err, prompt.ErrAborted) {
			fmt.Println("Aborted.")
			return nil
		}
		return err
	}
	if !confirmed {
		fmt.Println("Aborted.")
		return nil
	}

	for _, key := range keys {
		if err := st.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to delete %q: %w", key, err)
		}
	}

	fmt.Printf("Removed %d objects under %s\n", len(keys), prefix)
	return nil
}
