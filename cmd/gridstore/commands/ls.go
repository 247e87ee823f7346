package commands

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/marmos91/gridstore/internal/cli/output"
	"github.com/marmos91/gridstore/pkg/meta"
	"github.com/marmos91/gridstore/pkg/store"
	"github.com/spf13/cobra"
)

var (
	lsKeys   bool
	lsOutput string
)

var lsCmd = &cobra.Command{
	Use:   "ls [prefix]",
	Short: "List arrays",
	Long: `List arrays under a key prefix, or every array when no prefix is given.

With --keys the raw store keys are printed one per line instead, which
includes chunk and shard objects.

Examples:
  # All arrays
  gridstore ls

  # Arrays under a prefix
  gridstore ls weather

  # Raw keys
  gridstore ls weather/t2m --keys`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLs,
}

func init() {
	lsCmd.Flags().BoolVar(&lsKeys, "keys", false, "List raw store keys instead of arrays")
	lsCmd.Flags().StringVarP(&lsOutput, "output", "o", "table", "Output format (table|json|yaml), ignored with --keys")
}

// arrayEntry is one row of the array listing.
type arrayEntry struct {
	Prefix  string  `json:"prefix" yaml:"prefix"`
	Shape   []int64 `json:"shape,omitempty" yaml:"shape,omitempty"`
	Chunks  []int64 `json:"chunks,omitempty" yaml:"chunks,omitempty"`
	DType   string  `json:"dtype,omitempty" yaml:"dtype,omitempty"`
	Sharded bool    `json:"sharded" yaml:"sharded"`
}

// arrayList renders array entries as a table.
type arrayList []arrayEntry

func (l arrayList) Headers() []string {
	return []string{"PREFIX", "SHAPE", "CHUNKS", "DTYPE", "SHARDED"}
}

func (l arrayList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, e := range l {
		shape, chunks, dt := "?", "?", "?"
		if e.DType != "" {
			shape = formatDims(e.Shape)
			chunks = formatDims(e.Chunks)
			dt = e.DType
		}
		sharded := "no"
		if e.Sharded {
			sharded = "yes"
		}
		rows = append(rows, []string{e.Prefix, shape, chunks, dt, sharded})
	}
	return rows
}

func runLs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	prefix := ""
	if len(args) == 1 {
		prefix = args[0]
	}

	format, err := output.ParseFormat(lsOutput)
	if err != nil {
		return err
	}

	_, st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if lsKeys {
		return listRawKeys(ctx, st, prefix)
	}

	entries, err := listArrays(ctx, st, prefix)
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, entries)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, entries)
	default:
		if len(entries) == 0 {
			fmt.Println("No arrays found.")
			return nil
		}
		return output.PrintTable(os.Stdout, entries)
	}
}

// listRawKeys prints every key under the prefix, one per line.
func listRawKeys(ctx context.Context, st store.Store, prefix string) error {
	var keys []string
	for key, err := range st.List(ctx, prefix) {
		if err != nil {
			return fmt.Errorf("failed to list %q: %w", prefix, err)
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Println(key)
	}
	return nil
}

// listArrays finds metadata documents under the prefix and loads each one.
// Arrays whose document fails to parse are listed with unknown fields
// rather than aborting the listing.
func listArrays(ctx context.Context, st store.Store, prefix string) (arrayList, error) {
	var prefixes []string
	for key, err := range st.List(ctx, prefix) {
		if err != nil {
			return nil, fmt.Errorf("failed to list %q: %w", prefix, err)
		}
		if p, ok := strings.CutSuffix(key, "/"+meta.DocumentName); ok {
			prefixes = append(prefixes, p)
		} else if key == meta.DocumentName {
			prefixes = append(prefixes, "")
		}
	}
	sort.Strings(prefixes)

	entries := make(arrayList, 0, len(prefixes))
	for _, p := range prefixes {
		entry := arrayEntry{Prefix: p}
		if doc, err := st.Get(ctx, meta.Key(p)); err == nil {
			if md, err := meta.Parse(doc); err == nil {
				entry.Shape = md.Shape
				entry.Chunks = md.Chunks
				entry.DType = md.DataType
				entry.Sharded = md.Sharded()
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
