package commands

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/marmos91/gridstore/internal/cli/output"
	"github.com/marmos91/gridstore/pkg/array"
	"github.com/marmos91/gridstore/pkg/meta"
	"github.com/spf13/cobra"
)

var infoOutput string

var infoCmd = &cobra.Command{
	Use:   "info <prefix>",
	Short: "Show array metadata and storage stats",
	Long: `Show the metadata document and stored-object statistics for an array.

Examples:
  # Human-readable summary
  gridstore info weather/t2m

  # Machine-readable
  gridstore info weather/t2m -o json
  gridstore info weather/t2m -o yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runInfo,
}

func init() {
	infoCmd.Flags().StringVarP(&infoOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// arrayInfo is the info command's output document.
type arrayInfo struct {
	Prefix        string   `json:"prefix" yaml:"prefix"`
	Shape         []int64  `json:"shape" yaml:"shape"`
	Chunks        []int64  `json:"chunks" yaml:"chunks"`
	DType         string   `json:"dtype" yaml:"dtype"`
	FillValue     any      `json:"fill_value" yaml:"fill_value"`
	Codecs        []string `json:"codecs" yaml:"codecs"`
	Separator     string   `json:"dimension_separator" yaml:"dimension_separator"`
	ShardShape    []int64  `json:"shard_shape,omitempty" yaml:"shard_shape,omitempty"`
	TotalChunks   int64    `json:"total_chunks" yaml:"total_chunks"`
	StoredObjects int64    `json:"stored_objects" yaml:"stored_objects"`
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	format, err := output.ParseFormat(infoOutput)
	if err != nil {
		return err
	}

	_, st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	arr, err := array.OpenArray(ctx, st, args[0])
	if err != nil {
		return err
	}
	md := arr.Metadata()

	// Count stored data objects (chunks or shards) under the prefix.
	metaKey := meta.Key(arr.Prefix())
	var stored int64
	for key, err := range st.List(ctx, arr.Prefix()) {
		if err != nil {
			return fmt.Errorf("failed to list %q: %w", arr.Prefix(), err)
		}
		if key == metaKey {
			continue
		}
		stored++
	}

	codecs := make([]string, len(md.Codecs))
	for i, spec := range md.Codecs {
		codecs[i] = spec.Name
	}

	info := arrayInfo{
		Prefix:        arr.Prefix(),
		Shape:         arr.Shape(),
		Chunks:        arr.ChunkShape(),
		DType:         md.DataType,
		FillValue:     md.FillValue,
		Codecs:        codecs,
		Separator:     md.Separator(),
		ShardShape:    md.ShardShape,
		TotalChunks:   arr.Grid().TotalChunks(),
		StoredObjects: stored,
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, info)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, info)
	default:
		return printInfoTable(info)
	}
}

func printInfoTable(info arrayInfo) error {
	fill := "0 (default)"
	if info.FillValue != nil {
		fill = fmt.Sprintf("%v", info.FillValue)
	}

	table := output.NewTableData("FIELD", "VALUE")
	table.AddRow("Prefix", info.Prefix)
	table.AddRow("Shape", formatDims(info.Shape))
	table.AddRow("Chunks", formatDims(info.Chunks))
	table.AddRow("Dtype", info.DType)
	table.AddRow("Fill value", fill)
	table.AddRow("Codecs", strings.Join(info.Codecs, " -> "))
	table.AddRow("Separator", info.Separator)
	if len(info.ShardShape) > 0 {
		table.AddRow("Shard shape", formatDims(info.ShardShape))
	}
	table.AddRow("Total chunks", strconv.FormatInt(info.TotalChunks, 10))
	table.AddRow("Stored objects", strconv.FormatInt(info.StoredObjects, 10))
	return output.PrintTable(os.Stdout, table)
}
