package commands

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/marmos91/gridstore/pkg/array"
	"github.com/marmos91/gridstore/pkg/codec"
	"github.com/marmos91/gridstore/pkg/meta"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	createShape    string
	createChunks   string
	createDType    string
	createFill     string
	createCodecs   []string
	createShards   string
	createFromSpec string
)

var createCmd = &cobra.Command{
	Use:   "create <prefix>",
	Short: "Create an array",
	Long: `Create an array at the given key prefix.

The array is described either by flags or by a YAML spec file whose keys
match the metadata document (shape, chunks, dtype, fill_value, codecs,
shard_shape, ...).

Codec entries take the form "name" or "name:key=val,key=val". Available
codecs: bytes, delta, shuffle, gzip, zstd, lz4, snappy, crc32c, xxhash.

Examples:
  # 2-D float array, zstd-compressed chunks
  gridstore create weather/t2m --shape 1440,720 --chunks 360,180 \
    --dtype "<f8" --fill NaN --codec zstd:level=3

  # Sharded array with a checksum stage
  gridstore create sat/l2 --shape 10000,10000 --chunks 250,250 \
    --dtype "<u2" --shards 4,4 --codec zstd --codec crc32c

  # From a spec file
  gridstore create weather/t2m --from-spec t2m.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runCreate,
}

func init() {
	createCmd.Flags().StringVar(&createShape, "shape", "", "Array shape, comma-separated (e.g. 1000,1000)")
	createCmd.Flags().StringVar(&createChunks, "chunks", "", "Chunk shape, comma-separated")
	createCmd.Flags().StringVar(&createDType, "dtype", "", `Element dtype typestring (e.g. "<f8")`)
	createCmd.Flags().StringVar(&createFill, "fill", "", "Fill value (JSON literal, NaN, Infinity, or -Infinity)")
	createCmd.Flags().StringArrayVar(&createCodecs, "codec", nil, "Codec stage, repeatable (name or name:key=val,...)")
	createCmd.Flags().StringVar(&createShards, "shards", "", "Chunks per shard per dimension, comma-separated")
	createCmd.Flags().StringVar(&createFromSpec, "from-spec", "", "YAML file describing the array")
}

func runCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	prefix := args[0]

	md, err := buildMetadata()
	if err != nil {
		return err
	}

	_, st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	arr, err := array.CreateArray(ctx, st, prefix, md)
	if err != nil {
		return err
	}

	fmt.Printf("Created array %s\n", arr.Prefix())
	fmt.Printf("  Shape:  %s\n", formatDims(arr.Shape()))
	fmt.Printf("  Chunks: %s (%d per array)\n", formatDims(arr.ChunkShape()), arr.Grid().TotalChunks())
	fmt.Printf("  Dtype:  %s\n", md.DataType)
	if md.Sharded() {
		fmt.Printf("  Shards: %s chunks per shard\n", formatDims(md.ShardShape))
	}
	fmt.Printf("  Metadata written to %s\n", meta.Key(arr.Prefix()))
	return nil
}

// buildMetadata assembles the metadata document from --from-spec or the
// individual flags. Validation happens in CreateArray.
func buildMetadata() (*meta.Metadata, error) {
	if createFromSpec != "" {
		return loadSpecFile(createFromSpec)
	}

	if createShape == "" || createChunks == "" || createDType == "" {
		return nil, fmt.Errorf("either --from-spec or all of --shape, --chunks, and --dtype are required")
	}

	shape, err := parseDims(createShape)
	if err != nil {
		return nil, fmt.Errorf("invalid --shape: %w", err)
	}
	chunks, err := parseDims(createChunks)
	if err != nil {
		return nil, fmt.Errorf("invalid --chunks: %w", err)
	}

	md := &meta.Metadata{
		Shape:    shape,
		Chunks:   chunks,
		DataType: createDType,
	}

	if createFill != "" {
		md.FillValue = parseFillValue(createFill)
	}
	if createShards != "" {
		md.ShardShape, err = parseDims(createShards)
		if err != nil {
			return nil, fmt.Errorf("invalid --shards: %w", err)
		}
	}
	for _, entry := range createCodecs {
		spec, err := parseCodecEntry(entry)
		if err != nil {
			return nil, err
		}
		md.Codecs = append(md.Codecs, spec)
	}
	return md, nil
}

// loadSpecFile reads a YAML array spec. The document is converted to JSON
// and run through the strict metadata parser, so a spec file accepts
// exactly the keys array.json does.
func loadSpecFile(path string) (*meta.Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read spec file: %w", err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse spec file: %w", err)
	}

	// YAML admits .nan and .inf floats that JSON cannot carry.
	if fill, ok := doc["fill_value"]; ok {
		doc["fill_value"] = normalizeNonFinite(fill)
	}

	jsonDoc, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to convert spec file: %w", err)
	}
	md, err := meta.Parse(jsonDoc)
	if err != nil {
		return nil, fmt.Errorf("spec file %s: %w", path, err)
	}
	return md, nil
}

// parseDims parses a comma-separated dimension list like "1000,1000".
func parseDims(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	dims := make([]int64, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("dimension %q is not an integer", p)
		}
		dims = append(dims, n)
	}
	return dims, nil
}

// parseFillValue interprets the --fill flag: a JSON literal when it parses
// as one, otherwise the raw string (which covers NaN and the infinities).
func parseFillValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

// parseCodecEntry parses one --codec flag value: "name" or
// "name:key=val,key=val". Values are interpreted as bool, int, float,
// then string, in that order.
func parseCodecEntry(entry string) (codec.Spec, error) {
	name, opts, hasOpts := strings.Cut(entry, ":")
	name = strings.TrimSpace(name)
	if name == "" {
		return codec.Spec{}, fmt.Errorf("invalid --codec entry %q: empty name", entry)
	}

	spec := codec.Spec{Name: name}
	if !hasOpts {
		return spec, nil
	}

	spec.Config = make(map[string]any)
	for _, pair := range strings.Split(opts, ",") {
		key, val, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return codec.Spec{}, fmt.Errorf("invalid --codec option %q in %q (expected key=val)", pair, entry)
		}
		spec.Config[key] = parseOptionValue(strings.TrimSpace(val))
	}
	return spec, nil
}

func parseOptionValue(s string) any {
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return int(n)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// normalizeNonFinite maps non-finite floats to the string forms the
// metadata document uses.
func normalizeNonFinite(v any) any {
	f, ok := v.(float64)
	if !ok {
		return v
	}
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	default:
		return v
	}
}

// formatDims renders a dimension list as "1000 x 1000".
func formatDims(dims []int64) string {
	parts := make([]string, len(dims))
	for i, d := range dims {
		parts[i] = strconv.FormatInt(d, 10)
	}
	return strings.Join(parts, " x ")
}
