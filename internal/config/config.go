// Package config holds the tunables shared by the trace readers, the
// converter and the CLI. Values come from defaults, an optional JSON file
// and a handful of environment overrides, in that order.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"tracefeed/internal/convert"
	"tracefeed/internal/trace"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid config")

// Config represents configuration for the tracefeed tool
type Config struct {
	Debug              bool   `json:"debug,omitempty" jsonschema:"title=Debug,description=Enable debug logging"`
	TextBatchLines     int    `json:"textBatchLines,omitempty" jsonschema:"title=Text Batch Lines,description=Raw lines read per refill of the text reader,minimum=4,default=256"`
	BinarySlots        int    `json:"binarySlots,omitempty" jsonschema:"title=Binary Slots,description=Lookahead pool size of the binary reader,minimum=4,default=32"`
	SkipLimit          uint64 `json:"skipLimit,omitempty" jsonschema:"title=Skip Limit,description=Undecodable instructions tolerated in a text trace,minimum=1,default=10000"`
	ConvertDropBudget  int    `json:"convertDropBudget,omitempty" jsonschema:"title=Convert Drop Budget,description=Malformed lines dropped before conversion aborts,minimum=1,default=1000"`
	BinaryBufferBytes  int    `json:"binaryBufferBytes,omitempty" jsonschema:"title=Binary Buffer Bytes,description=Read buffer for binary traces,default=1048576"`
	ConvertBufferBytes int    `json:"convertBufferBytes,omitempty" jsonschema:"title=Convert Buffer Bytes,description=Read and write buffers used by convert,default=131072"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		TextBatchLines:     trace.DefaultTextCapacity,
		BinarySlots:        trace.DefaultBinaryCapacity,
		SkipLimit:          trace.DefaultSkipLimit,
		ConvertDropBudget:  convert.DefaultDropBudget,
		BinaryBufferBytes:  trace.DefaultBinaryBuffer,
		ConvertBufferBytes: convert.DefaultBufferSize,
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path or a missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := json.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

var envInts = []struct {
	name string
	set  func(*Config, uint64)
}{
	{"TRACEFEED_SKIP_LIMIT", func(c *Config, v uint64) { c.SkipLimit = v }},
	{"TRACEFEED_TEXT_BATCH", func(c *Config, v uint64) { c.TextBatchLines = int(v) }},
	{"TRACEFEED_BINARY_SLOTS", func(c *Config, v uint64) { c.BinarySlots = int(v) }},
}

func (c *Config) applyEnv() error {
	for _, e := range envInts {
		s := os.Getenv(e.name)
		if s == "" {
			continue
		}
		v, err := strconv.ParseUint(s, 10, 31)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalid, e.name, s, err)
		}
		e.set(c, v)
	}
	return nil
}

// Validate checks capacities and budgets.
func (c Config) Validate() error {
	if c.TextBatchLines < trace.MinCapacity {
		return fmt.Errorf("%w: textBatchLines %d is below %d", ErrInvalid, c.TextBatchLines, trace.MinCapacity)
	}
	if c.BinarySlots < trace.MinCapacity {
		return fmt.Errorf("%w: binarySlots %d is below %d", ErrInvalid, c.BinarySlots, trace.MinCapacity)
	}
	if c.SkipLimit == 0 {
		return fmt.Errorf("%w: skipLimit must be positive", ErrInvalid)
	}
	if c.ConvertDropBudget <= 0 {
		return fmt.Errorf("%w: convertDropBudget must be positive", ErrInvalid)
	}
	if c.BinaryBufferBytes < trace.RecordSize || c.ConvertBufferBytes < trace.LineSize {
		return fmt.Errorf("%w: buffer sizes too small", ErrInvalid)
	}
	return nil
}

// TextOptions returns reader options for a text trace.
func (c Config) TextOptions() []trace.Option {
	return []trace.Option{
		trace.WithCapacity(c.TextBatchLines),
		trace.WithSkipLimit(c.SkipLimit),
	}
}

// BinaryOptions returns reader options for a binary trace.
func (c Config) BinaryOptions() []trace.Option {
	return []trace.Option{
		trace.WithCapacity(c.BinarySlots),
		trace.WithBufferSize(c.BinaryBufferBytes),
	}
}

// ReaderOptions returns the options for format, resolving FormatAuto by path.
func (c Config) ReaderOptions(path string, format trace.Format) []trace.Option {
	if format == trace.FormatAuto {
		format = trace.FormatFromPath(path)
	}
	if format == trace.FormatBinary {
		return c.BinaryOptions()
	}
	return c.TextOptions()
}

// ConvertOptions returns converter options.
func (c Config) ConvertOptions() convert.Options {
	return convert.Options{
		DropBudget: c.ConvertDropBudget,
		BufferSize: c.ConvertBufferBytes,
	}
}
