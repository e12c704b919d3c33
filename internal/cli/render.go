package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/callbacks"
	"gopkg.in/yaml.v3"
)

// OutputFormat of listing commands
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
	OutputFormatYAML OutputFormat = "yaml"
)

func (f *OutputFormat) String() string {
	return string(*f)
}

func (f *OutputFormat) Set(v string) error {
	switch OutputFormat(strings.ToLower(v)) {
	case OutputFormatText, OutputFormatJSON, OutputFormatYAML:
		*f = OutputFormat(strings.ToLower(v))
		return nil
	default:
		return errors.Errorf("must be one of: text, json, yaml")
	}
}

func (f *OutputFormat) Type() string {
	return "format"
}

const answerWrapWidth = 100

// renderAnswer prints the answer as terminal markdown, or as is when plain
func renderAnswer(w io.Writer, answer string, plain bool) error {
	if plain {
		_, err := fmt.Fprintln(w, answer)
		return err
	}

	md, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"), // avoid OSC background queries
		glamour.WithWordWrap(answerWrapWidth),
	)
	if err != nil {
		return errors.Wrap(err, "unable to create markdown renderer")
	}
	out, err := md.Render(answer)
	if err != nil {
		// some model output is not valid markdown
		_, err = fmt.Fprintln(w, answer)
		return err
	}
	_, err = fmt.Fprint(w, out)
	return err
}

// renderValue prints v as indented JSON or YAML
func renderValue(w io.Writer, v any, format OutputFormat) error {
	switch format {
	case OutputFormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return errors.Wrap(err, "unable to encode YAML")
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(v), "unable to encode JSON")
	}
}

// printStats writes a one line summary of a query
func printStats(w io.Writer, stats *callbacks.RunStats) {
	fmt.Fprintf(w, "Model calls: %d, Tool calls: %d, Failed: %d, Tokens: %d in / %d out, Duration: %s\n",
		stats.ModelCalls,
		stats.ToolCalls,
		stats.ToolCallsFailed,
		stats.LLMInputTokens,
		stats.LLMOutputTokens,
		stats.Duration.Round(time.Millisecond),
	)
}
