package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/embano1/transcribe/internal/types"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F59E0B"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))
)

func printResult(w io.Writer, req *types.Request, res *types.Result) {
	if !res.Success {
		fmt.Fprintln(w, errorStyle.Render("✗ "+req.AudioPath()))
		if res.Error != nil {
			fmt.Fprintf(w, "  %s: %s\n", res.Error.Kind, res.Error.Message)
		}
		return
	}

	fmt.Fprintln(w, successStyle.Render(fmt.Sprintf("✓ Transcribed with %s in %s", res.MethodUsed, res.Elapsed.Round(10*time.Millisecond))))
	if res.LanguageDetected != "" {
		fmt.Fprintf(w, "  Language: %s\n", res.LanguageDetected)
	}
	for _, f := range sortedFormats(res.OutputFiles) {
		fmt.Fprintf(w, "  %-4s %s\n", f, dimStyle.Render(res.OutputFiles[f]))
	}
	for _, warn := range res.Warnings {
		fmt.Fprintln(w, warnStyle.Render("  ! "+warn))
	}
}

func sortedFormats(files map[types.Format]string) []types.Format {
	out := make([]types.Format, 0, len(files))
	for f := range files {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
