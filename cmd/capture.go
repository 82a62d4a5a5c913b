package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/timvw/sightcheck/internal/tui"
)

var (
	flagCaptureOut  string
	flagCaptureJSON bool
)

var captureCmd = &cobra.Command{
	Use:   "capture <url>",
	Short: "Screenshot a page and print its semantic tree",
	Long: `Open a page in headless Chrome, write a full-page PNG screenshot and print
the semantic tree that would be sent to the model.

This is pure transport. No model is called and nothing is judged.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		url := args[0]

		chrome, err := startBrowser(ctx)
		if err != nil {
			return err
		}
		defer chrome.Close()

		page, err := chrome.Open(ctx, url)
		if err != nil {
			return err
		}
		defer page.Close()

		png, err := chrome.CaptureScreenshot(ctx, page)
		if err != nil {
			return fmt.Errorf("failed to capture %s: %w", url, err)
		}
		if err := os.WriteFile(flagCaptureOut, png, 0o644); err != nil {
			return fmt.Errorf("writing screenshot: %w", err)
		}
		fmt.Fprintf(os.Stderr, "screenshot: wrote %s (%d bytes)\n", flagCaptureOut, len(png))

		nodes, err := chrome.ExtractSemanticTree(ctx, page)
		if err != nil {
			return fmt.Errorf("failed to extract semantic tree of %s: %w", url, err)
		}

		out := cmd.OutOrStdout()
		if flagCaptureJSON {
			writeJSON(out, nodes)
			return nil
		}
		fmt.Fprintln(out, tui.NewRenderer(tui.ThemeByName(flagTheme), tui.DefaultWidth).Nodes(nodes))
		return nil
	},
}

func init() {
	captureCmd.Flags().StringVarP(&flagCaptureOut, "out", "o", "screenshot.png", "screenshot output file")
	captureCmd.Flags().BoolVar(&flagCaptureJSON, "json", false, "print the semantic tree as JSON")
	rootCmd.AddCommand(captureCmd)
}
