package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"likegrab/pkg/logger"
	"likegrab/pkg/manifest"
)

// manifestCmd represents the manifest command
var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Inspect, merge and convert manifests",
	Long: `Work with manifests outside a run.

A manifest path ending in .db, .sqlite or .sqlite3 is a SQLite database; any
other path is a JSON document.`,
}

// manifestShowCmd represents the manifest show command
var manifestShowCmd = &cobra.Command{
	Use:   "show [path]",
	Short: "Show manifest statistics",
	Long:  `Show post and media counts for a manifest. Defaults to the configured manifest path.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runManifestShow,
}

// manifestMergeCmd represents the manifest merge command
var manifestMergeCmd = &cobra.Command{
	Use:   "merge <output> <input> [input...]",
	Short: "Merge manifests into one",
	Long: `Merge manifests produced by separate runs. Source accounts are unioned, a
resolved record wins over an unresolved one, and for each media item the most
advanced download outcome is kept. The output is overwritten.`,
	Example: `  likegrab manifest merge all.json laptop.json desktop.db`,
	Args:    cobra.MinimumNArgs(2),
	RunE:    runManifestMerge,
}

// manifestExportCmd represents the manifest export command
var manifestExportCmd = &cobra.Command{
	Use:     "export <input> <output>",
	Short:   "Convert a manifest between JSON and SQLite",
	Example: `  likegrab manifest export archive.db archive.json`,
	Args:    cobra.ExactArgs(2),
	RunE:    runManifestExport,
}

func init() {
	rootCmd.AddCommand(manifestCmd)
	manifestCmd.AddCommand(manifestShowCmd)
	manifestCmd.AddCommand(manifestMergeCmd)
	manifestCmd.AddCommand(manifestExportCmd)
}

func runManifestShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	path := cfg.Output.ManifestPath
	if len(args) > 0 {
		path = args[0]
	}

	m, err := openExisting(cmd.Context(), path)
	if err != nil {
		return err
	}
	defer m.Close()

	printer.ManifestReport(path, m.Stats())
	return nil
}

func runManifestMerge(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(cmd.Flags()); err != nil {
		return err
	}
	stats, err := mergeManifests(cmd.Context(), args[0], args[1:])
	if err != nil {
		return err
	}
	printer.Success(fmt.Sprintf("Merged %d manifests into %s", len(args)-1, args[0]))
	printer.ManifestReport(args[0], stats)
	return nil
}

func runManifestExport(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(cmd.Flags()); err != nil {
		return err
	}
	stats, err := mergeManifests(cmd.Context(), args[1], args[:1])
	if err != nil {
		return err
	}
	printer.Success(fmt.Sprintf("Exported %s to %s", args[0], args[1]))
	printer.ManifestReport(args[1], stats)
	return nil
}

// mergeManifests merges inputs and overwrites out with the result
func mergeManifests(ctx context.Context, out string, inputs []string) (manifest.Stats, error) {
	parts := make([]*manifest.Manifest, 0, len(inputs))
	for _, in := range inputs {
		m, err := openExisting(ctx, in)
		if err != nil {
			return manifest.Stats{}, err
		}
		parts = append(parts, m)
		m.Close()
	}
	merged := manifest.Merge(parts...)

	store, err := manifest.OpenStore(out, "", logger.GetLogger())
	if err != nil {
		return manifest.Stats{}, err
	}
	defer store.Close()
	if err := store.Replace(ctx, merged.Document()); err != nil {
		return manifest.Stats{}, fmt.Errorf("write %s: %w", out, err)
	}
	return merged.Stats(), nil
}

// openExisting loads a manifest that must already exist on disk
func openExisting(ctx context.Context, path string) (*manifest.Manifest, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return manifest.Load(ctx, path, "", logger.GetLogger())
}
