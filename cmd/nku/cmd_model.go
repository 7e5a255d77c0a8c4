package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"nku/internal/modelstore"
)

var (
	downloadURL    string
	downloadSHA256 string
	downloadSize   int64
)

// modelCmd groups artifact management commands
var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Resolve, validate and download the reasoning model",
	Long: `Manage the on-device reasoning model artifact.

Subcommands:
  resolve   - Find a valid artifact in the cache, sideload and bundled tiers
  validate  - Check a file's size, GGUF magic and optional SHA-256
  download  - Fetch the artifact into the cache directory`,
}

var modelResolveCmd = &cobra.Command{
	Use:   "resolve [name]",
	Short: "Print the path of a valid artifact",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runModelResolve,
}

var modelValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate an artifact file",
	Args:  cobra.ExactArgs(1),
	RunE:  runModelValidate,
}

var modelDownloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download the artifact into the cache directory",
	RunE:  runModelDownload,
}

func init() {
	modelDownloadCmd.Flags().StringVar(&downloadURL, "url", "", "Artifact URL (default: model.download_url)")
	modelDownloadCmd.Flags().StringVar(&downloadSHA256, "sha256", "", "Expected SHA-256 (default: model.sha256)")
	modelDownloadCmd.Flags().Int64Var(&downloadSize, "size", 0, "Expected size in bytes (default: model.expected_size_bytes)")

	modelCmd.AddCommand(modelResolveCmd, modelValidateCmd, modelDownloadCmd)
}

func openModelStore(cmd *cobra.Command) (*app, error) {
	a := &app{cfg: cfg}
	if err := a.openStore(cmd.Context()); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func runModelResolve(cmd *cobra.Command, args []string) error {
	name := cfg.Model.Name
	if len(args) == 1 {
		name = args[0]
	}

	a, err := openModelStore(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	path, err := a.store.Resolve(cmd.Context(), name)
	if errors.Is(err, modelstore.ErrNotFound) {
		return fmt.Errorf("%s: no valid artifact in cache, sideload or bundled storage", name)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

func runModelValidate(cmd *cobra.Command, args []string) error {
	path := args[0]
	if !modelstore.Validate(path, cfg.Model.MinSizeBytes, cfg.Model.SHA256) {
		return fmt.Errorf("%s: %w", path, modelstore.ErrValidationFailed)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: valid\n", path)
	return nil
}

func runModelDownload(cmd *cobra.Command, args []string) error {
	d := modelstore.Descriptor{
		Name:      cfg.Model.Name,
		URL:       firstNonEmpty(downloadURL, cfg.Model.DownloadURL),
		SizeBytes: cfg.Model.ExpectedSizeBytes,
		SHA256:    firstNonEmpty(downloadSHA256, cfg.Model.SHA256),
	}
	if downloadSize > 0 {
		d.SizeBytes = downloadSize
	}
	if d.URL == "" {
		return fmt.Errorf("no download URL: pass --url or set model.download_url")
	}

	a, err := openModelStore(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	fmt.Fprintf(cmd.ErrOrStderr(), "Downloading %s ...\n", d.Name)
	path, err := a.store.Download(cmd.Context(), d)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
