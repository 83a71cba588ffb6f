package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caffeineduck/gosnip/compiler"
	"github.com/spf13/cobra"
)

var toolchainCmd = &cobra.Command{
	Use:   "toolchain",
	Short: "Manage the Go toolchain bundle used to compile snippets",
	Long: `Fetch and unpack a Go toolchain bundle (.zip or .tar.gz) so snippets can
be compiled without a system-wide Go installation.

An unpacked toolchain is reused: unpacking into an existing directory is a
no-op. Point --toolchain-home (or [toolchain] home in gosnip.toml) at the
printed path to use it.`,
}

var toolchainUnpackCmd = &cobra.Command{
	Use:   "unpack <archive>",
	Short: "Unpack a toolchain bundle",
	Args:  cobra.ExactArgs(1),
	RunE:  runToolchainUnpack,
}

var toolchainFetchCmd = &cobra.Command{
	Use:   "fetch <url>",
	Short: "Download a toolchain bundle and unpack it",
	Args:  cobra.ExactArgs(1),
	RunE:  runToolchainFetch,
}

var toolchainPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the toolchain home that will be used",
	RunE:  runToolchainPath,
}

var toolchainDest string

func init() {
	toolchainCmd.PersistentFlags().StringVar(&toolchainDest, "dest", "", "Unpack directory (default: ~/.cache/gosnip/toolchain)")
	toolchainFetchCmd.Flags().StringP("output", "o", "", "Keep the downloaded archive at this path")

	toolchainCmd.AddCommand(toolchainUnpackCmd, toolchainFetchCmd, toolchainPathCmd)
	rootCmd.AddCommand(toolchainCmd)
}

func defaultToolchainDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "gosnip", "toolchain")
	}
	return filepath.Join(os.TempDir(), "gosnip-toolchain")
}

func toolchainTarget() string {
	if toolchainDest != "" {
		return toolchainDest
	}
	return defaultToolchainDir()
}

func runToolchainUnpack(cmd *cobra.Command, args []string) error {
	root, err := compiler.UnpackBundle(args[0], toolchainTarget())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), root)
	return nil
}

func runToolchainFetch(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	if output == "" {
		dir, err := os.MkdirTemp("", "gosnip-bundle-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)
		output = filepath.Join(dir, "bundle"+bundleExt(args[0]))
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Downloading %s...\n", args[0])
	if err := compiler.FetchBundle(ctx, args[0], output); err != nil {
		return err
	}

	root, err := compiler.UnpackBundle(output, toolchainTarget())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), root)
	return nil
}

func runToolchainPath(cmd *cobra.Command, args []string) error {
	if err := prepareToolchain(); err != nil {
		return err
	}
	home := compiler.Home()
	if home == "" {
		home = "(go on PATH)"
	}
	fmt.Fprintln(cmd.OutOrStdout(), home)
	return nil
}

// bundleExt keeps the archive suffix so UnpackBundle can pick a format.
func bundleExt(url string) string {
	for _, ext := range []string{".tar.gz", ".tgz", ".zip"} {
		if strings.HasSuffix(strings.ToLower(url), ext) {
			return ext
		}
	}
	return ".zip"
}
