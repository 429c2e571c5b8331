package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oxspec/speccompiler/internal/config"
)

func newCleanCacheCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "clean-cache",
		Short: "Remove the build cache database and external-render artifact cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			if err := os.Remove(cfg.CacheDSN); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("removing %q: %w", cfg.CacheDSN, err)
			}
			externalDir := cfg.BuildDir + "/cache/external"
			if err := os.RemoveAll(externalDir); err != nil {
				return fmt.Errorf("removing %q: %w", externalDir, err)
			}
			fmt.Fprintf(os.Stdout, "cache cleared: %s, %s\n", cfg.CacheDSN, externalDir)
			return nil
		},
	}
}
