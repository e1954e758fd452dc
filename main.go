package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var cfgPath string
	var root = &cobra.Command{
		Use:          "multisource-digest",
		Short:        "Summarize PDFs, videos, web pages and text into a digest, podcast or mindmap",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (yaml, json or toml)")

	root.AddCommand(runCMD(&cfgPath), serveCMD(&cfgPath), evictCMD(&cfgPath))
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
