package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/gridfit/internal/optimization/curves"
	"github.com/copyleftdev/gridfit/internal/optimization/executor"
)

var backendsJSON bool

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List executor backends and host capabilities",
	RunE: func(cmd *cobra.Command, args []string) error {
		host := executor.HostInfo()
		if backendsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]interface{}{
				"backends": executor.SupportedBackends(),
				"default":  executor.NormalizeBackend(cfg.Fit.Backend),
				"families": curves.Families(),
				"host":     host,
			})
		}

		def := executor.NormalizeBackend(cfg.Fit.Backend)
		for _, b := range executor.SupportedBackends() {
			marker := " "
			if b == def {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, b)
		}
		fmt.Printf("\nhost: %s, %d CPUs, GOMAXPROCS=%d, features: %s\n",
			host.Arch, host.CPUs, host.GOMAXPROCS, strings.Join(host.Features, " "))
		return nil
	},
}

func init() {
	backendsCmd.Flags().BoolVar(&backendsJSON, "json", false, "Print as JSON")
	rootCmd.AddCommand(backendsCmd)
}
