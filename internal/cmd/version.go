package cmd

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"

	"github.com/tgrelay/tgrelay/internal/config"
)

var extended bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information. Use --extended for build, dependency and backend details.",
	RunE: func(cmd *cobra.Command, args []string) error {
		identity := GetAppIdentity()
		out := cmd.OutOrStdout()

		fmt.Fprintf(out, "%s %s\n", identity.BinaryName, versionInfo.Version)
		if !extended {
			return nil
		}

		fmt.Fprintf(out, "Commit: %s\n", versionInfo.Commit)
		fmt.Fprintf(out, "Built: %s\n", versionInfo.BuildDate)
		fmt.Fprintf(out, "Go: %s\n\n", runtime.Version())

		version := crucible.GetVersion()
		fmt.Fprintf(out, "Gofulmen: %s\n", version.Gofulmen)
		fmt.Fprintf(out, "Crucible: %s\n", version.Crucible)

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		writeBackendLine(ctx, out)
		return nil
	},
}

// writeBackendLine prints the configured backends, or why they are unknown.
func writeBackendLine(ctx context.Context, out io.Writer) {
	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintf(out, "Backends: unavailable (%v)\n", err)
		return
	}
	specs, err := cfg.BackendSpecs()
	if err != nil {
		fmt.Fprintf(out, "Backends: unavailable (%v)\n", err)
		return
	}
	keys := make([]string, 0, len(specs))
	for _, spec := range specs {
		keys = append(keys, spec.Key)
	}
	fmt.Fprintf(out, "Backends: %s\n", strings.Join(keys, ", "))
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&extended, "extended", "e", false, "show extended version information")
}
