package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/roach88/sweep/internal/ir"
)

// VersionInfo is printed by the version command.
type VersionInfo struct {
	Engine string `json:"engine"`
	Record string `json:"record_version"`
	Go     string `json:"go"`
}

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "version",
		Short:        "Print version information",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := VersionInfo{Engine: ir.EngineVersion, Record: ir.RecordVersion, Go: runtime.Version()}
			formatter := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if formatter.JSON() {
				return formatter.Success(info)
			}
			return formatter.Success(fmt.Sprintf("sweep %s (record v%s, %s)", info.Engine, info.Record, info.Go))
		},
	}
}
