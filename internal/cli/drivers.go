package cli

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/kernelci/kcidb/internal/db/registry"
)

// DriverInfo describes one driver in the drivers command output.
type DriverInfo struct {
	Name         string `json:"name"`
	Params       string `json:"params,omitempty"`
	Default      string `json:"default,omitempty"`
	Capabilities string `json:"capabilities"`
	Description  string `json:"description"`
}

// NewDriversCommand creates the drivers command.
func NewDriversCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "drivers",
		Short:         "List the available database drivers",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var infos []DriverInfo
			for _, e := range registry.Entries() {
				infos = append(infos, DriverInfo{
					Name:         e.Name,
					Params:       e.Params,
					Default:      e.Default,
					Capabilities: e.Capabilities.String(),
					Description:  e.Doc,
				})
			}
			return opts.formatter(cmd).Result(driversTable(infos), infos)
		},
	}
}

func driversTable(infos []DriverInfo) string {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.SeparateColumns = false
	tbl.Style().Options.DrawBorder = false

	tbl.AppendHeader(table.Row{"Driver", "Params", "Capabilities", "Default", "Description"})
	for _, d := range infos {
		tbl.AppendRow(table.Row{d.Name, d.Params, d.Capabilities, d.Default, d.Description})
	}
	return tbl.Render()
}
