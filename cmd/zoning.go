package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"polpi-mx/zoning"
)

func newZoningCommand(a *app) *cobra.Command {
	var lot float64
	cmd := &cobra.Command{
		Use:   "zoning <colonia>",
		Short: "Show the land-use rules of a colonia and the buildable area of a lot",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := zoning.Load(a.cfg.ZoningFile)
			if err != nil {
				return err
			}
			info, err := rules.Lookup(strings.Join(args, " "))
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			printZoning(w, info)
			if lot > 0 {
				b, err := zoning.BuildableArea(lot, info)
				if err != nil {
					return err
				}
				printBuildable(w, b)
			}
			fmt.Fprintf(w, "Official certificate: %s\n", rules.CertificateURL())
			return nil
		},
	}
	cmd.Flags().Float64Var(&lot, "lot", 0, "lot size in m² to compute the buildable area")
	return cmd
}

func printZoning(w io.Writer, info *zoning.Info) {
	t := newTable(w, "Zoning · "+info.Colonia)
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRow(table.Row{"Code", info.Code})
	t.AppendRow(table.Row{"Category", info.Category + " " + info.CategoryName})
	t.AppendRow(table.Row{"Max floors", info.MaxFloors})
	t.AppendRow(table.Row{"Max COS", fmt.Sprintf("%.2f", info.MaxCOS)})
	t.AppendRow(table.Row{"Max CUS", fmt.Sprintf("%.2f", info.MaxCUS)})
	t.AppendRow(table.Row{"Min open area", fmt.Sprintf("%.0f%%", info.MinOpenAreaPct)})
	t.AppendRow(table.Row{"Heritage zone", info.Heritage})
	t.AppendRow(table.Row{"Allowed uses", strings.Join(info.AllowedUses, ", ")})
	if info.Source == "default" {
		t.AppendFooter(table.Row{"", "default zoning, colonia not in table"})
	}
	t.Render()
}

func printBuildable(w io.Writer, b *zoning.Buildable) {
	t := newTable(w, "Buildable area")
	t.AppendHeader(table.Row{"Metric", "m²"})
	t.AppendRow(table.Row{"Lot", fmt.Sprintf("%.1f", b.LotSizeM2)})
	t.AppendRow(table.Row{"Max footprint", fmt.Sprintf("%.1f", b.MaxFootprintM2)})
	t.AppendRow(table.Row{"Max construction", fmt.Sprintf("%.1f", b.MaxTotalConstructionM2)})
	t.AppendRow(table.Row{"Required open area", fmt.Sprintf("%.1f", b.RequiredOpenAreaM2)})
	t.Render()
}
