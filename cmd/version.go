package cmd

import (
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

const version = "lstore 0.1.0"

func init() {
	lstoreCmd.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number of lstore",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Println(version)
			},
		})

	lstoreCmd.AddCommand(
		&cobra.Command{
			Use:   "config",
			Short: "Print the config variables and where each value came from",
			Run: func(cmd *cobra.Command, args []string) {
				tw := tablewriter.NewWriter(cmd.OutOrStdout())
				tw.SetAutoFormatHeaders(false)
				tw.SetHeader([]string{"name", "value", "by"})
				for _, v := range cfg.Vars() {
					tw.Append([]string{v.Name, v.Value, v.By.String()})
				}
				tw.Render()
			},
		})
}
