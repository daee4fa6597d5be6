package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/sitememo/internal/dispatch"
)

func selectionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "selection",
		Short: "Toggle adding page selections to memos",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "on",
		Short: "Enable selection capture",
		Run:   func(cmd *cobra.Command, args []string) { setSelection(cmd, true) },
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "off",
		Short: "Disable selection capture",
		Run:   func(cmd *cobra.Command, args []string) { setSelection(cmd, false) },
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show whether selection capture is enabled",
		Run: func(cmd *cobra.Command, args []string) {
			a := mustOpenApp(cmd.Context())
			defer a.Close()

			reply, err := a.call(cmd.Context(), &dispatch.GetSelectionStatus{})
			exitOnError(err)
			printSelection(reply.(*dispatch.SelectionReply).Enabled)
		},
	})
	return cmd
}

func setSelection(cmd *cobra.Command, enabled bool) {
	a := mustOpenApp(cmd.Context())
	defer a.Close()

	reply, err := a.call(cmd.Context(), &dispatch.SetSelectionEnabled{Enabled: &enabled})
	exitOnError(err)
	printSelection(reply.(*dispatch.SelectionReply).Enabled)
}

func printSelection(enabled bool) {
	if enabled {
		fmt.Println("Selection capture: enabled")
	} else {
		fmt.Println("Selection capture: disabled")
	}
}
