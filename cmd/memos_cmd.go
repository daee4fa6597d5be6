package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/sitememo/internal/dispatch"
	"github.com/nextlevelbuilder/sitememo/internal/memo"
	"github.com/nextlevelbuilder/sitememo/internal/richtext"
)

const previewWidth = 48

func memosCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memos",
		Short: "List, show and delete per-site memos",
	}
	cmd.AddCommand(memosListCmd())
	cmd.AddCommand(memosGetCmd())
	cmd.AddCommand(memosDeleteCmd())
	return cmd
}

func memosListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memos",
		Run: func(cmd *cobra.Command, args []string) {
			a := mustOpenApp(cmd.Context())
			defer a.Close()

			reply, err := a.call(cmd.Context(), &dispatch.ListMemos{})
			exitOnError(err)
			memos := reply.(*dispatch.MemoListReply).Memos

			if asJSON {
				data, _ := json.MarshalIndent(memos, "", "  ")
				fmt.Println(string(data))
				return
			}
			if len(memos) == 0 {
				fmt.Println("No memos found.")
				return
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "ORIGIN\tVISIBLE\tUPDATED\tPREVIEW\n")
			for _, rec := range sortedMemos(memos) {
				fmt.Fprintf(tw, "%s\t%v\t%s\t%s\n",
					rec.Origin,
					rec.IsVisible,
					rec.UpdatedAt.Local().Format("2006-01-02 15:04"),
					truncateDisplay(richtext.StripTags(rec.Content), previewWidth),
				)
			}
			tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

// sortedMemos orders memos by most recent update, then origin.
func sortedMemos(m map[string]memo.Record) []memo.Record {
	out := make([]memo.Record, 0, len(m))
	for _, rec := range m {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].Origin < out[j].Origin
	})
	return out
}

func memosGetCmd() *cobra.Command {
	var (
		asJSON bool
		raw    bool
	)
	cmd := &cobra.Command{
		Use:   "get <origin>",
		Short: "Show the memo for a site",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			a := mustOpenApp(cmd.Context())
			defer a.Close()

			reply, err := a.call(cmd.Context(), &dispatch.GetMemo{Origin: dispatch.NormalizeOrigin(args[0])})
			exitOnError(err)
			rec := reply.(*dispatch.MemoReply).Memo
			if rec == nil {
				fmt.Fprintf(os.Stderr, "No memo for %s.\n", args[0])
				os.Exit(1)
			}

			switch {
			case asJSON:
				data, _ := json.MarshalIndent(rec, "", "  ")
				fmt.Println(string(data))
			case raw:
				fmt.Println(rec.Content)
			default:
				fmt.Printf("Origin:   %s\n", rec.Origin)
				fmt.Printf("Visible:  %v\n", rec.IsVisible)
				fmt.Printf("Created:  %s\n", rec.CreatedAt.Local().Format("2006-01-02 15:04:05"))
				fmt.Printf("Updated:  %s\n", rec.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
				if rec.URL != "" {
					fmt.Printf("URL:      %s\n", rec.URL)
				}
				fmt.Println()
				fmt.Println(richtext.StripTags(rec.Content))
			}
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	cmd.Flags().BoolVar(&raw, "html", false, "print the stored HTML")
	return cmd
}

func memosDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <origin>",
		Short: "Delete the memo for a site",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			a := mustOpenApp(cmd.Context())
			defer a.Close()

			reply, err := a.call(cmd.Context(), &dispatch.DeleteMemo{Origin: dispatch.NormalizeOrigin(args[0])})
			exitOnError(err)
			if reply.(*dispatch.DeleteReply).Deleted {
				fmt.Printf("Deleted memo for %s.\n", args[0])
			} else {
				fmt.Printf("No memo for %s.\n", args[0])
			}
		},
	}
}
