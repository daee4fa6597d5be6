package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/sitememo/internal/dispatch"
	"github.com/nextlevelbuilder/sitememo/internal/richtext"
	"github.com/nextlevelbuilder/sitememo/internal/templates"
)

func templatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "templates",
		Aliases: []string{"template", "tpl"},
		Short:   "Manage reusable memo templates",
	}
	cmd.AddCommand(templatesListCmd())
	cmd.AddCommand(templatesSaveCmd())
	cmd.AddCommand(templatesDeleteCmd())
	cmd.AddCommand(templatesReorderCmd())
	return cmd
}

func templatesListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List templates in display order",
		Run: func(cmd *cobra.Command, args []string) {
			a := mustOpenApp(cmd.Context())
			defer a.Close()

			reply, err := a.call(cmd.Context(), &dispatch.GetAllTemplates{})
			exitOnError(err)
			printTemplates(reply.(*dispatch.TemplatesReply).Templates, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func printTemplates(list []templates.Record, asJSON bool) {
	if asJSON {
		data, _ := json.MarshalIndent(list, "", "  ")
		fmt.Println(string(data))
		return
	}
	if len(list) == 0 {
		fmt.Println("No templates found.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "#\tNAME\tUPDATED\tPREVIEW\n")
	for i, t := range list {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n",
			i+1,
			truncateDisplay(t.Name, 24),
			t.UpdatedAt.Local().Format("2006-01-02 15:04"),
			truncateDisplay(richtext.StripTags(t.Content), previewWidth),
		)
	}
	tw.Flush()
}

func templatesSaveCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "save <name> [content]",
		Short: "Create or update a template",
		Long:  "Content is taken from the argument, from --file, or from stdin when neither is given.",
		Args:  cobra.RangeArgs(1, 2),
		Run: func(cmd *cobra.Command, args []string) {
			content, err := templateContent(args, file)
			exitOnError(err)

			a := mustOpenApp(cmd.Context())
			defer a.Close()

			reply, err := a.call(cmd.Context(), &dispatch.SaveTemplate{Name: args[0], Content: content})
			exitOnError(err)
			t := reply.(*dispatch.TemplateReply).Template
			fmt.Printf("Saved template %q.\n", t.Name)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read content from file")
	return cmd
}

func templateContent(args []string, file string) (string, error) {
	switch {
	case len(args) == 2:
		return args[1], nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return strings.TrimRight(string(data), "\n"), nil
	}
}

func templatesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a template",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			a := mustOpenApp(cmd.Context())
			defer a.Close()

			reply, err := a.call(cmd.Context(), &dispatch.DeleteTemplate{Name: args[0]})
			exitOnError(err)
			if reply.Header().Success {
				fmt.Printf("Deleted template %q.\n", args[0])
			} else {
				fmt.Printf("No template named %q.\n", args[0])
			}
		},
	}
}

func templatesReorderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reorder <name>...",
		Short: "Set the display order; unnamed templates keep their order after these",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			a := mustOpenApp(cmd.Context())
			defer a.Close()

			reply, err := a.call(cmd.Context(), &dispatch.ReorderTemplates{Names: args})
			exitOnError(err)
			printTemplates(reply.(*dispatch.TemplatesReply).Templates, false)
		},
	}
}
