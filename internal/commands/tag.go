package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Manage node image tags",
}

var tagListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known image tags",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		tags, err := c.ListTags(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list tags: %w", err)
		}
		if outputFormat == "json" {
			return printJSON(tags)
		}

		w := newTable()
		fmt.Fprintln(w, "ID\tTYPE\tVALUE")
		for _, t := range tags {
			fmt.Fprintf(w, "%d\t%s\t%s\n", t.ID, t.Type, t.Value)
		}
		w.Flush()
		return nil
	},
}

var tagAddCmd = &cobra.Command{
	Use:   "add <value>",
	Short: "Register an image tag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		tag, err := c.AddTag(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to add tag: %w", err)
		}
		fmt.Printf("✓ Tag %s registered with id %d\n", tag.Value, tag.ID)
		return nil
	},
}

func init() {
	addClientFlags(tagCmd)
	tagCmd.AddCommand(tagListCmd)
	tagCmd.AddCommand(tagAddCmd)
}
