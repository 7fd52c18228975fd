package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/majoor-app/majoor/pkg/apiclient"
)

var (
	listScope  string
	listQuery  string
	listSort   string
	listLimit  int
	listOffset int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexed assets",
	Long: `List one page of assets.

Examples:
  majoorctl list
  majoorctl list --scope output --sort rating_desc
  majoorctl list --query "kind:image rating:4 dragon" --limit 20`,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVar(&listScope, "scope", "output", "Scope: output, input, all, custom, browser")
	listCmd.Flags().StringVar(&listQuery, "query", "", "Search query, supports key:value filters")
	listCmd.Flags().StringVar(&listSort, "sort", "", "Sort order, e.g. mtime_desc, name_asc, rating_desc")
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "Page size")
	listCmd.Flags().IntVar(&listOffset, "offset", 0, "Page offset")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	res, err := client().List(apiclient.ListOptions{
		Scope:  listScope,
		Query:  listQuery,
		Sort:   listSort,
		Limit:  listLimit,
		Offset: listOffset,
	})
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Filename", "Subfolder", "Kind", "Size", "Rating", "Tags"})
	table.SetBorder(false)
	for _, a := range res.Assets {
		table.Append([]string{
			i64toa(a.ID),
			a.Filename,
			orDash(a.Subfolder),
			a.Kind,
			humanize.Bytes(uint64(a.SizeBytes)),
			itoa(a.Rating),
			strings.Join(a.Tags, ", "),
		})
	}
	table.Render()
	fmt.Printf("%d of %d assets (offset %d)\n", len(res.Assets), res.Total, listOffset)
	return nil
}
