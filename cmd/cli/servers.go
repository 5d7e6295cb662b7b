package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/mcscan/internal/db"
)

// Width of the description column in server tables.
const descriptionColumnWidth = 40

var (
	serversLimit  int
	serversOffset int
	serversJSON   bool
	statsStatuses int
)

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "Inspect discovered servers",
}

var serversListCmd = &cobra.Command{
	Use:   "list",
	Short: "List discovered servers",
	Example: `  mcscan servers list
  mcscan servers list --limit 100 --offset 200
  mcscan servers list --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withSession(commandContext(cmd), func(ctx context.Context, s *session) error {
			servers, err := s.repo.ListServers(ctx, serversLimit, serversOffset)
			if err != nil {
				return err
			}
			if serversJSON {
				return writeJSON(cmd.OutOrStdout(), servers)
			}
			total, err := s.repo.CountServers(ctx)
			if err != nil {
				return err
			}
			return renderServers(cmd.OutOrStdout(), servers, total)
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withSession(commandContext(cmd), func(ctx context.Context, s *session) error {
			stats, err := s.repo.Stats(ctx)
			if err != nil {
				return err
			}
			statuses, err := s.repo.StatusCounts(ctx, statsStatuses)
			if err != nil {
				return err
			}
			if serversJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"stats": stats, "statuses": statuses})
			}
			return renderStats(cmd.OutOrStdout(), stats, statuses)
		})
	},
}

func init() {
	rootCmd.AddCommand(serversCmd, statsCmd)
	serversCmd.AddCommand(serversListCmd)

	serversListCmd.Flags().IntVar(&serversLimit, "limit", 50, "maximum number of servers to list")
	serversListCmd.Flags().IntVar(&serversOffset, "offset", 0, "number of servers to skip")
	serversListCmd.Flags().BoolVar(&serversJSON, "json", false, "output as JSON")

	statsCmd.Flags().IntVar(&statsStatuses, "statuses", 10, "number of most common statuses to show")
	statsCmd.Flags().BoolVar(&serversJSON, "json", false, "output as JSON")
}

func renderServers(out io.Writer, servers []db.ServerView, total int64) error {
	if len(servers) == 0 {
		fmt.Fprintln(out, "No servers found")
		return nil
	}

	table := tablewriter.NewWriter(out)
	table.Header("ID", "Socket", "Version", "Players", "Description")
	for _, s := range servers {
		_ = table.Append([]string{
			strconv.FormatInt(s.ID, 10),
			s.Address(),
			s.Version,
			strconv.Itoa(s.MaxPlayers),
			truncate(s.Description, descriptionColumnWidth),
		})
	}
	if err := table.Render(); err != nil {
		return err
	}

	fmt.Fprintf(out, "Showing %d of %s servers\n", len(servers), humanize.Comma(total))
	return nil
}

func renderStats(out io.Writer, stats db.Stats, statuses []db.StatusCount) error {
	table := tablewriter.NewWriter(out)
	table.Header("Entity", "Count")
	_ = table.Append([]string{"Hosts", humanize.Comma(stats.Hosts)})
	_ = table.Append([]string{"Sockets", humanize.Comma(stats.Sockets)})
	_ = table.Append([]string{"Pending sockets", humanize.Comma(stats.PendingSockets)})
	_ = table.Append([]string{"Statuses", humanize.Comma(stats.Statuses)})
	_ = table.Append([]string{"Servers", humanize.Comma(stats.Servers)})
	if err := table.Render(); err != nil {
		return err
	}

	if len(statuses) == 0 {
		return nil
	}
	fmt.Fprintln(out)
	table = tablewriter.NewWriter(out)
	table.Header("Status", "Sockets")
	for _, s := range statuses {
		_ = table.Append([]string{truncate(s.Name, descriptionColumnWidth), humanize.Comma(s.Sockets)})
	}
	return table.Render()
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// truncate shortens s to at most width runes, marking the cut with "...".
func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-3]) + "..."
}
