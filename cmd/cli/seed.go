package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/anstrom/mcscan/internal/coordinator"
	"github.com/anstrom/mcscan/internal/db"
	"github.com/anstrom/mcscan/internal/seed"
)

var (
	seedHosts  []string
	seedPorts  string
	seedPreset string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load sockets into the store",
	Long: `Load sockets to scan into the store. Entries already stored are skipped,
so seeding the same source twice adds nothing.`,
}

var seedFileCmd = &cobra.Command{
	Use:     "file <sockets.txt>",
	Short:   "Load host:port lines from a text file",
	Example: `  mcscan seed file sockets.txt`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSeed(cmd, func(ctx context.Context, s *session, loader *seed.Loader) (*seed.Result, error) {
			return loader.LoadLinesFile(ctx, args[0])
		})
	},
}

var seedJSONCmd = &cobra.Command{
	Use:   "json <servers.json>",
	Short: "Load known servers from a JSON array of records",
	Long: `Load server records of the form
{"connect": "host:port", "version": "...", "description": "...", "max_players": 20}
where "connection" is accepted in place of "connect". Records with any other
field are skipped. Loaded sockets are marked as successfully scanned.`,
	Example: `  mcscan seed json servers.json`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSeed(cmd, func(ctx context.Context, s *session, loader *seed.Loader) (*seed.Result, error) {
			success, err := s.repo.SuccessStatus(ctx)
			if err != nil {
				return nil, err
			}
			return loader.LoadRecordsFile(ctx, args[0], success)
		})
	},
}

var seedRangeCmd = &cobra.Command{
	Use:   "range",
	Short: "Load the cross product of host and port ranges",
	Example: `  mcscan seed range --hosts 192.168.1.0/24 --ports 25565
  mcscan seed range --hosts 10.0.0.1-10.0.0.50,play.example.com --ports 25565-25575
  mcscan seed range --preset ngrok`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		sockets, err := expandTargets(seedHosts, seedPorts, seedPreset)
		if err != nil {
			return err
		}
		return runSeed(cmd, func(ctx context.Context, _ *session, loader *seed.Loader) (*seed.Result, error) {
			stored, err := loader.LoadSockets(ctx, sockets)
			return &seed.Result{Parsed: len(sockets), Stored: stored}, err
		})
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.AddCommand(seedFileCmd, seedJSONCmd, seedRangeCmd)

	addTargetFlags(seedRangeCmd, &seedHosts, &seedPorts, &seedPreset)
}

// addTargetFlags registers the host, port and preset flags on cmd.
func addTargetFlags(cmd *cobra.Command, hosts *[]string, ports, preset *string) {
	cmd.Flags().StringSliceVar(hosts, "hosts", nil, "hosts, CIDR blocks or address ranges")
	cmd.Flags().StringVarP(ports, "ports", "p", "25565", "ports and port ranges, e.g. 25565,25570-25580")
	cmd.Flags().StringVar(preset, "preset", "",
		fmt.Sprintf("built-in range (%s)", strings.Join(seed.PresetNames(), ", ")))
	cmd.MarkFlagsMutuallyExclusive("hosts", "preset")
}

// expandTargets builds sockets from a preset or from host and port specs.
func expandTargets(hosts []string, ports, preset string) ([]*db.Socket, error) {
	if preset != "" {
		return seed.ExpandPreset(preset)
	}
	if len(hosts) == 0 {
		return nil, fmt.Errorf("either --hosts or --preset is required")
	}
	return seed.Expand(hosts, ports)
}

type seedFunc func(ctx context.Context, s *session, loader *seed.Loader) (*seed.Result, error)

func runSeed(cmd *cobra.Command, load seedFunc) error {
	return withSession(commandContext(cmd), func(ctx context.Context, s *session) error {
		coord := coordinator.New(s.repo, s.cfg.Persistence.Coordinator(),
			coordinator.WithLogger(s.logger))
		result, err := load(ctx, s, seed.NewLoader(coord, s.logger))
		if result != nil {
			printSeedResult(cmd.OutOrStdout(), result)
		}
		return err
	})
}

func printSeedResult(out io.Writer, r *seed.Result) {
	fmt.Fprintf(out, "Parsed %s entries", humanize.Comma(int64(r.Parsed)))
	if r.Skipped > 0 {
		fmt.Fprintf(out, " (%s skipped)", humanize.Comma(int64(r.Skipped)))
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Added %s hosts, %s sockets, %s servers\n",
		humanize.Comma(int64(r.Stored.Hosts)),
		humanize.Comma(int64(r.Stored.Sockets)),
		humanize.Comma(int64(r.Stored.Servers)))
	if r.Stored.Dropped > 0 {
		fmt.Fprintf(out, "Dropped %s entries rejected by the store\n", humanize.Comma(int64(r.Stored.Dropped)))
	}
}
