package commands

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"evalgo.org/chainmgr/internal/deploy"
	"evalgo.org/chainmgr/models"
)

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Manage chains on a running server",
	Long: `Deploy, inspect, upgrade and delete chains.

Every subcommand talks to the HTTP API of a running chainmgr server.`,
}

var (
	deployHosts       []string
	deployTagID       int64
	deployRootDir     string
	deploySignAddr    string
	deployImageSource string
	deployEncryptType int

	progressWatch    bool
	progressInterval time.Duration
)

var chainListCmd = &cobra.Command{
	Use:   "list",
	Short: "List chains",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		chains, err := c.ListChains(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list chains: %w", err)
		}
		if outputFormat == "json" {
			return printJSON(chains)
		}

		w := newTable()
		fmt.Fprintln(w, "NAME\tVERSION\tSTATUS\tIMAGE SOURCE\tROOT DIR")
		for _, ch := range chains {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", ch.Name, ch.Version, ch.Status, ch.ImageSource, ch.RootDir)
		}
		w.Flush()
		fmt.Printf("\nTotal: %d chains\n", len(chains))
		return nil
	},
}

var chainDescribeCmd = &cobra.Command{
	Use:   "describe <chain>",
	Short: "Show a chain with its hosts, agencies, groups and nodes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		detail, err := c.GetChain(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get chain: %w", err)
		}
		if outputFormat == "json" {
			return printJSON(detail)
		}

		fmt.Printf("Chain:   %s\n", detail.Name)
		fmt.Printf("Version: %s\n", detail.Version)
		fmt.Printf("Status:  %s\n\n", detail.Status)

		agencies := make(map[int64]string, len(detail.Agencies))
		for _, a := range detail.Agencies {
			agencies[a.ID] = a.Name
		}
		hosts := make(map[int64]string, len(detail.Hosts))

		w := newTable()
		fmt.Fprintln(w, "HOST\tAGENCY\tSTATUS")
		for _, h := range detail.Hosts {
			hosts[h.ID] = h.IP
			fmt.Fprintf(w, "%s\t%s\t%s\n", h.IP, agencies[h.AgencyID], h.Status)
		}
		w.Flush()

		fmt.Println()
		w = newTable()
		fmt.Fprintln(w, "GROUP\tNODES")
		for _, g := range detail.Groups {
			fmt.Fprintf(w, "%d\t%d\n", g.GroupID, g.NodeCount)
		}
		w.Flush()

		fmt.Println()
		printFronts(detail.Fronts, hosts)
		return nil
	},
}

var chainDeployCmd = &cobra.Command{
	Use:   "deploy <chain>",
	Short: "Deploy a new chain",
	Long: `Deploy a new chain across the given hosts.

Each --host entry has the form ip[:count[:agency[:groupId]]].

Examples:
  # Two hosts, one of them with three nodes of agency org1
  chainmgr chain deploy chainA --tag 1 --root-dir /opt/fisco \
    --sign-addr 10.0.0.9:5004 --host 10.0.0.1:3:org1 --host 10.0.0.2`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		chain, err := c.DeployChain(cmd.Context(), deploy.DeployRequest{
			ChainName:   args[0],
			HostSpecs:   deployHosts,
			TagID:       deployTagID,
			RootDir:     deployRootDir,
			SignAddr:    deploySignAddr,
			ImageSource: deployImageSource,
			EncryptType: deployEncryptType,
		})
		if err != nil {
			return fmt.Errorf("failed to deploy chain: %w", err)
		}
		if outputFormat == "json" {
			return printJSON(chain)
		}
		fmt.Printf("✓ Chain %s accepted (status %s, version %s)\n", chain.Name, chain.Status, chain.Version)
		fmt.Printf("  Follow with: chainmgr chain progress %s --watch\n", chain.Name)
		return nil
	},
}

var chainDeleteCmd = &cobra.Command{
	Use:   "delete <chain>",
	Short: "Delete a chain and all its records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.DeleteChain(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to delete chain: %w", err)
		}
		fmt.Printf("✓ Chain %s deleted\n", args[0])
		return nil
	},
}

var chainUpgradeCmd = &cobra.Command{
	Use:   "upgrade <chain> <tagId>",
	Short: "Upgrade every node of a chain to another image tag",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tagID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid tag id %q: %w", args[1], err)
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		chain, err := c.Upgrade(cmd.Context(), args[0], tagID)
		if err != nil {
			return fmt.Errorf("failed to upgrade chain: %w", err)
		}
		if outputFormat == "json" {
			return printJSON(chain)
		}
		fmt.Printf("✓ Upgrade of %s to %s scheduled\n", chain.Name, chain.Version)
		return nil
	},
}

var chainProgressCmd = &cobra.Command{
	Use:   "progress <chain>",
	Short: "Show deployment progress of a chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()

		for {
			p, err := c.Progress(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to get progress: %w", err)
			}
			if outputFormat == "json" {
				if err := printJSON(p); err != nil {
					return err
				}
			} else {
				fmt.Printf("%s: %s %d%% (%d/%d running, %d failed)\n",
					p.Chain, p.Status, p.Percent, p.Running, p.Total, p.Failed)
			}

			if !progressWatch || settled(p) {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	},
}

// settled reports whether the chain has left its transitional states.
func settled(p *models.Progress) bool {
	switch models.ChainStatus(p.Status) {
	case models.ChainDeploying, models.ChainUpgrading:
		return false
	}
	return true
}

func init() {
	chainDeployCmd.Flags().StringArrayVar(&deployHosts, "host", nil, "host entry ip[:count[:agency[:groupId]]] (repeatable)")
	chainDeployCmd.Flags().Int64Var(&deployTagID, "tag", 0, "image tag id (see 'chainmgr tag list')")
	chainDeployCmd.Flags().StringVar(&deployRootDir, "root-dir", "/opt/fisco", "root directory on every host")
	chainDeployCmd.Flags().StringVar(&deploySignAddr, "sign-addr", "", "address of the signing helper")
	chainDeployCmd.Flags().StringVar(&deployImageSource, "image-source", string(models.ImagePull), "how images reach hosts (pull, manual)")
	chainDeployCmd.Flags().IntVar(&deployEncryptType, "encrypt-type", 0, "0 for standard crypto, 1 for national crypto")
	_ = chainDeployCmd.MarkFlagRequired("host")
	_ = chainDeployCmd.MarkFlagRequired("tag")
	_ = chainDeployCmd.MarkFlagRequired("sign-addr")

	chainProgressCmd.Flags().BoolVarP(&progressWatch, "watch", "w", false, "poll until the chain settles")
	chainProgressCmd.Flags().DurationVar(&progressInterval, "interval", 3*time.Second, "poll interval with --watch")

	addClientFlags(chainCmd)
	chainCmd.AddCommand(chainListCmd)
	chainCmd.AddCommand(chainDescribeCmd)
	chainCmd.AddCommand(chainDeployCmd)
	chainCmd.AddCommand(chainDeleteCmd)
	chainCmd.AddCommand(chainUpgradeCmd)
	chainCmd.AddCommand(chainProgressCmd)
}
