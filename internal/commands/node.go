package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"evalgo.org/chainmgr/internal/deploy"
	"evalgo.org/chainmgr/internal/engine"
	"evalgo.org/chainmgr/models"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Manage the nodes of a chain",
}

var (
	nodeStatus       string
	addIP            string
	addNum           int
	addAgency        string
	addGroupID       int
	addImageSource   string
	nodeDeleteHost   bool
	nodeDeleteAgency bool
	startBefore      string
	startSuccess     string
	startFailure     string
)

var nodeListCmd = &cobra.Command{
	Use:   "list <chain>",
	Short: "List the nodes of a chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		fronts, err := c.ListFronts(cmd.Context(), args[0], nodeStatus)
		if err != nil {
			return fmt.Errorf("failed to list nodes: %w", err)
		}
		if outputFormat == "json" {
			return printJSON(fronts)
		}
		printFronts(fronts, nil)
		return nil
	},
}

var nodeAddCmd = &cobra.Command{
	Use:   "add <chain>",
	Short: "Add nodes to a host of a chain",
	Long: `Add nodes to an existing or a new host of a chain.

A new host needs --agency. Group 0 means the default group 1.

Examples:
  chainmgr node add chainA --ip 10.0.0.3 --num 2 --agency org2`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		fronts, err := c.AddNodes(cmd.Context(), deploy.AddNodesRequest{
			ChainName:   args[0],
			IP:          addIP,
			Num:         addNum,
			Agency:      addAgency,
			GroupID:     addGroupID,
			ImageSource: addImageSource,
		})
		if err != nil {
			return fmt.Errorf("failed to add nodes: %w", err)
		}
		if outputFormat == "json" {
			return printJSON(fronts)
		}
		fmt.Printf("✓ %d node(s) added to %s\n\n", len(fronts), addIP)
		printFronts(fronts, nil)
		return nil
	},
}

var nodeStartCmd = &cobra.Command{
	Use:   "start <nodeId>",
	Short: "Start a node",
	Long: `Start a stopped node, restart a running one or reinstall a failed one.

--before, --success and --failure choose the statuses recorded while the
node restarts. Without them the node goes STARTING, then RUNNING or FAILED.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tr, err := startTransition()
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.StartNode(cmd.Context(), args[0], tr); err != nil {
			return fmt.Errorf("failed to start node: %w", err)
		}
		fmt.Printf("✓ Start of %s scheduled\n", shortID(args[0]))
		return nil
	},
}

var nodeRestartCmd = &cobra.Command{
	Use:   "restart <nodeId>",
	Short: "Restart a node, leaving it STOPPED if it does not come back",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.StartNode(cmd.Context(), args[0], engine.RestartTransition); err != nil {
			return fmt.Errorf("failed to restart node: %w", err)
		}
		fmt.Printf("✓ Restart of %s scheduled\n", shortID(args[0]))
		return nil
	},
}

// startTransition builds the transition of node start from its flags.
func startTransition() (engine.Transition, error) {
	var tr engine.Transition
	if startBefore == "" && startSuccess == "" && startFailure == "" {
		return tr, nil
	}
	tr = engine.StartTransition
	for _, f := range []struct {
		flag  string
		value string
		dst   *models.FrontStatus
	}{
		{"before", startBefore, &tr.Before},
		{"success", startSuccess, &tr.Success},
		{"failure", startFailure, &tr.Failure},
	} {
		if f.value == "" {
			continue
		}
		st, err := models.ParseFrontStatus(f.value)
		if err != nil {
			return engine.Transition{}, fmt.Errorf("invalid --%s: %w", f.flag, err)
		}
		*f.dst = st
	}
	return tr, tr.Validate()
}

var nodeStopCmd = &cobra.Command{
	Use:   "stop <nodeId>",
	Short: "Stop a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.StopNode(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to stop node: %w", err)
		}
		fmt.Printf("✓ Stop of %s scheduled\n", shortID(args[0]))
		return nil
	},
}

var nodeDeleteCmd = &cobra.Command{
	Use:   "delete <nodeId>",
	Short: "Delete a stopped node",
	Long: `Delete a node that is not running.

The remaining nodes of its groups are restarted with the new peer list.
--delete-host and --delete-agency also remove the host and agency once
they are empty.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		err = c.DeleteNode(cmd.Context(), deploy.DeleteNodeRequest{
			NodeID:       args[0],
			DeleteHost:   nodeDeleteHost,
			DeleteAgency: nodeDeleteAgency,
		})
		if err != nil {
			return fmt.Errorf("failed to delete node: %w", err)
		}
		fmt.Printf("✓ Node %s deleted\n", shortID(args[0]))
		return nil
	},
}

// printFronts prints fronts as a table; hosts maps host IDs to addresses
// and may be nil.
func printFronts(fronts []*models.Front, hosts map[int64]string) {
	w := newTable()
	fmt.Fprintln(w, "NODE ID\tHOST\tSLOT\tGROUP\tSTATUS\tIMAGE\tRPC PORT")
	for _, f := range fronts {
		host := hosts[f.HostID]
		if host == "" {
			host = fmt.Sprintf("#%d", f.HostID)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\t%d\n",
			shortID(f.NodeID), host, f.HostIndex, f.GroupID, f.Status, f.ImageTag, f.Ports().RPC)
	}
	w.Flush()
	fmt.Printf("\nTotal: %d nodes\n", len(fronts))
}

func shortID(id string) string {
	if len(id) > 16 {
		return id[:16]
	}
	return id
}

func init() {
	nodeListCmd.Flags().StringVar(&nodeStatus, "status", "", "filter by status")

	nodeAddCmd.Flags().StringVar(&addIP, "ip", "", "host address")
	nodeAddCmd.Flags().IntVar(&addNum, "num", 1, "number of nodes to add")
	nodeAddCmd.Flags().StringVar(&addAgency, "agency", "", "agency of a new host")
	nodeAddCmd.Flags().IntVar(&addGroupID, "group", 0, "group of the new nodes")
	nodeAddCmd.Flags().StringVar(&addImageSource, "image-source", "", "image source of a new host (default: chain setting)")
	_ = nodeAddCmd.MarkFlagRequired("ip")

	nodeStartCmd.Flags().StringVar(&startBefore, "before", "", "status recorded while restarting (default STARTING)")
	nodeStartCmd.Flags().StringVar(&startSuccess, "success", "", "status recorded on success (default RUNNING)")
	nodeStartCmd.Flags().StringVar(&startFailure, "failure", "", "status recorded on failure (default FAILED)")

	nodeDeleteCmd.Flags().BoolVar(&nodeDeleteHost, "delete-host", false, "also delete the host when it becomes empty")
	nodeDeleteCmd.Flags().BoolVar(&nodeDeleteAgency, "delete-agency", false, "also delete the agency when it becomes empty")

	addClientFlags(nodeCmd)
	nodeCmd.AddCommand(nodeListCmd)
	nodeCmd.AddCommand(nodeAddCmd)
	nodeCmd.AddCommand(nodeStartCmd)
	nodeCmd.AddCommand(nodeRestartCmd)
	nodeCmd.AddCommand(nodeStopCmd)
	nodeCmd.AddCommand(nodeDeleteCmd)
}
