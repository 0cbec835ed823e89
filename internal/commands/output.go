package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"evalgo.org/chainmgr/pkg/client"
)

var (
	apiURL       string
	apiToken     string
	outputFormat string
)

// addClientFlags registers the flags shared by every command that talks to
// a running server.
func addClientFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "server URL (default: $CHAINMGR_API_URL or http://localhost:<server.port>)")
	cmd.PersistentFlags().StringVar(&apiToken, "token", "", "access token (default: $CHAINMGR_TOKEN)")
	cmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "output format (table, json)")
}

func newClient() (*client.Client, error) {
	url := apiURL
	if url == "" {
		url = os.Getenv("CHAINMGR_API_URL")
	}
	if url == "" {
		url = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	token := apiToken
	if token == "" {
		token = os.Getenv("CHAINMGR_TOKEN")
	}
	return client.New(url, token)
}

func printJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
}
