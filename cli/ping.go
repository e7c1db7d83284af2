package cli

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(pingCmd)
}

var pingCmd = &cobra.Command{
	Use:   "ping [host:port]",
	Short: "Check that a node is up",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := &http.Client{Timeout: 5 * time.Second}
		res, err := client.Get(fmt.Sprintf("http://%s/ping", args[0]))
		if err != nil {
			fmt.Printf("Node unreachable: %s\n", err)
			return
		}
		defer res.Body.Close()
		body, _ := io.ReadAll(res.Body)
		fmt.Printf("%d: %s\n", res.StatusCode, string(body))
	},
}
