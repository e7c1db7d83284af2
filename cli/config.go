package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var netuidFlag int
var chainEndpointFlag string
var externalIPFlag string

func init() {
	configCmd.Flags().IntVar(&netuidFlag, "netuid", -1, "Netuid to update to")
	configCmd.Flags().StringVar(&chainEndpointFlag, "chain_endpoint", "", "Chain endpoint to update to")
	configCmd.Flags().StringVar(&externalIPFlag, "external_ip", "", "External ip to update to")
	RootCmd.AddCommand(configCmd)
	RootCmd.AddCommand(configGetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Update config values",
	Long:  `Update one or more configuration values. Use flags to specify which values to update.`,
	Run: func(cmd *cobra.Command, args []string) {
		updated := false

		if netuidFlag != -1 {
			viper.Set("netuid", netuidFlag)
			fmt.Printf("Netuid updated to: %d\n", netuidFlag)
			updated = true
		}
		if chainEndpointFlag != "" {
			viper.Set("chain_endpoint", chainEndpointFlag)
			fmt.Printf("Chain endpoint updated to: %s\n", chainEndpointFlag)
			updated = true
		}
		if externalIPFlag != "" {
			viper.Set("external_ip", externalIPFlag)
			fmt.Printf("External ip updated to: %s\n", externalIPFlag)
			updated = true
		}

		if !updated {
			fmt.Println("No configuration values specified to update.")
			fmt.Println("Use --help to see available options.")
			return
		}

		if err := viper.WriteConfig(); err != nil {
			home, _ := os.UserHomeDir()
			if err := viper.WriteConfigAs(filepath.Join(home, ".hetu.yaml")); err != nil {
				fmt.Printf("Failed to write config: %v\n", err)
			}
		}
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print current config values",
	Run: func(cmd *cobra.Command, args []string) {
		for _, key := range []string{"netuid", "chain_endpoint", "external_ip"} {
			fmt.Printf("%s: %v\n", key, viper.Get(key))
		}
	},
}
