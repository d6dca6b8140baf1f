package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Disconnect the merchant and clear stored credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if _, err := apiPost(cfg.Server.Addr, "/logout"); err != nil {
				return err
			}
			fmt.Println("Logged out.")
			return nil
		},
	}
}
