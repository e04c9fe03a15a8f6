package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newAccountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "Показать аккаунты реестра",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := initConfig()
			if err != nil {
				return err
			}
			store, err := openBackend(cmd.Context(), cfg.Storage)
			if err != nil {
				return err
			}
			defer store.Close()

			list, err := store.Registry.Load(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PHONE\tAPI_ID\tAPI_HASH\tSESSION\tCREATED")
			for _, acc := range list {
				m := acc.Masked()
				created := "-"
				if !m.CreatedAt.IsZero() {
					created = m.CreatedAt.Format("2006-01-02 15:04")
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", m.Phone, m.ApiID, m.ApiHash, m.SessionName, created)
			}
			return w.Flush()
		},
	}
}
