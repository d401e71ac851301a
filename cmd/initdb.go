package cmd

import (
	"fmt"
	"net/url"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Create or migrate the database and list known sources",
	RunE:  runInitDB,
}

func init() {
	rootCmd.AddCommand(initDBCmd)
}

func runInitDB(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd.Context())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	sources, err := st.Sources(cmd.Context())
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Database ready: %s\n", redactDSN(cfg.DatabaseURL))
	for _, s := range sources {
		last := "never"
		if s.LastScraped != nil {
			last = humanize.Time(*s.LastScraped)
		}
		fmt.Fprintf(w, "  %-24s scraped %s\n", s.Name, last)
	}
	return nil
}

// redactDSN hides the password of a postgres URL.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	return u.Redacted()
}
