// chatdump prints the full contents of a replica's database, for eyeballing
// replica convergence during development.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vzdtic/replicated-chat/pkg/store"
)

var flagDB string

func main() {
	rootCmd := &cobra.Command{
		Use:           "chatdump",
		Short:         "Dump a replica database",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	rootCmd.Flags().StringVar(&flagDB, "db", "chat_1.db", "sqlite database file")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	st, err := store.Open(flagDB)
	if err != nil {
		return err
	}
	defer st.Close()

	snap, err := st.SnapshotAll()
	if err != nil {
		return err
	}

	fmt.Printf("accounts (%d):\n", len(snap.Accounts))
	for _, a := range snap.Accounts {
		fmt.Printf("  %s\n", a.Username)
	}

	fmt.Printf("messages (%d):\n", len(snap.Messages))
	for _, m := range snap.Messages {
		fmt.Printf("  [%d] %s -> %s (read=%d, %s): %s\n",
			m.ID, m.Sender, m.Recipient, m.Read, m.Timestamp, m.Content)
	}
	return nil
}
