package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/alexbotov/streamparticles/pkg/streamparticles"
	"github.com/spf13/cobra"
)

type analyticsCall func(c *streamparticles.Client, ctx context.Context) (json.RawMessage, error)

func (a *app) newAnalyticsCommand(use, short string, call analyticsCall) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.newClient(false)
			if err != nil {
				return err
			}

			body, err := call(client, cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, body)
		},
	}
}

func (a *app) newLastDonatorsCommand() *cobra.Command {
	return a.newAnalyticsCommand("last-donators", "Print the latest donators",
		(*streamparticles.Client).GetLastDonators)
}

func (a *app) newTopDonatorsCommand() *cobra.Command {
	return a.newAnalyticsCommand("top-donators", "Print the donators ranked by amount",
		(*streamparticles.Client).GetTopDonators)
}

func (a *app) newRecapCommand() *cobra.Command {
	return a.newAnalyticsCommand("recap", "Print the donations recap",
		(*streamparticles.Client).GetDonationsRecap)
}

// printJSON writes body indented. An empty body prints null.
func printJSON(cmd *cobra.Command, body []byte) error {
	if len(body) == 0 {
		body = []byte("null")
	}

	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "  "); err != nil {
		return fmt.Errorf("failed to format response: %w", err)
	}
	out.WriteByte('\n')
	_, err := cmd.OutOrStdout().Write(out.Bytes())
	return err
}
