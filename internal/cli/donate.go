package cli

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/alexbotov/streamparticles/internal/request"
	"github.com/spf13/cobra"
)

// donationsURL is the admin endpoint of the mock service
func donationsURL(baseURL, apiKey string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid base url %q", baseURL)
	}
	return u.JoinPath("v1", url.PathEscape(apiKey), "donations/").String(), nil
}

func (a *app) newDonateCommand() *cobra.Command {
	var (
		token   string
		from    string
		amount  float64
		message string
	)

	cmd := &cobra.Command{
		Use:   "donate",
		Short: "Inject a donation into the mock service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.cfg.Client
			endpoint, err := donationsURL(c.BaseURL, c.APIKey)
			if err != nil {
				return err
			}

			body, err := request.Post(cmd.Context(), &http.Client{Timeout: c.HTTPTimeout}, endpoint, map[string]any{
				"from":    from,
				"amount":  amount,
				"message": message,
			}, token)
			if err != nil {
				return err
			}
			return printJSON(cmd, body)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&token, "token", "", "admin token printed by the mock command")
	flags.StringVar(&from, "from", "", "donor herotag")
	flags.Float64Var(&amount, "amount", 0, "donation amount")
	flags.StringVar(&message, "message", "", "donation message")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}
