// Package streamparticles provides a client for the StreamParticles
// donation analytics API.
//
// The service exposes three analytics queries over HTTP and a realtime
// channel delivering donations as they happen. Both are keyed by the
// streamer's API key; the realtime channel additionally joins the room of the
// streamer's herotag.
//
// # Basic Usage
//
//	client, err := streamparticles.NewClient("herotag", "your-api-key",
//	    streamparticles.WithBaseURL("https://api.streamparticles.io"),
//	)
//
//	// Analytics
//	recap, err := client.GetDonationsRecap(ctx)
//
//	// Realtime donations
//	if err := client.ConnectSocket(ctx); err != nil {
//	    // handle
//	}
//	defer client.DisconnectSocket()
//
//	err = client.OnDonation(func(d streamparticles.TransactionData) {
//	    fmt.Println(d.Get("amount").String())
//	})
//
// # Realtime Connection
//
// ConnectSocket opens the connection, sends the credentials in an
// "authentication" event and waits for the server's "authenticated"
// acknowledgement. OnDonation fails with ErrNotAuthenticated until then. Any
// disconnect, local or remote, returns the client to StateDisconnected and a
// new ConnectSocket call is required.
//
// # Error Handling
//
// Analytics calls return *APIError whose message is the one sent by the
// service:
//
//	_, err := client.GetTopDonators(ctx)
//	var apiErr *streamparticles.APIError
//	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
//	    // Handle bad API key
//	}
package streamparticles
