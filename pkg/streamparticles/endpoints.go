package streamparticles

import (
	"fmt"
	"net/url"
	"strings"
)

// Endpoint names a remote resource.
type Endpoint string

const (
	LastDonators   Endpoint = "LAST_DONATORS"
	TopDonators    Endpoint = "TOP_DONATORS"
	DonationsRecap Endpoint = "DONATIONS_RECAP"
	SocketGateway  Endpoint = "SOCKET_GATEWAY"
)

// Endpoints lists every endpoint a Client builds.
var Endpoints = []Endpoint{LastDonators, TopDonators, DonationsRecap, SocketGateway}

var analyticsPaths = map[Endpoint]string{
	LastDonators:   "last-donators",
	TopDonators:    "top-donators",
	DonationsRecap: "donations-recap",
}

// EndpointURL returns the URL of e for the given host and API key:
// {base}/v1/{apiKey}/{resource}/ for the analytics queries and the host itself
// for the socket gateway.
func EndpointURL(baseURL, apiKey string, e Endpoint) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("streamparticles: invalid base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("streamparticles: base url %q must be absolute", baseURL)
	}
	base := strings.TrimSuffix(u.String(), "/")

	if e == SocketGateway {
		return base, nil
	}

	resource, ok := analyticsPaths[e]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownEndpoint, e)
	}

	return base + "/v1/" + url.PathEscape(apiKey) + "/" + resource + "/", nil
}

// buildEndpoints templates every endpoint
func buildEndpoints(baseURL, apiKey string) (map[Endpoint]string, error) {
	endpoints := make(map[Endpoint]string, len(Endpoints))
	for _, e := range Endpoints {
		u, err := EndpointURL(baseURL, apiKey, e)
		if err != nil {
			return nil, err
		}
		endpoints[e] = u
	}
	return endpoints, nil
}
