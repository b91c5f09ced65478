package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alexbotov/streamparticles/internal/config"
	"github.com/alexbotov/streamparticles/internal/mockserver"
	"github.com/alexbotov/streamparticles/internal/relay"
	"github.com/alexbotov/streamparticles/pkg/streamparticles"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"golang.org/x/crypto/bcrypt"
)

const (
	testHerotag = "erd-streamer"
	testAPIKey  = "test-api-key"
)

func newMock(t *testing.T) (*mockserver.Server, *httptest.Server) {
	t.Helper()

	cfg := mockserver.DefaultConfig()
	cfg.KeyCost = bcrypt.MinCost
	srv := mockserver.New(cfg)
	require.NoError(t, srv.RegisterStreamer(testHerotag, testAPIKey))

	server := httptest.NewServer(srv.Router())
	t.Cleanup(server.Close)
	return srv, server
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--env-file", "", "--log-level", "none"))

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAnalyticsCommands(t *testing.T) {
	srv, server := newMock(t)
	srv.AddDonation(mockserver.Donation{Herotag: testHerotag, From: "alice", Amount: 2})

	out, err := run(t, "last-donators", "--herotag", testHerotag, "--api-key", testAPIKey, "--base-url", server.URL)
	require.NoError(t, err)
	assert.Equal(t, "alice", gjson.Get(out, "data.0.from").String())
	assert.Contains(t, out, "\n  ", "output is indented")

	out, err = run(t, "recap", "--herotag", testHerotag, "--api-key", testAPIKey, "--base-url", server.URL)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gjson.Get(out, "data.count").Int())

	out, err = run(t, "top-donators", "--herotag", testHerotag, "--api-key", testAPIKey, "--base-url", server.URL)
	require.NoError(t, err)
	assert.Equal(t, "alice", gjson.Get(out, "data.0.herotag").String())
}

func TestAnalyticsCommand_BadKey(t *testing.T) {
	_, server := newMock(t)

	_, err := run(t, "last-donators", "--herotag", testHerotag, "--api-key", "wrong", "--base-url", server.URL)

	var apiErr *streamparticles.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "bad key", apiErr.Error())
}

func TestAnalyticsCommand_MissingCredentials(t *testing.T) {
	_, err := run(t, "recap", "--herotag", testHerotag)

	assert.ErrorIs(t, err, streamparticles.ErrMissingAPIKey)
}

func TestDonateCommand(t *testing.T) {
	srv, server := newMock(t)
	token, err := srv.IssueToken("test")
	require.NoError(t, err)

	out, err := run(t, "donate", "--api-key", testAPIKey, "--base-url", server.URL,
		"--token", token, "--from", "bob", "--amount", "1.5", "--message", "gg")
	require.NoError(t, err)
	assert.Equal(t, "bob", gjson.Get(out, "data.from").String())

	_, err = run(t, "donate", "--api-key", testAPIKey, "--base-url", server.URL,
		"--token", "forged", "--from", "bob", "--amount", "1.5")
	assert.ErrorContains(t, err, "Invalid token")
}

func TestDonationsURL(t *testing.T) {
	got, err := donationsURL("http://localhost:4000/", "k/ey")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:4000/v1/k%2Fey/donations/", got)

	_, err = donationsURL("localhost", "key")
	assert.Error(t, err)
}

func TestWatch_RelaysDonations(t *testing.T) {
	srv, server := newMock(t)

	client, err := streamparticles.NewClient(testHerotag, testAPIKey, streamparticles.WithBaseURL(server.URL))
	require.NoError(t, err)

	var out syncBuffer
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- watch(ctx, client, relay.NewWriterNotifier(&out), zerolog.Nop())
	}()

	// The donation handler is registered right after authentication, so
	// donations are injected until one is relayed.
	require.Eventually(t, func() bool {
		if strings.Contains(out.String(), "carol") {
			return true
		}
		if srv.RoomSize(testHerotag) == 1 {
			srv.AddDonation(mockserver.Donation{Herotag: testHerotag, From: "carol", Amount: 4})
		}
		return false
	}, 3*time.Second, 50*time.Millisecond)
	line, _, _ := strings.Cut(out.String(), "\n")
	assert.Equal(t, testHerotag, gjson.Get(line, "herotag").String())
	assert.Equal(t, 4.0, gjson.Get(line, "data.amount").Float())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestBuildSinks(t *testing.T) {
	var stdout bytes.Buffer
	file := filepath.Join(t.TempDir(), "donations.jsonl")

	sinks, err := buildSinks(context.Background(), config.SinksConfig{Stdout: true, File: file}, &stdout, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, sinks, 2)

	d := relay.Donation{Herotag: testHerotag, Data: []byte(`{"id":"a"}`)}
	require.NoError(t, sinks.Notify(context.Background(), d))
	require.NoError(t, sinks.Close())

	content, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "a", gjson.GetBytes(content, "data.id").String())
	assert.Equal(t, "a", gjson.Get(stdout.String(), "data.id").String())

	_, err = buildSinks(context.Background(), config.SinksConfig{}, &stdout, zerolog.Nop())
	assert.ErrorContains(t, err, "no donation sink")
}
