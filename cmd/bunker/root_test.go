package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nostrsigner/bunker"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	root := newRootCmd()
	root.SetArgs(append(args, "--log-level", "error"))
	root.SetOut(out)
	root.SetErr(io.Discard)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestNewLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := newLogger(buf, "warn", "json")
	require.NoError(t, err)
	require.Equal(t, zerolog.WarnLevel, logger.GetLevel())

	logger.Info().Msg("hidden")
	logger.Warn().Str("peer", "abc").Msg("shown")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), `"peer":"abc"`)

	logger, err = newLogger(buf, "", "console")
	require.NoError(t, err)
	require.Equal(t, zerolog.InfoLevel, logger.GetLevel())

	_, err = newLogger(buf, "loud", "json")
	require.Error(t, err)
	_, err = newLogger(buf, "info", "xml")
	require.Error(t, err)
}

func TestPairingFlow(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BUNKER_SECRET_KEY", nostr.GeneratePrivateKey())
	t.Setenv("BUNKER_STORE", "sqlite")
	t.Setenv("BUNKER_DATA_DIR", dir)

	out, err := run(t, "pair", "--relays", "wss://r1.com,wss://r2.com")
	require.NoError(t, err)
	token := strings.TrimSpace(out)
	require.True(t, strings.HasPrefix(token, "npub1"), token)
	require.True(t, strings.HasSuffix(token, "?relay=wss://r1.com&relay=wss://r2.com"), token)

	out, err = run(t, "sessions")
	require.NoError(t, err)
	require.Equal(t, "pending pairing on wss://r1.com,wss://r2.com\n", out)

	_, err = run(t, "unpair")
	require.NoError(t, err)
	out, err = run(t, "sessions")
	require.NoError(t, err)
	require.Empty(t, out)

	appPK, err := nostr.GetPublicKey(nostr.GeneratePrivateKey())
	require.NoError(t, err)
	uri := bunker.NostrConnectURI{
		PeerPubKey: appPK,
		Relays:     []string{"wss://app.com"},
		Metadata:   &bunker.PeerMetadata{Name: "some app", URL: "https://app.com"},
	}.String()

	out, err = run(t, "accept", uri)
	require.NoError(t, err)
	require.Equal(t, "paired with some app on [wss://app.com]\n", out)

	_, err = run(t, "accept", uri)
	require.ErrorIs(t, err, bunker.ErrAlreadyPaired)

	out, err = run(t, "sessions")
	require.NoError(t, err)
	require.Equal(t, appPK+`  wss://app.com  "some app" https://app.com`+"\n", out)
}

func TestConfigErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := run(t, "pair", "--store", "memory", "--data-dir", dir)
	require.ErrorIs(t, err, bunker.ErrNoPublicKey)

	_, err = run(t, "sessions", "--store", "floppy", "--data-dir", dir)
	require.ErrorContains(t, err, "unknown store")

	_, err = run(t, "pair", "--store", "memory", "--secret-key", "nsec1nope", "--data-dir", dir)
	require.Error(t, err)

	_, err = run(t, "accept", "--store", "memory", "--secret-key", nostr.GeneratePrivateKey(), "--data-dir", dir, "bunker://x")
	require.ErrorIs(t, err, bunker.ErrBadScheme)
}
