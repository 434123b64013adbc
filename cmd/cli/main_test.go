package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
	"gopkg.in/yaml.v3"

	"github.com/and161185/recipient-keeper/internal/merge"
	"github.com/and161185/recipient-keeper/internal/repository/memory"
	grpcserver "github.com/and161185/recipient-keeper/internal/server/grpc"
	"github.com/and161185/recipient-keeper/internal/service"
)

const (
	testKey = "cli-test-signing-key"
	testACI = "a0000000-0000-4000-8000-000000000001"
)

func withTmpConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return filepath.Join(dir, "recipient-keeper")
}

// startServer serves the Recipients API over bufconn and returns dial options reaching it.
func startServer(t *testing.T) []grpc.DialOption {
	t.Helper()
	store := memory.New()
	svc := service.NewRecipientService(merge.NewEngine(store), store)
	auth := grpcserver.NewAuthenticator([]byte(testKey))
	log := zap.NewNop()
	gs := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcserver.AuthUnary(auth, log)),
		grpc.ChainStreamInterceptor(grpcserver.AuthStream(auth, log)),
	)
	grpcserver.New(svc, store, log).Register(gs)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(func() { gs.Stop(); _ = lis.Close() })

	return []grpc.DialOption{grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
		return lis.Dial()
	})}
}

// run executes rk with args and returns stdout.
func run(t *testing.T, ctx context.Context, dialOpts []grpc.DialOption, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand(&rootOptions{dialOpts: dialOpts})
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func mintToken(t *testing.T) string {
	t.Helper()
	tok, _, err := grpcserver.IssueToken([]byte(testKey), "test", time.Minute)
	require.NoError(t, err)
	return tok
}

func Test_cfgDir_And_Paths(t *testing.T) {
	base := withTmpConfig(t)
	require.Equal(t, base, cfgDir())
	require.True(t, strings.HasPrefix(tokenPath(), base))
	require.True(t, strings.HasSuffix(tokenPath(), "token.json"))
}

func Test_token_SaveLoad(t *testing.T) {
	_ = withTmpConfig(t)

	_, err := loadToken()
	require.Error(t, err, "token file missing")

	require.NoError(t, saveToken("tok", time.Now().Add(time.Minute)))
	tok, err := loadToken()
	require.NoError(t, err)
	require.Equal(t, "tok", tok)

	st, err := os.Stat(tokenPath())
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	require.NoError(t, saveToken("tok2", time.Now().Add(-time.Minute)))
	_, err = loadToken()
	require.Error(t, err, "expired token")
}

func Test_bearer_Precedence(t *testing.T) {
	_ = withTmpConfig(t)
	require.NoError(t, saveToken("saved", time.Now().Add(time.Minute)))

	o := &rootOptions{}
	got, err := o.bearer()
	require.NoError(t, err)
	require.Equal(t, "saved", got)

	t.Setenv("RK_TOKEN", "env")
	got, _ = o.bearer()
	require.Equal(t, "env", got)

	o.Token = "flag"
	got, _ = o.bearer()
	require.Equal(t, "flag", got)
}

func Test_bearerCreds_Metadata(t *testing.T) {
	t.Parallel()

	b := bearerCreds{token: "T", secure: true}
	md, err := b.GetRequestMetadata(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Bearer T", md["authorization"])
	require.True(t, b.RequireTransportSecurity())
	require.False(t, bearerCreds{token: "T"}.RequireTransportSecurity())
}

func Test_loadTLS_Variants(t *testing.T) {
	t.Parallel()

	creds, err := loadTLS("", true)
	require.NoError(t, err)
	require.NotNil(t, creds)

	creds, err = loadTLS("", false)
	require.NoError(t, err)
	require.NotNil(t, creds)

	tmp := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(tmp, []byte("not pem"), 0o600))
	creds, err = loadTLS(tmp, false)
	require.Error(t, err)
	require.Nil(t, creds)
}

func Test_printOut_Formats(t *testing.T) {
	t.Parallel()

	var js bytes.Buffer
	require.NoError(t, printOut(&js, "json", map[string]any{"a": 1}))
	var m map[string]any
	require.NoError(t, json.Unmarshal(js.Bytes(), &m))
	require.Equal(t, float64(1), m["a"])
	require.Contains(t, js.String(), "\n  ")

	var ys bytes.Buffer
	require.NoError(t, printOut(&ys, "yaml", map[string]any{"a": 1}))
	require.NoError(t, yaml.Unmarshal(ys.Bytes(), &m))
	require.Equal(t, "a: 1\n", ys.String())
}

func TestCLI_Version(t *testing.T) {
	t.Parallel()
	out, err := run(t, context.Background(), nil, "version")
	require.NoError(t, err)
	require.Equal(t, "rk dev (unknown)\n", out)
}

func TestCLI_BadOutput(t *testing.T) {
	t.Parallel()
	_, err := run(t, context.Background(), nil, "-o", "xml", "version")
	require.ErrorContains(t, err, "invalid output")
}

func TestCLI_Token(t *testing.T) {
	_ = withTmpConfig(t)
	t.Setenv("RK_JWT_KEY", "")

	_, err := run(t, context.Background(), nil, "token")
	require.ErrorContains(t, err, "RK_JWT_KEY")

	out, err := run(t, context.Background(), nil, "token", "--key", testKey, "--sub", "ops", "--save")
	require.NoError(t, err)
	var res map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.NotEmpty(t, res["access_token"])

	saved, err := loadToken()
	require.NoError(t, err)
	require.Equal(t, res["access_token"], saved)
}

func TestCLI_MergeGetWatch(t *testing.T) {
	_ = withTmpConfig(t)
	dialOpts := startServer(t)
	common := []string{"--addr", "passthrough:///bufnet", "--plaintext", "--token", mintToken(t)}
	args := func(extra ...string) []string { return append(append([]string{}, common...), extra...) }

	_, err := run(t, context.Background(), dialOpts, args("merge")...)
	require.ErrorContains(t, err, "need at least one")

	out, err := run(t, context.Background(), dialOpts, args("merge", "--aci", testACI, "--e164", "+15550001234", "--trust", "certain")...)
	require.NoError(t, err)
	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Equal(t, true, res["changed"])
	require.Equal(t, "+15550001234", res["e164"])

	out, err = run(t, context.Background(), dialOpts, args("-o", "yaml", "get", "1")...)
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &rec))
	require.Equal(t, testACI, rec["aci"])

	_, err = run(t, context.Background(), dialOpts, args("get", "99")...)
	require.ErrorContains(t, err, "NotFound")

	_, err = run(t, context.Background(), dialOpts, args("get", "abc")...)
	require.ErrorContains(t, err, "bad id")

	_, err = run(t, context.Background(), dialOpts, "--addr", "passthrough:///bufnet", "--plaintext", "--token", "garbage", "get", "1")
	require.ErrorContains(t, err, "Unauthenticated")

	// watch until one batch arrives; merges keep landing until the stream is subscribed
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		o, e := run(t, ctx, dialOpts, args("watch", "--limit", "1")...)
		done <- result{o, e}
	}()
	for i := 1; ; i++ {
		pni := fmt.Sprintf("b0000000-0000-4000-8000-%012d", i)
		_, err := run(t, ctx, dialOpts, args("merge", "--pni", pni)...)
		require.NoError(t, err)
		select {
		case r := <-done:
			require.NoError(t, r.err)
			require.Contains(t, r.out, `"table": "recipients"`)
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
}
