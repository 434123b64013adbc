// Command rk is a CLI client for recipientd.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"gopkg.in/yaml.v3"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "recipient-keeper")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "recipient-keeper")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok string, exp time.Time) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: tok, ExpiresAt: exp})
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (run rk token --save)")
	}
	return tf.AccessToken, nil
}

// ---- grpc dial ----

type bearerCreds struct {
	token  string
	secure bool
}

func (b bearerCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}
func (b bearerCreds) RequireTransportSecurity() bool { return b.secure }

func loadTLS(caPath string, skipVerify bool) (credentials.TransportCredentials, error) {
	if skipVerify {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

// rootOptions holds global flags for all commands.
type rootOptions struct {
	Addr       string
	CACert     string
	SkipVerify bool
	Plaintext  bool
	Token      string
	Output     string
	Timeout    time.Duration

	// dialOpts are appended to every dial; tests route connections through it.
	dialOpts []grpc.DialOption
}

// bearer picks the token from --token, then RK_TOKEN, then the saved token file.
func (o *rootOptions) bearer() (string, error) {
	if o.Token != "" {
		return o.Token, nil
	}
	if v := os.Getenv("RK_TOKEN"); v != "" {
		return v, nil
	}
	return loadToken()
}

func (o *rootOptions) dial() (*grpc.ClientConn, error) {
	tok, err := o.bearer()
	if err != nil {
		return nil, err
	}
	var creds credentials.TransportCredentials
	if o.Plaintext {
		creds = insecure.NewCredentials()
	} else if creds, err = loadTLS(o.CACert, o.SkipVerify); err != nil {
		return nil, err
	}
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithPerRPCCredentials(bearerCreds{token: tok, secure: !o.Plaintext}),
	}
	return grpc.NewClient(o.Addr, append(opts, o.dialOpts...)...)
}

// ---- output ----

func printOut(w io.Writer, format string, v any) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}

// newRootCommand creates the rk command tree.
func newRootCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "rk",
		Short:         "rk talks to a recipientd server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Output != "json" && opts.Output != "yaml" {
				return fmt.Errorf("invalid output %q: must be json or yaml", opts.Output)
			}
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.Addr, "addr", "localhost:8443", "server addr")
	pf.StringVar(&opts.CACert, "cacert", "", "CA cert (PEM)")
	pf.BoolVar(&opts.SkipVerify, "insecure", false, "skip cert verify (dev)")
	pf.BoolVar(&opts.Plaintext, "plaintext", false, "connect without TLS")
	pf.StringVar(&opts.Token, "token", "", "bearer token (default $RK_TOKEN or saved token)")
	pf.StringVarP(&opts.Output, "output", "o", "json", "output format (json|yaml)")
	pf.DurationVar(&opts.Timeout, "timeout", 30*time.Second, "per-call timeout")

	cmd.AddCommand(
		newVersionCommand(),
		newTokenCommand(opts),
		newMergeCommand(opts),
		newGetCommand(opts),
		newWatchCommand(opts),
	)
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(&rootOptions{}).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "rk:", err)
		stop()
		os.Exit(1)
	}
}
