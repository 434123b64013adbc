package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/recipient-keeper/internal/convert"
	"github.com/and161185/recipient-keeper/internal/rpc/recipientsv1"
	grpcserver "github.com/and161185/recipient-keeper/internal/server/grpc"
	"github.com/and161185/recipient-keeper/internal/service"
)

// rpcErr flattens a gRPC status into "Code: message".
func rpcErr(err error) error {
	if st, ok := status.FromError(err); ok {
		return fmt.Errorf("%s: %s", st.Code(), st.Message())
	}
	return err
}

// withClient dials, runs fn with a timeout-bound context, and closes the connection.
func withClient(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, cl recipientsv1.RecipientsClient) error) error {
	conn, err := opts.dial()
	if err != nil {
		return err
	}
	defer conn.Close()
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()
	return fn(ctx, recipientsv1.NewRecipientsClient(conn))
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the client version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rk %s (%s)\n", version, buildDate)
		},
	}
}

func newTokenCommand(opts *rootOptions) *cobra.Command {
	var (
		key  string
		sub  string
		ttl  time.Duration
		save bool
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an HS256 bearer token with the server signing key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				key = os.Getenv("RK_JWT_KEY")
			}
			if key == "" {
				return errors.New("need --key or RK_JWT_KEY")
			}
			tok, exp, err := grpcserver.IssueToken([]byte(key), sub, ttl)
			if err != nil {
				return err
			}
			if save {
				if err := saveToken(tok, exp); err != nil {
					return fmt.Errorf("save token: %w", err)
				}
			}
			return printOut(cmd.OutOrStdout(), opts.Output, map[string]any{
				"access_token": tok,
				"expires_at":   exp.UTC().Format(time.RFC3339),
			})
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "HS256 signing key (default $RK_JWT_KEY)")
	cmd.Flags().StringVar(&sub, "sub", "rk", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	cmd.Flags().BoolVar(&save, "save", false, "store the token for later commands")
	return cmd
}

func newMergeCommand(opts *rootOptions) *cobra.Command {
	var in service.MergeInput
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Resolve identifiers onto one recipient, merging records as needed",
		Example: `  rk merge --aci 5b1c... --e164 +15550001234 --trust certain
  rk merge --pni PNI:9f2e... --e164 +15550001234`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if in.E164 == "" && in.ACI == "" && in.PNI == "" {
				return errors.New("need at least one of --e164, --aci, --pni")
			}
			return withClient(cmd, opts, func(ctx context.Context, cl recipientsv1.RecipientsClient) error {
				out, err := cl.MergeAndFetch(ctx, convert.MergeInputToStruct(in))
				if err != nil {
					return rpcErr(err)
				}
				return printOut(cmd.OutOrStdout(), opts.Output, out.AsMap())
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.E164, "e164", "", "phone number in E.164 form")
	f.StringVar(&in.ACI, "aci", "", "account identifier (UUID)")
	f.StringVar(&in.PNI, "pni", "", "phone-number identifier (UUID, optional PNI: prefix)")
	f.StringVar(&in.Trust, "trust", "uncertain", "certain|uncertain")
	f.BoolVar(&in.ChangeSelf, "change-self", false, "allow changes to the local account")
	return cmd
}

func newGetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one recipient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("bad id %q", args[0])
			}
			return withClient(cmd, opts, func(ctx context.Context, cl recipientsv1.RecipientsClient) error {
				out, err := cl.GetRecipient(ctx, convert.IDToStruct(id))
				if err != nil {
					return rpcErr(err)
				}
				return printOut(cmd.OutOrStdout(), opts.Output, out.AsMap())
			})
		},
	}
}

func newWatchCommand(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream committed recipient changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := opts.dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			stream, err := recipientsv1.NewRecipientsClient(conn).WatchChanges(ctx, &structpb.Struct{})
			if err != nil {
				return rpcErr(err)
			}
			if _, err := stream.Header(); err != nil {
				return rpcErr(err)
			}
			fmt.Fprintln(cmd.ErrOrStderr(), "watching for changes")

			for n := 0; limit == 0 || n < limit; n++ {
				msg, err := stream.Recv()
				if err != nil {
					if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
						return nil
					}
					return rpcErr(err)
				}
				changes, err := convert.ChangesFromStruct(msg)
				if err != nil {
					return err
				}
				for _, c := range changes {
					if err := printOut(cmd.OutOrStdout(), opts.Output, c); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many batches (0 = forever)")
	return cmd
}
