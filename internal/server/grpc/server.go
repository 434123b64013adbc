// Package grpcserver exposes the recipients.v1 gRPC API handlers.
package grpcserver

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/recipient-keeper/internal/convert"
	"github.com/and161185/recipient-keeper/internal/errs"
	"github.com/and161185/recipient-keeper/internal/repository"
	"github.com/and161185/recipient-keeper/internal/rpc/recipientsv1"
	"github.com/and161185/recipient-keeper/internal/service"
)

// Server wires services into gRPC handlers.
type Server struct {
	recipientsv1.UnimplementedRecipientsServer
	recipients service.RecipientService
	feed       repository.ChangeFeed
	log        *zap.Logger
}

// New constructs a gRPC server with injected services. feed may be nil, WatchChanges then fails.
func New(recipients service.RecipientService, feed repository.ChangeFeed, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{recipients: recipients, feed: feed, log: log}
}

// Register attaches the Recipients service to s.
func (s *Server) Register(gs grpc.ServiceRegistrar) {
	recipientsv1.RegisterRecipientsServer(gs, s)
}

// MergeAndFetch resolves the supplied identifiers onto one recipient.
func (s *Server) MergeAndFetch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	in, err := convert.MergeInputFromStruct(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad request: %v", err)
	}
	res, err := s.recipients.MergeAndFetch(ctx, in)
	if err != nil {
		return nil, toStatus("merge", err)
	}
	return convert.ResultToStruct(res), nil
}

// GetRecipient returns a single recipient by id.
func (s *Server) GetRecipient(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := convert.IDFromStruct(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad id: %v", err)
	}
	r, err := s.recipients.Get(ctx, id)
	if err != nil {
		return nil, toStatus("get recipient", err)
	}
	return convert.RecipientToStruct(r), nil
}

// WatchChanges streams committed change batches until the client goes away.
// Response headers are sent once the subscription is live.
func (s *Server) WatchChanges(_ *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	if s.feed == nil {
		return status.Error(codes.Unavailable, "change feed not configured")
	}
	ctx := stream.Context()
	sub, err := s.feed.Subscribe(ctx)
	if err != nil {
		return toStatus("subscribe", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := sub.Close(closeCtx); cerr != nil {
			s.log.Warn("close change stream", zap.Error(cerr))
		}
	}()
	if err := stream.SendHeader(metadata.Pairs("x-subscribed", "1")); err != nil {
		return err
	}

	for {
		batch, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return toStatus("watch changes", err)
		}
		if err := stream.Send(convert.ChangesToStruct(batch)); err != nil {
			return err
		}
	}
}

// toStatus maps domain sentinels to gRPC codes.
func toStatus(op string, err error) error {
	switch {
	case errors.Is(err, errs.ErrInvalidArgument):
		return status.Errorf(codes.InvalidArgument, "%s: %v", op, err)
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, errs.ErrSelfChange):
		return status.Errorf(codes.FailedPrecondition, "%s: %v", op, err)
	case errors.Is(err, errs.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "no auth")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, op)
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, op)
	default:
		return status.Errorf(codes.Internal, "%s: %v", op, err)
	}
}
