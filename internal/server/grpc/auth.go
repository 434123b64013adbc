package grpcserver

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/and161185/recipient-keeper/internal/limiter"
)

// healthPrefix is exempt from authentication so probes work without a token.
const healthPrefix = "/grpc.health.v1.Health/"

// Authenticator verifies HS256 bearer tokens.
type Authenticator struct {
	signKey []byte
	limiter limiter.Limiter
}

// AuthOption configures an Authenticator.
type AuthOption func(*Authenticator)

// WithLimiter locks out peers that keep presenting invalid tokens.
func WithLimiter(l limiter.Limiter) AuthOption {
	return func(a *Authenticator) { a.limiter = l }
}

// NewAuthenticator returns an Authenticator keyed by signKey.
func NewAuthenticator(signKey []byte, opts ...AuthOption) *Authenticator {
	a := &Authenticator{signKey: signKey}
	for _, o := range opts {
		o(a)
	}
	return a
}

// authenticate checks the peer lockout and the bearer token and returns the subject or a status error.
// Limiter errors are logged and do not block the call.
func (a *Authenticator) authenticate(ctx context.Context, method string, log *zap.Logger) (string, error) {
	var key []byte
	if a.limiter != nil {
		key = limiter.PeerKey(remoteAddr(ctx))
		ok, wait, err := a.limiter.Allow(ctx, key)
		if err != nil {
			log.Warn("limiter allow failed", zap.Error(err))
		} else if !ok {
			return "", status.Errorf(codes.ResourceExhausted, "too many failed attempts, retry in %s", wait.Round(time.Second))
		}
	}

	sub, err := a.subjectFromCtx(ctx)
	if err == nil {
		return sub, nil
	}
	log.Debug("auth rejected", zap.String("method", method), zap.Error(err))
	if a.limiter != nil {
		blocked, wait, lerr := a.limiter.Failure(ctx, key)
		switch {
		case lerr != nil:
			log.Warn("limiter failure not recorded", zap.Error(lerr))
		case blocked:
			log.Warn("peer locked out", zap.String("peer", remoteAddr(ctx)), zap.Duration("for", wait))
		}
	}
	return "", status.Error(codes.Unauthenticated, "no auth")
}

// IssueToken signs an HS256 token for sub valid for ttl.
func IssueToken(signKey []byte, sub string, ttl time.Duration) (string, time.Time, error) {
	if len(signKey) == 0 {
		return "", time.Time{}, errors.New("empty signing key")
	}
	now := time.Now()
	exp := now.Add(ttl)
	claims := jwt.RegisteredClaims{
		Subject:   sub,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signKey)
	return signed, exp, err
}

// subjectFromCtx: extract "authorization: Bearer <JWT>", verify HS256, return sub.
func (a *Authenticator) subjectFromCtx(ctx context.Context) (string, error) {
	tok, err := bearerTokenFromMD(ctx)
	if err != nil {
		return "", err
	}

	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return a.signKey, nil
	}, jwt.WithLeeway(30*time.Second))
	if err != nil || !parsed.Valid {
		return "", errors.New("invalid token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("empty subject")
	}
	return claims.Subject, nil
}

func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("no metadata")
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			t := strings.TrimSpace(v[7:])
			if t != "" {
				return t, nil
			}
		}
	}
	return "", errors.New("no bearer token")
}

// AuthUnary rejects unauthenticated unary calls and stores the subject in context.
func AuthUnary(a *Authenticator, log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, healthPrefix) {
			return next(ctx, req)
		}
		sub, err := a.authenticate(ctx, info.FullMethod, log)
		if err != nil {
			return nil, err
		}
		return next(WithSubject(ctx, sub), req)
	}
}

// AuthStream is the streaming counterpart of AuthUnary.
func AuthStream(a *Authenticator, log *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, next grpc.StreamHandler) error {
		if strings.HasPrefix(info.FullMethod, healthPrefix) {
			return next(srv, ss)
		}
		sub, err := a.authenticate(ss.Context(), info.FullMethod, log)
		if err != nil {
			return err
		}
		return next(srv, &ctxStream{ServerStream: ss, ctx: WithSubject(ss.Context(), sub)})
	}
}

// ctxStream overrides the context of a server stream.
type ctxStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *ctxStream) Context() context.Context { return s.ctx }
