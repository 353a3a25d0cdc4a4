package grpcstore

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"xdao.co/twine/resolver"
	"xdao.co/twine/twine"
)

// kindTrailer carries the twine error kind next to the status code so the
// client can restore it exactly.
const kindTrailer = "twine-kind"

func codeFor(kind twine.Kind) codes.Code {
	switch kind {
	case twine.KindNotFound:
		return codes.NotFound
	case twine.KindMalformed, twine.KindCidMismatch:
		return codes.DataLoss
	case twine.KindConnectionFailure:
		return codes.Unavailable
	case twine.KindCancelled:
		return codes.Canceled
	case twine.KindBadSignature, twine.KindInvalidTwineFormat, twine.KindUnsupportedHashAlgorithm, twine.KindParse:
		return codes.InvalidArgument
	}
	return codes.Internal
}

// statusFor converts err into a status error and the trailer naming its
// kind.
func statusFor(err error) (metadata.MD, error) {
	kind := twine.KindOf(err)
	if kind == "" && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		kind = twine.KindCancelled
	}
	var md metadata.MD
	if kind != "" {
		md = metadata.Pairs(kindTrailer, string(kind))
	}
	return md, status.Error(codeFor(kind), err.Error())
}

// unaryError is statusFor for unary handlers.
func unaryError(ctx context.Context, err error) error {
	md, serr := statusFor(err)
	if md != nil {
		_ = grpc.SetTrailer(ctx, md)
	}
	return serr
}

// streamError is statusFor for streaming handlers.
func streamError(stream grpc.ServerStream, err error) error {
	md, serr := statusFor(err)
	if md != nil {
		stream.SetTrailer(md)
	}
	return serr
}

// mapRPC turns a client-side RPC error back into a twine error. The kind
// trailer wins; without one the status code decides.
func mapRPC(ctx context.Context, err error, trailer metadata.MD) error {
	if err == nil {
		return nil
	}
	if cerr := resolver.ContextError(ctx); cerr != nil {
		return cerr
	}
	st, ok := status.FromError(err)
	if !ok {
		return twine.WrapError(twine.KindConnectionFailure, "grpcstore", err)
	}
	if v := trailer.Get(kindTrailer); len(v) == 1 && v[0] != "" {
		return twine.NewError(twine.Kind(v[0]), "%s", st.Message())
	}
	switch st.Code() {
	case codes.NotFound:
		return twine.NewError(twine.KindNotFound, "%s", st.Message())
	case codes.DataLoss:
		return twine.NewError(twine.KindMalformed, "%s", st.Message())
	case codes.Canceled:
		return twine.NewError(twine.KindCancelled, "%s", st.Message())
	case codes.InvalidArgument:
		return twine.NewError(twine.KindInvalidTwineFormat, "%s", st.Message())
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return twine.WrapError(twine.KindConnectionFailure, "grpcstore", err)
	}
	return twine.WrapError(twine.KindMalformed, "grpcstore", err)
}
