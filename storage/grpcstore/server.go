package grpcstore

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/twine/cidutil"
	"xdao.co/twine/resolver"
	"xdao.co/twine/storage"
	"xdao.co/twine/twine"
)

// Server exposes a storage.Store over the Store gRPC service. Saves go
// through the wrapped store, which verifies them.
type Server struct {
	UnimplementedStoreServer
	Store  storage.Store
	Logger *zap.Logger
}

func (s *Server) log() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *Server) ready() error {
	if s == nil || s.Store == nil {
		return status.Error(codes.FailedPrecondition, "missing store")
	}
	return nil
}

func (s *Server) Has(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	sel, err := resolver.ParseSelector(in.GetValue())
	if err != nil {
		return nil, unaryError(ctx, err)
	}
	var ok bool
	switch {
	case sel.Kind == resolver.SelectStrand:
		ok, err = s.Store.HasStrand(ctx, sel.Strand)
	case sel.Kind == resolver.SelectSingle && sel.Single.Kind == resolver.SingleIndex:
		ok, err = s.Store.HasIndex(ctx, sel.Strand, sel.Single.Index)
	case sel.Kind == resolver.SelectSingle && sel.Single.Kind == resolver.SingleStitch:
		ok, err = s.Store.HasTwine(ctx, sel.Strand, sel.Single.Tixel)
	default:
		err = twine.NewError(twine.KindParse, "selector %q cannot be used with Has", in.GetValue())
	}
	if err != nil {
		return nil, unaryError(ctx, err)
	}
	return wrapperspb.Bool(ok), nil
}

func (s *Server) Fetch(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	sel, err := resolver.ParseSelector(in.GetValue())
	if err != nil {
		return nil, unaryError(ctx, err)
	}
	var tw twine.Twine
	switch sel.Kind {
	case resolver.SelectStrand:
		tw, err = s.Store.FetchStrand(ctx, sel.Strand)
	case resolver.SelectSingle:
		tw, err = sel.Single.Fetch(ctx, s.Store)
	default:
		err = twine.NewError(twine.KindParse, "selector %q cannot be used with Fetch", in.GetValue())
	}
	if err != nil {
		return nil, unaryError(ctx, err)
	}
	return wrapperspb.Bytes(tw.Bytes()), nil
}

func (s *Server) Save(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	tw, err := twine.DecodeTwine(in.GetValue())
	if err != nil {
		return nil, unaryError(ctx, err)
	}
	if err := s.Store.Save(ctx, tw); err != nil {
		s.log().Info("save rejected", zap.String("cid", cidutil.Format(tw.CID())), zap.Error(err))
		return nil, unaryError(ctx, err)
	}
	return wrapperspb.String(cidutil.Format(tw.CID())), nil
}

func (s *Server) Delete(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	id, err := cidutil.Parse(in.GetValue())
	if err != nil {
		return nil, unaryError(ctx, twine.WrapError(twine.KindParse, "delete", err))
	}
	if err := s.Store.Delete(ctx, id); err != nil {
		return nil, unaryError(ctx, err)
	}
	s.log().Debug("deleted", zap.String("cid", cidutil.Format(id)))
	return &emptypb.Empty{}, nil
}

func (s *Server) Range(in *wrapperspb.StringValue, stream Store_BlocksServer) error {
	if err := s.ready(); err != nil {
		return err
	}
	ctx := stream.Context()
	sel, err := resolver.ParseSelector(in.GetValue())
	if err == nil && sel.Kind != resolver.SelectRange {
		err = twine.NewError(twine.KindParse, "selector %q is not a range", in.GetValue())
	}
	if err != nil {
		return streamError(stream, err)
	}
	rng, err := sel.Range.Resolve(ctx, s.Store)
	if err != nil {
		return streamError(stream, err)
	}
	for t, err := range s.Store.RangeStream(ctx, rng) {
		if err != nil {
			return streamError(stream, err)
		}
		if err := stream.Send(wrapperspb.Bytes(t.Bytes())); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) Strands(_ *emptypb.Empty, stream Store_BlocksServer) error {
	if err := s.ready(); err != nil {
		return err
	}
	for st, err := range s.Store.FetchStrands(stream.Context()) {
		if err != nil {
			return streamError(stream, err)
		}
		if err := stream.Send(wrapperspb.Bytes(st.Bytes())); err != nil {
			return err
		}
	}
	return nil
}
