package grpcstore

import (
	"context"
	"errors"
	"io"
	"iter"
	"time"

	"github.com/ipfs/go-cid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/twine/cidutil"
	"xdao.co/twine/resolver"
	"xdao.co/twine/storage"
	"xdao.co/twine/twine"
)

// Client implements storage.Store over the Store gRPC service. Every block
// it returns is decoded locally and checked against the CID it was asked
// for; the server is not trusted to address blocks correctly.
type Client struct {
	cc     *grpc.ClientConn
	client StoreClient

	// Timeout applies per RPC when non-zero. Streams are not bounded by it.
	Timeout time.Duration
}

var _ storage.Store = (*Client)(nil)

type DialOptions struct {
	// Timeout applies to the initial dial when non-zero.
	Timeout time.Duration

	// MaxMsgBytes sets both send/recv max sizes when non-zero.
	MaxMsgBytes int

	// Extra options, e.g. a context dialer for tests.
	Extra []grpc.DialOption
}

func Dial(target string, opts DialOptions) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if opts.MaxMsgBytes > 0 {
		dialOpts = append(dialOpts,
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(opts.MaxMsgBytes),
				grpc.MaxCallSendMsgSize(opts.MaxMsgBytes),
			),
		)
	}
	dialOpts = append(dialOpts, opts.Extra...)

	ctx := context.Background()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cc, err := grpc.DialContext(ctx, target, dialOpts...)
	if err != nil {
		return nil, storage.ConnectionFailure("grpcstore: dial "+target, err)
	}
	return NewClient(cc), nil
}

// NewClient wraps an existing connection.
func NewClient(cc *grpc.ClientConn) *Client {
	return &Client{cc: cc, client: NewStoreClient(cc)}
}

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

func (c *Client) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, c.Timeout)
}

func (c *Client) has(ctx context.Context, selector string) (bool, error) {
	if err := resolver.ContextError(ctx); err != nil {
		return false, err
	}
	rctx, cancel := c.ctx(ctx)
	defer cancel()
	var trailer metadata.MD
	reply, err := c.client.Has(rctx, wrapperspb.String(selector), grpc.Trailer(&trailer))
	if err != nil {
		return false, mapRPC(ctx, err, trailer)
	}
	return reply.GetValue(), nil
}

func (c *Client) fetch(ctx context.Context, selector string) ([]byte, error) {
	if err := resolver.ContextError(ctx); err != nil {
		return nil, err
	}
	rctx, cancel := c.ctx(ctx)
	defer cancel()
	var trailer metadata.MD
	reply, err := c.client.Fetch(rctx, wrapperspb.String(selector), grpc.Trailer(&trailer))
	if err != nil {
		return nil, mapRPC(ctx, err, trailer)
	}
	return reply.GetValue(), nil
}

func (c *Client) HasIndex(ctx context.Context, strand cid.Cid, index uint64) (bool, error) {
	return c.has(ctx, resolver.AtIndex(strand, index).String())
}

func (c *Client) HasTwine(ctx context.Context, strand, id cid.Cid) (bool, error) {
	if id.Equals(strand) {
		return c.HasStrand(ctx, strand)
	}
	return c.has(ctx, resolver.AtStitch(twine.Stitch{Strand: strand, Tixel: id}).String())
}

func (c *Client) HasStrand(ctx context.Context, strand cid.Cid) (bool, error) {
	return c.has(ctx, cidutil.Format(strand))
}

func (c *Client) FetchLatest(ctx context.Context, strand cid.Cid) (*twine.Tixel, error) {
	return c.fetchTixel(ctx, resolver.Latest(strand))
}

func (c *Client) FetchIndex(ctx context.Context, strand cid.Cid, index uint64) (*twine.Tixel, error) {
	return c.fetchTixel(ctx, resolver.AtIndex(strand, index))
}

func (c *Client) FetchTixel(ctx context.Context, strand, tixel cid.Cid) (*twine.Tixel, error) {
	return c.fetchTixel(ctx, resolver.AtStitch(twine.Stitch{Strand: strand, Tixel: tixel}))
}

func (c *Client) fetchTixel(ctx context.Context, q resolver.SingleQuery) (*twine.Tixel, error) {
	data, err := c.fetch(ctx, q.String())
	if err != nil {
		return nil, err
	}
	t, err := twine.DecodeTixel(data)
	if err != nil {
		return nil, storage.Malformed(q.String(), err)
	}
	if q.Kind == resolver.SingleStitch && !t.CID().Equals(q.Tixel) {
		return nil, twine.MismatchError(q.Tixel, t.CID())
	}
	return t, nil
}

func (c *Client) FetchStrand(ctx context.Context, strand cid.Cid) (*twine.Strand, error) {
	data, err := c.fetch(ctx, cidutil.Format(strand))
	if err != nil {
		return nil, err
	}
	return storage.DecodeStrand(strand, data)
}

// blocks drains a server stream lazily. Breaking out of the loop cancels
// the stream.
func blocks(ctx context.Context, open func(context.Context) (Store_BlocksClient, error)) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		if err := resolver.ContextError(ctx); err != nil {
			yield(nil, err)
			return
		}
		sctx, cancel := context.WithCancel(ctx)
		defer cancel()
		stream, err := open(sctx)
		if err != nil {
			yield(nil, mapRPC(ctx, err, nil))
			return
		}
		for {
			m, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, mapRPC(ctx, err, stream.Trailer()))
				return
			}
			if !yield(m.GetValue(), nil) {
				return
			}
		}
	}
}

func (c *Client) RangeStream(ctx context.Context, rng resolver.AbsoluteRange) iter.Seq2[*twine.Tixel, error] {
	return func(yield func(*twine.Tixel, error) bool) {
		open := func(sctx context.Context) (Store_BlocksClient, error) {
			return c.client.Range(sctx, wrapperspb.String(rng.String()))
		}
		for data, err := range blocks(ctx, open) {
			if err != nil {
				yield(nil, err)
				return
			}
			t, err := twine.DecodeTixel(data)
			if err != nil {
				yield(nil, storage.Malformed(rng.String(), err))
				return
			}
			if !yield(t, nil) {
				return
			}
		}
	}
}

func (c *Client) FetchStrands(ctx context.Context) iter.Seq2[*twine.Strand, error] {
	return func(yield func(*twine.Strand, error) bool) {
		open := func(sctx context.Context) (Store_BlocksClient, error) {
			return c.client.Strands(sctx, &emptypb.Empty{})
		}
		for data, err := range blocks(ctx, open) {
			if err != nil {
				yield(nil, err)
				return
			}
			s, err := twine.DecodeStrand(data)
			if err != nil {
				yield(nil, storage.Malformed("strand listing", err))
				return
			}
			if !yield(s, nil) {
				return
			}
		}
	}
}

// Save sends the block to the server, which verifies it against its own
// store, and checks the CID it reports back.
func (c *Client) Save(ctx context.Context, tw twine.Twine) error {
	if err := resolver.ContextError(ctx); err != nil {
		return err
	}
	if twine.IsNil(tw) {
		return twine.NewError(twine.KindInvalidTwineFormat, "nil twine")
	}
	rctx, cancel := c.ctx(ctx)
	defer cancel()
	var trailer metadata.MD
	reply, err := c.client.Save(rctx, wrapperspb.Bytes(tw.Bytes()), grpc.Trailer(&trailer))
	if err != nil {
		return mapRPC(ctx, err, trailer)
	}
	id, err := cidutil.Parse(reply.GetValue())
	if err != nil {
		return storage.Malformed("save reply", err)
	}
	if !id.Equals(tw.CID()) {
		return twine.MismatchError(tw.CID(), id)
	}
	return nil
}

func (c *Client) SaveMany(ctx context.Context, tws []twine.Twine) ([]storage.Result, error) {
	return storage.SaveSlice(ctx, c, tws)
}

func (c *Client) SaveStream(ctx context.Context, tws iter.Seq[twine.Twine]) ([]storage.Result, error) {
	return storage.SaveEach(ctx, c, tws)
}

func (c *Client) Delete(ctx context.Context, id cid.Cid) error {
	if err := resolver.ContextError(ctx); err != nil {
		return err
	}
	rctx, cancel := c.ctx(ctx)
	defer cancel()
	var trailer metadata.MD
	_, err := c.client.Delete(rctx, wrapperspb.String(cidutil.Format(id)), grpc.Trailer(&trailer))
	return mapRPC(ctx, err, trailer)
}
