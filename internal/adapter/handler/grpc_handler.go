package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"github.com/Capybara-Clinic/capybara-qr-order/internal/core/domain"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/core/service"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/logger"
)

const (
	kitchenFeedService   = "capybara.order.v1.KitchenFeed"
	kitchenFeedSubscribe = "/" + kitchenFeedService + "/Subscribe"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec carries feed messages as JSON so display clients need no generated stubs.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

type SubscribeRequest struct {
	Station string `json:"station"`
}

type KitchenFeedServer interface {
	Subscribe(req *SubscribeRequest, stream grpc.ServerStream) error
}

var KitchenFeedServiceDesc = grpc.ServiceDesc{
	ServiceName: kitchenFeedService,
	HandlerType: (*KitchenFeedServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "kitchen_feed",
}

func RegisterKitchenFeedServer(s grpc.ServiceRegistrar, srv KitchenFeedServer) {
	s.RegisterService(&KitchenFeedServiceDesc, srv)
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	req := new(SubscribeRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(KitchenFeedServer).Subscribe(req, stream)
}

type GRPCHandler struct {
	feed *service.FeedService
	log  *logger.Logger
}

func NewGRPCHandler(feed *service.FeedService, log *logger.Logger) *GRPCHandler {
	return &GRPCHandler{feed: feed, log: log}
}

// Subscribe streams confirmed orders to a kitchen or serving display.
func (h *GRPCHandler) Subscribe(req *SubscribeRequest, stream grpc.ServerStream) error {
	requestID := logger.GenerateRequestID()
	ctx := logger.WithRequestID(stream.Context(), requestID)

	h.log.Info("feed_grpc", "display subscribed", requestID, map[string]any{"station": req.Station})

	if err := h.feed.Stream(ctx, &grpcSink{stream: stream}); err != nil {
		h.log.Warn("feed_grpc", "display stream failed", requestID, err, nil)
		return status.Error(codes.Unavailable, err.Error())
	}
	return nil
}

type grpcSink struct {
	stream grpc.ServerStream
}

func (s *grpcSink) Send(_ context.Context, order domain.Order) error {
	resp := newOrderResponse(order)
	if err := s.stream.SendMsg(&resp); err != nil {
		return fmt.Errorf("send grpc event: %w", err)
	}
	return nil
}

// KitchenFeedClient reads the feed from a remote server.
type KitchenFeedClient struct {
	conn grpc.ClientConnInterface
}

func NewKitchenFeedClient(conn grpc.ClientConnInterface) *KitchenFeedClient {
	return &KitchenFeedClient{conn: conn}
}

// FeedStream yields one order per Recv until the server ends the stream.
type FeedStream struct {
	stream grpc.ClientStream
}

func (c *KitchenFeedClient) Subscribe(ctx context.Context, req *SubscribeRequest) (*FeedStream, error) {
	stream, err := c.conn.NewStream(ctx, &KitchenFeedServiceDesc.Streams[0], kitchenFeedSubscribe, grpc.CallContentSubtype("json"))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &FeedStream{stream: stream}, nil
}

func (s *FeedStream) Recv() (*OrderResponse, error) {
	resp := new(OrderResponse)
	if err := s.stream.RecvMsg(resp); err != nil {
		return nil, err
	}
	return resp, nil
}
