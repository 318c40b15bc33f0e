package snapv1

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName 完整服務名稱.
const ServiceName = "snap.v1.SnapViewService"

// 方法完整路徑.
const (
	CanViewSnapFullMethod                        = "/" + ServiceName + "/CanViewSnap"
	RecordSnapViewFullMethod                     = "/" + ServiceName + "/RecordSnapView"
	IncrementSnapReplayFullMethod                = "/" + ServiceName + "/IncrementSnapReplay"
	RecordSnapScreenshotFullMethod               = "/" + ServiceName + "/RecordSnapScreenshot"
	GetScreenshotNotificationsFullMethod         = "/" + ServiceName + "/GetScreenshotNotifications"
	AcknowledgeScreenshotNotificationsFullMethod = "/" + ServiceName + "/AcknowledgeScreenshotNotifications"
)

// SnapViewServiceServer 服務端介面.
type SnapViewServiceServer interface {
	CanViewSnap(context.Context, *CanViewSnapRequest) (*CanViewSnapResponse, error)
	RecordSnapView(context.Context, *RecordSnapViewRequest) (*ViewResponse, error)
	IncrementSnapReplay(context.Context, *IncrementSnapReplayRequest) (*ViewResponse, error)
	RecordSnapScreenshot(context.Context, *RecordSnapScreenshotRequest) (*RecordSnapScreenshotResponse, error)
	GetScreenshotNotifications(context.Context, *GetScreenshotNotificationsRequest) (*GetScreenshotNotificationsResponse, error)
	AcknowledgeScreenshotNotifications(context.Context, *AcknowledgeScreenshotNotificationsRequest) (*AcknowledgeScreenshotNotificationsResponse, error)
}

// unaryHandler 將型別化的方法包成 grpc.MethodHandler，並套用攔截器.
func unaryHandler[Req, Resp any](
	fullMethod string,
	call func(SnapViewServiceServer, context.Context, *Req) (*Resp, error),
) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SnapViewServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(SnapViewServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// SnapViewService_ServiceDesc 服務描述.
var SnapViewService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SnapViewServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "CanViewSnap",
			Handler:    unaryHandler(CanViewSnapFullMethod, SnapViewServiceServer.CanViewSnap),
		},
		{
			MethodName: "RecordSnapView",
			Handler:    unaryHandler(RecordSnapViewFullMethod, SnapViewServiceServer.RecordSnapView),
		},
		{
			MethodName: "IncrementSnapReplay",
			Handler:    unaryHandler(IncrementSnapReplayFullMethod, SnapViewServiceServer.IncrementSnapReplay),
		},
		{
			MethodName: "RecordSnapScreenshot",
			Handler:    unaryHandler(RecordSnapScreenshotFullMethod, SnapViewServiceServer.RecordSnapScreenshot),
		},
		{
			MethodName: "GetScreenshotNotifications",
			Handler:    unaryHandler(GetScreenshotNotificationsFullMethod, SnapViewServiceServer.GetScreenshotNotifications),
		},
		{
			MethodName: "AcknowledgeScreenshotNotifications",
			Handler:    unaryHandler(AcknowledgeScreenshotNotificationsFullMethod, SnapViewServiceServer.AcknowledgeScreenshotNotifications),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "snap/v1/snapview",
}

// RegisterSnapViewServiceServer 註冊服務.
func RegisterSnapViewServiceServer(s grpc.ServiceRegistrar, srv SnapViewServiceServer) {
	s.RegisterService(&SnapViewService_ServiceDesc, srv)
}

// SnapViewServiceClient 客戶端介面.
type SnapViewServiceClient interface {
	CanViewSnap(ctx context.Context, in *CanViewSnapRequest, opts ...grpc.CallOption) (*CanViewSnapResponse, error)
	RecordSnapView(ctx context.Context, in *RecordSnapViewRequest, opts ...grpc.CallOption) (*ViewResponse, error)
	IncrementSnapReplay(ctx context.Context, in *IncrementSnapReplayRequest, opts ...grpc.CallOption) (*ViewResponse, error)
	RecordSnapScreenshot(ctx context.Context, in *RecordSnapScreenshotRequest, opts ...grpc.CallOption) (*RecordSnapScreenshotResponse, error)
	GetScreenshotNotifications(ctx context.Context, in *GetScreenshotNotificationsRequest, opts ...grpc.CallOption) (*GetScreenshotNotificationsResponse, error)
	AcknowledgeScreenshotNotifications(ctx context.Context, in *AcknowledgeScreenshotNotificationsRequest, opts ...grpc.CallOption) (*AcknowledgeScreenshotNotificationsResponse, error)
}

type snapViewServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewSnapViewServiceClient 建立客戶端，所有呼叫固定使用 JSON codec.
func NewSnapViewServiceClient(cc grpc.ClientConnInterface) SnapViewServiceClient {
	return &snapViewServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in interface{}, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *snapViewServiceClient) CanViewSnap(ctx context.Context, in *CanViewSnapRequest, opts ...grpc.CallOption) (*CanViewSnapResponse, error) {
	return invoke[CanViewSnapResponse](ctx, c.cc, CanViewSnapFullMethod, in, opts)
}

func (c *snapViewServiceClient) RecordSnapView(ctx context.Context, in *RecordSnapViewRequest, opts ...grpc.CallOption) (*ViewResponse, error) {
	return invoke[ViewResponse](ctx, c.cc, RecordSnapViewFullMethod, in, opts)
}

func (c *snapViewServiceClient) IncrementSnapReplay(ctx context.Context, in *IncrementSnapReplayRequest, opts ...grpc.CallOption) (*ViewResponse, error) {
	return invoke[ViewResponse](ctx, c.cc, IncrementSnapReplayFullMethod, in, opts)
}

func (c *snapViewServiceClient) RecordSnapScreenshot(ctx context.Context, in *RecordSnapScreenshotRequest, opts ...grpc.CallOption) (*RecordSnapScreenshotResponse, error) {
	return invoke[RecordSnapScreenshotResponse](ctx, c.cc, RecordSnapScreenshotFullMethod, in, opts)
}

func (c *snapViewServiceClient) GetScreenshotNotifications(ctx context.Context, in *GetScreenshotNotificationsRequest, opts ...grpc.CallOption) (*GetScreenshotNotificationsResponse, error) {
	return invoke[GetScreenshotNotificationsResponse](ctx, c.cc, GetScreenshotNotificationsFullMethod, in, opts)
}

func (c *snapViewServiceClient) AcknowledgeScreenshotNotifications(ctx context.Context, in *AcknowledgeScreenshotNotificationsRequest, opts ...grpc.CallOption) (*AcknowledgeScreenshotNotificationsResponse, error) {
	return invoke[AcknowledgeScreenshotNotificationsResponse](ctx, c.cc, AcknowledgeScreenshotNotificationsFullMethod, in, opts)
}
