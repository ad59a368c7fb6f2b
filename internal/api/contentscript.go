package bridgeapi

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/aegis-sign/psbt-bridge/internal/relay"
)

// ContentScriptServiceName 是 content script gRPC 服务名。
const ContentScriptServiceName = "psbtbridge.v1.ContentScript"

// 完整方法名，客户端通过 ClientConn.Invoke 调用。
const (
	MethodActiveTab = "/" + ContentScriptServiceName + "/ActiveTab"
	MethodDeliver   = "/" + ContentScriptServiceName + "/Deliver"
	MethodOpenURL   = "/" + ContentScriptServiceName + "/OpenURL"
)

// ContentScriptServer 是 content script 进程对外提供的能力。载荷使用 google.protobuf.Struct。
//
//	ActiveTab: {} -> {found: bool, tab: {id, url, endpoint}}
//	Deliver:   {tabId, message: {type, psbt?}} -> {responded: bool, response: {psbt?, request_type?, amount?}}
//	OpenURL:   {url} -> {found: true, tab: {id, url, endpoint}}
type ContentScriptServer interface {
	ActiveTab(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Deliver(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	OpenURL(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterContentScriptServer 将实现注册到 gRPC server。
func RegisterContentScriptServer(s grpc.ServiceRegistrar, srv ContentScriptServer) {
	s.RegisterService(&contentScriptServiceDesc, srv)
}

var contentScriptServiceDesc = grpc.ServiceDesc{
	ServiceName: ContentScriptServiceName,
	HandlerType: (*ContentScriptServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ActiveTab", Handler: activeTabHandler},
		{MethodName: "Deliver", Handler: deliverHandler},
		{MethodName: "OpenURL", Handler: openURLHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "psbtbridge/v1/content_script.proto",
}

func activeTabHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ContentScriptServer).ActiveTab(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodActiveTab}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ContentScriptServer).ActiveTab(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func deliverHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ContentScriptServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodDeliver}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ContentScriptServer).Deliver(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func openURLHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ContentScriptServer).OpenURL(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodOpenURL}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ContentScriptServer).OpenURL(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// TabToStruct 编码 ActiveTab 应答。
func TabToStruct(tab relay.Tab, found bool) (*structpb.Struct, error) {
	fields := map[string]any{"found": found}
	if found {
		fields["tab"] = map[string]any{
			"id":       float64(tab.ID),
			"url":      tab.URL,
			"endpoint": tab.Endpoint,
		}
	}
	return structpb.NewStruct(fields)
}

// TabFromStruct 解码 ActiveTab 应答。
func TabFromStruct(s *structpb.Struct) (relay.Tab, bool) {
	fields := s.GetFields()
	if !fields["found"].GetBoolValue() {
		return relay.Tab{}, false
	}
	tab := fields["tab"].GetStructValue().GetFields()
	return relay.Tab{
		ID:       int(tab["id"].GetNumberValue()),
		URL:      tab["url"].GetStringValue(),
		Endpoint: tab["endpoint"].GetStringValue(),
	}, true
}

// DeliverRequest 编码 Deliver 请求，message 字段与线上 JSON 格式一致。
func DeliverRequest(tabID int, msg relay.Message) (*structpb.Struct, error) {
	raw, err := relay.Encode(msg)
	if err != nil {
		return nil, err
	}
	message, err := jsonToMap(raw)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{"tabId": float64(tabID), "message": message})
}

// ParseDeliverRequest 解码 Deliver 请求。未知 type 返回 relay.ErrUnknownMessage。
func ParseDeliverRequest(s *structpb.Struct) (int, relay.Message, error) {
	fields := s.GetFields()
	message := fields["message"].GetStructValue()
	if message == nil {
		return 0, nil, fmt.Errorf("deliver request missing message")
	}
	raw, err := json.Marshal(message.AsMap())
	if err != nil {
		return 0, nil, err
	}
	msg, err := relay.Decode(raw)
	if err != nil {
		return 0, nil, err
	}
	return int(fields["tabId"].GetNumberValue()), msg, nil
}

// DeliverResponse 编码 Deliver 应答；responded=false 表示 content script 没有应答。
func DeliverResponse(resp relay.Response, responded bool) (*structpb.Struct, error) {
	fields := map[string]any{"responded": responded}
	if responded {
		raw, err := relay.EncodeResponse(resp)
		if err != nil {
			return nil, err
		}
		body, err := jsonToMap(raw)
		if err != nil {
			return nil, err
		}
		fields["response"] = body
	}
	return structpb.NewStruct(fields)
}

// ParseDeliverResponse 解码 Deliver 应答。
func ParseDeliverResponse(s *structpb.Struct) (relay.Response, bool, error) {
	fields := s.GetFields()
	if !fields["responded"].GetBoolValue() {
		return relay.Response{}, false, nil
	}
	body := fields["response"].GetStructValue()
	if body == nil {
		return relay.Response{}, true, nil
	}
	raw, err := json.Marshal(body.AsMap())
	if err != nil {
		return relay.Response{}, true, err
	}
	resp, err := relay.DecodeResponse(raw)
	return resp, true, err
}

func jsonToMap(raw []byte) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
