// Package grpc exposes the booking steps as a single generic gRPC method.
// Requests and responses are google.protobuf.Struct values, so the service
// needs no generated stubs:
//
//	request:  {"step": "payment", "input": {...}}
//	response: the step output object
package grpc

import (
	"context"
	"encoding/json"

	grpcpkg "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName  = "bookflow.saga.v1.StepService"
	InvokeMethod = "/" + ServiceName + "/Invoke"
)

// StepInvoker runs a named step with JSON input.
type StepInvoker interface {
	Invoke(ctx context.Context, step string, input json.RawMessage) (any, error)
}

// StepServiceServer is the server API for StepService.
type StepServiceServer interface {
	Invoke(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// StepServer adapts a StepInvoker to gRPC.
type StepServer struct {
	invoker StepInvoker
}

// NewStepServer constructs a StepServer.
func NewStepServer(invoker StepInvoker) *StepServer {
	return &StepServer{invoker: invoker}
}

// Register attaches the step service to s.
func Register(s grpcpkg.ServiceRegistrar, srv StepServiceServer) {
	s.RegisterService(&StepServiceDesc, srv)
}

// Invoke decodes {step, input}, runs the step and maps taxonomy errors to
// gRPC status codes.
func (s *StepServer) Invoke(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	step := fields["step"].GetStringValue()
	if step == "" {
		return nil, status.Error(codes.InvalidArgument, "step is required")
	}

	var input json.RawMessage
	if v, ok := fields["input"]; ok && !isNull(v) {
		raw, err := v.MarshalJSON()
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "input: %v", err)
		}
		input = raw
	}

	out, err := s.invoker.Invoke(ctx, step, input)
	if err != nil {
		return nil, mapStepError(ctx, err)
	}
	return toStruct(out)
}

func isNull(v *structpb.Value) bool {
	_, null := v.GetKind().(*structpb.Value_NullValue)
	return v.GetKind() == nil || null
}

func toStruct(out any) (*structpb.Struct, error) {
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode output: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, status.Errorf(codes.Internal, "encode output: %v", err)
	}
	result, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode output: %v", err)
	}
	return result, nil
}

func invokeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpcpkg.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StepServiceServer).Invoke(ctx, in)
	}
	info := &grpcpkg.UnaryServerInfo{Server: srv, FullMethod: InvokeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(StepServiceServer).Invoke(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// StepServiceDesc describes StepService for grpc.Server.RegisterService.
var StepServiceDesc = grpcpkg.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StepServiceServer)(nil),
	Methods: []grpcpkg.MethodDesc{
		{MethodName: "Invoke", Handler: invokeHandler},
	},
	Streams:  []grpcpkg.StreamDesc{},
	Metadata: "bookflow/saga/v1/steps.proto",
}
