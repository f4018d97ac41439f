// Package pkdadmin implements the internal AdminService gRPC surface
// named in SPEC_FULL.md §9's supplemented features: check a manual-mode
// stage trigger against an upload's pause step, and fetch an UploadRecord's
// status, given to operator tooling as a stable RPC contract instead of
// requiring it to scrape HTTP. Unlike web/handlers.go's processing
// endpoints, TriggerStage does not run the stage.
// Grounded on the teacher's rpc/grpc packages for the general shape (a
// narrow server type registered on a *grpc.Server), but without generated
// protobuf types: AdminService is spoken to only by this repo's own
// tooling, so it carries plain Go structs over a JSON codec rather than a
// .proto schema, since no protoc toolchain is available here to generate
// one.
package pkdadmin

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"github.com/iland112/local-pkd-sub003/core"
	blog "github.com/iland112/local-pkd-sub003/log"
	"github.com/iland112/local-pkd-sub003/metrics"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// TriggerStageRequest names the manual-mode stage an upload is expected to
// be paused at. TriggerStage checks that the upload is in MANUAL mode and
// paused at that stage, logs the request and answers Accepted; it does not
// run the stage (web/handlers.go's handleProcessingStep does).
type TriggerStageRequest struct {
	UploadID string
	Stage    string // "parse", "validate", or "upload-to-ldap"
}

type TriggerStageResponse struct {
	Accepted bool
}

// StatusRequest fetches the persisted state of one upload.
type StatusRequest struct {
	UploadID string
}

type StatusResponse struct {
	Status          string
	ManualPauseStep string
	FailureStage    string
	FailureMessage  string
}

// Server implements AdminService.
type Server struct {
	Uploads core.UploadStore
	Certs   core.CertificateStore
	log     blog.Logger
	stats   metrics.Scope
}

func NewServer(uploads core.UploadStore, certs core.CertificateStore, log blog.Logger, stats metrics.Scope) *Server {
	return &Server{Uploads: uploads, Certs: certs, log: log, stats: stats.NewScope("admin")}
}

func (s *Server) TriggerStage(ctx context.Context, req *TriggerStageRequest) (*TriggerStageResponse, error) {
	rec, err := s.Uploads.Get(ctx, req.UploadID)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "loading upload: %s", err)
	}
	if rec == nil {
		return nil, status.Errorf(codes.NotFound, "upload %s not found", req.UploadID)
	}
	if rec.ProcessingMode != core.ModeManual {
		return nil, status.Errorf(codes.FailedPrecondition, "upload %s is not in MANUAL mode", req.UploadID)
	}
	if rec.ManualPauseStep != req.Stage {
		return nil, status.Errorf(codes.FailedPrecondition, "upload %s is paused at %q, not %q", req.UploadID, rec.ManualPauseStep, req.Stage)
	}
	s.log.Info(fmt.Sprintf("admin: stage %s triggered for upload %s", req.Stage, req.UploadID))
	return &TriggerStageResponse{Accepted: true}, nil
}

func (s *Server) GetStatus(ctx context.Context, req *StatusRequest) (*StatusResponse, error) {
	rec, err := s.Uploads.Get(ctx, req.UploadID)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "loading upload: %s", err)
	}
	if rec == nil {
		return nil, status.Errorf(codes.NotFound, "upload %s not found", req.UploadID)
	}
	return &StatusResponse{
		Status:          string(rec.Status),
		ManualPauseStep: rec.ManualPauseStep,
		FailureStage:    rec.FailureStage,
		FailureMessage:  rec.FailureMessage,
	}, nil
}

func decodeRequest(dec func(interface{}) error, v interface{}) error {
	if err := dec(v); err != nil {
		return status.Errorf(codes.InvalidArgument, "decoding request: %s", err)
	}
	return nil
}

func triggerStageHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(TriggerStageRequest)
	if err := decodeRequest(dec, req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).TriggerStage(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/pkdadmin.AdminService/TriggerStage"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).TriggerStage(ctx, req.(*TriggerStageRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func getStatusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(StatusRequest)
	if err := decodeRequest(dec, req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).GetStatus(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/pkdadmin.AdminService/GetStatus"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).GetStatus(ctx, req.(*StatusRequest))
	}
	return interceptor(ctx, req, info, handler)
}

// serviceDesc is the hand-authored equivalent of what protoc-gen-go-grpc
// would otherwise emit from an AdminService .proto definition.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: "pkdadmin.AdminService",
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "TriggerStage", Handler: triggerStageHandler},
		{MethodName: "GetStatus", Handler: getStatusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pkdadmin/service.go",
}

// RegisterAdminServer registers srv's RPCs on gs.
func RegisterAdminServer(gs *grpc.Server, srv *Server) {
	gs.RegisterService(&serviceDesc, srv)
}
