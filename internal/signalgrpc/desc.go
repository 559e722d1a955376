package signalgrpc

import (
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rmacdonaldsmith/livesync-go/pkg/signaling"
)

// ServiceName is the fully qualified name of the relay service.
const ServiceName = "livesync.signal.v1.SignalRelay"

const (
	connectMethod = "/" + ServiceName + "/Connect"

	frameKind     = "kind"
	frameClientID = "client_id"
	frameType     = "type"
	frameContent  = "content"

	kindWelcome = "welcome"
	kindSignal  = "signal"
)

// SignalRelayServer handles one bidirectional Connect stream per client.
type SignalRelayServer interface {
	Connect(stream grpc.ServerStream) error
}

// Frames are google.protobuf.Struct messages so the service needs no generated code.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SignalRelayServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Connect",
			Handler:       connectHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "livesync/signal/v1/relay.proto",
}

func connectHandler(srv any, stream grpc.ServerStream) error {
	return srv.(SignalRelayServer).Connect(stream)
}

// RegisterSignalRelayServer registers srv on s.
func RegisterSignalRelayServer(s grpc.ServiceRegistrar, srv SignalRelayServer) {
	s.RegisterService(&serviceDesc, srv)
}

var errMalformedFrame = errors.New("malformed frame")

func welcomeFrame(clientID string) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		frameKind:     kindWelcome,
		frameClientID: clientID,
	})
}

// signalFrame encodes msg. Content is carried as a string and must be UTF-8, which JSON is.
func signalFrame(msg signaling.Message) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		frameKind:     kindSignal,
		frameClientID: msg.ClientID,
		frameType:     msg.Type,
		frameContent:  string(msg.Content),
	})
}

func frameString(frame *structpb.Struct, key string) string {
	return frame.GetFields()[key].GetStringValue()
}

func decodeWelcome(frame *structpb.Struct) (string, error) {
	if frameString(frame, frameKind) != kindWelcome {
		return "", fmt.Errorf("%w: expected welcome, got %q", errMalformedFrame, frameString(frame, frameKind))
	}
	id := frameString(frame, frameClientID)
	if id == "" {
		return "", fmt.Errorf("%w: welcome without client id", errMalformedFrame)
	}
	return id, nil
}

func decodeSignal(frame *structpb.Struct) (signaling.Message, error) {
	if frameString(frame, frameKind) != kindSignal {
		return signaling.Message{}, fmt.Errorf("%w: expected signal, got %q", errMalformedFrame, frameString(frame, frameKind))
	}
	msg := signaling.Message{
		ClientID: frameString(frame, frameClientID),
		Type:     frameString(frame, frameType),
	}
	if content := frameString(frame, frameContent); content != "" {
		msg.Content = []byte(content)
	}
	return msg, nil
}
