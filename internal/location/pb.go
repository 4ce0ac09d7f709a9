package location

import "google.golang.org/grpc"

// ProviderLocation is a single heartbeat from the provider app.
type ProviderLocation struct {
	ProviderId string
	Lat        float64
	Lng        float64
	Accuracy   float64
	Ts         int64
}

// Ack is returned when the stream closes.
type Ack struct{}

// TrackingServer defines the gRPC contract for location ingest.
type TrackingServer interface {
	StreamLocation(Tracking_StreamLocationServer) error
}

// RegisterTrackingServer registers the service implementation.
func RegisterTrackingServer(s *grpc.Server, srv TrackingServer) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: "tracking.Tracking",
		HandlerType: (*TrackingServer)(nil),
		Streams: []grpc.StreamDesc{{
			StreamName:    "StreamLocation",
			Handler:       _Tracking_StreamLocation_Handler,
			ServerStreams: true,
			ClientStreams: true,
		}},
	}, srv)
}

// Tracking_StreamLocationServer defines the bidi stream interface.
type Tracking_StreamLocationServer interface {
	grpc.ServerStream
	SendAndClose(*Ack) error
	Recv() (*ProviderLocation, error)
}

func _Tracking_StreamLocation_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(TrackingServer).StreamLocation(&trackingStreamServer{ServerStream: stream})
}

type trackingStreamServer struct {
	grpc.ServerStream
}

func (s *trackingStreamServer) SendAndClose(*Ack) error { return nil }

func (s *trackingStreamServer) Recv() (*ProviderLocation, error) {
	msg := new(ProviderLocation)
	if err := s.ServerStream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg, nil
}
