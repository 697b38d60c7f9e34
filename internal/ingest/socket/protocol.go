package socket

import (
	"fmt"

	"github.com/golang/protobuf/proto"
)

type Operation int32

const (
	OperationUnknown      Operation = 0
	OperationPublish      Operation = 1
	OperationPublishBatch Operation = 2
	OperationConsume      Operation = 3
	OperationReplay       Operation = 4
	OperationStats        Operation = 5
	OperationPing         Operation = 6
	OperationHealth       Operation = 7
)

type ErrorCode int32

const (
	ErrorCodeOK              ErrorCode = 0
	ErrorCodeBadRequest      ErrorCode = 1
	ErrorCodeUnauthenticated ErrorCode = 2
	ErrorCodeOverloaded      ErrorCode = 3
	ErrorCodeInternal        ErrorCode = 4
)

type QueueRequest struct {
	RequestId    string               `protobuf:"bytes,1,opt,name=request_id,json=requestId,proto3"`
	AuthToken    string               `protobuf:"bytes,2,opt,name=auth_token,json=authToken,proto3"`
	Operation    int32                `protobuf:"varint,3,opt,name=operation,proto3"`
	Publish      *PublishRequest      `protobuf:"bytes,4,opt,name=publish,proto3"`
	PublishBatch *PublishBatchRequest `protobuf:"bytes,5,opt,name=publish_batch,json=publishBatch,proto3"`
	Replay       *ReplayRequest       `protobuf:"bytes,6,opt,name=replay,proto3"`
}

func (*QueueRequest) Reset()         {}
func (*QueueRequest) String() string { return "QueueRequest" }
func (*QueueRequest) ProtoMessage()  {}

type QueueResponse struct {
	RequestId    string           `protobuf:"bytes,1,opt,name=request_id,json=requestId,proto3"`
	ErrorCode    int32            `protobuf:"varint,2,opt,name=error_code,json=errorCode,proto3"`
	ErrorMessage string           `protobuf:"bytes,3,opt,name=error_message,json=errorMessage,proto3"`
	Publish      *PublishResponse `protobuf:"bytes,4,opt,name=publish,proto3"`
	Consume      *ConsumeResponse `protobuf:"bytes,5,opt,name=consume,proto3"`
	Replay       *ReplayResponse  `protobuf:"bytes,6,opt,name=replay,proto3"`
	Stats        *StatsResponse   `protobuf:"bytes,7,opt,name=stats,proto3"`
	Pong         *PongResponse    `protobuf:"bytes,8,opt,name=pong,proto3"`
	Health       *HealthResponse  `protobuf:"bytes,9,opt,name=health,proto3"`
}

func (*QueueResponse) Reset()         {}
func (*QueueResponse) String() string { return "QueueResponse" }
func (*QueueResponse) ProtoMessage()  {}

// Message is the wire shape of one queue record. Priority travels with
// an explicit presence flag so "no priority" survives the round trip.
type Message struct {
	Id           string `protobuf:"bytes,1,opt,name=id,proto3"`
	TimestampUtc string `protobuf:"bytes,2,opt,name=timestamp_utc,json=timestampUtc,proto3"`
	Payload      []byte `protobuf:"bytes,3,opt,name=payload,proto3"`
	MessageType  string `protobuf:"bytes,4,opt,name=message_type,json=messageType,proto3"`
	HasPriority  bool   `protobuf:"varint,5,opt,name=has_priority,json=hasPriority,proto3"`
	Priority     int64  `protobuf:"varint,6,opt,name=priority,proto3"`
}

func (*Message) Reset()         {}
func (*Message) String() string { return "Message" }
func (*Message) ProtoMessage()  {}

type PublishRequest struct {
	Payload     []byte `protobuf:"bytes,1,opt,name=payload,proto3"`
	MessageType string `protobuf:"bytes,2,opt,name=message_type,json=messageType,proto3"`
	HasPriority bool   `protobuf:"varint,3,opt,name=has_priority,json=hasPriority,proto3"`
	Priority    int64  `protobuf:"varint,4,opt,name=priority,proto3"`
}

func (*PublishRequest) Reset()         {}
func (*PublishRequest) String() string { return "PublishRequest" }
func (*PublishRequest) ProtoMessage()  {}

type PublishBatchRequest struct {
	Entries []*PublishRequest `protobuf:"bytes,1,rep,name=entries,proto3"`
}

func (*PublishBatchRequest) Reset()         {}
func (*PublishBatchRequest) String() string { return "PublishBatchRequest" }
func (*PublishBatchRequest) ProtoMessage()  {}

type PublishResponse struct {
	Accepted bool       `protobuf:"varint,1,opt,name=accepted,proto3"`
	Records  []*Message `protobuf:"bytes,2,rep,name=records,proto3"`
}

func (*PublishResponse) Reset()         {}
func (*PublishResponse) String() string { return "PublishResponse" }
func (*PublishResponse) ProtoMessage()  {}

type ConsumeResponse struct {
	Found  bool     `protobuf:"varint,1,opt,name=found,proto3"`
	Record *Message `protobuf:"bytes,2,opt,name=record,proto3"`
}

func (*ConsumeResponse) Reset()         {}
func (*ConsumeResponse) String() string { return "ConsumeResponse" }
func (*ConsumeResponse) ProtoMessage()  {}

type ReplayRequest struct {
	StartTimeUtc string `protobuf:"bytes,1,opt,name=start_time_utc,json=startTimeUtc,proto3"`
	StartId      string `protobuf:"bytes,2,opt,name=start_id,json=startId,proto3"`
}

func (*ReplayRequest) Reset()         {}
func (*ReplayRequest) String() string { return "ReplayRequest" }
func (*ReplayRequest) ProtoMessage()  {}

type ReplayResponse struct {
	Records []*Message `protobuf:"bytes,1,rep,name=records,proto3"`
}

func (*ReplayResponse) Reset()         {}
func (*ReplayResponse) String() string { return "ReplayResponse" }
func (*ReplayResponse) ProtoMessage()  {}

type StatsResponse struct {
	Depth    int64  `protobuf:"varint,1,opt,name=depth,proto3"`
	Appended uint64 `protobuf:"varint,2,opt,name=appended,proto3"`
	Taken    uint64 `protobuf:"varint,3,opt,name=taken,proto3"`
}

func (*StatsResponse) Reset()         {}
func (*StatsResponse) String() string { return "StatsResponse" }
func (*StatsResponse) ProtoMessage()  {}

type PongResponse struct {
	UnixTimeNs int64 `protobuf:"varint,1,opt,name=unix_time_ns,json=unixTimeNs,proto3"`
}

func (*PongResponse) Reset()         {}
func (*PongResponse) String() string { return "PongResponse" }
func (*PongResponse) ProtoMessage()  {}

type HealthResponse struct {
	Ok      bool   `protobuf:"varint,1,opt,name=ok,proto3"`
	Message string `protobuf:"bytes,2,opt,name=message,proto3"`
}

func (*HealthResponse) Reset()         {}
func (*HealthResponse) String() string { return "HealthResponse" }
func (*HealthResponse) ProtoMessage()  {}

func MarshalMessage(msg proto.Message) ([]byte, error) { return proto.Marshal(msg) }

func UnmarshalRequest(payload []byte) (*QueueRequest, error) {
	var req QueueRequest
	if err := proto.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func UnmarshalResponse(payload []byte) (*QueueResponse, error) {
	var res QueueResponse
	if err := proto.Unmarshal(payload, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func ValidateRequest(req *QueueRequest) error {
	if req == nil {
		return fmt.Errorf("nil request")
	}
	if req.Operation == int32(OperationUnknown) {
		return fmt.Errorf("operation is required")
	}
	return nil
}
