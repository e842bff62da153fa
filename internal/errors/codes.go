// Package errors provides structured error handling for the session core.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Room errors
	CodeRoomAlreadyExists     Code = "ROOM_ALREADY_EXISTS"
	CodeRoomCapacityExceeded  Code = "ROOM_CAPACITY_EXCEEDED"
	CodeRoomNotFound          Code = "ROOM_NOT_FOUND"
	CodeRoomCompleted         Code = "ROOM_COMPLETED"
	CodeRoomKeyEmpty          Code = "ROOM_KEY_EMPTY"
	CodeRoomInvalidTransition Code = "ROOM_INVALID_STATUS_TRANSITION"

	// Participant errors
	CodeParticipantEmptyUserID Code = "PARTICIPANT_EMPTY_USER_ID"
	CodeParticipantInvalidRole Code = "PARTICIPANT_INVALID_ROLE"

	// Game state errors
	CodeTurnIndexOutOfRange Code = "GAME_STATE_TURN_INDEX_OUT_OF_RANGE"

	// Broadcast errors
	CodeSubscriptionLimit Code = "SUBSCRIPTION_LIMIT_EXCEEDED"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeRoomKeyEmpty,
		CodeParticipantEmptyUserID,
		CodeParticipantInvalidRole,
		CodeTurnIndexOutOfRange:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow operation
	case CodeRoomCompleted,
		CodeRoomInvalidTransition:
		return codes.FailedPrecondition

	// AlreadyExists - duplicate creation
	case CodeRoomAlreadyExists:
		return codes.AlreadyExists

	// ResourceExhausted - configured limits reached
	case CodeRoomCapacityExceeded,
		CodeSubscriptionLimit:
		return codes.ResourceExhausted

	// NotFound - resource doesn't exist
	case CodeRoomNotFound,
		CodeNotFound:
		return codes.NotFound

	default:
		return codes.Internal
	}
}
