package courier

import (
	"errors"
	"fmt"
)

// Broker protocol error codes. https://kafka.apache.org/protocol#protocol_error_codes
const (
	ERR_UNKNOWN_SERVER_ERROR                  int16 = -1
	ERR_NONE                                  int16 = 0
	ERR_OFFSET_OUT_OF_RANGE                   int16 = 1
	ERR_CORRUPT_MESSAGE                       int16 = 2
	ERR_UNKNOWN_TOPIC_OR_PARTITION            int16 = 3
	ERR_LEADER_NOT_AVAILABLE                  int16 = 5
	ERR_NOT_LEADER_FOR_PARTITION              int16 = 6
	ERR_REQUEST_TIMED_OUT                     int16 = 7
	ERR_BROKER_NOT_AVAILABLE                  int16 = 8
	ERR_REPLICA_NOT_AVAILABLE                 int16 = 9
	ERR_MESSAGE_TOO_LARGE                     int16 = 10
	ERR_NETWORK_EXCEPTION                     int16 = 13
	ERR_COORDINATOR_LOAD_IN_PROGRESS          int16 = 14
	ERR_COORDINATOR_NOT_AVAILABLE             int16 = 15
	ERR_NOT_COORDINATOR                       int16 = 16
	ERR_INVALID_TOPIC                         int16 = 17
	ERR_RECORD_LIST_TOO_LARGE                 int16 = 18
	ERR_NOT_ENOUGH_REPLICAS                   int16 = 19
	ERR_INVALID_REQUIRED_ACKS                 int16 = 21
	ERR_ILLEGAL_GENERATION                    int16 = 22
	ERR_UNKNOWN_MEMBER_ID                     int16 = 25
	ERR_INVALID_SESSION_TIMEOUT               int16 = 26
	ERR_REBALANCE_IN_PROGRESS                 int16 = 27
	ERR_TOPIC_AUTHORIZATION_FAILED            int16 = 29
	ERR_GROUP_AUTHORIZATION_FAILED            int16 = 30
	ERR_CLUSTER_AUTHORIZATION_FAILED          int16 = 31
	ERR_UNSUPPORTED_VERSION                   int16 = 35
	ERR_TOPIC_ALREADY_EXISTS                  int16 = 36
	ERR_INVALID_PARTITIONS                    int16 = 37
	ERR_INVALID_REPLICATION_FACTOR            int16 = 38
	ERR_NOT_CONTROLLER                        int16 = 41
	ERR_INVALID_REQUEST                       int16 = 42
	ERR_POLICY_VIOLATION                      int16 = 44
	ERR_OUT_OF_ORDER_SEQUENCE_NUMBER          int16 = 45
	ERR_DUPLICATE_SEQUENCE_NUMBER             int16 = 46
	ERR_INVALID_PRODUCER_EPOCH                int16 = 47
	ERR_INVALID_TXN_STATE                     int16 = 48
	ERR_INVALID_PRODUCER_ID_MAPPING           int16 = 49
	ERR_CONCURRENT_TRANSACTIONS               int16 = 51
	ERR_TRANSACTION_COORDINATOR_FENCED        int16 = 52
	ERR_TRANSACTIONAL_ID_AUTHORIZATION_FAILED int16 = 53
	ERR_FENCED_INSTANCE_ID                    int16 = 82
)

var errorCodes = map[int16]string{
	-1: "UNKNOWN_SERVER_ERROR",
	0:  "NONE",
	1:  "OFFSET_OUT_OF_RANGE",
	2:  "CORRUPT_MESSAGE",
	3:  "UNKNOWN_TOPIC_OR_PARTITION",
	5:  "LEADER_NOT_AVAILABLE",
	6:  "NOT_LEADER_FOR_PARTITION",
	7:  "REQUEST_TIMED_OUT",
	8:  "BROKER_NOT_AVAILABLE",
	9:  "REPLICA_NOT_AVAILABLE",
	10: "MESSAGE_TOO_LARGE",
	13: "NETWORK_EXCEPTION",
	14: "COORDINATOR_LOAD_IN_PROGRESS",
	15: "COORDINATOR_NOT_AVAILABLE",
	16: "NOT_COORDINATOR",
	17: "INVALID_TOPIC",
	18: "RECORD_LIST_TOO_LARGE",
	19: "NOT_ENOUGH_REPLICAS",
	21: "INVALID_REQUIRED_ACKS",
	22: "ILLEGAL_GENERATION",
	25: "UNKNOWN_MEMBER_ID",
	26: "INVALID_SESSION_TIMEOUT",
	27: "REBALANCE_IN_PROGRESS",
	29: "TOPIC_AUTHORIZATION_FAILED",
	30: "GROUP_AUTHORIZATION_FAILED",
	31: "CLUSTER_AUTHORIZATION_FAILED",
	35: "UNSUPPORTED_VERSION",
	36: "TOPIC_ALREADY_EXISTS",
	37: "INVALID_PARTITIONS",
	38: "INVALID_REPLICATION_FACTOR",
	41: "NOT_CONTROLLER",
	42: "INVALID_REQUEST",
	44: "POLICY_VIOLATION",
	45: "OUT_OF_ORDER_SEQUENCE_NUMBER",
	46: "DUPLICATE_SEQUENCE_NUMBER",
	47: "INVALID_PRODUCER_EPOCH",
	48: "INVALID_TXN_STATE",
	49: "INVALID_PRODUCER_ID_MAPPING",
	51: "CONCURRENT_TRANSACTIONS",
	52: "TRANSACTION_COORDINATOR_FENCED",
	53: "TRANSACTIONAL_ID_AUTHORIZATION_FAILED",
	82: "FENCED_INSTANCE_ID",
}

// Error is an error code returned in a broker response. A nil response error
// is represented by code 0 (NONE) and should never be wrapped in an Error.
type Error struct {
	Code    int16
	Message string
}

func (e *Error) Error() string {
	name, ok := errorCodes[e.Code]
	if !ok {
		name = "UNKNOWN"
	}
	if e.Message == "" {
		return fmt.Sprintf("broker error %d (%s)", e.Code, name)
	}
	return fmt.Sprintf("broker error %d (%s): %s", e.Code, name, e.Message)
}

// ErrorFromCode returns nil for code NONE, an *Error otherwise.
func ErrorFromCode(code int16) error {
	if code == ERR_NONE {
		return nil
	}
	return &Error{Code: code}
}

var retryableCodes = map[int16]bool{
	ERR_CORRUPT_MESSAGE:              true,
	ERR_UNKNOWN_TOPIC_OR_PARTITION:   true,
	ERR_LEADER_NOT_AVAILABLE:         true,
	ERR_NOT_LEADER_FOR_PARTITION:     true,
	ERR_REQUEST_TIMED_OUT:            true,
	ERR_BROKER_NOT_AVAILABLE:         true,
	ERR_REPLICA_NOT_AVAILABLE:        true,
	ERR_NETWORK_EXCEPTION:            true,
	ERR_COORDINATOR_LOAD_IN_PROGRESS: true,
	ERR_COORDINATOR_NOT_AVAILABLE:    true,
	ERR_NOT_COORDINATOR:              true,
	ERR_NOT_ENOUGH_REPLICAS:          true,
	ERR_REBALANCE_IN_PROGRESS:        true,
	ERR_NOT_CONTROLLER:               true,
	ERR_CONCURRENT_TRANSACTIONS:      true,
}

var fencingCodes = map[int16]bool{
	ERR_ILLEGAL_GENERATION:             true,
	ERR_INVALID_PRODUCER_EPOCH:         true,
	ERR_TRANSACTION_COORDINATOR_FENCED: true,
	ERR_FENCED_INSTANCE_ID:             true,
}

// Retryable reports whether the error is transient: a metadata refresh plus a
// bounded retry with backoff may succeed.
func (e *Error) Retryable() bool { return retryableCodes[e.Code] }

// Fencing reports whether the error means this client instance has been
// superseded (producer epoch bump, consumer generation change). Fencing
// errors are never retried: the producer or consumer must be recreated.
func (e *Error) Fencing() bool { return fencingCodes[e.Code] }

// Sentinel errors surfaced by the client itself rather than by a broker
// response. ErrBrokerUnavailable additionally wraps broker responses carrying
// the corresponding code, so both paths are matched by errors.Is.
var (
	ErrBrokerUnavailable   = errors.New("broker unavailable")
	ErrRequestTimeout      = errors.New("request timed out")
	ErrProducerFenced      = errors.New("producer fenced by newer instance")
	ErrIllegalGeneration   = errors.New("consumer group generation is stale")
	ErrNoActiveTransaction = errors.New("no transaction in progress")
	ErrTransactionInFlight = errors.New("a transaction is already in progress")
	ErrPartitionOutOfRange = errors.New("explicit partition out of range")
	ErrRecordTooLarge      = errors.New("record larger than batch size limit")
	ErrClosed              = errors.New("client is closed")
)

// IsRetryable classifies any error per the retry policy: true for transient
// broker codes, connection loss, and request timeouts.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return errors.Is(err, ErrBrokerUnavailable) || errors.Is(err, ErrRequestTimeout)
}

// IsFencing classifies any error as a fencing error (see Error.Fencing).
func IsFencing(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Fencing()
	}
	return errors.Is(err, ErrProducerFenced) || errors.Is(err, ErrIllegalGeneration)
}
