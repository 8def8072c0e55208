package courier

import (
	"errors"
	"fmt"
	"testing"
)

func TestUnitErrorString(t *testing.T) {
	e := &Error{Code: ERR_NOT_LEADER_FOR_PARTITION}
	if s := e.Error(); s != "broker error 6 (NOT_LEADER_FOR_PARTITION)" {
		t.Fatal(s)
	}
	e = &Error{Code: ERR_POLICY_VIOLATION, Message: "too many partitions"}
	if s := e.Error(); s != "broker error 44 (POLICY_VIOLATION): too many partitions" {
		t.Fatal(s)
	}
	e = &Error{Code: 9999}
	if s := e.Error(); s != "broker error 9999 (UNKNOWN)" {
		t.Fatal(s)
	}
}

func TestUnitErrorFromCode(t *testing.T) {
	if err := ErrorFromCode(ERR_NONE); err != nil {
		t.Fatal(err)
	}
	err := ErrorFromCode(ERR_UNKNOWN_TOPIC_OR_PARTITION)
	var e *Error
	if !errors.As(err, &e) {
		t.Fatal(err)
	}
	if e.Code != ERR_UNKNOWN_TOPIC_OR_PARTITION {
		t.Fatal(e.Code)
	}
}

func TestUnitRetryableClassification(t *testing.T) {
	for code, want := range map[int16]bool{
		ERR_NOT_LEADER_FOR_PARTITION:  true,
		ERR_LEADER_NOT_AVAILABLE:      true,
		ERR_REQUEST_TIMED_OUT:         true,
		ERR_COORDINATOR_NOT_AVAILABLE: true,
		ERR_INVALID_TOPIC:             false,
		ERR_TOPIC_ALREADY_EXISTS:      false,
		ERR_MESSAGE_TOO_LARGE:         false,
		ERR_INVALID_PRODUCER_EPOCH:    false,
	} {
		if got := IsRetryable(&Error{Code: code}); got != want {
			t.Fatal(code, got)
		}
	}
}

func TestUnitRetryableWrapped(t *testing.T) {
	err := fmt.Errorf("produce failed: %w", &Error{Code: ERR_NOT_LEADER_FOR_PARTITION})
	if !IsRetryable(err) {
		t.Fatal(err)
	}
	if !IsRetryable(fmt.Errorf("dial: %w", ErrBrokerUnavailable)) {
		t.Fatal("sentinel should be retryable")
	}
	if IsRetryable(errors.New("something else")) {
		t.Fatal("arbitrary errors are not retryable")
	}
}

func TestUnitFencingClassification(t *testing.T) {
	for code, want := range map[int16]bool{
		ERR_INVALID_PRODUCER_EPOCH:         true,
		ERR_ILLEGAL_GENERATION:             true,
		ERR_FENCED_INSTANCE_ID:             true,
		ERR_TRANSACTION_COORDINATOR_FENCED: true,
		ERR_NOT_LEADER_FOR_PARTITION:       false,
	} {
		if got := IsFencing(&Error{Code: code}); got != want {
			t.Fatal(code, got)
		}
	}
	if !IsFencing(fmt.Errorf("send: %w", ErrProducerFenced)) {
		t.Fatal("sentinel should be fencing")
	}
	// fencing errors are never retryable
	for code := range fencingCodes {
		if retryableCodes[code] {
			t.Fatal(code)
		}
	}
}
