package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// APIError is a non-ok Bot API response.
type APIError struct {
	Method      string
	Code        int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("telegram %s: %d %s (retry after %s)", e.Method, e.Code, e.Description, e.RetryAfter)
	}
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

// Class tells the outbound layer how to react to a failed call.
type Class int

const (
	// ClassPermanent errors are returned to the caller immediately.
	ClassPermanent Class = iota
	// ClassTransient errors are retried with backoff.
	ClassTransient
	// ClassRetryAfter errors are retried after the server-specified delay.
	ClassRetryAfter
	// ClassNotModified is an edit that did not change anything.
	ClassNotModified
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassRetryAfter:
		return "retry_after"
	case ClassNotModified:
		return "not_modified"
	default:
		return "permanent"
	}
}

// Classify maps err onto a Class. The duration is only set for ClassRetryAfter.
func Classify(err error) (Class, time.Duration) {
	if err == nil {
		return ClassPermanent, 0
	}
	if errors.Is(err, context.Canceled) {
		return ClassPermanent, 0
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.RetryAfter > 0 || apiErr.Code == http.StatusTooManyRequests:
			wait := apiErr.RetryAfter
			if wait <= 0 {
				wait = time.Second
			}
			return ClassRetryAfter, wait
		case apiErr.Code >= 500:
			return ClassTransient, 0
		case apiErr.Code == http.StatusBadRequest &&
			strings.Contains(strings.ToLower(apiErr.Description), "message is not modified"):
			return ClassNotModified, 0
		default:
			return ClassPermanent, 0
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return ClassTransient, 0
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient, 0
	}
	return ClassPermanent, 0
}

// IsNotModified reports whether err is a harmless "message is not modified" edit error.
func IsNotModified(err error) bool {
	c, _ := Classify(err)
	return err != nil && c == ClassNotModified
}
