package model

import "errors"

var (
	// ErrOrderNotFound is returned by OrderStore lookups for unknown ids.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderExpired rejects any advancement of an order past its deadline.
	ErrOrderExpired = errors.New("order expired")
	// ErrStatusConflict signals a conditional update whose expected status no
	// longer matched; the caller lost a race and must not clobber the row.
	ErrStatusConflict = errors.New("order status conflict")

	// ErrValidationRejected covers request-level rejections with no order mutation.
	ErrValidationRejected = errors.New("request validation rejected")
	// ErrDeviceOffline means the device heartbeat is confirmed stale.
	ErrDeviceOffline = errors.New("device offline")
	// ErrHeartbeatCheckFailed means liveness could not be determined, which is
	// not the same thing as a confirmed-offline device.
	ErrHeartbeatCheckFailed = errors.New("heartbeat check failed")

	// ErrMissingCredentials is a configuration error, never retried.
	ErrMissingCredentials = errors.New("payment credentials not configured")
	// ErrProviderTransient drives the bounded-retry path.
	ErrProviderTransient = errors.New("transient payment provider error")
	// ErrDispenseFailed is terminal for the order.
	ErrDispenseFailed = errors.New("dispense command failed")
)
