package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid database execution context")
	ErrOperationFailed    = errors.New("database operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Lifecycle and billing
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrDataIntegrity        = errors.New("data integrity violation")
	ErrPaymentCreation      = errors.New("payment creation failed")
	ErrGatewayAmbiguous     = errors.New("gateway outcome unknown")
	ErrNoPaymentMethod      = errors.New("no payment method on file")
	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrUnknownProvider      = errors.New("unknown payment provider")

	// Chat
	ErrProvider = errors.New("ai provider error")
	ErrLocked   = errors.New("resource is locked by another request")
	ErrNoModel  = errors.New("no model available")

	// Roles
	ErrRoleNotAllowed = errors.New("role not available on this tier")
	ErrRoleLimit      = errors.New("custom role limit reached")
)
