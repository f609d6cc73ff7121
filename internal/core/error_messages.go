package core

// # Error Codes Reference
//
// User-facing messages with codes for support reference. When a user quotes
// a code, support can find the matching entry here and the technical error
// in the application logs.
//
// # Storage Errors (DB001-DB099)
//
//	DB001 - Conflict: A record with this key already exists
//	        Matches: ledger.ErrConflict, "duplicate key", "violates unique"
//
//	DB002 - Write failed: Part of the data could not be saved
//	        Matches: *BatchError
//
//	DB003 - Connection refused: Unable to reach the database
//	        Matches: "connection refused"
//
//	DB004 - Connection reset: Database connection was interrupted
//	        Matches: "connection reset"
//
//	DB005 - Deadlock: Database was busy with conflicting operations
//	        Matches: "deadlock"
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Missing fields: Required request fields are empty
//	         Matches: *MissingFieldsError
//
//	VAL002 - Invalid request: A request field has an invalid value
//	         Matches: ErrInvalidRequest
//
//	VAL003 - Duplicate name: A connection with this name already exists
//	         Matches: ledger.ErrDuplicateConnection
//
//	VAL004 - Not found: The connection or job does not exist
//	         Matches: ledger.ErrNotFound
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large: The upload exceeds the size limit
//	          Matches: csvimport.ErrFileTooLarge
//
//	FILE002 - Unreadable file: The file cannot be read as a table
//	          Matches: csvimport.ErrStructural
//
//	FILE003 - No valid rows: Every row failed validation
//	          Matches: csvimport.ErrNoValidRecords
//
//	FILE004 - Encoding error: The file contains invalid characters
//	          Matches: "encoding error"
//
// # Job Errors (JOB001-JOB099)
//
//	JOB001 - Busy: Another import or sync is running for this connection
//	         Matches: ledger.ErrConnectionBusy
//
//	JOB002 - Invalid transition: The job already finished
//	         Matches: ledger.ErrInvalidTransition
//
//	JOB003 - Cancelled: The request was cancelled
//	         Matches: context.Canceled
//
//	JOB004 - Timeout: The job ran out of time
//	         Matches: context.DeadlineExceeded, "timeout"
//
// # Sync Errors (SYNC001-SYNC099)
//
//	SYNC001 - Provider unavailable: The provider did not respond
//	          Matches: provider.ErrUnavailable
//
//	SYNC002 - Unknown provider: The provider is not configured
//	          Matches: provider.ErrUnknownProvider
//
//	SYNC003 - No progress: No page could be synced
//	          Matches: "sync made no progress"
//
// # Authorization Errors (AUTH001-AUTH099)
//
//	AUTH001 - Invalid credentials: The provider rejected the credentials
//	          Matches: provider.ErrInvalidCredentials
//
//	AUTH002 - Scope mismatch: Records belong to another tenant or connection
//	          Matches: ErrTenantMismatch
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Sentinels are checked with errors.Is first,
// then message patterns case-insensitively with strings.Contains. The first
// match wins.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/ledgersync/internal/csvimport"
	"github.com/JonMunkholm/ledgersync/internal/ledger"
	"github.com/JonMunkholm/ledgersync/internal/provider"
)

type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

type errorTarget struct {
	target error
	msg    UserMessage
}

var errorTargets = []errorTarget{
	{ledger.ErrConnectionBusy, UserMessage{
		Message: "Another import or sync is already running for this connection",
		Action:  "Wait for it to finish and try again",
		Code:    "JOB001",
	}},
	{ledger.ErrInvalidTransition, UserMessage{
		Message: "The job has already finished",
		Action:  "Start a new import or sync",
		Code:    "JOB002",
	}},
	{provider.ErrInvalidCredentials, UserMessage{
		Message: "The provider rejected the connection credentials",
		Action:  "Reconnect the account and try again",
		Code:    "AUTH001",
	}},
	{ErrTenantMismatch, UserMessage{
		Message: "Records do not belong to this connection",
		Action:  "Contact support with the job ID",
		Code:    "AUTH002",
	}},
	{provider.ErrUnavailable, UserMessage{
		Message: "The provider is temporarily unavailable",
		Action:  "The next sync will resume where this one stopped",
		Code:    "SYNC001",
	}},
	{provider.ErrUnknownProvider, UserMessage{
		Message: "This provider is not configured",
		Action:  "Check the provider name on the connection",
		Code:    "SYNC002",
	}},
	{csvimport.ErrFileTooLarge, UserMessage{
		Message: "File exceeds the maximum upload size",
		Action:  "Split the file into smaller chunks",
		Code:    "FILE001",
	}},
	{csvimport.ErrStructural, UserMessage{
		Message: "The file cannot be read with this column mapping",
		Action:  "Check the delimiter and that every mapped column exists",
		Code:    "FILE002",
	}},
	{csvimport.ErrNoValidRecords, UserMessage{
		Message: "No valid rows were found in the file",
		Action:  "Review the row errors and fix the date and amount columns",
		Code:    "FILE003",
	}},
	{ErrInvalidRequest, UserMessage{
		Message: "The request contains an invalid value",
		Action:  "Check the request fields and try again",
		Code:    "VAL002",
	}},
	{ledger.ErrDuplicateConnection, UserMessage{
		Message: "A connection with this name already exists",
		Action:  "Choose a different name",
		Code:    "VAL003",
	}},
	{ledger.ErrNotFound, UserMessage{
		Message: "The requested record was not found",
		Action:  "Verify the ID and tenant",
		Code:    "VAL004",
	}},
	{ledger.ErrConflict, UserMessage{
		Message: "A record with this key already exists",
		Action:  "Retry the import; existing records are updated in place",
		Code:    "DB001",
	}},
	{ErrChecksumMismatch, UserMessage{
		Message: "Stored source data failed its integrity check",
		Action:  "Contact support with the job ID",
		Code:    "DB006",
	}},
	{ErrArchiveUnavailable, UserMessage{
		Message: "Archived source data is not reachable from this server",
		Action:  "Check the raw archive configuration",
		Code:    "DB007",
	}},
	{context.Canceled, UserMessage{
		Message: "The request was cancelled",
		Action:  "Please try again",
		Code:    "JOB003",
	}},
	{context.DeadlineExceeded, UserMessage{
		Message: "The job ran out of time",
		Action:  "Try a smaller file or run the sync again",
		Code:    "JOB004",
	}},
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this key already exists",
			Action:  "Retry the import; existing records are updated in place",
			Code:    "DB001",
		},
	},
	{
		pattern: "violates unique",
		msg: UserMessage{
			Message: "A record with this key already exists",
			Action:  "Retry the import; existing records are updated in place",
			Code:    "DB001",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB003",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB004",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "encoding error",
		msg: UserMessage{
			Message: "File contains invalid characters",
			Action:  "Save file as UTF-8 encoding",
			Code:    "FILE004",
		},
	},
	{
		pattern: "sync made no progress",
		msg: UserMessage{
			Message: "No page could be synced from the provider",
			Action:  "The next sync will retry from the saved cursor",
			Code:    "SYNC003",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Please try again later",
			Code:    "JOB004",
		},
	},
}

var batchMessage = UserMessage{
	Message: "Part of the data could not be saved",
	Action:  "Run the import again; saved records will not be duplicated",
	Code:    "DB002",
}

// defaultMessage is returned when nothing matches (ERR000).
// Support staff should check application logs for the original technical
// error when users report ERR000.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
// Example:
//
//	msg := MapError(fmt.Errorf("create job: %w", ledger.ErrConnectionBusy))
//	// msg.Code == "JOB001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var missing *MissingFieldsError
	if errors.As(err, &missing) {
		return UserMessage{
			Message: "Required fields are missing: " + strings.Join(missing.Fields, ", "),
			Action:  "Fill in every required field and resubmit",
			Code:    "VAL001",
		}
	}

	for _, et := range errorTargets {
		if errors.Is(err, et.target) {
			return et.msg
		}
	}

	var batch *BatchError
	if errors.As(err, &batch) {
		return batchMessage
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-facing message.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
