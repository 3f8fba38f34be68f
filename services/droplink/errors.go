package droplink

import (
	"context"
	"errors"
	"net/http"

	apperrors "github.com/R3E-Network/droplink/internal/errors"
)

// Kind groups error codes so callers can react by category.
type Kind string

const (
	KindState         Kind = "state"
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindExternal      Kind = "external"
	KindSettlement    Kind = "settlement"
	KindResource      Kind = "resource"
	KindUnknown       Kind = "unknown"
)

const (
	CodeDropExists              apperrors.ErrorCode = "DROP_EXISTS"
	CodeDropInactive            apperrors.ErrorCode = "DROP_INACTIVE"
	CodeDropExpired             apperrors.ErrorCode = "DROP_EXPIRED"
	CodeNotYetExpired           apperrors.ErrorCode = "NOT_YET_EXPIRED"
	CodeMalformedAgentSignature apperrors.ErrorCode = "MALFORMED_AGENT_SIGNATURE"
	CodeBioLengthInvalid        apperrors.ErrorCode = "BIO_LENGTH_INVALID"
	CodeInvalidSender           apperrors.ErrorCode = "INVALID_SENDER"
	CodeInvalidAmount           apperrors.ErrorCode = "INVALID_AMOUNT"
	CodeBioMissing              apperrors.ErrorCode = "BIO_MISSING"
	CodeBioSignatureInvalid     apperrors.ErrorCode = "BIO_SIGNATURE_INVALID"
	CodeUnauthorized            apperrors.ErrorCode = "UNAUTHORIZED"
	CodeNotSender               apperrors.ErrorCode = "NOT_SENDER"
	CodeRecoveryCallError       apperrors.ErrorCode = "RECOVERY_CALL_ERROR"
	CodeVerificationCallError   apperrors.ErrorCode = "VERIFICATION_CALL_ERROR"
	CodeSettlementError         apperrors.ErrorCode = "SETTLEMENT_ERROR"
	CodeBudgetExhausted         apperrors.ErrorCode = "BUDGET_EXHAUSTED"
)

var (
	ErrDropExists              = apperrors.New(CodeDropExists, "drop already exists", http.StatusConflict)
	ErrDropInactive            = apperrors.New(CodeDropInactive, "drop is not active", http.StatusConflict)
	ErrDropExpired             = apperrors.New(CodeDropExpired, "drop has expired", http.StatusConflict)
	ErrNotYetExpired           = apperrors.New(CodeNotYetExpired, "drop has not expired yet", http.StatusConflict)
	ErrMalformedAgentSignature = apperrors.New(CodeMalformedAgentSignature, "agent signature must be 65 bytes", http.StatusBadRequest)
	ErrBioLengthInvalid        = apperrors.New(CodeBioLengthInvalid, "biometric key, hash or signature has invalid length", http.StatusBadRequest)
	ErrInvalidSender           = apperrors.New(CodeInvalidSender, "sender must be a non-zero address", http.StatusBadRequest)
	ErrInvalidAmount           = apperrors.New(CodeInvalidAmount, "amount must be a non-negative 256-bit integer", http.StatusBadRequest)
	ErrBioMissing              = apperrors.New(CodeBioMissing, "no valid authorization provided", http.StatusForbidden)
	ErrBioSignatureInvalid     = apperrors.New(CodeBioSignatureInvalid, "biometric signature rejected", http.StatusForbidden)
	ErrUnauthorized            = apperrors.New(CodeUnauthorized, "claim not authorized", http.StatusForbidden)
	ErrNotSender               = apperrors.New(CodeNotSender, "only the sender may reclaim", http.StatusForbidden)
	ErrRecoveryCallError       = apperrors.New(CodeRecoveryCallError, "signature recovery call failed", http.StatusBadGateway)
	ErrVerificationCallError   = apperrors.New(CodeVerificationCallError, "P-256 verification call failed", http.StatusBadGateway)
	ErrSettlementError         = apperrors.New(CodeSettlementError, "value transfer failed", http.StatusBadGateway)
	ErrBudgetExhausted         = apperrors.New(CodeBudgetExhausted, "resource budget exhausted", http.StatusUnprocessableEntity)
)

var kinds = map[apperrors.ErrorCode]Kind{
	CodeDropExists:              KindState,
	CodeDropInactive:            KindState,
	CodeDropExpired:             KindState,
	CodeNotYetExpired:           KindState,
	CodeMalformedAgentSignature: KindValidation,
	CodeBioLengthInvalid:        KindValidation,
	CodeInvalidSender:           KindValidation,
	CodeInvalidAmount:           KindValidation,
	CodeBioMissing:              KindAuthorization,
	CodeBioSignatureInvalid:     KindAuthorization,
	CodeUnauthorized:            KindAuthorization,
	CodeNotSender:               KindAuthorization,
	CodeRecoveryCallError:       KindExternal,
	CodeVerificationCallError:   KindExternal,
	CodeSettlementError:         KindSettlement,
	CodeBudgetExhausted:         KindResource,
}

// KindOf classifies err. Context cancellation counts as a resource failure.
func KindOf(err error) Kind {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindResource
	}
	if se := apperrors.GetServiceError(err); se != nil {
		if k, ok := kinds[se.Code]; ok {
			return k
		}
	}
	return KindUnknown
}

// resultCode is the metric label for err.
func resultCode(err error) string {
	if err == nil {
		return "ok"
	}
	if se := apperrors.GetServiceError(err); se != nil {
		return string(se.Code)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "CANCELLED"
	}
	return "INTERNAL"
}
