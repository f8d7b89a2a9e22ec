package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Severity grades a security audit event
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Audit actions
const (
	AuditActionLogin             = "LOGIN"
	AuditActionLoginFailed       = "LOGIN_FAILED"
	AuditActionLogout            = "LOGOUT"
	AuditActionLogoutAll         = "LOGOUT_ALL"
	AuditActionLockout           = "ACCOUNT_LOCKED"
	AuditActionLockoutCleared    = "LOCKOUT_CLEARED"
	AuditActionIPChange          = "SESSION_IP_CHANGED"
	AuditActionSessionExpired    = "SESSION_EXPIRED"
	AuditActionTokenIssued       = "TOKEN_ISSUED"
	AuditActionRegister          = "REGISTER"
	AuditActionPasswordReset     = "PASSWORD_RESET"
	AuditActionPasswordResetReq  = "PASSWORD_RESET_REQUESTED"
	AuditActionPasswordChanged   = "PASSWORD_CHANGED"
	AuditActionPasswordRehashed  = "PASSWORD_REHASHED"
	AuditActionEmailVerified     = "EMAIL_VERIFIED"
	AuditActionMFAEnabled        = "MFA_ENABLED"
	AuditActionMFADisabled       = "MFA_DISABLED"
	AuditActionMFAFailed         = "MFA_FAILED"
	AuditActionRecoveryCodeUsed  = "RECOVERY_CODE_USED"
	AuditActionRecoveryCodesNew  = "RECOVERY_CODES_REGENERATED"
	AuditActionFederatedLogin    = "FEDERATED_LOGIN"
	AuditActionFederatedCreated  = "FEDERATED_ACCOUNT_CREATED"
	AuditActionFederatedLinked   = "FEDERATED_ACCOUNT_LINKED"
	AuditActionOAuthStateInvalid = "OAUTH_STATE_INVALID"
	AuditActionSessionEvicted    = "SESSION_EVICTED"
)

// SecurityAuditLogEntry is an append-only record of a security-relevant event
type SecurityAuditLogEntry struct {
	ID        int64
	UserID    *string
	Action    string
	IPAddress string
	Details   AuditDetails
	Severity  Severity
	Timestamp time.Time
}

// AuditDetails holds free-form context for an audit entry
type AuditDetails map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (d *AuditDetails) Scan(value interface{}) error {
	if value == nil {
		*d = make(AuditDetails)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*d = AuditDetails(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (d AuditDetails) Value() (driver.Value, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]interface{}(d))
}
