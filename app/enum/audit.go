// Package enum holds the closed value sets of the fake backend's request audit.
package enum

import (
	"fmt"
	"strings"
)

// AuditAction is what an audited request did.
type AuditAction string

// audit actions
const (
	AuditActionRead   AuditAction = "read"
	AuditActionCreate AuditAction = "create"
	AuditActionUpdate AuditAction = "update"
	AuditActionDelete AuditAction = "delete"
)

// AuditActionValues lists all audit actions.
var AuditActionValues = []AuditAction{AuditActionRead, AuditActionCreate, AuditActionUpdate, AuditActionDelete}

func (a AuditAction) String() string { return string(a) }

// ParseAuditAction converts a case-insensitive name to AuditAction.
func ParseAuditAction(v string) (AuditAction, error) {
	for _, a := range AuditActionValues {
		if strings.EqualFold(v, string(a)) {
			return a, nil
		}
	}
	return "", fmt.Errorf("invalid audit action %q", v)
}

// AuditResult is how an audited request ended.
type AuditResult string

// audit results
const (
	AuditResultSuccess  AuditResult = "success"
	AuditResultDenied   AuditResult = "denied"
	AuditResultNotFound AuditResult = "not_found"
	AuditResultConflict AuditResult = "conflict"
	AuditResultInvalid  AuditResult = "invalid"
	AuditResultError    AuditResult = "error"
)

// AuditResultValues lists all audit results.
var AuditResultValues = []AuditResult{AuditResultSuccess, AuditResultDenied, AuditResultNotFound,
	AuditResultConflict, AuditResultInvalid, AuditResultError}

func (r AuditResult) String() string { return string(r) }

// ParseAuditResult converts a case-insensitive name to AuditResult.
func ParseAuditResult(v string) (AuditResult, error) {
	for _, r := range AuditResultValues {
		if strings.EqualFold(v, string(r)) {
			return r, nil
		}
	}
	return "", fmt.Errorf("invalid audit result %q", v)
}
