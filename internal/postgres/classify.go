package postgres

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ppiankov/pgokache/internal/apperr"
)

// SQLSTATE codes the classifier cares about.
const (
	codeInvalidPassword       = "28P01"
	codeInvalidAuthSpec       = "28000"
	codeInsufficientPrivilege = "42501"
	codeUndefinedTable        = "42P01"
	codeUndefinedFunction     = "42883"
	codeObjectNotInPrereq     = "55000"
	codeQueryCanceled         = "57014"
	codeInvalidCatalogName    = "3D000"
	codeTooManyConnections    = "53300"
	codeCannotConnectNow      = "57P03"
)

// IsPermission reports whether err is an insufficient_privilege error.
func IsPermission(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeInsufficientPrivilege
}

// Classify maps a driver error into the pgokache error domain. Already
// classified errors pass through unchanged; nil stays nil.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == codeInvalidPassword || pgErr.Code == codeInvalidAuthSpec:
			return apperr.Wrap(err, apperr.Auth, op, "target rejected the credentials")
		case pgErr.Code == codeInsufficientPrivilege:
			return apperr.Wrap(err, apperr.Permission, op, "insufficient privilege: "+pgErr.Message)
		case pgErr.Code == codeUndefinedTable, pgErr.Code == codeUndefinedFunction, pgErr.Code == codeObjectNotInPrereq:
			return apperr.Wrap(err, apperr.NotReady, op, "pg_stat_statements is not usable: "+pgErr.Message)
		case pgErr.Code == codeQueryCanceled:
			return apperr.Wrap(err, apperr.Connection, op, "target query timed out")
		case pgErr.Code == codeInvalidCatalogName:
			return apperr.Wrap(err, apperr.Connection, op, "target database does not exist")
		case pgErr.Code == codeTooManyConnections, pgErr.Code == codeCannotConnectNow,
			strings.HasPrefix(pgErr.Code, "08"):
			return apperr.Wrap(err, apperr.Connection, op, "target refused the connection: "+pgErr.Message)
		}
		return apperr.Wrap(err, apperr.Internal, op, "unexpected database error: "+pgErr.Message)
	}

	var parseErr *pgconn.ParseConfigError
	if errors.As(err, &parseErr) {
		return apperr.Wrap(err, apperr.Validation, op, "invalid connection parameters")
	}

	// Some servers and poolers report auth failures only as text.
	msg := err.Error()
	if strings.Contains(msg, "password authentication failed") ||
		strings.Contains(msg, "no pg_hba.conf entry") ||
		strings.Contains(msg, "SASL authentication failed") {
		return apperr.Wrap(err, apperr.Auth, op, "target rejected the credentials")
	}

	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return apperr.Wrap(err, apperr.Connection, op, "target did not respond in time")
	}
	if errors.Is(err, context.Canceled) {
		return apperr.Wrap(err, apperr.Connection, op, "operation canceled")
	}

	var netErr *net.OpError
	var dnsErr *net.DNSError
	var connErr *pgconn.ConnectError
	if errors.As(err, &netErr) || errors.As(err, &dnsErr) || errors.As(err, &connErr) ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "i/o timeout") {
		return apperr.Wrap(err, apperr.Connection, op, "could not connect to the target database")
	}

	return apperr.Wrap(err, apperr.Internal, op, "unexpected database error")
}
