package postgres

import (
	"errors"
	"fmt"

	"camo/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the backend reacts to
const (
	codeUniqueViolation     = "23505"
	codeInvalidText         = "22P02"
	codeInvalidParameter    = "22023"
	codeNumericOutOfRange   = "22003"
	codeInvalidJSONText     = "22032"
	codeUntranslatableValue = "22P05"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsPgDuplicateError reports a unique index violation
func IsPgDuplicateError(err error) bool {
	return pgCode(err) == codeUniqueViolation
}

// IsPgNoRowsError reports an empty single-row result
func IsPgNoRowsError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// mapWriteError turns unique violations into *domain.ConflictError, rejected
// values into domain.ErrInvalidArgument, and wraps the rest.
func mapWriteError(collection, action string, err error) error {
	switch pgCode(err) {
	case codeUniqueViolation:
		msg := fmt.Sprintf("duplicate value in %s", collection)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Detail != "" {
			msg += ": " + pgErr.Detail
		}
		return &domain.ConflictError{Message: msg, ResourceType: collection}
	case codeInvalidText, codeInvalidParameter, codeNumericOutOfRange, codeInvalidJSONText, codeUntranslatableValue:
		return fmt.Errorf("%s %s: %w: %w", action, collection, domain.ErrInvalidArgument, err)
	}
	return fmt.Errorf("%s %s: %w", action, collection, err)
}
