package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/mcdev12/pollsync/go/internal/store"
)

const (
	codeUniqueViolation     pq.ErrorCode = "23505"
	codeForeignKeyViolation pq.ErrorCode = "23503"
	codeInvalidText         pq.ErrorCode = "22P02"
)

// mapError translates driver errors into store sentinels. Unknown errors pass through.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}

	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case codeUniqueViolation:
		switch pqErr.Constraint {
		case "polls_one_active":
			return fmt.Errorf("%w: %s", store.ErrPollAlreadyActive, pqErr.Message)
		case "poll_votes_one_per_user":
			return fmt.Errorf("%w: %s", store.ErrDuplicateVote, pqErr.Message)
		case "participants_pkey":
			return fmt.Errorf("%w: %s", store.ErrDuplicateParticipant, pqErr.Message)
		}
	case codeForeignKeyViolation:
		return fmt.Errorf("%w: %s", store.ErrPollNotActive, pqErr.Message)
	case codeInvalidText:
		return fmt.Errorf("%w: %s", store.ErrNotFound, pqErr.Message)
	}
	return err
}
