package dberror

import (
	"errors"
	"net/http"
	"testing"

	"github.com/jackc/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestFromPg(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		want   error
		status int
	}{
		{"unique violation", &pgconn.PgError{Code: "23505"}, ErrAlreadyExists, http.StatusConflict},
		{"connection failure", &pgconn.PgError{Code: "08006"}, ErrUnavailable, http.StatusServiceUnavailable},
		{"invalid bytea", &pgconn.PgError{Code: "22P02"}, ErrInvalidInput, http.StatusBadRequest},
		{"other", errors.New("boom"), ErrDatabase, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromPg(tt.err)
			assert.ErrorIs(t, got, tt.want)
			assert.ErrorIs(t, got, ErrDatabase)
			assert.ErrorIs(t, got, tt.err)
			assert.Equal(t, tt.status, got.StatusCode())
		})
	}
}
