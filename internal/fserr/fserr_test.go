package fserr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code   Code
		status int
	}{
		{RecordNotFound, http.StatusNotFound},
		{FieldNotFound, http.StatusNotFound},
		{SchemaNotFound, http.StatusNotFound},
		{NotAFile, http.StatusBadRequest},
		{PartialReadUnsupported, http.StatusBadRequest},
		{RecordExists, http.StatusConflict},
		{PermissionDenied, http.StatusForbidden},
		{Internal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		err := New(tt.code, "/data/x", "boom")
		assert.Equal(t, tt.status, err.HTTPStatus(), tt.code)
	}
}

func TestWrapKeepsDomainCode(t *testing.T) {
	domain := New(RecordExists, "/data/users/1", "record exists")
	wrapped := fmt.Errorf("store: %w", domain)

	assert.Equal(t, RecordExists, CodeOf(Wrap(wrapped, "ignored")))
	assert.True(t, Is(wrapped, RecordExists))
}

func TestWrapInfrastructureError(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(cause, "select %s", "users")

	require.Error(t, err)
	assert.Equal(t, Internal, CodeOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Nil(t, Wrap(nil, "nothing"))
}

func TestErrorString(t *testing.T) {
	err := New(FieldNotFound, "/data/users/1/email", "field %q not found", "email")
	assert.Equal(t, `FIELD_NOT_FOUND: field "email" not found (/data/users/1/email)`, err.Error())
}
