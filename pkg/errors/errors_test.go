package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "message only",
			err:  NewValidationError("bad key"),
			want: "VALIDATION: bad key",
		},
		{
			name: "with path",
			err:  NewConflictError("old value mismatch").WithPath("items[2].v"),
			want: `CONFLICT: old value mismatch (at "items[2].v")`,
		},
		{
			name: "with cause",
			err:  NewReconstructionError("cannot rebuild", fmt.Errorf("eof")),
			want: "RECONSTRUCTION: cannot rebuild (caused by: eof)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestTypePredicates(t *testing.T) {
	tests := []struct {
		err  error
		is   func(error) bool
		kind ErrorType
	}{
		{err: NewConfigurationError("x"), is: IsConfiguration, kind: ErrorTypeConfiguration},
		{err: NewValidationError("x"), is: IsValidation, kind: ErrorTypeValidation},
		{err: NewConflictError("x"), is: IsConflict, kind: ErrorTypeConflict},
		{err: NewReconstructionError("x", nil), is: IsReconstruction, kind: ErrorTypeReconstruction},
		{err: NewFieldAccessError("x"), is: IsFieldAccess, kind: ErrorTypeFieldAccess},
		{err: NewInternalError("x"), is: IsInternal, kind: ErrorTypeInternal},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)

			assert.True(t, tt.is(wrapped))
			assert.Equal(t, tt.kind, TypeOf(wrapped))
			assert.True(t, IsAppError(wrapped))
		})
	}

	assert.Equal(t, ErrorTypeInternal, TypeOf(errors.New("plain")))
	assert.Nil(t, GetAppError(errors.New("plain")))
}

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap(nil, "context"))

	err := Wrapf(NewConfigurationError("no iterator id"), "%s.%s", "Order", "Items")
	assert.True(t, IsConfiguration(err))
	assert.Contains(t, err.Error(), "Order.Items: no iterator id")

	plain := errors.New("disk full")
	err = Wrap(plain, "saving")
	assert.True(t, IsInternal(err))
	assert.ErrorIs(t, err, plain)
}

func TestWrap_LeavesOriginalUntouched(t *testing.T) {
	original := NewConfigurationError("no iterator id")

	err := Wrap(original, "Order.Items")

	assert.Equal(t, "no iterator id", original.Message)
	assert.Contains(t, err.Error(), "Order.Items: no iterator id")
}

func TestAtPath(t *testing.T) {
	shared := NewConflictError("mismatch")
	located := NewConflictError("mismatch").WithPath("items[0]")
	plain := errors.New("disk full")

	tests := []struct {
		name     string
		err      error
		path     string
		wantPath string
		same     bool
	}{
		{name: "copies an error without path", err: shared, path: "versions[1]", wantPath: "versions[1]"},
		{name: "keeps an existing path", err: located, path: "versions[1]", wantPath: "items[0]", same: true},
		{name: "empty path", err: shared, path: "", wantPath: "", same: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Act
			got := AtPath(tt.err, tt.path)

			// Assert
			require.NotNil(t, GetAppError(got))
			assert.Equal(t, tt.wantPath, GetAppError(got).Path)
			if tt.same {
				assert.Same(t, tt.err, got)
			} else {
				assert.NotSame(t, tt.err, got)
			}
		})
	}

	assert.Empty(t, shared.Path, "the shared error is never modified")
	assert.Equal(t, plain, AtPath(plain, "versions[0]"))
	assert.Nil(t, AtPath(nil, "versions[0]"))
}

func TestAppError_Builders(t *testing.T) {
	cause := errors.New("boom")

	err := NewFieldAccessError("cannot read").
		WithCode("E42").
		WithPath("lines[x]").
		WithDetails(map[string]interface{}{"field": "lines"}).
		WithCause(cause)

	require.NotNil(t, err)
	assert.Equal(t, "E42", err.Code)
	assert.Equal(t, "lines[x]", err.Path)
	assert.Equal(t, "lines", err.Details["field"])
	assert.ErrorIs(t, err, cause)
	assert.NotEmpty(t, err.StackTrace)
}
