package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(New(KindNotFound, "gone")))
	assert.Equal(t, KindConflict, KindOf(fmt.Errorf("outer: %w", New(KindConflict, "stale"))))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.Equal(t, KindInternal, KindOf(nil))
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindBadRequest, http.StatusBadRequest},
		{KindUnauthenticated, http.StatusUnauthorized},
		{KindForbidden, http.StatusForbidden},
		{KindNotFound, http.StatusNotFound},
		{KindConflict, http.StatusConflict},
		{KindBackpressure, http.StatusServiceUnavailable},
		{KindTransientBackend, http.StatusBadGateway},
		{KindPeerUnreachable, http.StatusBadGateway},
		{KindScanTimeout, http.StatusGatewayTimeout},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(New(tc.kind, "x")), string(tc.kind))
	}
}

func TestIsMatchesByKind(t *testing.T) {
	err := Newf(KindNotFound, "server %s missing", "/files")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrConflict))

	wrapped := fmt.Errorf("lookup: %w", err)
	assert.True(t, errors.Is(wrapped, ErrNotFound))
}

func TestWithFieldDoesNotMutateOriginal(t *testing.T) {
	base := New(KindForbidden, "denied")
	detailed := base.WithField("required_permission", "server=/files method=tools/call tool=read")

	require.Nil(t, base.Fields)
	assert.Equal(t, "server=/files method=tools/call tool=read", detailed.Fields["required_permission"])

	second := detailed.WithField("extra", "1")
	assert.Len(t, detailed.Fields, 1)
	assert.Len(t, second.Fields, 2)
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindTransientBackend, "write failed", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "disk full")
	assert.True(t, IsTransient(err))
	assert.False(t, IsTransient(New(KindBadRequest, "nope")))
}
