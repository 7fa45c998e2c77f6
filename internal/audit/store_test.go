package audit

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mcpregistry-go/internal/apperrors"
	"mcpregistry-go/internal/contracts"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "audit.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func apiEvent(username, operation string, status int, ts time.Time) *contracts.AuditEvent {
	return &contracts.AuditEvent{
		Timestamp: ts,
		RequestID: "req-" + operation,
		LogType:   contracts.AuditStreamRegistryAPI,
		Identity:  contracts.AuditIdentity{Username: username},
		Request:   contracts.AuditRequest{Method: "POST", Path: "/api/servers"},
		Response:  contracts.AuditResponse{StatusCode: status},
		Action:    contracts.AuditAction{Operation: operation, ResourceType: "server"},
	}
}

func TestAppendStampsVersionAndTimestamp(t *testing.T) {
	store := newTestStore(t)

	event := &contracts.AuditEvent{LogType: contracts.AuditStreamRegistryAPI}
	require.NoError(t, store.Append(context.Background(), event))
	assert.Equal(t, "1.0", event.Version)
	assert.False(t, event.Timestamp.IsZero())
}

func TestAppendRejectsUnknownStream(t *testing.T) {
	store := newTestStore(t)
	err := store.Append(context.Background(), &contracts.AuditEvent{LogType: "bogus"})
	assert.Equal(t, apperrors.KindBadRequest, apperrors.KindOf(err))
}

func TestQueryOrderingAndFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	require.NoError(t, store.Append(ctx, apiEvent("alice", "create_server", 201, base)))
	require.NoError(t, store.Append(ctx, apiEvent("bob", "delete_server", 403, base.Add(time.Minute))))
	require.NoError(t, store.Append(ctx, apiEvent("alice", "update_server", 200, base.Add(2*time.Minute))))

	// Default order is newest first.
	events, total, err := store.Query(ctx, &Filter{Stream: contracts.AuditStreamRegistryAPI})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, events, 3)
	assert.Equal(t, "update_server", events[0].Action.Operation)
	assert.Equal(t, "create_server", events[2].Action.Operation)

	asc, _, err := store.Query(ctx, &Filter{Stream: contracts.AuditStreamRegistryAPI, SortAscending: true})
	require.NoError(t, err)
	assert.Equal(t, "create_server", asc[0].Action.Operation)

	byUser, total, err := store.Query(ctx, &Filter{Username: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, byUser, 2)

	denied, _, err := store.Query(ctx, &Filter{StatusMin: 400})
	require.NoError(t, err)
	require.Len(t, denied, 1)
	assert.Equal(t, "bob", denied[0].Identity.Username)

	windowed, _, err := store.Query(ctx, &Filter{
		From: base.Add(30 * time.Second),
		To:   base.Add(90 * time.Second),
	})
	require.NoError(t, err)
	require.Len(t, windowed, 1)
	assert.Equal(t, "delete_server", windowed[0].Action.Operation)
}

func TestQueryPagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, apiEvent("alice", "op", 200, base.Add(time.Duration(i)*time.Second))))
	}

	page, total, err := store.Query(ctx, &Filter{Limit: 2, Offset: 2, SortAscending: true})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, page, 2)
}

func TestQuerySeparatesStreams(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, apiEvent("alice", "create_server", 201, time.Now().UTC())))
	require.NoError(t, store.Append(ctx, &contracts.AuditEvent{
		LogType:  contracts.AuditStreamMCPAccess,
		Identity: contracts.AuditIdentity{Username: "alice"},
		MCPRequest: &contracts.AuditMCPRequest{
			Method:   "tools/call",
			ToolName: "read_file",
		},
	}))

	api, total, err := store.Query(ctx, &Filter{Stream: contracts.AuditStreamRegistryAPI})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, api, 1)

	both, total, err := store.Query(ctx, &Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, both, 2)
}

func accessEvent(tool string, ts time.Time) *contracts.AuditEvent {
	return &contracts.AuditEvent{
		Timestamp:  ts,
		LogType:    contracts.AuditStreamMCPAccess,
		Identity:   contracts.AuditIdentity{Username: "alice"},
		MCPRequest: &contracts.AuditMCPRequest{Method: "tools/call", ToolName: tool},
	}
}

func TestQueryMergesStreamsInTimestampOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	// Interleave the two streams so bucket order differs from time order.
	require.NoError(t, store.Append(ctx, apiEvent("alice", "create_server", 201, base)))
	require.NoError(t, store.Append(ctx, accessEvent("read_file", base.Add(time.Second))))
	require.NoError(t, store.Append(ctx, apiEvent("bob", "toggle_server", 200, base.Add(2*time.Second))))
	require.NoError(t, store.Append(ctx, accessEvent("list_directory", base.Add(3*time.Second))))
	require.NoError(t, store.Append(ctx, apiEvent("alice", "delete_server", 200, base.Add(4*time.Second))))

	events, total, err := store.Query(ctx, &Filter{})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, events, 5)
	for i := 1; i < len(events); i++ {
		assert.True(t, events[i].Timestamp.Before(events[i-1].Timestamp),
			"expected newest first across streams at index %d", i)
	}
	assert.Equal(t, "delete_server", events[0].Action.Operation)
	assert.Equal(t, contracts.AuditStreamMCPAccess, events[1].LogType)

	asc, _, err := store.Query(ctx, &Filter{SortAscending: true})
	require.NoError(t, err)
	require.Len(t, asc, 5)
	assert.Equal(t, "create_server", asc[0].Action.Operation)
	assert.Equal(t, contracts.AuditStreamMCPAccess, asc[1].LogType)

	// Pagination slices the merged sequence, not one bucket at a time.
	page, total, err := store.Query(ctx, &Filter{SortAscending: true, Offset: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, "read_file", page[0].MCPRequest.ToolName)
	assert.Equal(t, "toggle_server", page[1].Action.Operation)
}

func TestExportNDJSON(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	require.NoError(t, store.Append(ctx, apiEvent("alice", "create_server", 201, base)))
	require.NoError(t, store.Append(ctx, apiEvent("bob", "delete_server", 204, base.Add(time.Second))))

	var buf bytes.Buffer
	require.NoError(t, store.ExportNDJSON(ctx, &Filter{Stream: contracts.AuditStreamRegistryAPI}, &buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.True(t, strings.HasPrefix(line, "{"))
		assert.Contains(t, line, `"log_type":"registry_api"`)
	}
}

func TestEmitAsyncEventuallyPersists(t *testing.T) {
	store := newTestStore(t)

	store.EmitAsync(apiEvent("alice", "create_server", 201, time.Now().UTC()))

	require.Eventually(t, func() bool {
		_, total, err := store.Query(context.Background(), &Filter{})
		return err == nil && total == 1
	}, 2*time.Second, 20*time.Millisecond)
}
