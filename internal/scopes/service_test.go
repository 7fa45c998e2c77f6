package scopes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mcpregistry-go/internal/apperrors"
	"mcpregistry-go/internal/auth"
	"mcpregistry-go/internal/contracts"
)

type memScopeRepo struct {
	docs map[string]*contracts.ScopeDocument
}

func newMemScopeRepo(docs ...*contracts.ScopeDocument) *memScopeRepo {
	repo := &memScopeRepo{docs: map[string]*contracts.ScopeDocument{}}
	for _, doc := range docs {
		repo.docs[doc.Key()] = doc
	}
	return repo
}

func (r *memScopeRepo) Get(_ context.Context, key string) (*contracts.ScopeDocument, error) {
	doc, ok := r.docs[key]
	if !ok {
		return nil, apperrors.Newf(apperrors.KindNotFound, "scope %s not found", key)
	}
	return doc, nil
}

func (r *memScopeRepo) Put(_ context.Context, doc *contracts.ScopeDocument) error {
	r.docs[doc.Key()] = doc
	return nil
}

func (r *memScopeRepo) Delete(_ context.Context, key string) error {
	delete(r.docs, key)
	return nil
}

func (r *memScopeRepo) ListAll(_ context.Context) ([]*contracts.ScopeDocument, error) {
	out := make([]*contracts.ScopeDocument, 0, len(r.docs))
	for _, doc := range r.docs {
		out = append(out, doc)
	}
	return out, nil
}

func groupMapping(group string, scopes ...string) *contracts.ScopeDocument {
	return &contracts.ScopeDocument{
		ScopeType:     contracts.ScopeTypeGroupMapping,
		GroupName:     group,
		GroupMappings: scopes,
	}
}

func serverScope(name string, rules ...contracts.ServerAccessRule) *contracts.ScopeDocument {
	return &contracts.ScopeDocument{
		ScopeType:    contracts.ScopeTypeServer,
		ScopeName:    name,
		ServerAccess: rules,
	}
}

func TestExpandUnionsGroupMappings(t *testing.T) {
	repo := newMemScopeRepo(
		groupMapping("eng", "files-readonly", "time-full"),
		groupMapping("ops", "files-readonly", "ops-tools"),
	)
	svc := New(repo, zap.NewNop())

	scopes, err := svc.Expand(context.Background(), &auth.Identity{Groups: []string{"eng", "ops", "unmapped"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"files-readonly", "ops-tools", "time-full"}, scopes)
}

func TestExpandNoGroups(t *testing.T) {
	svc := New(newMemScopeRepo(), zap.NewNop())
	scopes, err := svc.Expand(context.Background(), &auth.Identity{})
	require.NoError(t, err)
	assert.Empty(t, scopes)
}

func TestEvaluateAdminShortCircuits(t *testing.T) {
	repo := newMemScopeRepo(groupMapping("platform", contracts.AdminScopeName))
	svc := New(repo, zap.NewNop())

	decision, err := svc.Evaluate(context.Background(),
		&auth.Identity{Groups: []string{"platform"}}, "/any/server", "tools/call", "anything")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.True(t, decision.IsAdmin)
	assert.True(t, svc.IsAdmin(context.Background(), &auth.Identity{Groups: []string{"platform"}}))
}

func TestEvaluateMethodAndToolRules(t *testing.T) {
	repo := newMemScopeRepo(
		groupMapping("eng", "files-readonly"),
		serverScope("files-readonly", contracts.ServerAccessRule{
			Server:  "/team/files",
			Methods: []string{"tools/list", "tools/call"},
			Tools:   []string{"read_file"},
		}),
	)
	svc := New(repo, zap.NewNop())
	ident := &auth.Identity{Groups: []string{"eng"}}
	ctx := context.Background()

	allowed, err := svc.Evaluate(ctx, ident, "/team/files", "tools/call", "read_file")
	require.NoError(t, err)
	assert.True(t, allowed.Allowed)
	assert.False(t, allowed.IsAdmin)

	deniedTool, err := svc.Evaluate(ctx, ident, "/team/files", "tools/call", "delete_file")
	require.NoError(t, err)
	assert.False(t, deniedTool.Allowed)
	assert.Equal(t, "server=/team/files method=tools/call tool=delete_file", deniedTool.RequiredPermission)

	deniedMethod, err := svc.Evaluate(ctx, ident, "/team/files", "resources/read", "")
	require.NoError(t, err)
	assert.False(t, deniedMethod.Allowed)
	assert.Equal(t, "server=/team/files method=resources/read", deniedMethod.RequiredPermission)

	deniedServer, err := svc.Evaluate(ctx, ident, "/other/server", "tools/list", "")
	require.NoError(t, err)
	assert.False(t, deniedServer.Allowed)
}

func TestEvaluateEmptyToolListAllowsAllTools(t *testing.T) {
	repo := newMemScopeRepo(
		groupMapping("eng", "files-full"),
		serverScope("files-full", contracts.ServerAccessRule{
			Server:  "/team/files",
			Methods: []string{"tools/call"},
		}),
	)
	svc := New(repo, zap.NewNop())

	decision, err := svc.Evaluate(context.Background(),
		&auth.Identity{Groups: []string{"eng"}}, "/team/files", "tools/call", "any_tool")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestEvaluateNoScopesDenies(t *testing.T) {
	svc := New(newMemScopeRepo(), zap.NewNop())

	decision, err := svc.Evaluate(context.Background(),
		&auth.Identity{Groups: []string{"nobody"}}, "/team/files", "tools/list", "")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Empty(t, decision.EvaluatedScopes)
	assert.NotEmpty(t, decision.RequiredPermission)
}
