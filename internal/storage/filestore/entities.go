package filestore

import (
	"context"
	"time"

	"mcpregistry-go/internal/apperrors"
	"mcpregistry-go/internal/contracts"
)

// serverRepo stores one JSON document per server plus an enable-state
// sidecar. Updates are compare-and-swap on UpdatedAt.
type serverRepo struct {
	coll  *collection[contracts.Server]
	state *stateFile
}

func (r *serverRepo) Get(_ context.Context, path string) (*contracts.Server, error) {
	doc, err := r.coll.get(path)
	if err != nil {
		return nil, err
	}
	if enabled, ok, err := r.state.Get(path); err != nil {
		return nil, err
	} else if ok {
		doc.IsEnabled = enabled
	}
	return doc, nil
}

func (r *serverRepo) Create(_ context.Context, server *contracts.Server) error {
	return r.coll.withLock(func() error {
		if r.coll.exists(server.Path) {
			return apperrors.Newf(apperrors.KindConflict, "server %s already exists", server.Path)
		}
		now := time.Now().UTC()
		if server.CreatedAt.IsZero() {
			server.CreatedAt = now
		}
		server.UpdatedAt = now
		return r.coll.putLocked(server.Path, server)
	})
}

func (r *serverRepo) Update(_ context.Context, server *contracts.Server) error {
	return r.coll.withLock(func() error {
		stored, err := r.coll.getLocked(server.Path)
		if err != nil {
			return err
		}
		if !stored.UpdatedAt.Equal(server.UpdatedAt) {
			return apperrors.Newf(apperrors.KindConflict,
				"server %s was modified concurrently", server.Path)
		}
		server.UpdatedAt = time.Now().UTC()
		if err := r.coll.putLocked(server.Path, server); err != nil {
			return err
		}
		// The full document now carries the flag; drop any stale override.
		return r.state.Remove(server.Path)
	})
}

func (r *serverRepo) Delete(_ context.Context, path string) error {
	if err := r.coll.delete(path); err != nil {
		return err
	}
	return r.state.Remove(path)
}

func (r *serverRepo) ListAll(_ context.Context) ([]*contracts.Server, error) {
	docs, err := r.coll.listAll()
	if err != nil {
		return nil, err
	}
	overrides, err := r.state.All()
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		if enabled, ok := overrides[doc.Path]; ok {
			doc.IsEnabled = enabled
		}
	}
	return docs, nil
}

func (r *serverRepo) SetEnabled(_ context.Context, path string, enabled bool) error {
	if !r.coll.exists(path) {
		return apperrors.Newf(apperrors.KindNotFound, "server %s not found", path)
	}
	return r.state.Set(path, enabled)
}

// agentRepo mirrors serverRepo for agent documents.
type agentRepo struct {
	coll  *collection[contracts.Agent]
	state *stateFile
}

func (r *agentRepo) Get(_ context.Context, path string) (*contracts.Agent, error) {
	doc, err := r.coll.get(path)
	if err != nil {
		return nil, err
	}
	if enabled, ok, err := r.state.Get(path); err != nil {
		return nil, err
	} else if ok {
		doc.IsEnabled = enabled
	}
	return doc, nil
}

func (r *agentRepo) Create(_ context.Context, agent *contracts.Agent) error {
	return r.coll.withLock(func() error {
		if r.coll.exists(agent.Path) {
			return apperrors.Newf(apperrors.KindConflict, "agent %s already exists", agent.Path)
		}
		now := time.Now().UTC()
		if agent.CreatedAt.IsZero() {
			agent.CreatedAt = now
		}
		agent.UpdatedAt = now
		return r.coll.putLocked(agent.Path, agent)
	})
}

func (r *agentRepo) Update(_ context.Context, agent *contracts.Agent) error {
	return r.coll.withLock(func() error {
		stored, err := r.coll.getLocked(agent.Path)
		if err != nil {
			return err
		}
		if !stored.UpdatedAt.Equal(agent.UpdatedAt) {
			return apperrors.Newf(apperrors.KindConflict,
				"agent %s was modified concurrently", agent.Path)
		}
		agent.UpdatedAt = time.Now().UTC()
		if err := r.coll.putLocked(agent.Path, agent); err != nil {
			return err
		}
		return r.state.Remove(agent.Path)
	})
}

func (r *agentRepo) Delete(_ context.Context, path string) error {
	if err := r.coll.delete(path); err != nil {
		return err
	}
	return r.state.Remove(path)
}

func (r *agentRepo) ListAll(_ context.Context) ([]*contracts.Agent, error) {
	docs, err := r.coll.listAll()
	if err != nil {
		return nil, err
	}
	overrides, err := r.state.All()
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		if enabled, ok := overrides[doc.Path]; ok {
			doc.IsEnabled = enabled
		}
	}
	return docs, nil
}

func (r *agentRepo) SetEnabled(_ context.Context, path string, enabled bool) error {
	if !r.coll.exists(path) {
		return apperrors.Newf(apperrors.KindNotFound, "agent %s not found", path)
	}
	return r.state.Set(path, enabled)
}

// skillRepo stores skill documents; skills toggle rarely, so the enabled
// flag lives in the document itself.
type skillRepo struct {
	coll *collection[contracts.Skill]
}

func (r *skillRepo) Get(_ context.Context, path string) (*contracts.Skill, error) {
	return r.coll.get(path)
}

func (r *skillRepo) Create(_ context.Context, skill *contracts.Skill) error {
	return r.coll.withLock(func() error {
		if r.coll.exists(skill.Path) {
			return apperrors.Newf(apperrors.KindConflict, "skill %s already exists", skill.Path)
		}
		now := time.Now().UTC()
		if skill.CreatedAt.IsZero() {
			skill.CreatedAt = now
		}
		skill.UpdatedAt = now
		return r.coll.putLocked(skill.Path, skill)
	})
}

func (r *skillRepo) Update(_ context.Context, skill *contracts.Skill) error {
	return r.coll.withLock(func() error {
		stored, err := r.coll.getLocked(skill.Path)
		if err != nil {
			return err
		}
		if !stored.UpdatedAt.Equal(skill.UpdatedAt) {
			return apperrors.Newf(apperrors.KindConflict,
				"skill %s was modified concurrently", skill.Path)
		}
		skill.UpdatedAt = time.Now().UTC()
		return r.coll.putLocked(skill.Path, skill)
	})
}

func (r *skillRepo) Delete(_ context.Context, path string) error {
	return r.coll.delete(path)
}

func (r *skillRepo) ListAll(_ context.Context) ([]*contracts.Skill, error) {
	return r.coll.listAll()
}

// virtualServerRepo stores virtual server documents.
type virtualServerRepo struct {
	coll *collection[contracts.VirtualServer]
}

func (r *virtualServerRepo) Get(_ context.Context, path string) (*contracts.VirtualServer, error) {
	return r.coll.get(path)
}

func (r *virtualServerRepo) Create(_ context.Context, vs *contracts.VirtualServer) error {
	return r.coll.withLock(func() error {
		if r.coll.exists(vs.Path) {
			return apperrors.Newf(apperrors.KindConflict, "virtual server %s already exists", vs.Path)
		}
		now := time.Now().UTC()
		if vs.CreatedAt.IsZero() {
			vs.CreatedAt = now
		}
		vs.UpdatedAt = now
		return r.coll.putLocked(vs.Path, vs)
	})
}

func (r *virtualServerRepo) Update(_ context.Context, vs *contracts.VirtualServer) error {
	return r.coll.withLock(func() error {
		stored, err := r.coll.getLocked(vs.Path)
		if err != nil {
			return err
		}
		if !stored.UpdatedAt.Equal(vs.UpdatedAt) {
			return apperrors.Newf(apperrors.KindConflict,
				"virtual server %s was modified concurrently", vs.Path)
		}
		vs.UpdatedAt = time.Now().UTC()
		return r.coll.putLocked(vs.Path, vs)
	})
}

func (r *virtualServerRepo) Delete(_ context.Context, path string) error {
	return r.coll.delete(path)
}

func (r *virtualServerRepo) ListAll(_ context.Context) ([]*contracts.VirtualServer, error) {
	return r.coll.listAll()
}
