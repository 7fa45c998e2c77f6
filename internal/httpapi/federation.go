package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mcpregistry-go/internal/apperrors"
	"mcpregistry-go/internal/audit"
	"mcpregistry-go/internal/contracts"
	"mcpregistry-go/internal/federation"
	"mcpregistry-go/internal/httpx"
)

func (s *Server) handleListPeers(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	peers, err := s.Federation.ListPeers(r.Context())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, peers)
}

func (s *Server) handleAddPeer(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	var peer contracts.PeerRegistry
	if err := httpx.DecodeJSON(r, &peer); err != nil {
		httpx.WriteError(w, err)
		return
	}

	created, err := s.Federation.AddPeer(r.Context(), &peer)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	audit.SetAction(r.Context(), "add_peer", "peer", created.PeerID)
	httpx.WriteJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetPeer(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	peer, err := s.Federation.GetPeer(r.Context(), chi.URLParam(r, "peerID"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, peer)
}

func (s *Server) handleUpdatePeer(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	var peer contracts.PeerRegistry
	if err := httpx.DecodeJSON(r, &peer); err != nil {
		httpx.WriteError(w, err)
		return
	}
	peer.PeerID = chi.URLParam(r, "peerID")

	updated, err := s.Federation.UpdatePeer(r.Context(), &peer)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	audit.SetAction(r.Context(), "update_peer", "peer", peer.PeerID)
	httpx.WriteJSON(w, http.StatusOK, updated)
}

func (s *Server) handleRemovePeer(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	peerID := chi.URLParam(r, "peerID")
	if err := s.Federation.RemovePeer(r.Context(), peerID); err != nil {
		httpx.WriteError(w, err)
		return
	}
	audit.SetAction(r.Context(), "remove_peer", "peer", peerID)
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"deleted": peerID})
}

func (s *Server) handleSyncPeer(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	peerID := chi.URLParam(r, "peerID")
	status, err := s.Federation.SyncPeer(r.Context(), peerID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	audit.SetAction(r.Context(), "sync_peer", "peer", peerID)
	httpx.WriteJSON(w, http.StatusOK, status)
}

func (s *Server) handleSyncAllPeers(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	statuses, err := s.Federation.SyncAll(r.Context())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	audit.SetAction(r.Context(), "sync_all_peers", "peer", "")
	httpx.WriteJSON(w, http.StatusOK, statuses)
}

func (s *Server) handlePeerStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	status, err := s.Federation.PeerStatus(r.Context(), chi.URLParam(r, "peerID"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, status)
}

func (s *Server) handleEnablePeer(w http.ResponseWriter, r *http.Request) {
	s.setPeerEnabled(w, r, true)
}

func (s *Server) handleDisablePeer(w http.ResponseWriter, r *http.Request) {
	s.setPeerEnabled(w, r, false)
}

func (s *Server) setPeerEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	if !s.requireAdmin(w, r) {
		return
	}
	peerID := chi.URLParam(r, "peerID")
	if err := s.Federation.SetPeerEnabled(r.Context(), peerID, enabled); err != nil {
		httpx.WriteError(w, err)
		return
	}
	op := "disable_peer"
	if enabled {
		op = "enable_peer"
	}
	audit.SetAction(r.Context(), op, "peer", peerID)
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{"peer_id": peerID, "enabled": enabled})
}

func (s *Server) handleTopology(w http.ResponseWriter, r *http.Request) {
	topology, err := s.Federation.Topology(r.Context())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, topology)
}

func (s *Server) handleExternalSync(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	source := chi.URLParam(r, "source")
	status, err := s.Federation.SyncExternal(r.Context(), source)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	audit.SetAction(r.Context(), "sync_external", "external_source", source)
	httpx.WriteJSON(w, http.StatusOK, status)
}

func (s *Server) handleGetExternalConfig(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	cfg, err := s.Federation.GetExternalConfig(r.Context())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	srcCfg, err := externalSection(cfg, chi.URLParam(r, "source"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, srcCfg)
}

func (s *Server) handlePutExternalConfig(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	var srcCfg contracts.ExternalSourceConfig
	if err := httpx.DecodeJSON(r, &srcCfg); err != nil {
		httpx.WriteError(w, err)
		return
	}

	cfg, err := s.Federation.GetExternalConfig(r.Context())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	source := chi.URLParam(r, "source")
	switch source {
	case federation.SourceAnthropic:
		cfg.Anthropic = srcCfg
	case federation.SourceAsor:
		cfg.Asor = srcCfg
	default:
		httpx.WriteError(w, apperrors.Newf(apperrors.KindBadRequest, "unknown external source %q", source))
		return
	}

	if err := s.Federation.PutExternalConfig(r.Context(), cfg); err != nil {
		httpx.WriteError(w, err)
		return
	}
	audit.SetAction(r.Context(), "update_external_config", "external_source", source)
	httpx.WriteJSON(w, http.StatusOK, srcCfg)
}

func externalSection(cfg *contracts.FederationConfig, source string) (*contracts.ExternalSourceConfig, error) {
	switch source {
	case federation.SourceAnthropic:
		return &cfg.Anthropic, nil
	case federation.SourceAsor:
		return &cfg.Asor, nil
	default:
		return nil, apperrors.Newf(apperrors.KindBadRequest, "unknown external source %q", source)
	}
}

// Export endpoints carry federation credentials, not ingress JWTs, and
// return the bare wire shape peers decode, without the API envelope.

func (s *Server) handleExportServers(w http.ResponseWriter, r *http.Request) {
	if err := s.Exporter.Authorize(r); err != nil {
		httpx.WriteError(w, err)
		return
	}
	resp, err := s.Exporter.ExportServers(r.Context())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	writeRawJSON(w, resp)
}

func (s *Server) handleExportAgents(w http.ResponseWriter, r *http.Request) {
	if err := s.Exporter.Authorize(r); err != nil {
		httpx.WriteError(w, err)
		return
	}
	resp, err := s.Exporter.ExportAgents(r.Context())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	writeRawJSON(w, resp)
}

func writeRawJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
