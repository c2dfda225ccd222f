package api

import (
	"net/http"

	"github.com/stagerui/stager-ui/internal/config"
	"github.com/stagerui/stager-ui/internal/session"
	"github.com/stagerui/stager-ui/pkg/protocol"
)

// Panel views.
const viewLogin = "login"

// handleParams handles GET /api/v1/params. ?local=<dir> replaces the root
// of the local panel.
func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	ui := s.config.UI
	sess := session.FromContext(r.Context())

	resp := protocol.ParamsResponse{
		Title:         ui.Title,
		TitleRequest:  ui.TitleRequest,
		TitleHistory:  ui.TitleHistory,
		Website:       ui.Website,
		Helpdesk:      ui.Helpdesk,
		Version:       s.version,
		Local:         s.panelParams(sess, ui.LocalModule),
		Remote:        s.panelParams(sess, ui.RemoteModule),
		LegacyMatches: s.config.LegacySubstringMatch,
	}
	if root := r.URL.Query().Get("local"); root != "" {
		resp.Local.Root = root
	}
	if c, ok := sess.Credential(session.BackendStager); ok {
		resp.StagerUser = c.Username
	}
	if c, ok := sess.Credential(session.BackendRDM); ok {
		resp.RemoteUser = c.Username
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) panelParams(sess *session.Session, name string) protocol.PanelParams {
	m, _ := s.config.UI.Module(name)
	p := protocol.PanelParams{
		Module:       name,
		Root:         m.RootDir,
		Cwd:          m.Cwd,
		DisplayName:  m.DisplayName,
		PathGetDir:   m.PathListDir,
		PathMakeDir:  m.PathMakeDir,
		PrefixTurl:   m.PrefixTurl,
		PathLogin:    m.PathLogin,
		PathLogout:   m.PathLogout,
		HintLogin:    m.HintLogin,
		ExampleLogin: m.ExampleLogin,
	}
	if m.NeedsLogin() {
		if _, ok := sess.Credential(name); !ok {
			p.View = viewLogin
		}
	}
	return p
}

// module returns the configured module for a panel name, falling back to
// an empty module.
func (s *Server) module(name string) config.Module {
	m, _ := s.config.UI.Module(name)
	return m
}
