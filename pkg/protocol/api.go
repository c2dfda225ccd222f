// Package protocol defines the JSON types exchanged with the browser client.
package protocol

import "strconv"

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

// TreeNode is one entry of a lazily loaded jsTree panel. Directory IDs end
// with a path separator; file IDs never do.
type TreeNode struct {
	ID       string            `json:"id"`
	Parent   string            `json:"parent"`
	Text     string            `json:"text"`
	Icon     string            `json:"icon"`
	Type     string            `json:"type,omitempty"`
	LiAttr   map[string]string `json:"li_attr"`
	Children bool              `json:"children"`
}

// Tree node icons.
const (
	IconFolder = "fa fa-folder"
	IconFile   = "fa fa-file-o"
)

// RootParent is the jsTree parent of top-level nodes.
const RootParent = "#"

// NewDirNode builds the node of a directory entry.
func NewDirNode(id, parent, name string) TreeNode {
	return TreeNode{
		ID:       id,
		Parent:   parent,
		Text:     name,
		Icon:     IconFolder,
		LiAttr:   map[string]string{},
		Children: true,
	}
}

// NewFileNode builds the node of a file entry; the size shows as a tooltip.
func NewFileNode(id, parent, name string, size int64) TreeNode {
	return TreeNode{
		ID:     id,
		Parent: parent,
		Text:   name,
		Icon:   IconFile,
		LiAttr: map[string]string{"title": formatSize(size)},
	}
}

// LogoutResponse acknowledges removal of backend credentials.
type LogoutResponse struct {
	Logout bool `json:"logout"`
}

// ProfileResponse is returned by GET /oidc/profile.
type ProfileResponse struct {
	Data  *Profile `json:"data"`
	Error *string  `json:"error"`
}

// Profile identifies the authenticated user.
type Profile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PanelParams describes one browsing panel of the UI.
type PanelParams struct {
	Module       string `json:"module"`
	Root         string `json:"root"`
	Cwd          string `json:"cwd,omitempty"`
	View         string `json:"view"`
	DisplayName  string `json:"display_name"`
	PathLogin    string `json:"path_login"`
	PathLogout   string `json:"path_logout"`
	PathGetDir   string `json:"path_getdir"`
	PathMakeDir  string `json:"path_mkdir"`
	HintLogin    string `json:"hint_login"`
	ExampleLogin string `json:"example_login"`
	PrefixTurl   string `json:"prefix_turl"`
}

// ParamsResponse is returned by GET /api/v1/params.
type ParamsResponse struct {
	Title         string      `json:"title"`
	TitleRequest  string      `json:"title_request"`
	TitleHistory  string      `json:"title_history"`
	Website       string      `json:"website"`
	Helpdesk      string      `json:"helpdesk"`
	Version       string      `json:"version"`
	StagerUser    string      `json:"stager_username,omitempty"`
	RemoteUser    string      `json:"remote_username,omitempty"`
	Local         PanelParams `json:"local"`
	Remote        PanelParams `json:"remote"`
	LegacyMatches bool        `json:"legacy_matches"`
}

// PlanRequest is the body of POST /stager/jobs/plan.
type PlanRequest struct {
	Action string   `json:"action"` // "upload" (local to remote) or "download"
	Src    []string `json:"src"`
	Dst    []string `json:"dst"`
	Cwd    string   `json:"cwd,omitempty"` // current directory of the destination panel
}

// Plan actions.
const (
	ActionUpload   = "upload"
	ActionDownload = "download"
)

func formatSize(size int64) string {
	return strconv.FormatInt(size, 10) + " bytes"
}
