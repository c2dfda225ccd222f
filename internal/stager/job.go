package stager

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/stagerui/stager-ui/pkg/protocol"
)

// Job is a job as returned by the Stager. It keeps the original JSON so it
// can be relayed to the browser untouched.
type Job struct {
	ID         string
	StagerUser string
	raw        json.RawMessage
}

func (j *Job) UnmarshalJSON(b []byte) error {
	var head struct {
		ID   json.RawMessage `json:"id"`
		Data *struct {
			StagerUser string `json:"stagerUser"`
		} `json:"data"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return fmt.Errorf("decode job: %w", err)
	}
	// Ids arrive as numbers or strings depending on the Stager version.
	j.ID = strings.Trim(string(head.ID), `"`)
	j.StagerUser = ""
	if head.Data != nil {
		j.StagerUser = head.Data.StagerUser
	}
	j.raw = append(json.RawMessage(nil), b...)
	return nil
}

func (j Job) MarshalJSON() ([]byte, error) {
	if j.raw == nil {
		return []byte("null"), nil
	}
	return j.raw, nil
}

// OwnedBy reports whether the job was submitted by user.
func (j Job) OwnedBy(user string) bool {
	return user != "" && j.StagerUser == user
}

// FilterOwned returns the jobs submitted by user, never nil.
func FilterOwned(jobs []Job, user string) []Job {
	owned := make([]Job, 0, len(jobs))
	for _, j := range jobs {
		if j.OwnedBy(user) {
			owned = append(owned, j)
		}
	}
	return owned
}

// Job submission defaults.
const (
	JobTypeRDM               = "rdm"
	ClientIFIRODS            = "irods"
	DefaultTimeout           = 86400 // seconds
	DefaultTimeoutNoProgress = 3600  // seconds
	DefaultAttempts          = 5
	DefaultBackoffDelay      = 60000 // milliseconds
)

// JobData is the payload of a transfer job.
type JobData struct {
	SrcURL            string `json:"srcURL"`
	DstURL            string `json:"dstURL"`
	StagerUser        string `json:"stagerUser"`
	RDMUser           string `json:"rdmUser"`
	RDMPass           string `json:"rdmPass"` // RSA encrypted, base64
	ClientIF          string `json:"clientIF"`
	Timeout           int    `json:"timeout"`
	TimeoutNoProgress int    `json:"timeout_noprogress"`
	Title             string `json:"title"`
}

// Backoff is the delay policy between attempts of a failed job.
type Backoff struct {
	Delay int    `json:"delay"`
	Type  string `json:"type"`
}

// JobOptions controls how the Stager retries a job.
type JobOptions struct {
	Attempts int     `json:"attempts"`
	Backoff  Backoff `json:"backoff"`
}

// NewJob is a job submission.
type NewJob struct {
	Type    string     `json:"type"`
	Data    JobData    `json:"data"`
	Options JobOptions `json:"options"`
}

// NewTransferJob builds the submission of one transfer. rdmPass must
// already be encrypted.
func NewTransferJob(srcURL, dstURL, stagerUser, rdmUser, rdmPass string) NewJob {
	return NewJob{
		Type: JobTypeRDM,
		Data: JobData{
			SrcURL:            srcURL,
			DstURL:            dstURL,
			StagerUser:        stagerUser,
			RDMUser:           rdmUser,
			RDMPass:           rdmPass,
			ClientIF:          ClientIFIRODS,
			Timeout:           DefaultTimeout,
			TimeoutNoProgress: DefaultTimeoutNoProgress,
			Title:             "sync to " + dstURL,
		},
		Options: JobOptions{
			Attempts: DefaultAttempts,
			Backoff:  Backoff{Delay: DefaultBackoffDelay, Type: "fixed"},
		},
	}
}

// Nodes converts a Stager listing of dir into tree nodes.
func Nodes(dir string, isRoot bool, entries []DirEntry) []protocol.TreeNode {
	parent := dir
	if isRoot {
		parent = protocol.RootParent
	}

	nodes := make([]protocol.TreeNode, 0, len(entries))
	for _, e := range entries {
		id := path.Join(dir, e.Name)
		if e.Type == "f" {
			nodes = append(nodes, protocol.NewFileNode(id, parent, e.Name, e.Size))
		} else {
			nodes = append(nodes, protocol.NewDirNode(id+"/", parent, e.Name))
		}
	}
	return nodes
}
