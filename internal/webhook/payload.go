package webhook

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrUnrecognized marks payloads that are not push events. The HTTP layer
// maps it to a 400 with no side effects attempted.
var ErrUnrecognized = errors.New("unrecognized webhook payload")

// PushEvent is the extracted context of a recognized push webhook.
type PushEvent struct {
	AppName   string
	RepoURL   string
	CommitSHA string
}

type rawPayload struct {
	Repository *struct {
		CloneURL string `json:"clone_url"`
	} `json:"repository"`
	HeadCommit *struct {
		ID string `json:"id"`
	} `json:"head_commit"`
}

// ClassifyPush decides whether body is a push event and extracts its fields.
// Recognition requires both a repository object with a clone URL and a
// head_commit object with a commit id; any other shape returns
// ErrUnrecognized.
func ClassifyPush(body []byte, appName string) (PushEvent, error) {
	var p rawPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return PushEvent{}, ErrUnrecognized
	}
	if p.Repository == nil || p.HeadCommit == nil {
		return PushEvent{}, ErrUnrecognized
	}
	if p.Repository.CloneURL == "" || p.HeadCommit.ID == "" {
		return PushEvent{}, ErrUnrecognized
	}
	return PushEvent{
		AppName:   appName,
		RepoURL:   p.Repository.CloneURL,
		CommitSHA: p.HeadCommit.ID,
	}, nil
}

// ArchiveURL builds the source snapshot download URL for a commit:
// {repo_url without .git}/archive/{sha}.zip.
func (e PushEvent) ArchiveURL() string {
	return strings.TrimSuffix(e.RepoURL, ".git") + "/archive/" + e.CommitSHA + ".zip"
}
