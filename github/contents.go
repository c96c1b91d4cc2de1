package github

import (
	"context"
	"fmt"
	"time"

	gh "github.com/google/go-github/v60/github"
)

func (c *Client) GetDefaultBranch(ctx context.Context) (string, error) {
	r, resp, err := c.api.Repositories.Get(ctx, c.owner, c.repo)
	if err != nil {
		return "", wrapErr("get repository "+c.Repo(), resp, err)
	}
	return r.GetDefaultBranch(), nil
}

// GetFileContent returns a file's decoded content and blob SHA.
func (c *Client) GetFileContent(ctx context.Context, path, branch string) (string, string, error) {
	opts := &gh.RepositoryContentGetOptions{Ref: branch}
	file, _, resp, err := c.api.Repositories.GetContents(ctx, c.owner, c.repo, path, opts)
	if err != nil {
		return "", "", wrapErr("get file "+path, resp, err)
	}
	if file == nil {
		return "", "", fmt.Errorf("path %s is a directory", path)
	}

	content, err := file.GetContent()
	if err != nil {
		return "", "", fmt.Errorf("failed to decode file content: %w", err)
	}
	return content, file.GetSHA(), nil
}

func (c *Client) CreateBranch(ctx context.Context, baseBranch, newBranch string) error {
	ref, resp, err := c.api.Git.GetRef(ctx, c.owner, c.repo, "refs/heads/"+baseBranch)
	if err != nil {
		return wrapErr("get ref for "+baseBranch, resp, err)
	}

	newRef := &gh.Reference{
		Ref:    gh.String("refs/heads/" + newBranch),
		Object: ref.Object,
	}

	_, resp, err = c.api.Git.CreateRef(ctx, c.owner, c.repo, newRef)
	return wrapErr("create branch "+newBranch, resp, err)
}

func (c *Client) UpdateFile(ctx context.Context, path, branch, message string, content []byte, sha string) error {
	opts := &gh.RepositoryContentFileOptions{
		Message: gh.String(message),
		Content: content,
		Branch:  gh.String(branch),
		SHA:     gh.String(sha),
	}

	_, resp, err := c.api.Repositories.UpdateFile(ctx, c.owner, c.repo, path, opts)
	return wrapErr("update file "+path, resp, err)
}

// CreateFile commits a new file and returns its HTML URL. An empty branch
// commits to the default branch.
func (c *Client) CreateFile(ctx context.Context, path, branch, message string, content []byte) (string, error) {
	opts := &gh.RepositoryContentFileOptions{
		Message: gh.String(message),
		Content: content,
	}
	if branch != "" {
		opts.Branch = gh.String(branch)
	}

	created, resp, err := c.api.Repositories.CreateFile(ctx, c.owner, c.repo, path, opts)
	if err != nil {
		return "", wrapErr("create file "+path, resp, err)
	}
	return created.GetContent().GetHTMLURL(), nil
}

// ListFiles returns every blob path on a branch.
func (c *Client) ListFiles(ctx context.Context, branch string) ([]string, error) {
	ref, resp, err := c.api.Git.GetRef(ctx, c.owner, c.repo, "refs/heads/"+branch)
	if err != nil {
		return nil, wrapErr("get ref for "+branch, resp, err)
	}
	tree, resp, err := c.api.Git.GetTree(ctx, c.owner, c.repo, ref.Object.GetSHA(), true)
	if err != nil {
		return nil, wrapErr("get tree", resp, err)
	}

	var paths []string
	for _, entry := range tree.Entries {
		if entry.GetType() == "blob" {
			paths = append(paths, entry.GetPath())
		}
	}
	return paths, nil
}

func GenerateBranchName(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().Unix())
}
