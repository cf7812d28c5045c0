package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"github.com/openctemio/docflow/pkg/domain/pipeline"
	"github.com/openctemio/docflow/pkg/logger"
	"github.com/openctemio/docflow/pkg/validator"
)

// GitConfig contains configuration for the git source.
type GitConfig struct {
	URL        string
	Ref        string // branch or tag, empty = remote HEAD
	Path       string // catalog file inside the repository
	Token      string
	SSHKeyPath string
}

// GitSource clones a repository and reads the catalog file from it.
type GitSource struct {
	config    GitConfig
	auth      transport.AuthMethod
	validator *validator.Validator
	logger    *logger.Logger
}

// NewGitSource creates a git source.
func NewGitSource(cfg GitConfig, v *validator.Validator, log *logger.Logger) (*GitSource, error) {
	s := &GitSource{config: cfg, validator: v, logger: log.With("component", "catalog_git")}

	switch {
	case cfg.Token != "":
		s.auth = &http.BasicAuth{
			Username: "x-access-token", // GitHub/GitLab convention
			Password: cfg.Token,
		}
	case cfg.SSHKeyPath != "":
		keys, err := ssh.NewPublicKeysFromFile("git", cfg.SSHKeyPath, "")
		if err != nil {
			return nil, fmt.Errorf("failed to create SSH auth: %w", err)
		}
		s.auth = keys
	}
	return s, nil
}

// Load implements pipeline.Source.
func (s *GitSource) Load(ctx context.Context) (*pipeline.Catalog, error) {
	dir, err := os.MkdirTemp("", "docflow-catalog-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	opts := &git.CloneOptions{
		URL:          s.config.URL,
		Auth:         s.auth,
		Depth:        1,
		SingleBranch: true,
	}
	if s.config.Ref != "" {
		opts.ReferenceName = refName(s.config.Ref)
	}

	repo, err := git.PlainCloneContext(ctx, dir, false, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to clone %s: %w", s.config.URL, err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD: %w", err)
	}

	path, err := insideRepo(dir, s.config.Path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog from repository: %w", err)
	}

	catalog, err := Parse(s.config.Path, data, s.validator)
	if err != nil {
		return nil, err
	}
	s.logger.Info("catalog loaded",
		"url", s.config.URL,
		"commit", head.Hash().String(),
		"pipelines", catalog.Len(),
	)
	return catalog, nil
}

// refName maps a short ref to a full reference, treating it as a branch
// unless it already names a refs/ path.
func refName(ref string) plumbing.ReferenceName {
	if strings.HasPrefix(ref, "refs/") {
		return plumbing.ReferenceName(ref)
	}
	return plumbing.NewBranchReferenceName(ref)
}

// insideRepo joins rel to dir and rejects paths that escape it.
func insideRepo(dir, rel string) (string, error) {
	path := filepath.Join(dir, rel)
	if path != dir && !strings.HasPrefix(path, dir+string(filepath.Separator)) {
		return "", fmt.Errorf("catalog path %q escapes the repository", rel)
	}
	return path, nil
}

var _ pipeline.Source = (*GitSource)(nil)
