package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// RepoSource serves the latest published artifact from the database.
type RepoSource struct {
	repo ArtifactRepository
}

func NewRepoSource(repo ArtifactRepository) *RepoSource {
	return &RepoSource{repo: repo}
}

func (s *RepoSource) Fetch(ctx context.Context, namespace string) (*CompiledRuleSet, error) {
	art, err := s.repo.Latest(ctx, namespace)
	if err != nil {
		return nil, err
	}
	var rs CompiledRuleSet
	if err := json.Unmarshal(art.Document, &rs); err != nil {
		return nil, fmt.Errorf("decode artifact for %q: %w", namespace, err)
	}
	return &rs, nil
}

// HTTPSource fetches a published artifact from a remote JSON document at
// {base}/rules/{namespace}.json. Timeouts are the caller's via ctx.
type HTTPSource struct {
	base   string
	client *http.Client
}

func NewHTTPSource(base string, client *http.Client) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource{base: base, client: client}
}

func (s *HTTPSource) Fetch(ctx context.Context, namespace string) (*CompiledRuleSet, error) {
	url := fmt.Sprintf("%s/rules/%s.json", s.base, namespace)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrArtifactNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	var rs CompiledRuleSet
	if err := json.NewDecoder(resp.Body).Decode(&rs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", url, err)
	}
	return &rs, nil
}
