package updater

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	GitHubRepo     = "aeolun/chirp"
	DefaultBaseURL = "https://api.github.com"
)

// Release represents a GitHub release
type Release struct {
	TagName string `json:"tag_name"`
	Name    string `json:"name"`
	HTMLURL string `json:"html_url"`
}

// Checker looks up the latest published release
type Checker struct {
	BaseURL string
	Repo    string
	Client  *http.Client
}

// NewChecker returns a Checker for the public GitHub API
func NewChecker() *Checker {
	return &Checker{
		BaseURL: DefaultBaseURL,
		Repo:    GitHubRepo,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Latest fetches the latest release
func (c *Checker) Latest(ctx context.Context) (Release, error) {
	url := fmt.Sprintf("%s/repos/%s/releases/latest", strings.TrimRight(c.BaseURL, "/"), c.Repo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Release{}, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return Release{}, fmt.Errorf("failed to fetch release info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Release{}, fmt.Errorf("GitHub API returned status %d", resp.StatusCode)
	}

	var release Release
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return Release{}, fmt.Errorf("failed to parse release info: %w", err)
	}
	if release.TagName == "" {
		return Release{}, fmt.Errorf("release has no tag")
	}
	return release, nil
}

// Check returns the latest release and whether it is newer than currentVersion
func (c *Checker) Check(ctx context.Context, currentVersion string) (Release, bool, error) {
	release, err := c.Latest(ctx)
	if err != nil {
		return Release{}, false, err
	}
	return release, CompareVersions(currentVersion, release.TagName), nil
}

// CompareVersions returns true if newVersion is newer than currentVersion.
// Development builds are always behind.
func CompareVersions(currentVersion, newVersion string) bool {
	if currentVersion == "dev" || currentVersion == "" {
		return true
	}

	cur := parseVersion(currentVersion)
	next := parseVersion(newVersion)
	for i := range cur {
		if next[i] != cur[i] {
			return next[i] > cur[i]
		}
	}
	return false
}

// parseVersion reads "v1.2.3" style versions. Missing or non-numeric parts count as 0,
// and anything after '-' or '+' is ignored.
func parseVersion(v string) [3]int {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}

	var out [3]int
	for i, part := range strings.SplitN(v, ".", 3) {
		n, err := strconv.Atoi(part)
		if err != nil {
			continue
		}
		out[i] = n
	}
	return out
}
