package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/px-dev/px/internal/effects"
	"github.com/px-dev/px/internal/lockfile"
	"github.com/px-dev/px/internal/pxerr"
)

// DefaultIndexURL is the package index the production Resolver queries for
// release metadata (spec.md §4.3.1's HTTP transport, used here for both the
// "source artifact" fetch and the "index probe for resolver metadata").
const DefaultIndexURL = "https://pypi.org/pypi"

// maxClosureDepth bounds the transitive requires_dist walk so a cyclic or
// pathological dependency graph can't resolve forever.
const maxClosureDepth = 8

// pypiResolver is the production Resolver: it queries the package index's
// JSON API directly over the injected effects.HTTPClient, choosing each
// spec's latest release satisfying a requires-pinning float, and walking
// requires_dist one level at a time to build the lock's transitive closure
// (spec.md §4.3 "the resolver proper is external").
type pypiResolver struct {
	http     effects.HTTPClient
	indexURL string
}

// NewPyPIResolver returns the production Resolver backed by http.
func NewPyPIResolver(http effects.HTTPClient) Resolver {
	return &pypiResolver{http: http, indexURL: DefaultIndexURL}
}

type pypiProjectResponse struct {
	Info struct {
		Name         string   `json:"name"`
		Version      string   `json:"version"`
		RequiresDist []string `json:"requires_dist"`
	} `json:"info"`
	Releases map[string][]pypiFile `json:"releases"`
}

type pypiFile struct {
	Filename    string `json:"filename"`
	URL         string `json:"url"`
	PackageType string `json:"packagetype"`
	Size        int64  `json:"size"`
	Digests     struct {
		SHA256 string `json:"sha256"`
	} `json:"digests"`
}

func (r *pypiResolver) Resolve(ctx context.Context, specs []string, env MarkerEnv) (Result, error) {
	var result Result
	visited := make(map[string]bool)
	var closure []lockfile.Resolved

	for _, spec := range specs {
		dep := lockfile.ParseSpec(spec)
		resolved, requires, err := r.resolveOne(ctx, dep.Name, "", visited, 0, &closure)
		if err != nil {
			return Result{}, errors.Wrapf(err, "resolve: %s", spec)
		}
		result.Pins = append(result.Pins, PinSpec{
			Name:       dep.Name,
			Specifier:  fmt.Sprintf("%s==%s", dep.Name, resolved.Version),
			Version:    resolved.Version,
			Normalized: lockfile.CanonicalizeName(dep.Name),
			Extras:     dep.Extras,
			Marker:     dep.Marker,
			Direct:     true,
			Requires:   requires,
		})
	}

	for i := range closure {
		closure[i].Direct = contains(specDirectNames(specs), closure[i].Name)
	}
	sort.Slice(closure, func(i, j int) bool { return closure[i].Name < closure[j].Name })
	result.Resolved = closure
	return result, nil
}

func specDirectNames(specs []string) []string {
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, lockfile.ParseSpec(s).Name)
	}
	return names
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if lockfile.CanonicalizeName(n) == lockfile.CanonicalizeName(name) {
			return true
		}
	}
	return false
}

// resolveOne fetches name's index metadata, appends it (and, up to
// maxClosureDepth, everything it transitively requires) to closure, and
// returns its own resolved entry plus the bare (unversioned) names of its
// direct requirements.
func (r *pypiResolver) resolveOne(ctx context.Context, name, wantVersion string, visited map[string]bool, depth int, closure *[]lockfile.Resolved) (lockfile.Resolved, []string, error) {
	key := lockfile.CanonicalizeName(name)
	if visited[key] {
		return lockfile.Resolved{Name: name}, nil, nil
	}
	visited[key] = true

	data, err := r.fetchProject(ctx, name)
	if err != nil {
		return lockfile.Resolved{}, nil, err
	}

	version := wantVersion
	if version == "" {
		version = data.Info.Version
	}
	files, ok := data.Releases[version]
	if !ok || len(files) == 0 {
		return lockfile.Resolved{}, nil, pxerr.New(pxerr.CodeTargetNotFound, pxerr.User, "no_release_files",
			fmt.Sprintf("resolve: %s %s has no release files on %s", name, version, r.indexURL),
			"pin a different version or check the package name")
	}
	file := pickSdist(files)

	requireNames := make([]string, 0, len(data.Info.RequiresDist))
	for _, req := range data.Info.RequiresDist {
		if n := requirementName(req); n != "" {
			requireNames = append(requireNames, lockfile.CanonicalizeName(n))
		}
	}

	resolved := lockfile.Resolved{
		Name:    name,
		Version: version,
		Artifact: lockfile.Artifact{
			Filename: file.Filename,
			URL:      file.URL,
			SHA256:   file.Digests.SHA256,
			Size:     file.Size,
		},
		Requires: requireNames,
	}
	*closure = append(*closure, resolved)

	if depth < maxClosureDepth {
		for _, req := range data.Info.RequiresDist {
			n := requirementName(req)
			if n == "" || visited[lockfile.CanonicalizeName(n)] {
				continue
			}
			if _, _, err := r.resolveOne(ctx, n, "", visited, depth+1, closure); err != nil {
				return lockfile.Resolved{}, nil, err
			}
		}
	}

	return resolved, requireNames, nil
}

// requirementName extracts the bare distribution name from a PEP 508
// requirement string, dropping extras, version specifiers, and markers.
func requirementName(req string) string {
	req = strings.TrimSpace(req)
	if req == "" {
		return ""
	}
	for _, sep := range []string{";", "[", "(", "=", ">", "<", "!", "~", " "} {
		if idx := strings.Index(req, sep); idx >= 0 {
			req = req[:idx]
		}
	}
	return strings.TrimSpace(req)
}

func pickSdist(files []pypiFile) pypiFile {
	for _, f := range files {
		if f.PackageType == "sdist" {
			return f
		}
	}
	return files[0]
}

func (r *pypiResolver) fetchProject(ctx context.Context, name string) (pypiProjectResponse, error) {
	url := fmt.Sprintf("%s/%s/json", strings.TrimRight(r.indexURL, "/"), name)
	resp, err := r.http.Get(ctx, url)
	if err != nil {
		return pypiProjectResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return pypiProjectResponse{}, pxerr.New(pxerr.CodeTargetNotFound, pxerr.User, "package_not_found",
			fmt.Sprintf("resolve: %s: %s", name, resp.Status),
			"check the package name and that the index is reachable")
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return pypiProjectResponse{}, err
	}
	var out pypiProjectResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return pypiProjectResponse{}, errors.Wrapf(err, "resolve: parse index response for %s", name)
	}
	return out, nil
}
