package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/model"
)

// SidecarFile is the index file Claude Code keeps in each project directory.
const SidecarFile = "sessions-index.json"

// ErrNoSidecar is returned by a SidecarLookup when no usable mapping exists.
var ErrNoSidecar = errors.New("no sidecar mapping")

// SidecarLookup returns the original path recorded for encodedID.
type SidecarLookup func(encodedID string) (string, error)

// sidecar is the subset of sessions-index.json that carries the path.
type sidecar struct {
	OriginalPath string `json:"originalPath"`
	Entries      []struct {
		ProjectPath string `json:"projectPath"`
	} `json:"entries"`
}

// FileSidecar reads <projectsDir>/<encodedID>/sessions-index.json.
func FileSidecar(projectsDir string) SidecarLookup {
	return func(encodedID string) (string, error) {
		path := filepath.Join(projectsDir, encodedID, SidecarFile)
		data, err := os.ReadFile(path) //nolint:gosec // path built from the scanned projects dir
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return "", ErrNoSidecar
			}
			return "", fmt.Errorf("reading %s: %w", path, err)
		}

		var sc sidecar
		if err := json.Unmarshal(data, &sc); err != nil {
			return "", fmt.Errorf("decoding %s: %w", path, err)
		}
		if p := strings.TrimSpace(sc.OriginalPath); p != "" {
			return p, nil
		}
		for _, e := range sc.Entries {
			if p := strings.TrimSpace(e.ProjectPath); p != "" {
				return p, nil
			}
		}
		return "", ErrNoSidecar
	}
}

// Resolution is the outcome of resolving one encoded id.
type Resolution struct {
	Identity model.ProjectIdentity
	// Advisory explains a fallback to the heuristic. Empty when the identity
	// is authoritative.
	Advisory string
}

// Resolver turns encoded ids into project identities. Results are cached per
// encoded id; an authoritative answer is never replaced by a heuristic one.
type Resolver struct {
	lookup SidecarLookup

	mu    sync.Mutex
	cache map[string]Resolution
}

// NewResolver returns a Resolver backed by lookup. A nil lookup disables the
// sidecar tier.
func NewResolver(lookup SidecarLookup) *Resolver {
	return &Resolver{lookup: lookup, cache: make(map[string]Resolution)}
}

// Resolve maps encodedID to a ProjectIdentity. Tiers, in order:
//  1. the sidecar's original path
//  2. a transcript cwd that encodes back to encodedID
//  3. the naive decode, marked heuristic
func (r *Resolver) Resolve(encodedID string, cwds ...string) Resolution {
	r.mu.Lock()
	cached, ok := r.cache[encodedID]
	r.mu.Unlock()
	if ok && cached.Identity.Source.Authoritative() {
		return cached
	}

	res := r.resolve(encodedID, cwds)

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.cache[encodedID]; ok && prev.Identity.Source.Authoritative() {
		return prev
	}
	r.cache[encodedID] = res
	return res
}

// Forget drops any cached answer for encodedID so the next Resolve consults
// the sidecar again.
func (r *Resolver) Forget(encodedID string) {
	r.mu.Lock()
	delete(r.cache, encodedID)
	r.mu.Unlock()
}

func (r *Resolver) resolve(encodedID string, cwds []string) Resolution {
	var advisory string

	if r.lookup != nil {
		p, err := r.lookup(encodedID)
		switch {
		case err == nil && filepath.IsAbs(p):
			return Resolution{Identity: identity(encodedID, filepath.Clean(p), model.SourceSidecar)}
		case err == nil:
			advisory = fmt.Sprintf("sidecar path %q is not absolute", p)
		case errors.Is(err, ErrNoSidecar):
			advisory = "no sidecar mapping"
		default:
			advisory = err.Error()
		}
	}

	for _, cwd := range cwds {
		if cwd == "" || !filepath.IsAbs(cwd) {
			continue
		}
		cwd = filepath.Clean(cwd)
		if Encode(cwd) == encodedID {
			return Resolution{Identity: identity(encodedID, cwd, model.SourceTranscript)}
		}
	}

	if advisory == "" {
		advisory = "no authoritative mapping"
	}
	log.Debug().Str("encoded_id", encodedID).Str("reason", advisory).Msg("project path resolved heuristically")

	return Resolution{
		Identity: model.ProjectIdentity{
			EncodedID:     encodedID,
			CanonicalPath: NaiveDecode(encodedID),
			Slug:          HeuristicSlug(encodedID),
			Source:        model.SourceHeuristic,
		},
		Advisory: advisory,
	}
}

func identity(encodedID, path string, src model.ResolutionSource) model.ProjectIdentity {
	return model.ProjectIdentity{
		EncodedID:     encodedID,
		CanonicalPath: path,
		Slug:          Slug(path),
		Source:        src,
	}
}
