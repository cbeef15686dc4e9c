// Package artifact persists the JSON hand-off files exchanged between stages:
// the crawl graph, the asset reference list, the snapshot index and the asset
// localization manifest.
package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/JakeFAU/site-snapshot/internal/crawler"
)

// File names under the data directory.
const (
	GraphFile         = "sitemap.json"
	AssetRefsFile     = "assets.json"
	SnapshotIndexFile = "snapshots.json"
	LocalManifestFile = "assets.local.json"
)

// ErrNotFound reports that an artifact has not been written yet. Readers
// return the empty value alongside it.
var ErrNotFound = errors.New("artifact not found")

type graphDoc struct {
	Site        string              `json:"site"`
	Count       int                 `json:"count"`
	Pages       []string            `json:"pages"`
	Edges       map[string][]string `json:"edges"`
	GeneratedAt time.Time           `json:"generatedAt"`
}

type assetRefsDoc struct {
	Site        string                       `json:"site"`
	Count       int                          `json:"count"`
	Assets      []string                     `json:"assets"`
	Roles       map[string]crawler.AssetRole `json:"roles,omitempty"`
	GeneratedAt time.Time                    `json:"generatedAt"`
}

type snapshotIndexDoc struct {
	Site        string              `json:"site"`
	Count       int                 `json:"count"`
	Snapshots   crawler.SnapshotSet `json:"snapshots"`
	GeneratedAt time.Time           `json:"generatedAt"`
}

// Store reads and writes artifacts through a BlobStore rooted at the data directory.
type Store struct {
	blobs crawler.BlobStore
}

// New wraps blobs.
func New(blobs crawler.BlobStore) *Store {
	return &Store{blobs: blobs}
}

// WriteGraph persists the crawl graph.
func (s *Store) WriteGraph(ctx context.Context, g crawler.Graph) error {
	pages := append([]string(nil), g.Pages...)
	sort.Strings(pages)
	edges := g.Edges
	if edges == nil {
		edges = map[string][]string{}
	}
	return s.put(ctx, GraphFile, graphDoc{
		Site:        g.Site,
		Count:       len(pages),
		Pages:       pages,
		Edges:       edges,
		GeneratedAt: g.GeneratedAt.UTC(),
	})
}

// ReadGraph loads the crawl graph. When no graph exists the result holds only
// fallbackSite (if non-empty) and ErrNotFound is returned with it.
func (s *Store) ReadGraph(ctx context.Context, fallbackSite string) (crawler.Graph, error) {
	var doc graphDoc
	if err := s.get(ctx, GraphFile, &doc); err != nil {
		if !errors.Is(err, ErrNotFound) {
			return crawler.Graph{}, err
		}
		g := crawler.Graph{Site: fallbackSite, Edges: map[string][]string{}}
		if fallbackSite != "" {
			g.Pages = []string{fallbackSite}
		}
		return g, err
	}
	if doc.Edges == nil {
		doc.Edges = map[string][]string{}
	}
	return crawler.Graph{
		Site:        doc.Site,
		Pages:       doc.Pages,
		Edges:       doc.Edges,
		GeneratedAt: doc.GeneratedAt,
	}, nil
}

// WriteAssetRefs persists the union of observed sub-resources.
func (s *Store) WriteAssetRefs(ctx context.Context, site string, refs []crawler.AssetReference, at time.Time) error {
	merged := crawler.MergeAssets(refs)
	doc := assetRefsDoc{
		Site:        site,
		Count:       len(merged),
		Assets:      make([]string, 0, len(merged)),
		Roles:       make(map[string]crawler.AssetRole, len(merged)),
		GeneratedAt: at.UTC(),
	}
	for _, ref := range merged {
		doc.Assets = append(doc.Assets, ref.URL)
		if ref.Role != "" {
			doc.Roles[ref.URL] = ref.Role
		}
	}
	return s.put(ctx, AssetRefsFile, doc)
}

// ReadAssetRefs loads the asset reference list. URLs without a recorded role
// come back with an empty Role.
func (s *Store) ReadAssetRefs(ctx context.Context) ([]crawler.AssetReference, error) {
	var doc assetRefsDoc
	if err := s.get(ctx, AssetRefsFile, &doc); err != nil {
		return nil, err
	}
	refs := make([]crawler.AssetReference, 0, len(doc.Assets))
	for _, u := range doc.Assets {
		refs = append(refs, crawler.AssetReference{URL: u, Role: doc.Roles[u]})
	}
	return crawler.MergeAssets(refs), nil
}

// WriteSnapshots persists the snapshot index.
func (s *Store) WriteSnapshots(ctx context.Context, site string, set crawler.SnapshotSet, at time.Time) error {
	if set == nil {
		set = crawler.SnapshotSet{}
	}
	return s.put(ctx, SnapshotIndexFile, snapshotIndexDoc{
		Site:        site,
		Count:       len(set),
		Snapshots:   set,
		GeneratedAt: at.UTC(),
	})
}

// ReadSnapshots loads the snapshot index.
func (s *Store) ReadSnapshots(ctx context.Context) (crawler.SnapshotSet, error) {
	var doc snapshotIndexDoc
	if err := s.get(ctx, SnapshotIndexFile, &doc); err != nil {
		return crawler.SnapshotSet{}, err
	}
	if doc.Snapshots == nil {
		return crawler.SnapshotSet{}, nil
	}
	return doc.Snapshots, nil
}

// WriteManifest persists the asset localization manifest as a flat object.
func (s *Store) WriteManifest(ctx context.Context, m crawler.AssetManifest) error {
	if m == nil {
		m = crawler.AssetManifest{}
	}
	return s.put(ctx, LocalManifestFile, m)
}

// ReadManifest loads the asset localization manifest.
func (s *Store) ReadManifest(ctx context.Context) (crawler.AssetManifest, error) {
	m := crawler.AssetManifest{}
	if err := s.get(ctx, LocalManifestFile, &m); err != nil {
		return crawler.AssetManifest{}, err
	}
	return m, nil
}

func (s *Store) put(ctx context.Context, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	data = append(data, '\n')
	if _, err := s.blobs.PutObject(ctx, name, "application/json", bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, name string, v any) error {
	data, err := s.blobs.GetObject(ctx, name)
	if err != nil {
		if errors.Is(err, crawler.ErrObjectNotFound) {
			return fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}
