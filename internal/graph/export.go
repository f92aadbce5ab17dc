// Package graph serves paginated, tenant-isolated, permission-filtered
// snapshots of the knowledge graph with a policy-aware content cache.
package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/m-mizutani/goerr/v2"

	"github.com/tomcat65/neural-memory/internal/access"
	"github.com/tomcat65/neural-memory/internal/apperr"
	"github.com/tomcat65/neural-memory/internal/classify"
	"github.com/tomcat65/neural-memory/internal/memory"
)

// Pagination bounds.
const (
	DefaultLimit = 200
	MaxLimit     = 1000
)

// DefaultCacheTTL keeps ETags fresh enough that a stale 304 window stays
// within tens of seconds.
const DefaultCacheTTL = 30 * time.Second

// Options parameterize one export request. TenantID is deliberately
// absent: it comes only from the caller context.
type Options struct {
	Cursor              string
	Limit               int
	IncludeObservations bool
	UpdatedSince        string
	EntityName          string
}

// Node is one exported entity, keyed by name in the page.
type Node struct {
	Name             string `json:"name"`
	EntityType       string `json:"entityType"`
	ObservationCount int    `json:"observationCount"`
	UpdatedAt        string `json:"updatedAt"`
}

// Link is one exported relation. Source and target are entity names and
// are not guaranteed to resolve to nodes in this page, or at all.
type Link struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	RelationType string `json:"relationType"`
}

// ObservationView is one observation that passed the sensitivity filter.
type ObservationView struct {
	EntityName string   `json:"entityName"`
	Contents   []string `json:"contents"`
	AddedBy    string   `json:"addedBy,omitempty"`
	Timestamp  string   `json:"timestamp,omitempty"`
}

// Totals summarizes row counts for the tenant, independent of pagination.
type Totals struct {
	Entities     int `json:"entities"`
	Relations    int `json:"relations"`
	Observations int `json:"observations"`
}

// Page is one export response.
type Page struct {
	Nodes        map[string]Node   `json:"nodes,omitempty"`
	Links        []Link            `json:"links,omitempty"`
	Observations []ObservationView `json:"observations,omitempty"`
	NextCursor   string            `json:"nextCursor,omitempty"`
	Totals       Totals            `json:"totals"`
	GeneratedAt  string            `json:"generatedAt"`
	ETag         string            `json:"-"`
}

// Service is the graph export service.
type Service struct {
	store *memory.Store
	cache *ristretto.Cache
	ttl   time.Duration
}

// New creates the export service with its ETag cache.
func New(store *memory.Store) (*Service, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "create etag cache")
	}
	return &Service{store: store, cache: cache, ttl: DefaultCacheTTL}, nil
}

// normalized resolves the pagination defaults. Both the cache lookup and
// the export itself key on the normalized form, so an omitted limit and an
// explicit default limit name the same cache entry.
func (o Options) normalized() Options {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.Limit > MaxLimit {
		o.Limit = MaxLimit
	}
	return o
}

// CachedETag returns the cached digest for this caller and query shape, if
// still fresh. A miss always falls through to a full export — the cache is
// advisory, never a source of truth.
func (s *Service) CachedETag(caller *access.CallerContext, opts Options) (string, bool) {
	v, ok := s.cache.Get(cacheKey(caller, opts.normalized()))
	if !ok {
		return "", false
	}
	etag, ok := v.(string)
	return etag, ok
}

// Export builds one page of the tenant's graph. Authorization runs before
// any data is read; failure is an explicit rejection, never an empty page.
func (s *Service) Export(caller *access.CallerContext, opts Options) (*Page, error) {
	if err := access.AuthorizeGraphRead(caller, opts.IncludeObservations); err != nil {
		return nil, err
	}

	opts = opts.normalized()
	if opts.EntityName != "" && !opts.IncludeObservations {
		return nil, apperr.Validation("entityName mode requires includeObservations",
			goerr.V("entityName", opts.EntityName))
	}

	totals, err := s.totals(caller.TenantID)
	if err != nil {
		return nil, err
	}

	var page *Page
	if opts.EntityName != "" {
		page, err = s.exportEntity(caller, opts, totals)
	} else {
		page, err = s.exportPage(caller, opts, totals)
	}
	if err != nil {
		return nil, err
	}

	page.GeneratedAt = memory.Now()
	s.cache.SetWithTTL(cacheKey(caller, opts), page.ETag, int64(len(page.ETag)), s.ttl)
	// Flush the write buffer so an If-None-Match on the very next request
	// can already short-circuit against this digest.
	s.cache.Wait()
	return page, nil
}

// exportEntity handles entityName mode: observations only, no topology.
// The caller already holds nodes and links from an earlier full fetch.
func (s *Service) exportEntity(caller *access.CallerContext, opts Options, totals Totals) (*Page, error) {
	if _, err := s.store.EntityByName(caller.TenantID, opts.EntityName); err != nil {
		return nil, err
	}

	stored, err := s.store.ObservationsForEntity(caller.TenantID, opts.EntityName)
	if err != nil {
		return nil, err
	}
	views, maxUpdated := s.filterObservations(caller, stored)

	page := &Page{Observations: views, Totals: totals}
	page.ETag = s.digest(nil, nil, maxUpdated+"|"+opts.EntityName, caller)
	return page, nil
}

func (s *Service) exportPage(caller *access.CallerContext, opts Options, totals Totals) (*Page, error) {
	cursor, err := memory.DecodeCursor(opts.Cursor)
	if err != nil {
		return nil, err
	}

	entities, err := s.store.EntityPage(caller.TenantID, cursor, opts.Limit, opts.UpdatedSince)
	if err != nil {
		return nil, err
	}

	relations, relMaxUpdated, err := s.store.Relations(caller.TenantID)
	if err != nil {
		return nil, err
	}

	page := &Page{Nodes: make(map[string]Node, len(entities)), Totals: totals}
	maxUpdated := relMaxUpdated
	for _, e := range entities {
		page.Nodes[e.Name] = Node{
			Name:             e.Name,
			EntityType:       e.EntityType,
			ObservationCount: e.ObservationCount,
			UpdatedAt:        e.UpdatedAt,
		}
		if e.UpdatedAt > maxUpdated {
			maxUpdated = e.UpdatedAt
		}
	}
	for _, r := range relations {
		page.Links = append(page.Links, Link{Source: r.From, Target: r.To, RelationType: r.RelationType})
	}

	if len(entities) == opts.Limit {
		last := entities[len(entities)-1]
		page.NextCursor = memory.Cursor{UpdatedAt: last.UpdatedAt, ID: last.ID}.Encode()
	}

	if opts.IncludeObservations {
		for _, e := range entities {
			stored, err := s.store.ObservationsForEntity(caller.TenantID, e.Name)
			if err != nil {
				return nil, err
			}
			views, obsMax := s.filterObservations(caller, stored)
			page.Observations = append(page.Observations, views...)
			if obsMax > maxUpdated {
				maxUpdated = obsMax
			}
		}
	}

	page.ETag = s.digest(page.Nodes, page.Links, maxUpdated, caller)
	return page, nil
}

// filterObservations drops (never redacts) entries failing the
// sensitivity filter for this caller's tier.
func (s *Service) filterObservations(caller *access.CallerContext, stored []memory.StoredObservation) ([]ObservationView, string) {
	var views []ObservationView
	var maxUpdated string
	for _, so := range stored {
		if classify.Sensitive(so.Observation) && !caller.Has(access.PermSensitiveView) {
			continue
		}
		views = append(views, ObservationView{
			EntityName: so.EntityName,
			Contents:   so.Contents,
			AddedBy:    so.AddedBy,
			Timestamp:  so.Timestamp,
		})
		if so.UpdatedAt > maxUpdated {
			maxUpdated = so.UpdatedAt
		}
	}
	return views, maxUpdated
}

func (s *Service) totals(tenantID string) (Totals, error) {
	var t Totals
	var err error
	if t.Entities, err = s.store.CountByType(tenantID, memory.TypeEntity); err != nil {
		return t, err
	}
	if t.Relations, err = s.store.CountByType(tenantID, memory.TypeRelation); err != nil {
		return t, err
	}
	if t.Observations, err = s.store.CountByType(tenantID, memory.TypeObservation); err != nil {
		return t, err
	}
	return t, nil
}

// digest computes the content hash: sorted node tuples, sorted link
// tuples, the newest updated_at across included rows, and the caller's
// sorted permission set. Including permissions keeps cached 304s from
// leaking an admin's view to a lower-privileged caller over identical
// data.
func (s *Service) digest(nodes map[string]Node, links []Link, maxUpdated string, caller *access.CallerContext) string {
	nodeTuples := make([]string, 0, len(nodes))
	for _, n := range nodes {
		nodeTuples = append(nodeTuples, fmt.Sprintf("%s\x1f%s\x1f%d", n.Name, n.EntityType, n.ObservationCount))
	}
	sort.Strings(nodeTuples)

	linkTuples := make([]string, 0, len(links))
	for _, l := range links {
		linkTuples = append(linkTuples, fmt.Sprintf("%s\x1f%s\x1f%s", l.Source, l.Target, l.RelationType))
	}
	sort.Strings(linkTuples)

	h := sha256.New()
	h.Write([]byte(strings.Join(nodeTuples, "\x1e")))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(linkTuples, "\x1e")))
	h.Write([]byte{0})
	h.Write([]byte(maxUpdated))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(caller.Permissions(), ",")))
	return hex.EncodeToString(h.Sum(nil))
}

// cacheKey identifies a (query-shape, permission-set) pair.
func cacheKey(caller *access.CallerContext, opts Options) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%t|%s|%s|%s",
		caller.TenantID, opts.Cursor, opts.Limit, opts.IncludeObservations,
		opts.UpdatedSince, opts.EntityName, strings.Join(caller.Permissions(), ","))
	return hex.EncodeToString(h.Sum(nil))
}
