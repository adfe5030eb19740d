// Package adminhttp implements the §6 admin endpoints: /status,
// /triggerRefresh, and /autocomplete.
//
// Grounded on claircore's libvuln.HTTP (the embedded *http.ServeMux
// plus method-per-endpoint shape) and its use of pkg/jsonerr for error
// responses.
package adminhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/quay/versiontracker"
	je "github.com/quay/versiontracker/pkg/jsonerr"
	"github.com/quay/versiontracker/store"
	"github.com/quay/versiontracker/tracker"
)

// LastFlusher is implemented by a storage layer that can report when
// it last flushed to durable storage. store/cache.Decorator implements
// it; a handler wired directly to a non-caching store can leave it
// nil.
type LastFlusher interface {
	LastFlush() time.Time
}

var _ http.Handler = (*Handler)(nil)

// Handler serves the admin endpoints.
type Handler struct {
	*http.ServeMux
	tracker *tracker.Tracker
	store   store.VersionStore
	flusher LastFlusher
}

// New builds a Handler. flusher may be nil.
func New(t *tracker.Tracker, st store.VersionStore, flusher LastFlusher) *Handler {
	h := &Handler{tracker: t, store: st, flusher: flusher}
	m := http.NewServeMux()
	m.HandleFunc("/status", h.Status)
	m.HandleFunc("/triggerRefresh", h.TriggerRefresh)
	m.HandleFunc("/autocomplete", h.Autocomplete)
	h.ServeMux = m
	return h
}

type statusResponse struct {
	EntryCount    int       `json:"entryCount"`
	FileSizeBytes int64     `json:"fileSizeBytes"`
	LastFlushTime time.Time `json:"lastFlushTime,omitempty"`
}

// Status implements GET /status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		je.Error(w, &je.Response{Code: "method-not-allowed", Message: "endpoint only allows GET"}, http.StatusMethodNotAllowed)
		return
	}
	stats, err := h.store.Statistics(r.Context())
	if err != nil {
		je.Error(w, &je.Response{Code: "storage-error", Message: err.Error()}, http.StatusInternalServerError)
		return
	}
	resp := statusResponse{EntryCount: stats.EntryCount, FileSizeBytes: stats.FileSizeBytes}
	if h.flusher != nil {
		resp.LastFlushTime = h.flusher.LastFlush()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// TriggerRefresh implements GET /triggerRefresh?groupId=&artifactId=[&version].
// It returns 400 if groupId or artifactId is missing, 404 if the
// coordinate isn't tracked, and 200 once the refresh has been
// enqueued (the refresh itself runs asynchronously; this endpoint
// doesn't wait for it). The optional version parameter is accepted
// for forward-compatibility with clients but doesn't narrow the
// refresh, since UpstreamProvider always re-fetches the whole
// coordinate's metadata.
func (h *Handler) TriggerRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		je.Error(w, &je.Response{Code: "method-not-allowed", Message: "endpoint only allows GET"}, http.StatusMethodNotAllowed)
		return
	}
	groupID := r.URL.Query().Get("groupId")
	artifactID := r.URL.Query().Get("artifactId")
	if groupID == "" || artifactID == "" {
		je.Error(w, &je.Response{Code: "bad-request", Message: "groupId and artifactId are required"}, http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	_, ok, err := h.tracker.Lookup(ctx, groupID, artifactID)
	if err != nil {
		je.Error(w, &je.Response{Code: "storage-error", Message: err.Error()}, http.StatusInternalServerError)
		return
	}
	if !ok {
		je.Error(w, &je.Response{Code: "not-found", Message: "coordinate is not tracked"}, http.StatusNotFound)
		return
	}

	log := zerolog.Ctx(ctx).With().
		Str("component", "adminhttp.Handler").
		Str("groupId", groupID).Str("artifactId", artifactID).Logger()
	go func() {
		bctx := log.WithContext(context.Background())
		if _, _, err := h.tracker.ForceUpdate(bctx, groupID, artifactID); err != nil {
			log.Warn().Err(err).Msg("enqueued refresh failed")
		}
	}()

	w.WriteHeader(http.StatusOK)
}

// Autocomplete implements GET /autocomplete?kind=groupId|artifactId&groupId=&userInput=.
func (h *Handler) Autocomplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		je.Error(w, &je.Response{Code: "method-not-allowed", Message: "endpoint only allows GET"}, http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	kind := q.Get("kind")
	userInput := q.Get("userInput")

	var completions []string
	switch kind {
	case "groupId":
		completions = h.completeGroupIDs(userInput)
	case "artifactId":
		groupID := q.Get("groupId")
		if groupID == "" {
			je.Error(w, &je.Response{Code: "bad-request", Message: "groupId is required when kind=artifactId"}, http.StatusBadRequest)
			return
		}
		completions = h.completeArtifactIDs(groupID, userInput)
	default:
		je.Error(w, &je.Response{Code: "bad-request", Message: "kind must be groupId or artifactId"}, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(completions)
}

func (h *Handler) completeGroupIDs(prefix string) []string {
	seen := make(map[string]struct{})
	h.tracker.VisitAll(func(groupID, _ string, _ *versiontracker.VersionInfo) {
		if strings.HasPrefix(groupID, prefix) {
			seen[groupID] = struct{}{}
		}
	})
	return sortedKeys(seen)
}

func (h *Handler) completeArtifactIDs(groupID, prefix string) []string {
	seen := make(map[string]struct{})
	h.tracker.VisitAll(func(g, artifactID string, _ *versiontracker.VersionInfo) {
		if g == groupID && strings.HasPrefix(artifactID, prefix) {
			seen[artifactID] = struct{}{}
		}
	})
	return sortedKeys(seen)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
