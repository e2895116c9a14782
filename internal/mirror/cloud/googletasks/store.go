// Package googletasks implements cloud.Store on the Google Tasks API.
//
// Each users/{uid}/{kind} sub-collection is a Google task list titled
// "taskmirror/{uid}/{kind}". A record becomes one Google task: the title
// and completion state mirror the record so the list reads naturally in
// Google's own apps, and the full record JSON lives in the task notes.
//
// New tasks are inserted at the top of the list, so List returns them in
// reverse position order to recover insertion order. The manifest is a
// task with the reserved title ManifestTitle in the same list.
package googletasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	tasks "google.golang.org/api/tasks/v1"

	"github.com/mschirtzinger/taskmirror/internal/mirror/cloud"
	"github.com/mschirtzinger/taskmirror/internal/mirror/schema"
)

const (
	// ListPrefix prefixes every task list this store manages.
	ListPrefix = "taskmirror/"

	// ManifestTitle is the title of the per-list manifest task.
	ManifestTitle = "__taskmirror_manifest__"

	// PageSize is the number of items requested per page.
	PageSize = 100

	// OAuth scope for Google Tasks
	tasksScope = tasks.TasksScope

	statusCompleted   = "completed"
	statusNeedsAction = "needsAction"
)

// Store is a Google Tasks backed cloud.Store.
type Store struct {
	svc    *tasks.Service
	closed atomic.Bool

	mu    sync.Mutex
	lists map[string]string // list title -> list id
}

var _ cloud.ManifestStore = (*Store)(nil)

// New creates a store from an OAuth client file and a saved token file.
// The token refreshes automatically.
func New(ctx context.Context, credentialsFile, tokenFile string) (*Store, error) {
	clientJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	oauthConfig, err := google.ConfigFromJSON(clientJSON, tasksScope)
	if err != nil {
		return nil, fmt.Errorf("invalid credentials file: %w", err)
	}

	tokenData, err := os.ReadFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(tokenData, &token); err != nil {
		return nil, fmt.Errorf("invalid token file: %w", err)
	}

	httpClient := oauth2.NewClient(ctx, oauthConfig.TokenSource(ctx, &token))
	return NewWithHTTPClient(ctx, httpClient)
}

// NewWithHTTPClient creates a store with a custom HTTP client and optional
// client options such as option.WithEndpoint (for testing).
func NewWithHTTPClient(ctx context.Context, httpClient *http.Client, opts ...option.ClientOption) (*Store, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	svc, err := tasks.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create tasks service: %w", err)
	}
	return &Store{svc: svc, lists: make(map[string]string)}, nil
}

// ListTitle returns the Google task list title for a sub-collection.
func ListTitle(userID string, kind schema.Kind) string {
	return ListPrefix + userID + "/" + string(kind)
}

// List implements cloud.Store.
func (s *Store) List(ctx context.Context, userID string, kind schema.Kind) ([]cloud.Document, error) {
	items, err := s.items(ctx, userID, kind)
	if err != nil {
		return nil, err
	}

	docs := make([]cloud.Document, 0, len(items))
	for _, item := range items {
		if item.Title == ManifestTitle {
			continue
		}
		r, err := decodeTask(kind, item)
		if err != nil {
			return nil, fmt.Errorf("failed to decode task %s: %w", item.Id, err)
		}
		docs = append(docs, cloud.Document{ID: item.Id, Record: r})
	}
	return docs, nil
}

// Delete implements cloud.Store.
func (s *Store) Delete(ctx context.Context, userID string, kind schema.Kind, id string) error {
	if s.closed.Load() {
		return cloud.ErrClosed
	}
	listID, err := s.listID(ctx, userID, kind, false)
	if err != nil {
		return err
	}
	if listID == "" {
		return nil
	}

	err = wrapError(s.svc.Tasks.Delete(listID, id).Context(ctx).Do())
	if errors.Is(err, cloud.ErrNotFound) {
		return nil
	}
	return err
}

// Add implements cloud.Store.
func (s *Store) Add(ctx context.Context, userID string, kind schema.Kind, r schema.Record) (string, error) {
	if s.closed.Load() {
		return "", cloud.ErrClosed
	}
	if r == nil || r.Kind() != kind {
		return "", fmt.Errorf("record does not belong to %s", kind)
	}

	task, err := encodeTask(r)
	if err != nil {
		return "", err
	}

	listID, err := s.listID(ctx, userID, kind, true)
	if err != nil {
		return "", err
	}

	created, err := s.svc.Tasks.Insert(listID, task).Context(ctx).Do()
	if err != nil {
		return "", wrapError(err)
	}
	return created.Id, nil
}

// Ping implements cloud.Store by listing at most one task list.
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return cloud.ErrClosed
	}
	_, err := s.svc.Tasklists.List().MaxResults(1).Context(ctx).Do()
	return wrapError(err)
}

// Manifest implements cloud.ManifestStore.
func (s *Store) Manifest(ctx context.Context, userID string, kind schema.Kind) (cloud.Manifest, error) {
	item, err := s.manifestTask(ctx, userID, kind)
	if err != nil {
		return cloud.Manifest{}, err
	}
	if item == nil {
		return cloud.Manifest{}, cloud.ErrNotFound
	}

	var m cloud.Manifest
	if err := json.Unmarshal([]byte(item.Notes), &m); err != nil {
		return cloud.Manifest{}, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return m, nil
}

// PutManifest implements cloud.ManifestStore.
func (s *Store) PutManifest(ctx context.Context, userID string, kind schema.Kind, m cloud.Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	item, err := s.manifestTask(ctx, userID, kind)
	if err != nil {
		return err
	}

	listID, err := s.listID(ctx, userID, kind, true)
	if err != nil {
		return err
	}

	if item == nil {
		task := &tasks.Task{Title: ManifestTitle, Notes: string(data), Status: statusNeedsAction}
		_, err = s.svc.Tasks.Insert(listID, task).Context(ctx).Do()
		return wrapError(err)
	}

	item.Notes = string(data)
	_, err = s.svc.Tasks.Update(listID, item.Id, item).Context(ctx).Do()
	return wrapError(err)
}

// Close marks the store closed.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Store) manifestTask(ctx context.Context, userID string, kind schema.Kind) (*tasks.Task, error) {
	items, err := s.items(ctx, userID, kind)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if item.Title == ManifestTitle {
			return item, nil
		}
	}
	return nil, nil
}

// items returns every task in the sub-collection's list in insertion
// order. A missing list has no items.
func (s *Store) items(ctx context.Context, userID string, kind schema.Kind) ([]*tasks.Task, error) {
	if s.closed.Load() {
		return nil, cloud.ErrClosed
	}
	listID, err := s.listID(ctx, userID, kind, false)
	if err != nil {
		return nil, err
	}
	if listID == "" {
		return nil, nil
	}

	var items []*tasks.Task
	err = s.svc.Tasks.List(listID).
		ShowCompleted(true).
		ShowHidden(true).
		MaxResults(PageSize).
		Pages(ctx, func(resp *tasks.Tasks) error {
			items = append(items, resp.Items...)
			return nil
		})
	if err != nil {
		return nil, wrapError(err)
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Position > items[j].Position
	})
	return items, nil
}

// listID resolves the Google task list for a sub-collection, creating it
// when create is set. It returns "" for a missing list when create is not
// set.
func (s *Store) listID(ctx context.Context, userID string, kind schema.Kind, create bool) (string, error) {
	title := ListTitle(userID, kind)

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.lists[title]; ok {
		return id, nil
	}

	var found string
	err := s.svc.Tasklists.List().MaxResults(PageSize).Pages(ctx, func(resp *tasks.TaskLists) error {
		for _, l := range resp.Items {
			if l.Title == title && found == "" {
				found = l.Id
			}
		}
		return nil
	})
	if err != nil {
		return "", wrapError(err)
	}

	if found == "" && create {
		l, err := s.svc.Tasklists.Insert(&tasks.TaskList{Title: title}).Context(ctx).Do()
		if err != nil {
			return "", wrapError(err)
		}
		found = l.Id
	}

	if found != "" {
		s.lists[title] = found
	}
	return found, nil
}

func encodeTask(r schema.Record) (*tasks.Task, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}

	t := &tasks.Task{Notes: string(data), Status: statusNeedsAction}
	switch rec := r.(type) {
	case schema.Task:
		t.Title = rec.Title
		if rec.Completed {
			t.Status = statusCompleted
		}
		if !rec.Deadline.IsZero() {
			t.Due = rec.Deadline.Format(time.RFC3339)
		}
	case schema.Todo:
		t.Title = rec.Title
		if rec.Status {
			t.Status = statusCompleted
		}
	}
	return t, nil
}

// decodeTask reads the record from the task notes. A task created outside
// taskmirror has no notes; it is read from its title and status.
func decodeTask(kind schema.Kind, t *tasks.Task) (schema.Record, error) {
	if t.Notes != "" {
		return schema.DecodeRecord(kind, []byte(t.Notes))
	}

	done := t.Status == statusCompleted
	switch kind {
	case schema.KindTask:
		rec := schema.Task{Title: t.Title, Completed: done}
		if t.Due != "" {
			if due, err := time.Parse(time.RFC3339, t.Due); err == nil {
				rec.Deadline = schema.DateOf(due)
			}
		}
		return rec, nil
	case schema.KindTodo:
		return schema.Todo{Title: t.Title, Status: done}, nil
	default:
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
}

// wrapError maps API errors onto the cloud sentinel errors.
func wrapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
			return fmt.Errorf("%w: token expired or revoked: %w", cloud.ErrUnauthorized, err)
		case apiErr.Code == http.StatusNotFound:
			return fmt.Errorf("%w: %w", cloud.ErrNotFound, err)
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
			return fmt.Errorf("%w: %w", cloud.ErrUnavailable, err)
		}
		return err
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return fmt.Errorf("%w: %w", cloud.ErrUnauthorized, err)
	}

	return fmt.Errorf("%w: %w", cloud.ErrUnavailable, err)
}
