package caselinesdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimelineSendsOverridesAndKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0/cases/case-1/timeline", r.URL.Path)
		assert.Equal(t, "new_unread", r.URL.Query().Get("expand"))
		assert.Equal(t, "a,b", r.URL.Query().Get("collapse"))
		assert.Equal(t, "k", r.Header.Get("X-Api-Key"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"case_id": "case-1",
			"buckets": []map[string]any{{"stage": map[string]any{"id": "new_unread"}, "expanded": true, "activity_count": 2}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	c.APIKey = "k"
	tl, err := c.Timeline(context.Background(), "case-1", TimelineOptions{Expand: []string{"new_unread"}, Collapse: []string{"a", "b"}})
	require.NoError(t, err)
	require.Len(t, tl.Buckets, 1)
	assert.True(t, tl.Buckets[0].Expanded)
	assert.Equal(t, 2, tl.Buckets[0].ActivityCount)
}

func TestMoveStageBodyAndErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["stage"] == "same" {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":{"code":"conflict"}}`))
			return
		}
		assert.Equal(t, "2024-01-02T09:00:00Z", body["effective_at"])
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "h1", "to_stage_id": body["stage"]})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BearerToken = "tok"
	ctx := context.Background()
	tr, err := c.MoveStage(ctx, "case-1", "contacted", time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC), "")
	require.NoError(t, err)
	assert.Equal(t, "contacted", tr.ToStageID)

	_, err = c.MoveStage(ctx, "case-1", "same", time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC), "")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
}
