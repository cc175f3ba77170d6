package confluence

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/confluence-harvest/internal/core/domain"
)

func TestDataSource_SearchByQuery(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "label=runbook", r.URL.Query().Get("cql"))
		fmt.Fprint(w, `{"results":[
			{
				"title": "Engineering", "entityType": "space",
				"lastModified": "2024-01-05T00:00:00Z", "url": "/spaces/ENG",
				"space": {"id": 1, "type": "space"}
			},
			{
				"title": "Home", "entityType": "content",
				"lastModified": "2024-05-01T10:00:00Z",
				"excerpt": "Hello world", "url": "/spaces/ENG/pages/10001",
				"content": {"id": "10001", "type": "page", "space": {"name": "Engineering"}}
			},
			{
				"title": "design.pdf", "entityType": "content",
				"lastModified": "2024-04-01T09:00:00Z",
				"excerpt": "binary", "url": "/pages/10001/att/30001",
				"content": {
					"id": "30001", "type": "attachment",
					"space": {"name": "Engineering"},
					"container": {"type": "page", "title": "Home"},
					"extensions": {"fileSize": 2048},
					"_links": {"download": "/download/attachments/10001/design.pdf"}
				}
			},
			{
				"title": "orphan.pdf", "entityType": "content",
				"lastModified": "2024-04-01T09:00:00Z", "url": "/att/30002",
				"content": {"id": "30002", "type": "attachment", "extensions": {"fileSize": 100}}
			},
			{
				"title": "unresolvable", "entityType": "content",
				"lastModified": "2024-04-01T09:00:00Z", "url": "/whatever"
			}
		],"_links":{"next":""}}`)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	src := newTestSource(t, ts.URL, nil, nil)

	items, errs := src.SearchByQuery(context.Background(), "label=runbook")
	collected := map[string]*domain.HarvestItem{}
	for item := range items {
		collected[item.Document.ID] = item
	}
	require.NoError(t, <-errs)

	require.Len(t, collected, 3)

	space := collected["1"]
	assert.Equal(t, domain.ItemTypeSpace, space.Document.Type)
	assert.Equal(t, "Engineering", space.Document.Title)
	assert.Equal(t, ts.URL+"/spaces/ENG", space.Document.URL)
	assert.Nil(t, space.Fetch)

	page := collected["10001"]
	assert.Equal(t, domain.ItemTypePage, page.Document.Type)
	assert.Equal(t, "Engineering", page.Document.Space)
	assert.Equal(t, "Hello world", page.Document.Body)
	assert.Nil(t, page.Fetch)

	att := collected["30001"]
	assert.Equal(t, domain.ItemTypeAttachment, att.Document.Type)
	assert.Equal(t, domain.ItemTypePage, att.Document.ParentType)
	assert.Equal(t, "Home", att.Document.ParentTitle)
	assert.Equal(t, int64(2048), att.Document.Size)
	assert.Empty(t, att.Document.Body)
	assert.NotNil(t, att.Fetch)
}
