package confluence

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/confluence-harvest/internal/core/domain"
	"github.com/custodia-labs/confluence-harvest/internal/harvest"
)

const fakePermissions = `[
	{
		"operation": {"operation": "read", "targetType": "space"},
		"subjects": {
			"user": {"results": [{"type": "known", "accountType": "atlassian", "accountId": "space-user"}]},
			"group": {"results": [{"type": "group", "id": "eng-readers"}]}
		}
	},
	{
		"operation": {"operation": "administer", "targetType": "space"},
		"subjects": {
			"user": {"results": [{"type": "known", "accountType": "atlassian", "accountId": "space-admin"}]},
			"group": {"results": []}
		}
	}
]`

// newFakeConfluence serves a small fixed instance: five spaces over three
// pages, two pages (one owning four attachments over two pages), and three
// blog posts over two pages. With failBlogPage2 the second blog post page
// always returns a server error.
func newFakeConfluence(t *testing.T, failBlogPage2 bool) *httptest.Server {
	t.Helper()

	spacePage := func(next string, spaces ...string) string {
		body := `{"results":[`
		for i, keyAndID := range spaces {
			if i > 0 {
				body += ","
			}
			body += keyAndID
		}
		return body + `],"_links":{"next":"` + next + `"}}`
	}
	space := func(id int, key string) string {
		perms := "[]"
		if key == "ENG" {
			perms = fakePermissions
		}
		return fmt.Sprintf(`{"id":%d,"key":%q,"name":"%s Space","permissions":%s,"_links":{"webui":"/spaces/%s"}}`,
			id, key, key, perms, key)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/space", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "2":
			fmt.Fprint(w, spacePage("/rest/api/space?page=3", space(3, "HR"), space(4, "SALES")))
		case "3":
			fmt.Fprint(w, spacePage("", space(5, "LEGAL")))
		default:
			fmt.Fprint(w, spacePage("/rest/api/space?page=2", space(1, "ENG"), space(2, "OPS")))
		}
	})

	mux.HandleFunc("/rest/api/content/search", func(w http.ResponseWriter, r *http.Request) {
		cql := r.URL.Query().Get("cql")
		switch {
		case strings.Contains(cql, "type=page"):
			fmt.Fprintf(w, `{"results":[
				{
					"id": "10001", "type": "page", "title": "Home",
					"history": {"lastUpdated": {"when": "2024-05-01T10:00:00Z"}},
					"children": {"attachment": {"size": 4}},
					"body": {"storage": {"value": "<p>Hello <b>world</b></p>"}},
					"space": {"name": "Engineering", "permissions": %s},
					"restrictions": {"read": {"restrictions": {"user": {"results": []}, "group": {"results": []}}}},
					"_links": {"webui": "/spaces/ENG/pages/10001"}
				},
				{
					"id": "10002", "type": "page", "title": "Roadmap",
					"history": {"lastUpdated": {"when": "2024-05-02T11:30:00Z"}},
					"children": {"attachment": {"size": 0}},
					"body": {"storage": {"value": "<p>Q3 plans</p>"}},
					"space": {"name": "Engineering", "permissions": %s},
					"restrictions": {"read": {"restrictions": {
						"user": {"results": [{"type": "known", "accountType": "atlassian", "accountId": "account-1"}]},
						"group": {"results": []}
					}}},
					"_links": {"webui": "/spaces/ENG/pages/10002"}
				}
			],"_links":{"next":""}}`, fakePermissions, fakePermissions)

		case strings.Contains(cql, "type=blogpost"):
			if r.URL.Query().Get("page") == "2" {
				if failBlogPage2 {
					w.WriteHeader(http.StatusInternalServerError)
					return
				}
				fmt.Fprint(w, `{"results":[
					{"id": "20003", "type": "blogpost", "title": "Postmortem",
					 "history": {"lastUpdated": {"when": "2024-03-03T08:00:00Z"}},
					 "children": {"attachment": {"size": 0}},
					 "body": {"storage": {"value": "<p>What happened</p>"}},
					 "space": {"name": "Engineering", "permissions": []},
					 "_links": {"webui": "/spaces/ENG/blog/20003"}}
				],"_links":{"next":""}}`)
				return
			}
			fmt.Fprint(w, `{"results":[
				{"id": "20001", "type": "blogpost", "title": "Launch",
				 "history": {"lastUpdated": {"when": "2024-03-01T08:00:00Z"}},
				 "children": {"attachment": {"size": 0}},
				 "body": {"storage": {"value": "<p>We shipped</p>"}},
				 "space": {"name": "Engineering", "permissions": []},
				 "_links": {"webui": "/spaces/ENG/blog/20001"}},
				{"id": "20002", "type": "blogpost", "title": "Retro",
				 "history": {"lastUpdated": {"when": "2024-03-02T08:00:00Z"}},
				 "children": {"attachment": {"size": 0}},
				 "body": {"storage": {"value": "<p>Lessons</p>"}},
				 "space": {"name": "Engineering", "permissions": []},
				 "_links": {"webui": "/spaces/ENG/blog/20002"}}
			],"_links":{"next":"/rest/api/content/search?cql=type%3Dblogpost&page=2"}}`)

		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})

	attachment := func(id int, title string) string {
		return fmt.Sprintf(`{"id":"%d","type":"attachment","title":%q,
			"version":{"when":"2024-04-01T09:00:00Z"},
			"extensions":{"fileSize":2048},
			"_links":{"webui":"/pages/10001/att/%d","download":"/download/attachments/10001/%s"}}`,
			id, title, id, title)
	}
	mux.HandleFunc("/rest/api/content/10001/child/attachment", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprintf(w, `{"results":[%s,%s],"_links":{"next":""}}`,
				attachment(30003, "notes.txt"), attachment(30004, "diagram.bin"))
			return
		}
		fmt.Fprintf(w, `{"results":[%s,%s],"_links":{"next":"/rest/api/content/10001/child/attachment?page=2"}}`,
			attachment(30001, "design.pdf"), attachment(30002, "budget.xlsx"))
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func collectHarvest(t *testing.T, src *DataSource) (map[string]*domain.HarvestItem, error) {
	t.Helper()

	items, errs := src.Harvest(context.Background())
	collected := map[string]*domain.HarvestItem{}
	for item := range items {
		collected[item.Document.ID] = item
	}
	return collected, <-errs
}

func idsOfType(items map[string]*domain.HarvestItem, itemType domain.ItemType) []string {
	var ids []string
	for id, item := range items {
		if item.Document.Type == itemType {
			ids = append(ids, id)
		}
	}
	return ids
}

func TestDataSource_Harvest(t *testing.T) {
	t.Run("streams spaces, content and attachments", func(t *testing.T) {
		ts := newFakeConfluence(t, false)
		src := newTestSource(t, ts.URL, nil, nil)

		items, err := collectHarvest(t, src)
		require.NoError(t, err)

		assert.ElementsMatch(t, []string{"1", "2", "3", "4", "5"}, idsOfType(items, domain.ItemTypeSpace))
		assert.ElementsMatch(t, []string{"10001", "10002"}, idsOfType(items, domain.ItemTypePage))
		assert.ElementsMatch(t, []string{"20001", "20002", "20003"}, idsOfType(items, domain.ItemTypeBlogpost))
		assert.ElementsMatch(t, []string{"30001", "30002", "30003", "30004"}, idsOfType(items, domain.ItemTypeAttachment))

		home := items["10001"]
		assert.Equal(t, "Home", home.Document.Title)
		assert.Equal(t, "Engineering", home.Document.Space)
		assert.Contains(t, home.Document.Body, "Hello")
		assert.Contains(t, home.Document.Body, "**world**")
		assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), home.Document.LastModified)
		assert.Nil(t, home.Fetch)
		assert.Empty(t, home.Document.AccessControl)

		att := items["30001"]
		assert.Equal(t, "design.pdf", att.Document.Title)
		assert.Equal(t, "Engineering", att.Document.Space)
		assert.Equal(t, domain.ItemTypePage, att.Document.ParentType)
		assert.Equal(t, "Home", att.Document.ParentTitle)
		assert.Equal(t, int64(2048), att.Document.Size)
		assert.NotNil(t, att.Fetch)

		engSpace := items["1"]
		assert.Equal(t, "ENG Space", engSpace.Document.Title)
		assert.Equal(t, ts.URL+"/spaces/ENG", engSpace.Document.URL)
	})

	t.Run("respects the configured space filter", func(t *testing.T) {
		ts := newFakeConfluence(t, false)
		src := newTestSource(t, ts.URL, nil, func(cfg *Config) {
			cfg.Spaces = []string{"ENG"}
		})

		items, err := collectHarvest(t, src)
		require.NoError(t, err)

		assert.ElementsMatch(t, []string{"1"}, idsOfType(items, domain.ItemTypeSpace))
	})

	t.Run("a failing producer is contained", func(t *testing.T) {
		ts := newFakeConfluence(t, true)
		src := newTestSource(t, ts.URL, nil, nil)

		items, err := collectHarvest(t, src)
		require.NoError(t, err)

		assert.ElementsMatch(t, []string{"20001", "20002"}, idsOfType(items, domain.ItemTypeBlogpost))
		assert.ElementsMatch(t, []string{"1", "2", "3", "4", "5"}, idsOfType(items, domain.ItemTypeSpace))
		assert.ElementsMatch(t, []string{"10001", "10002"}, idsOfType(items, domain.ItemTypePage))
		assert.ElementsMatch(t, []string{"30001", "30002", "30003", "30004"}, idsOfType(items, domain.ItemTypeAttachment))
	})

	t.Run("decorates documents when document level security is on", func(t *testing.T) {
		ts := newFakeConfluence(t, false)
		src := newTestSource(t, ts.URL, nil, func(cfg *Config) {
			cfg.UseDocumentLevelSecurity = true
		})

		items, err := collectHarvest(t, src)
		require.NoError(t, err)

		// Space documents pick up every space-scoped grant, not just read.
		assert.ElementsMatch(t,
			[]string{"account_id:space-admin", "account_id:space-user", "group_id:eng-readers"},
			items["1"].Document.AccessControl)

		// No explicit restrictions: falls back to space permissions,
		// read grants only.
		assert.ElementsMatch(t,
			[]string{"account_id:space-user", "group_id:eng-readers"},
			items["10001"].Document.AccessControl)

		// Explicit restrictions override the space fallback entirely.
		assert.Equal(t, []string{"account_id:account-1"}, items["10002"].Document.AccessControl)

		// Attachments inherit their parent's resolved access control.
		assert.ElementsMatch(t,
			[]string{"account_id:space-user", "group_id:eng-readers"},
			items["30002"].Document.AccessControl)
	})

	t.Run("cancellation aborts the harvest with an error", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/rest/api/space", func(w http.ResponseWriter, r *http.Request) {
			page, _ := strconv.Atoi(r.URL.Query().Get("page"))
			time.Sleep(5 * time.Millisecond)
			next := fmt.Sprintf("/rest/api/space?page=%d", page+1)
			if page >= 100 {
				next = ""
			}
			fmt.Fprintf(w, `{"results":[{"id":%d,"key":"S%d","name":"Space %d"}],"_links":{"next":%q}}`,
				page+1, page, page, next)
		})
		mux.HandleFunc("/rest/api/content/search", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"results":[],"_links":{"next":""}}`)
		})
		ts := httptest.NewServer(mux)
		t.Cleanup(ts.Close)

		src := newTestSource(t, ts.URL, nil, nil)
		ctx, cancel := context.WithCancel(context.Background())

		items, errs := src.Harvest(ctx)
		<-items
		cancel()
		for range items {
		}

		assert.ErrorIs(t, <-errs, context.Canceled)
	})
}

func TestHarvesterBookkeeping(t *testing.T) {
	newHarvester := func(src *DataSource) *harvester {
		return &harvester{
			src:   src,
			queue: harvest.NewMemQueue(src.cfg.QueueSize, src.cfg.QueueMemBytes),
			pool:  harvest.NewTaskPool(src.cfg.MaxConcurrency, src.log),
		}
	}

	t.Run("start registers the initial producers and drain retires them all", func(t *testing.T) {
		ts := newFakeConfluence(t, false)
		src := newTestSource(t, ts.URL, nil, nil)
		h := newHarvester(src)

		require.NoError(t, h.start(context.Background()))

		// Attachment producers may already have been added on top of the
		// initial three; only the drain loop ever decrements.
		assert.GreaterOrEqual(t, h.producers.Load(), int64(initialProducers))

		out := make(chan *domain.HarvestItem, 32)
		require.NoError(t, h.drain(context.Background(), out))
		h.pool.Join()

		assert.Zero(t, h.producers.Load())
		assert.Zero(t, h.queue.Len())
	})

	t.Run("attachment discovery registers an extra producer at submission time", func(t *testing.T) {
		ts := newFakeConfluence(t, false)
		src := newTestSource(t, ts.URL, nil, nil)
		h := newHarvester(src)
		h.producers.Store(1)

		require.NoError(t, h.contentProducer(context.Background(), "type=page", domain.ItemTypePage))

		// One page owns attachments, so exactly one attachment producer
		// was registered. Its sentinel has not been read yet: the count
		// holds at two until the drain loop retires both producers.
		assert.Equal(t, int64(2), h.producers.Load())

		out := make(chan *domain.HarvestItem, 16)
		require.NoError(t, h.drain(context.Background(), out))
		h.pool.Join()

		assert.Zero(t, h.producers.Load())
		assert.Len(t, out, 6)
		assert.Zero(t, h.queue.Len())
	})

	t.Run("a completion marker for an unregistered producer is fatal", func(t *testing.T) {
		src := newTestSource(t, "http://confluence.local:8090", nil, nil)
		h := newHarvester(src)

		assert.ErrorIs(t, h.producerDone(), ErrProducerCountNegative)
	})
}

func TestDataSource_ValidateSpaces(t *testing.T) {
	t.Run("wildcard needs no remote check", func(t *testing.T) {
		src := newTestSource(t, "http://unreachable.invalid", nil, nil)

		assert.NoError(t, src.ValidateSpaces(context.Background()))
	})

	t.Run("accepts keys that exist remotely", func(t *testing.T) {
		ts := newFakeConfluence(t, false)
		src := newTestSource(t, ts.URL, nil, func(cfg *Config) {
			cfg.Spaces = []string{"ENG", "HR"}
		})

		assert.NoError(t, src.ValidateSpaces(context.Background()))
	})

	t.Run("rejects keys missing remotely", func(t *testing.T) {
		ts := newFakeConfluence(t, false)
		src := newTestSource(t, ts.URL, nil, func(cfg *Config) {
			cfg.Spaces = []string{"ENG", "GHOST"}
		})

		err := src.ValidateSpaces(context.Background())
		require.Error(t, err)
		assert.True(t, IsConfigError(err))
		assert.Contains(t, err.Error(), "GHOST")
	})
}
