package news

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"go_tickstream/feed/pkg/types"
)

func testPoller(t *testing.T, url string, onArticle func(types.Article)) *Poller {
	t.Helper()
	return NewPoller(Config{
		URL:               url,
		RequestsPerMinute: 6000, // effectively unpaced in tests
	}, nil, onArticle)
}

func TestPoller_EmitsNewArticles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"id":3,"headline":"third","source":"wire","url":"http://x/3","datetime":1700000300},
			{"id":2,"headline":"second","source":"wire","url":"http://x/2","datetime":1700000200},
			{"id":1,"headline":"first","source":"wire","url":"http://x/1","datetime":1700000100}
		]`))
	}))
	defer server.Close()

	var mu sync.Mutex
	var got []types.Article
	p := testPoller(t, server.URL, func(a types.Article) {
		mu.Lock()
		got = append(got, a)
		mu.Unlock()
	})

	p.pollOnce(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 {
		t.Fatalf("emitted %d articles, want 3", len(got))
	}
	if got[0].ID != 3 || got[0].Headline != "third" {
		t.Errorf("first emitted article = %+v", got[0])
	}
}

func TestPoller_SkipsSeenArticles(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Write([]byte(`[{"id":2,"headline":"b","datetime":1},{"id":1,"headline":"a","datetime":1}]`))
			return
		}
		// Second poll returns one new article on top of the old ones.
		w.Write([]byte(`[{"id":3,"headline":"c","datetime":1},{"id":2,"headline":"b","datetime":1}]`))
	}))
	defer server.Close()

	var mu sync.Mutex
	var got []types.Article
	p := testPoller(t, server.URL, func(a types.Article) {
		mu.Lock()
		got = append(got, a)
		mu.Unlock()
	})

	p.pollOnce(context.Background())
	p.pollOnce(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 {
		t.Fatalf("emitted %d articles, want 3", len(got))
	}
	if got[2].ID != 3 {
		t.Errorf("second poll emitted article %d, want 3", got[2].ID)
	}
}

func TestPoller_SendsToken(t *testing.T) {
	var gotToken string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.URL.Query().Get("token")
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	p := NewPoller(Config{
		URL:               server.URL,
		Token:             "news-key",
		RequestsPerMinute: 6000,
	}, nil, nil)
	p.pollOnce(context.Background())

	if gotToken != "news-key" {
		t.Errorf("token = %q, want news-key", gotToken)
	}
}

func TestPoller_ServerErrorIgnored(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	emitted := false
	p := testPoller(t, server.URL, func(types.Article) { emitted = true })
	p.pollOnce(context.Background())

	if emitted {
		t.Error("articles emitted despite server error")
	}
}
