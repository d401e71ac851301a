package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/lukman83/watchfinder/internal/fetch"
	"github.com/lukman83/watchfinder/internal/imagecache"
	"github.com/lukman83/watchfinder/internal/models"
	"github.com/lukman83/watchfinder/internal/platform"
	"github.com/lukman83/watchfinder/internal/pricing"
	"github.com/lukman83/watchfinder/internal/store"
	"github.com/lukman83/watchfinder/internal/store/memory"
)

type fakePricer struct{}

func (fakePricer) Check(ctx context.Context, q pricing.Query) pricing.Result {
	r, pct := pricing.Rate(q.Asking, 10000)
	return pricing.Result{Rating: r, MarketPrice: 10000, PctOfMarket: pct * 100}
}

type redditServer struct {
	*httptest.Server
	feedStatus   int
	feedRequests atomic.Int32
	pages        map[string]string
}

func newRedditServer(t *testing.T) *redditServer {
	t.Helper()
	rs := &redditServer{feedStatus: http.StatusOK}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/r/Watchexchange/new.json":
			rs.feedRequests.Add(1)
			if r.Header.Get("User-Agent") != UserAgent {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			if rs.feedStatus != http.StatusOK {
				w.WriteHeader(rs.feedStatus)
				return
			}
			body, ok := rs.pages[r.URL.Query().Get("after")]
			if !ok {
				body = `{"data":{"after":null,"children":[]}}`
			}
			fmt.Fprint(w, body)
		case r.URL.Path == "/r/Watchexchange/comments/p2x.json":
			fmt.Fprint(w, omegaThread)
		case r.URL.Path == "/r/Watchexchange/comments/p9.json":
			fmt.Fprint(w, thread(`{"id":"p9","title":"[WTS] Tudor"}`,
				`{"author":"buyer","body":"Is this still available?"}`))
		case strings.HasPrefix(r.URL.Path, "/img/"):
			w.Header().Set("Content-Type", "image/jpeg")
			w.Write([]byte("\xff\xd8\xff jpeg"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(rs.Close)

	img := rs.URL + "/img/"
	rs.pages = map[string]string{
		"": feed("t3_p2",
			fmt.Sprintf(`{"id":"p1","title":"[WTS] Rolex Submariner 16610 2007","selftext":"Full set, excellent condition. Asking $7,800 shipped.","url":%q,"permalink":"/r/Watchexchange/comments/p1/rolex/","author":"subguy","created_utc":1760000000}`, img+"sub.jpg"),
			fmt.Sprintf(`{"id":"p2x","title":"[WTS] Omega Speedmaster Professional","selftext":"","url":"https://www.reddit.com/gallery/p2x","permalink":"/r/Watchexchange/comments/p2x/omega/","author":"omegaguy","is_gallery":true,"gallery_data":{"items":[{"media_id":"m1"}]},"media_metadata":{"m1":{"status":"valid","s":{"u":%q}}}}`, img+"m1.jpg?width=1080&amp;s=x"),
			`{"id":"p3","title":"[WTB] Rolex Datejust","permalink":"/r/Watchexchange/comments/p3/wtb/","author":"buyer"}`,
			`{"id":"p4","title":"[WTS] Seiko SKX","link_flair_text":"ISO trade","permalink":"/r/Watchexchange/comments/p4/seiko/","author":"trader"}`,
		),
		"t3_p2": feed("t3_p3",
			`{"id":"p0","title":"[WTS] Tudor Black Bay","permalink":"/r/Watchexchange/comments/p0/tudor/","author":"old"}`,
		),
	}
	return rs
}

const omegaThread = `[{"kind":"Listing","data":{"children":[{"kind":"t3","data":{"id":"p2x","title":"[WTS] Omega Speedmaster Professional","permalink":"/r/Watchexchange/comments/p2x/omega/","author":"omegaguy"}}]}},
{"kind":"Listing","data":{"children":[
{"kind":"t1","data":{"author":"AutoModerator","body":"Reminder: post a price, e.g. $1,000","distinguished":"moderator"}},
{"kind":"t1","data":{"author":"omegaguy","body":"Timestamp in the photos."}},
{"kind":"t1","data":{"author":"omegaguy","body":"Bought in 2015, asking $4,100 shipped."}},
{"kind":"t1","data":{"author":"lowballer","body":"Nice watch! Would you take $3,500 for it right now?"}},
{"kind":"more","data":{}}]}}]`

func feed(after string, posts ...string) string {
	children := make([]string, len(posts))
	for i, p := range posts {
		children[i] = `{"kind":"t3","data":` + p + `}`
	}
	return fmt.Sprintf(`{"data":{"after":%q,"children":[%s]}}`, after, strings.Join(children, ","))
}

func thread(post string, comments ...string) string {
	children := make([]string, len(comments))
	for i, c := range comments {
		children[i] = `{"kind":"t1","data":` + c + `}`
	}
	return fmt.Sprintf(`[{"data":{"children":[{"kind":"t3","data":%s}]}},{"data":{"children":[%s]}}]`,
		post, strings.Join(children, ","))
}

func newTestAdapter(t *testing.T, srv *redditServer, st store.Store) *Adapter {
	t.Helper()
	deps := platform.Deps{
		Store:  st,
		Fetch:  fetch.Config{Client: srv.Client()},
		Images: imagecache.New(imagecache.Options{Dir: t.TempDir(), Client: srv.Client()}),
		Pricer: fakePricer{},
	}
	a, err := New(context.Background(), deps, "", WithBaseURL(srv.URL), WithDelays(0, 0), WithCooldown(0))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return a
}

func TestRunFollowsCursorUntilNothingNew(t *testing.T) {
	srv := newRedditServer(t)
	st := memory.New()
	ctx := context.Background()
	a := newTestAdapter(t, srv, st)

	known := &models.Listing{SourceID: a.sourceID, URL: PermalinkBase + "/r/Watchexchange/comments/p0/tudor/", Title: "[WTS] Tudor Black Bay"}
	if _, _, err := st.UpsertListing(ctx, known); err != nil {
		t.Fatal(err)
	}

	stats := a.Run(ctx, platform.RunOptions{Pages: 5, TargetYear: 2007})

	want := models.RunStats{Source: SourceName, Pages: 2, Items: 5, New: 2, Priced: 1}
	if stats != want {
		t.Errorf("Run() = %+v, want %+v", stats, want)
	}
	if n := srv.feedRequests.Load(); n != 2 {
		t.Errorf("feed fetched %d times, want 2", n)
	}

	rolex, err := st.Listings(ctx, store.ListingFilter{Brand: "Rolex"})
	if err != nil || len(rolex) != 1 {
		t.Fatalf("rolex listings = %v, %v", rolex, err)
	}
	r := rolex[0]
	if r.Price != 7800 || r.Year != 2007 || r.Seller != "subguy" || r.PriceRating == "" {
		t.Errorf("rolex listing = %+v", r)
	}
	if r.URL != "https://reddit.com/r/Watchexchange/comments/p1/rolex/" {
		t.Errorf("URL = %q", r.URL)
	}
	if r.DateListed == nil || r.DateListed.Unix() != 1760000000 {
		t.Errorf("DateListed = %v", r.DateListed)
	}
	if !strings.HasPrefix(r.ImageURL, "/static/images/") {
		t.Errorf("ImageURL = %q, want cached image", r.ImageURL)
	}

	omega, err := st.Listings(ctx, store.ListingFilter{Brand: "Omega"})
	if err != nil || len(omega) != 1 {
		t.Fatalf("omega listings = %v, %v", omega, err)
	}
	o := omega[0]
	if o.Price != 4100 || o.Year != 2015 || o.PriceRating != "" {
		t.Errorf("omega listing = %+v", o)
	}
	if o.Description != "Bought in 2015, asking $4,100 shipped." {
		t.Errorf("Description = %q, want the seller's priced comment", o.Description)
	}
	if !strings.HasPrefix(o.ImageURL, "/static/images/") {
		t.Errorf("gallery ImageURL = %q", o.ImageURL)
	}
}

func TestRunBlockedFeed(t *testing.T) {
	tests := []struct {
		name   string
		status int
		pages  map[string]string
	}{
		{name: "forbidden", status: http.StatusForbidden},
		{name: "empty page", status: http.StatusOK, pages: map[string]string{"": feed("")}},
		{name: "not json", status: http.StatusOK, pages: map[string]string{"": "<html>oops</html>"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newRedditServer(t)
			srv.feedStatus = tt.status
			if tt.pages != nil {
				srv.pages = tt.pages
			}
			a := newTestAdapter(t, srv, memory.New())

			stats := a.Run(context.Background(), platform.RunOptions{Pages: 3, TargetYear: 2007})
			if !stats.Blocked || stats.Errors != 1 || stats.Pages != 0 || stats.New != 0 {
				t.Errorf("Run() = %+v, want blocked on first page", stats)
			}
		})
	}
}

func TestListStubsNeedsPreviousCursor(t *testing.T) {
	srv := newRedditServer(t)
	a := newTestAdapter(t, srv, memory.New())
	ctx := context.Background()

	if _, err := a.ListStubs(ctx, 2); err == nil {
		t.Fatal("ListStubs(2) before page 1 should fail")
	}
	first, err := a.ListStubs(ctx, 1)
	if err != nil || len(first) != 4 {
		t.Fatalf("ListStubs(1) = %d stubs, %v", len(first), err)
	}
	if first[0].Seller != "subguy" || first[0].URL != PermalinkBase+"/r/Watchexchange/comments/p1/rolex/" {
		t.Errorf("first stub = %+v", first[0])
	}
	second, err := a.ListStubs(ctx, 2)
	if err != nil || len(second) != 1 {
		t.Fatalf("ListStubs(2) = %d stubs, %v", len(second), err)
	}
}

func TestFetchDetailWithoutPayloadLoadsThread(t *testing.T) {
	srv := newRedditServer(t)
	a := newTestAdapter(t, srv, memory.New())

	l, err := a.FetchDetail(context.Background(), models.Stub{URL: PermalinkBase + "/r/Watchexchange/comments/p2x/omega/"})
	if err != nil {
		t.Fatal(err)
	}
	if l == nil || l.Brand != "Omega" || l.Price != 4100 || l.Seller != "omegaguy" {
		t.Errorf("FetchDetail() = %+v", l)
	}
}

func TestBackfill(t *testing.T) {
	srv := newRedditServer(t)
	st := memory.New()
	ctx := context.Background()
	a := newTestAdapter(t, srv, st)

	seed := []models.Listing{
		{URL: PermalinkBase + "/r/Watchexchange/comments/p2x/omega/", Title: "[WTS] Omega Speedmaster Professional", Seller: "omegaguy", Condition: "Fair"},
		{URL: PermalinkBase + "/r/Watchexchange/comments/p9/tudor/", Title: "[WTS] Tudor", Seller: "tudorguy"},
		{URL: "https://example.com/not-a-permalink", Title: "[WTS] Seiko"},
		{URL: PermalinkBase + "/r/Watchexchange/comments/p5/priced/", Title: "[WTS] Rolex", Price: 5000},
	}
	var omegaID int64
	for i := range seed {
		seed[i].SourceID = a.sourceID
		id, _, err := st.UpsertListing(ctx, &seed[i])
		if err != nil {
			t.Fatal(err)
		}
		if i == 0 {
			omegaID = id
		}
	}

	stats := a.Backfill(ctx, 2015)
	if want := (models.BackfillStats{Updated: 1, Skipped: 2}); stats != want {
		t.Errorf("Backfill() = %+v, want %+v", stats, want)
	}

	l, err := st.Listing(ctx, omegaID)
	if err != nil {
		t.Fatal(err)
	}
	if l.Price != 4100 || l.Year != 2015 || l.Brand != "Omega" {
		t.Errorf("backfilled listing = %+v", l)
	}
	if l.Condition != "Fair" {
		t.Errorf("Condition = %q, want existing value kept", l.Condition)
	}
}

func TestBestComment(t *testing.T) {
	c := func(author, body string) comment { return comment{Author: author, Body: body} }
	tests := []struct {
		name     string
		comments []comment
		op       string
		want     string
	}{
		{
			name:     "op comment with price beats longer op comment",
			comments: []comment{c("op", "A very long story about how I got this watch in the first place"), c("op", "$900 shipped")},
			op:       "op",
			want:     "$900 shipped",
		},
		{
			name:     "longest op comment when none is priced",
			comments: []comment{c("op", "short"), c("OP", "a bit longer"), c("other", "$500 for it?")},
			op:       "op",
			want:     "a bit longer",
		},
		{
			name:     "priced non-op comment when op is silent",
			comments: []comment{c("a", "what a lovely dial on this one"), c("b", "paid $1,200")},
			op:       "op",
			want:     "paid $1,200",
		},
		{
			name:     "longest non-op comment",
			comments: []comment{c("a", "nice"), c("b", "very nice")},
			op:       "op",
			want:     "very nice",
		},
		{
			name: "moderators and removed comments ignored",
			comments: []comment{
				c("AutoModerator", "$100 minimum"),
				{Author: "mod", Body: "Price it $200", Distinguished: "moderator"},
				c("op", "[removed]"),
				c("op", "[deleted]"),
				c("x", "hm"),
			},
			op:   "op",
			want: "hm",
		},
		{
			name:     "first of equal lengths wins",
			comments: []comment{c("op", "$100 a"), c("op", "$200 b")},
			op:       "op",
			want:     "$100 a",
		},
		{name: "nothing usable", comments: []comment{c("op", "")}, op: "op", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := bestComment(tt.comments, tt.op); got != tt.want {
				t.Errorf("bestComment() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPickImage(t *testing.T) {
	tests := []struct {
		name string
		json string
		want string
	}{
		{"direct image", `{"url":"https://i.redd.it/abc.JPEG?x=1"}`, "https://i.redd.it/abc.JPEG?x=1"},
		{"imgur page", `{"url":"https://imgur.com/xYz12"}`, "https://imgur.com/xYz12.jpg"},
		{"imgur with extension", `{"url":"https://i.imgur.com/xYz12.gifv"}`, "https://i.imgur.com/xYz12.gifv"},
		{"imgur html skipped", `{"url":"https://imgur.com/a/b.html"}`, ""},
		{
			"preview",
			`{"url":"https://www.reddit.com/r/x","preview":{"images":[{"source":{"url":"https://preview.redd.it/p.jpg?width=1&amp;s=2"}}]}}`,
			"https://preview.redd.it/p.jpg?width=1&s=2",
		},
		{
			"gallery skips invalid media",
			`{"is_gallery":true,"gallery_data":{"items":[{"media_id":"a"},{"media_id":"b"}]},"media_metadata":{"a":{"status":"failed"},"b":{"status":"valid","s":{"u":"https://preview.redd.it/b.jpg?a=1&amp;b=2"}}}}`,
			"https://preview.redd.it/b.jpg?a=1&b=2",
		},
		{"nothing", `{"url":"https://www.reddit.com/r/x"}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p post
			if err := json.Unmarshal([]byte(tt.json), &p); err != nil {
				t.Fatal(err)
			}
			if got := pickImage(&p); got != tt.want {
				t.Errorf("pickImage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPostID(t *testing.T) {
	if got := PostID("https://reddit.com/r/Watchexchange/comments/1abc9z/wts_rolex/"); got != "1abc9z" {
		t.Errorf("PostID() = %q", got)
	}
	if got := PostID("https://reddit.com/r/Watchexchange/"); got != "" {
		t.Errorf("PostID() = %q, want empty", got)
	}
}
