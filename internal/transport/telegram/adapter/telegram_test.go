package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	kit "streamwatch/internal/transport"
	logx "streamwatch/pkg/logx"
)

// fakeBotAPI answers the handful of Bot API methods the adapter uses.
type fakeBotAPI struct {
	mu       sync.Mutex
	calls    []string
	params   []map[string]any
	failures map[string]string // method -> error description
	gone     map[int64]bool    // chat ids that no longer resolve
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	params := map[string]any{}
	_ = json.NewDecoder(r.Body).Decode(&params)

	f.mu.Lock()
	f.calls = append(f.calls, method)
	f.params = append(f.params, params)
	failure := f.failures[method]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	fail := func(desc string) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, `{"ok":false,"error_code":400,"description":%q}`, desc)
	}
	if failure != "" {
		fail(failure)
		return
	}

	switch method {
	case "getMe":
		fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"sw","username":"streamwatch_bot"}}`)
	case "getChat":
		id := fmt.Sprint(params["chat_id"])
		if f.gone[parseID(id)] {
			fail("Bad Request: chat not found")
			return
		}
		fmt.Fprintf(w, `{"ok":true,"result":{"id":%s,"type":"supergroup","title":"Streams"}}`, id)
	case "sendMessage", "sendPhoto", "editMessageText", "editMessageMedia", "editMessageCaption":
		fmt.Fprintf(w, `{"ok":true,"result":{"message_id":77,"date":0,"chat":{"id":%v,"type":"supergroup"}}}`, params["chat_id"])
	default:
		fail("Not Found: method not found")
	}
}

func (f *fakeBotAPI) setFailure(method, desc string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures == nil {
		f.failures = map[string]string{}
	}
	f.failures[method] = desc
}

func (f *fakeBotAPI) lastCall() (string, map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1], f.params[len(f.params)-1]
}

func parseID(s string) int64 {
	var id int64
	_, _ = fmt.Sscan(s, &id)
	return id
}

func newTestAdapter(t *testing.T, f *fakeBotAPI) *Adapter {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	a, err := New(Config{Token: "123:abc", APIURL: srv.URL, LogChatID: -500}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func liveContent() kit.Content {
	return kit.Content{
		Headline: "somestreamer is live!",
		Notify:   true,
		Card: kit.Card{
			Author:   "somestreamer",
			Title:    "chess & chat",
			URL:      "https://www.twitch.tv/somestreamer",
			Fields:   []kit.Field{{Name: "Playing", Value: "Chess"}},
			ImageURL: "https://img/preview.jpg",
		},
	}
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(Config{}, logx.Nop()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestResolveDestination(t *testing.T) {
	f := &fakeBotAPI{gone: map[int64]bool{-2: true}}
	a := newTestAdapter(t, f)
	ctx := context.Background()

	dest, err := a.ResolveDestination(ctx, -1, 9)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if dest.ChatID != -1 || dest.ThreadID != 9 || dest.Title != "Streams" {
		t.Fatalf("dest=%+v", dest)
	}

	if _, err := a.ResolveDestination(ctx, -2, 0); !errors.Is(err, kit.ErrDestinationUnresolved) {
		t.Fatalf("gone chat err=%v", err)
	}

	f.setFailure("getChat", "Too Many Requests: retry after 5")
	_, err = a.ResolveDestination(ctx, -1, 0)
	if err == nil || errors.Is(err, kit.ErrDestinationUnresolved) {
		t.Fatalf("transient err=%v", err)
	}
}

func TestCreateMessagePhoto(t *testing.T) {
	f := &fakeBotAPI{}
	a := newTestAdapter(t, f)

	id, err := a.CreateMessage(context.Background(), kit.Destination{ChatID: -1, ThreadID: 4}, liveContent())
	if err != nil || id != 77 {
		t.Fatalf("CreateMessage=(%d,%v)", id, err)
	}
	method, params := f.lastCall()
	if method != "sendPhoto" {
		t.Fatalf("method=%s", method)
	}
	caption := fmt.Sprint(params["caption"])
	if !strings.Contains(caption, "somestreamer is live!") || !strings.Contains(caption, "chess &amp; chat") {
		t.Fatalf("caption=%q", caption)
	}
	if fmt.Sprint(params["message_thread_id"]) != "4" {
		t.Fatalf("thread=%v", params["message_thread_id"])
	}
}

func TestCreateMessageTextWithoutPicture(t *testing.T) {
	f := &fakeBotAPI{}
	a := newTestAdapter(t, f)
	c := liveContent()
	c.Card.ImageURL = ""
	c.Notify = false

	if _, err := a.CreateMessage(context.Background(), kit.Destination{ChatID: -1}, c); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	method, params := f.lastCall()
	if method != "sendMessage" {
		t.Fatalf("method=%s", method)
	}
	if fmt.Sprint(params["disable_notification"]) != "true" {
		t.Fatalf("disable_notification=%v", params["disable_notification"])
	}
}

func TestEditMessageErrors(t *testing.T) {
	cases := []struct {
		name    string
		failure string
		want    error
		ok      bool
	}{
		{"success", "", nil, true},
		{"not modified", "Bad Request: message is not modified: specified new message content is the same", nil, true},
		{"deleted", "Bad Request: message to edit not found", kit.ErrMessageNotFound, false},
		{"kicked", "Forbidden: bot was kicked from the supergroup chat", kit.ErrDestinationUnresolved, false},
		{"other", "Internal Server Error", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := &fakeBotAPI{}
			a := newTestAdapter(t, f)
			if tc.failure != "" {
				f.setFailure("editMessageMedia", tc.failure)
			}
			err := a.EditMessage(context.Background(), kit.Destination{ChatID: -1}, 77, liveContent())
			if tc.ok {
				if err != nil {
					t.Fatalf("err=%v want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error")
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("err=%v want %v", err, tc.want)
			}
			if tc.want == nil && (errors.Is(err, kit.ErrMessageNotFound) || errors.Is(err, kit.ErrDestinationUnresolved)) {
				t.Fatalf("err=%v classified as sentinel", err)
			}
		})
	}
}

func TestEditMessagePhotoOntoTextPost(t *testing.T) {
	f := &fakeBotAPI{}
	a := newTestAdapter(t, f)
	f.setFailure("editMessageMedia", "Bad Request: there is no media in the message to edit")

	if err := a.EditMessage(context.Background(), kit.Destination{ChatID: -1}, 77, liveContent()); err != nil {
		t.Fatalf("EditMessage: %v", err)
	}
	method, params := f.lastCall()
	if method != "editMessageText" {
		t.Fatalf("last call=%s want editMessageText", method)
	}
	if text, _ := params["text"].(string); !strings.Contains(text, "somestreamer") {
		t.Fatalf("text=%q", text)
	}
}

func TestPing(t *testing.T) {
	f := &fakeBotAPI{}
	a := newTestAdapter(t, f)
	took, err := a.Ping(context.Background())
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if took <= 0 {
		t.Fatalf("Ping took=%v want >0", took)
	}
	if m, _ := f.lastCall(); m != "getMe" {
		t.Fatalf("last call=%s want getMe", m)
	}

	f.setFailure("getMe", "Unauthorized")
	if _, err := a.Ping(context.Background()); err == nil {
		t.Fatalf("Ping with failing getMe: want error")
	}
}

func TestFetchMessage(t *testing.T) {
	a := newTestAdapter(t, &fakeBotAPI{})
	ref, err := a.FetchMessage(context.Background(), kit.Destination{ChatID: -1, ThreadID: 3}, 55)
	if err != nil || ref.MessageID != 55 || ref.ThreadID != 3 {
		t.Fatalf("FetchMessage=(%+v,%v)", ref, err)
	}
	if _, err := a.FetchMessage(context.Background(), kit.Destination{ChatID: -1}, 0); !errors.Is(err, kit.ErrMessageNotFound) {
		t.Fatalf("zero id err=%v", err)
	}
}

func TestSendLogChunks(t *testing.T) {
	f := &fakeBotAPI{}
	a := newTestAdapter(t, f)
	line := strings.Repeat("x", 3000)
	if err := a.SendLog(context.Background(), line+"\n"+line); err != nil {
		t.Fatalf("SendLog: %v", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	sends := 0
	for _, c := range f.calls {
		if c == "sendMessage" {
			sends++
		}
	}
	if sends != 2 {
		t.Fatalf("sendMessage calls=%d want 2", sends)
	}
}

func TestCaptionFitsLimit(t *testing.T) {
	c := liveContent()
	c.Card.Description = strings.Repeat("a", 2000)
	got := renderCaption(c)
	if n := visibleLen(got); n > captionLimit {
		t.Fatalf("caption length=%d", n)
	}
	if !strings.Contains(got, "somestreamer is live!") {
		t.Fatalf("headline dropped: %q", got)
	}
}

func TestVisibleLen(t *testing.T) {
	cases := map[string]int{
		"abc":                  3,
		"<b>abc</b>":           3,
		"a &amp; b":            5,
		`<a href="x">link</a>`: 4,
		"héllo":                5,
	}
	for in, want := range cases {
		if got := visibleLen(in); got != want {
			t.Fatalf("visibleLen(%q)=%d want %d", in, got, want)
		}
	}
}
