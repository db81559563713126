package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/notice/internal/notification/digest"
	"github.com/nao1215/notice/pkg/event"
	"github.com/nao1215/notice/pkg/httpclient"
)

// TestHTTPSend は配信イベントのエンドポイントと内容を検証する。
func TestHTTPSend(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	got := map[string]*event.Event{}
	var auth, agent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev event.Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		got[r.URL.Path] = &ev
		auth = r.Header.Get("Authorization")
		agent = r.Header.Get("User-Agent")
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)

	h := NewHTTP(srv.URL, "tok", time.Second)
	link := "/orders/1"
	if err := h.Send(context.Background(), Delivery{NotificationID: "n1", UserID: "u1", Channel: "email", Type: "security", Message: "m", Link: &link}); err != nil {
		t.Fatalf("Send()でエラーが発生: %v", err)
	}
	flushed := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	if err := h.SendDigest(context.Background(), digest.Payload{ID: "d1", UserID: "u1", Channel: "email", NotificationIDs: []string{"a", "b"}, FlushedAt: flushed}); err != nil {
		t.Fatalf("SendDigest()でエラーが発生: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if auth != "Bearer tok" {
		t.Errorf("Authorization = %q", auth)
	}
	if agent != userAgent {
		t.Errorf("User-Agent = %q, want %q", agent, userAgent)
	}

	ev := got[pathDeliveries]
	if ev == nil || ev.EventType != event.TypeDeliveryRequested || ev.UserID != "u1" {
		t.Fatalf("配信イベント = %+v", ev)
	}
	d, err := event.DecodeData[event.DeliveryRequestedData](ev)
	if err != nil {
		t.Fatalf("データのデコードに失敗: %v", err)
	}
	if d.NotificationID != "n1" || d.Channel != "email" || d.Link == nil || *d.Link != link {
		t.Errorf("配信データ = %+v", d)
	}

	ev = got[pathDigests]
	if ev == nil || ev.EventType != event.TypeDigestReady {
		t.Fatalf("ダイジェストイベント = %+v", ev)
	}
	dg, err := event.DecodeData[event.DigestReadyData](ev)
	if err != nil {
		t.Fatalf("データのデコードに失敗: %v", err)
	}
	if dg.DigestID != "d1" || len(dg.NotificationIDs) != 2 || !dg.FlushedAt.Equal(flushed) {
		t.Errorf("ダイジェストデータ = %+v", dg)
	}
}

// TestHTTPSendError は失敗応答がTransportErrorになることを検証する。
func TestHTTPSendError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	err := NewHTTP(srv.URL, "", 0).Send(context.Background(), Delivery{NotificationID: "n1", UserID: "u1", Channel: "push"})
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("TransportErrorが返るべき: %v", err)
	}
	if te.Channel != "push" || te.NotificationID != "n1" {
		t.Errorf("TransportError = %+v", te)
	}
	var se *httpclient.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusErrorが含まれるべき: %v", err)
	}
}
