package dispatch

import (
	"context"
	"time"

	"github.com/nao1215/notice/internal/notification/digest"
	"github.com/nao1215/notice/pkg/httpclient"
)

// 配信サービスのエンドポイント。
const (
	pathDeliveries = "/api/v1/deliveries"
	pathDigests    = "/api/v1/digests"
)

// userAgent は配信サービスへのリクエストに付けるUser-Agent。
const userAgent = "notice-dispatch/1"

// HTTP は配信イベントを外部の配信サービスへPOSTする。
type HTTP struct {
	client *httpclient.Client
}

// NewHTTP はbaseURLの配信サービスに送信するHTTPを生成する。tokenが空なら認証ヘッダーを付けない。
func NewHTTP(baseURL, token string, timeout time.Duration) *HTTP {
	opts := []httpclient.Option{
		httpclient.WithBearerToken(token),
		httpclient.WithHeader("User-Agent", userAgent),
	}
	if timeout > 0 {
		opts = append(opts, httpclient.WithTimeout(timeout))
	}
	return &HTTP{client: httpclient.New(baseURL, opts...)}
}

// Send はDeliveryRequestedイベントを送信する。
func (h *HTTP) Send(ctx context.Context, d Delivery) error {
	ev, err := deliveryEvent(d)
	if err != nil {
		return err
	}
	if err := h.client.PostJSON(ctx, pathDeliveries, ev, nil); err != nil {
		return deliveryError(d, err)
	}
	return nil
}

// SendDigest はDigestReadyイベントを送信する。
func (h *HTTP) SendDigest(ctx context.Context, p digest.Payload) error {
	ev, err := digestEvent(p)
	if err != nil {
		return err
	}
	if err := h.client.PostJSON(ctx, pathDigests, ev, nil); err != nil {
		return digestError(p, err)
	}
	return nil
}
