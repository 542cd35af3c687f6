package publish

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/deusflow/cbnews/internal/domain"
)

type captureWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *captureWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error {
	w.closed = true
	return nil
}

func sampleEvent() domain.ArticleEvent {
	published := time.Date(2024, 3, 19, 6, 30, 0, 0, time.UTC)
	return domain.ArticleEvent{
		ArticleID:    981,
		RunID:        "3f1c",
		URL:          "https://www.nikkei.com/article/DGX1/",
		SourceDomain: "nikkei.com",
		Title:        "日銀、マイナス金利解除",
		Summary:      "日銀はマイナス金利政策の解除を決めた。",
		PublishedAt:  &published,
		Persons:      []string{"kazuo-ueda"},
	}
}

func TestBuildMessage(t *testing.T) {
	at := time.Unix(1710830000, 0)
	msg, err := BuildMessage(sampleEvent(), at)
	if err != nil {
		t.Fatal(err)
	}
	if string(msg.Key) != "981" || !msg.Time.Equal(at) {
		t.Fatalf("key/time = %q %v", msg.Key, msg.Time)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != "3f1c" {
		t.Fatalf("headers = %+v", msg.Headers)
	}

	var decoded map[string]any
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["summary"] != "日銀はマイナス金利政策の解除を決めた。" || decoded["published_at"] != "2024-03-19T06:30:00Z" {
		t.Fatalf("payload = %v", decoded)
	}
	if _, ok := decoded["image_url"]; ok {
		t.Fatal("empty image_url should be omitted")
	}
}

func TestPublishArticle(t *testing.T) {
	w := &captureWriter{}
	p := &Publisher{writer: w, topic: "cbnews.articles", log: discardLogger(), now: time.Now}

	if err := p.PublishArticle(context.Background(), sampleEvent()); err != nil {
		t.Fatal(err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d", len(w.msgs))
	}

	w.err = errors.New("leader not available")
	if err := p.PublishArticle(context.Background(), sampleEvent()); err == nil {
		t.Fatal("expected write error")
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Fatal("writer not closed")
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
