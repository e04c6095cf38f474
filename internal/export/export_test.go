package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/kalambet/chatty/internal/storage"
)

var (
	started = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	ended   = started.Add(15 * time.Minute)
	now     = time.Date(2026, 3, 5, 8, 30, 0, 0, time.UTC)
)

func sample() (storage.Conversation, []storage.Message) {
	c := storage.Conversation{
		ID: 7, Title: "Deploying Go services", Status: storage.StatusEnded,
		StartedAt: started, EndedAt: &ended, Summary: "Talked about containers.",
		Metadata: map[string]any{"topics": []any{"docker"}},
	}
	msgs := []storage.Message{
		{ID: 1, Sender: storage.SenderUser, Content: "How do I build a small image?", CreatedAt: started.Add(time.Minute)},
		{ID: 2, Sender: storage.SenderAI, Content: "Use a multi-stage build.", CreatedAt: started.Add(2 * time.Minute)},
	}
	return c, msgs
}

func TestJSON(t *testing.T) {
	c, msgs := sample()
	b, err := JSON(c, msgs, now)
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	meta := got["export_metadata"].(map[string]any)
	if meta["format"] != "json" || meta["version"] != "1.0" || meta["exported_at"] != "2026-03-05T08:30:00Z" {
		t.Errorf("export_metadata = %v", meta)
	}
	conv := got["conversation"].(map[string]any)
	if conv["summary"] != "Talked about containers." || conv["end_timestamp"] != "2026-03-04T10:15:00Z" {
		t.Errorf("conversation = %v", conv)
	}
	if n := len(got["messages"].([]any)); n != 2 {
		t.Errorf("messages = %d, want 2", n)
	}
}

func TestJSON_ActiveConversation(t *testing.T) {
	c, _ := sample()
	c.EndedAt = nil
	b, err := JSON(c, nil, now)
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	if !bytes.Contains(b, []byte(`"end_timestamp": null`)) || !bytes.Contains(b, []byte(`"messages": []`)) {
		t.Errorf("unexpected json:\n%s", b)
	}
}

func TestMarkdown(t *testing.T) {
	c, msgs := sample()
	md := Markdown(c, msgs, now)

	for _, want := range []string{
		"# Deploying Go services\n\n",
		"**Conversation ID:** 7  \n",
		"**Started:** 2026-03-04 10:00:00  \n",
		"**Ended:** 2026-03-04 10:15:00  \n",
		"## Summary\n\nTalked about containers.\n\n",
		"### User - 10:01:00\n\nHow do I build a small image?\n\n---\n\n",
		"### AI Assistant - 10:02:00\n\nUse a multi-stage build.\n\n",
		"*Exported on 2026-03-05 08:30:00*\n",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q\n%s", want, md)
		}
	}
}

func TestMarkdown_NoSummary(t *testing.T) {
	c, _ := sample()
	c.Summary = ""
	c.EndedAt = nil
	md := Markdown(c, nil, now)
	if strings.Contains(md, "## Summary") || strings.Contains(md, "**Ended:**") {
		t.Errorf("unexpected sections:\n%s", md)
	}
}

func pdfText(t *testing.T, b []byte) string {
	t.Helper()
	r, err := pdf.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		t.Fatalf("reading pdf: %v", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		t.Fatalf("extracting text: %v", err)
	}
	text, err := io.ReadAll(plain)
	if err != nil {
		t.Fatalf("reading text: %v", err)
	}
	return string(text)
}

func TestPDF(t *testing.T) {
	c, msgs := sample()
	b, err := PDF(c, msgs, now)
	if err != nil {
		t.Fatalf("PDF: %v", err)
	}
	if !bytes.HasPrefix(b, []byte("%PDF-")) {
		t.Fatalf("not a pdf: %q", b[:8])
	}

	text := pdfText(t, b)
	for _, want := range []string{"Deploying Go services", "Summary", "multi-stage build", "Exported on"} {
		if !strings.Contains(text, want) {
			t.Errorf("pdf text missing %q:\n%s", want, text)
		}
	}
}

func TestPDF_UntitledAndUnicode(t *testing.T) {
	c, _ := sample()
	c.Title = ""
	b, err := PDF(c, []storage.Message{{Sender: storage.SenderUser, Content: "café ☕", CreatedAt: started}}, now)
	if err != nil {
		t.Fatalf("PDF: %v", err)
	}
	if text := pdfText(t, b); !strings.Contains(text, "Untitled Conversation") {
		t.Errorf("pdf text missing fallback title:\n%s", text)
	}
}

func TestRender(t *testing.T) {
	c, msgs := sample()
	cases := []struct {
		format, contentType, filename string
	}{
		{"json", "application/json", "conversation_7.json"},
		{"markdown", "text/markdown; charset=utf-8", "conversation_7.md"},
		{"MD", "text/markdown; charset=utf-8", "conversation_7.md"},
		{"pdf", "application/pdf", "conversation_7.pdf"},
	}
	for _, tc := range cases {
		doc, err := Render(tc.format, c, msgs, now)
		if err != nil {
			t.Fatalf("Render(%s): %v", tc.format, err)
		}
		if doc.ContentType != tc.contentType || doc.Filename != tc.filename || len(doc.Body) == 0 {
			t.Errorf("Render(%s) = %q %q %d bytes", tc.format, doc.ContentType, doc.Filename, len(doc.Body))
		}
	}
	if _, err := Render("docx", c, msgs, now); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("expected ErrUnknownFormat, got %v", err)
	}
}
