// Package export renders a conversation and its messages as JSON, Markdown
// or PDF.
package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/kalambet/chatty/internal/storage"
)

const (
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
	FormatPDF      = "pdf"

	Version = "1.0"

	stampLayout = "2006-01-02 15:04:05"
	clockLayout = "15:04:05"
)

// ErrUnknownFormat is returned for formats outside json, markdown and pdf.
var ErrUnknownFormat = errors.New("unknown export format")

// Document is one rendered export.
type Document struct {
	Body        []byte
	ContentType string
	Filename    string
}

// Render dispatches on format. "md" is accepted for markdown.
func Render(format string, c storage.Conversation, msgs []storage.Message, now time.Time) (Document, error) {
	switch strings.ToLower(format) {
	case FormatJSON:
		b, err := JSON(c, msgs, now)
		return Document{Body: b, ContentType: "application/json", Filename: filename(c, "json")}, err
	case FormatMarkdown, "md":
		return Document{Body: []byte(Markdown(c, msgs, now)), ContentType: "text/markdown; charset=utf-8", Filename: filename(c, "md")}, nil
	case FormatPDF:
		b, err := PDF(c, msgs, now)
		return Document{Body: b, ContentType: "application/pdf", Filename: filename(c, "pdf")}, err
	default:
		return Document{}, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func filename(c storage.Conversation, ext string) string {
	return fmt.Sprintf("conversation_%d.%s", c.ID, ext)
}

type jsonConversation struct {
	ID        int64          `json:"id"`
	Title     string         `json:"title"`
	StartedAt time.Time      `json:"start_timestamp"`
	EndedAt   *time.Time     `json:"end_timestamp"`
	Status    string         `json:"status"`
	Summary   string         `json:"summary"`
	Metadata  map[string]any `json:"metadata"`
}

type jsonMessage struct {
	ID        int64     `json:"id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type jsonExport struct {
	Conversation jsonConversation `json:"conversation"`
	Messages     []jsonMessage    `json:"messages"`
	Meta         struct {
		ExportedAt time.Time `json:"exported_at"`
		Format     string    `json:"format"`
		Version    string    `json:"version"`
	} `json:"export_metadata"`
}

// JSON renders an indented JSON document.
func JSON(c storage.Conversation, msgs []storage.Message, now time.Time) ([]byte, error) {
	out := jsonExport{
		Conversation: jsonConversation{
			ID:        c.ID,
			Title:     c.Title,
			StartedAt: c.StartedAt,
			EndedAt:   c.EndedAt,
			Status:    c.Status,
			Summary:   c.Summary,
			Metadata:  c.Metadata,
		},
		Messages: make([]jsonMessage, 0, len(msgs)),
	}
	for _, m := range msgs {
		out.Messages = append(out.Messages, jsonMessage{ID: m.ID, Sender: m.Sender, Content: m.Content, Timestamp: m.CreatedAt})
	}
	out.Meta.ExportedAt = now
	out.Meta.Format = FormatJSON
	out.Meta.Version = Version
	return json.MarshalIndent(out, "", "  ")
}

func senderLabel(sender string) string {
	if sender == storage.SenderUser {
		return "User"
	}
	return "AI Assistant"
}

// Markdown renders a header block, the summary when present, and every
// message under its own heading.
func Markdown(c storage.Conversation, msgs []storage.Message, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", c.Title)
	fmt.Fprintf(&b, "**Conversation ID:** %d  \n", c.ID)
	fmt.Fprintf(&b, "**Started:** %s  \n", c.StartedAt.Format(stampLayout))
	if c.EndedAt != nil {
		fmt.Fprintf(&b, "**Ended:** %s  \n", c.EndedAt.Format(stampLayout))
	}
	fmt.Fprintf(&b, "**Status:** %s  \n\n", c.Status)

	if c.Summary != "" {
		fmt.Fprintf(&b, "## Summary\n\n%s\n\n", c.Summary)
	}

	b.WriteString("---\n\n## Messages\n\n")
	for _, m := range msgs {
		fmt.Fprintf(&b, "### %s - %s\n\n", senderLabel(m.Sender), m.CreatedAt.Format(clockLayout))
		fmt.Fprintf(&b, "%s\n\n---\n\n", m.Content)
	}
	fmt.Fprintf(&b, "\n*Exported on %s*\n", now.Format(stampLayout))
	return b.String()
}

// PDF renders a Letter-sized document with the core Helvetica font.
// Characters outside cp1252 are dropped.
func PDF(c storage.Conversation, msgs []storage.Message, now time.Time) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "Letter", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	title := c.Title
	if title == "" {
		title = "Untitled Conversation"
	}
	pdf.SetFont("Helvetica", "B", 24)
	pdf.SetTextColor(37, 99, 235)
	pdf.MultiCell(0, 10, tr(title), "", "L", false)
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", 11)
	pdf.SetTextColor(0, 0, 0)
	meta := []string{
		fmt.Sprintf("ID: %d", c.ID),
		"Started: " + c.StartedAt.Format(stampLayout),
	}
	if c.EndedAt != nil {
		meta = append(meta, "Ended: "+c.EndedAt.Format(stampLayout))
	}
	meta = append(meta, "Status: "+c.Status)
	for _, line := range meta {
		pdf.CellFormat(0, 6, tr(line), "", 1, "L", false, 0, "")
	}
	pdf.Ln(6)

	heading := func(text string) {
		pdf.SetFont("Helvetica", "B", 16)
		pdf.SetTextColor(30, 64, 175)
		pdf.CellFormat(0, 9, text, "", 1, "L", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
		pdf.Ln(2)
	}

	if c.Summary != "" {
		heading("Summary")
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, tr(c.Summary), "", "L", false)
		pdf.Ln(6)
	}

	heading("Messages")
	for _, m := range msgs {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(0, 7, tr(senderLabel(m.Sender)+" - "+m.CreatedAt.Format(clockLayout)), "", 1, "L", false, 0, "")

		if m.Sender == storage.SenderUser {
			pdf.SetDrawColor(59, 130, 246)
		} else {
			pdf.SetDrawColor(16, 185, 129)
		}
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, tr(m.Content), "1", "L", false)
		pdf.Ln(4)
	}

	pdf.Ln(6)
	pdf.SetFont("Helvetica", "I", 10)
	pdf.CellFormat(0, 6, "Exported on "+now.Format(stampLayout), "", 1, "L", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("rendering pdf: %w", err)
	}
	return buf.Bytes(), nil
}
