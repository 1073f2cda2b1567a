// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package graph

import (
	"encoding/base64"
	"strings"
	"time"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/bcem/intake/internal/models"
)

// maxAttachmentText caps decoded attachment text.
const maxAttachmentText = 1 << 20

// graphMessage represents the relevant fields from a Graph API message response.
type graphMessage struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	From    struct {
		EmailAddress struct {
			Address string `json:"address"`
			Name    string `json:"name"`
		} `json:"emailAddress"`
	} `json:"from"`
	Body struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	ReceivedDateTime string `json:"receivedDateTime"`
	HasAttachments   bool   `json:"hasAttachments"`
}

// toInbound converts a Graph message into an InboundMessage. A missing or
// malformed receivedDateTime falls back to now.
func (gm graphMessage) toInbound(now func() time.Time) models.InboundMessage {
	received, err := time.Parse(time.RFC3339, gm.ReceivedDateTime)
	if err != nil {
		received = now()
	}

	body := gm.Body.Content
	if strings.EqualFold(gm.Body.ContentType, "html") {
		body = htmlToText(body)
	}

	return models.InboundMessage{
		MessageID:   gm.ID,
		From:        gm.From.EmailAddress.Address,
		Subject:     gm.Subject,
		Body:        body,
		ReceivedAt:  received.UTC(),
		Attachments: []models.Attachment{},
	}
}

type attachmentsResponse struct {
	Value []graphAttachment `json:"value"`
}

// graphAttachment is a fileAttachment; other attachment kinds carry no
// contentBytes.
type graphAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	Size         int    `json:"size"`
	ContentBytes string `json:"contentBytes"`
}

func (ga graphAttachment) toAttachment() models.Attachment {
	a := models.Attachment{Filename: ga.Name, MimeType: ga.ContentType}
	if !isText(ga.ContentType) || ga.ContentBytes == "" || ga.Size > maxAttachmentText {
		return a
	}

	raw, err := base64.StdEncoding.DecodeString(ga.ContentBytes)
	if err != nil {
		return a
	}
	text := string(raw)
	if strings.HasPrefix(strings.ToLower(ga.ContentType), "text/html") {
		text = htmlToText(text)
	}
	a.ExtractedText = strings.TrimSpace(text)
	return a
}

func isText(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "text/")
}

// Elements whose content never reaches the text.
var skippedElements = map[atom.Atom]bool{
	atom.Head:     true,
	atom.Title:    true,
	atom.Style:    true,
	atom.Script:   true,
	atom.Noscript: true,
}

// Elements that start and end a line.
var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Li: true, atom.Ul: true, atom.Ol: true,
	atom.Tr: true, atom.Table: true, atom.Blockquote: true, atom.Pre: true, atom.Hr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Section: true, atom.Article: true, atom.Header: true, atom.Footer: true,
}

// htmlToText walks the parsed document and keeps visible text, one line per
// block element. It is enough for keyword and labelled-field extraction,
// not for display.
func htmlToText(s string) string {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return s
	}

	var buf strings.Builder
	atLineStart := func() bool {
		out := buf.String()
		return out == "" || out[len(out)-1] == '\n'
	}
	endLine := func() {
		if !atLineStart() {
			buf.WriteByte('\n')
		}
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			text := collapseSpace(n.Data)
			if atLineStart() {
				text = strings.TrimLeft(text, " ")
			}
			buf.WriteString(text)
			return
		case html.ElementNode:
			if skippedElements[n.DataAtom] {
				return
			}
			if n.DataAtom == atom.Br {
				buf.WriteByte('\n')
				return
			}
		}

		block := n.Type == html.ElementNode && blockElements[n.DataAtom]
		if block {
			endLine()
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			endLine()
		}
	}
	walk(doc)

	return tidyLines(buf.String())
}

// collapseSpace turns every whitespace run (non-breaking spaces included)
// into a single space, keeping a leading or trailing one.
func collapseSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(r)
	}
	if space {
		b.WriteByte(' ')
	}
	return b.String()
}

// tidyLines trims every line and keeps at most one blank line in a row.
func tidyLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			blank = len(out) > 0
			continue
		}
		if blank {
			out = append(out, "")
			blank = false
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
