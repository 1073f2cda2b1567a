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

// Package models defines the data structures shared across the intake service.
package models

import "time"

// Attachment is a file carried by an inbound message. ExtractedText holds the
// document text when an upstream extractor produced one.
type Attachment struct {
	Filename      string `json:"filename"`
	MimeType      string `json:"mime_type"`
	ExtractedText string `json:"extracted_text,omitempty"`
}

// InboundMessage is a received email as handed to the ingestion pipeline.
// It is never modified once received.
type InboundMessage struct {
	MessageID   string       `json:"message_id"`
	From        string       `json:"from"`
	Subject     string       `json:"subject"`
	Body        string       `json:"body"`
	ReceivedAt  time.Time    `json:"received_at"`
	Attachments []Attachment `json:"attachments"`
}

// Content concatenates subject, body and every attachment's extracted text.
// It is the text given to the intent detector and the classifier.
func (m InboundMessage) Content() string {
	size := len(m.Subject) + len(m.Body) + 2
	for _, a := range m.Attachments {
		size += len(a.ExtractedText) + 1
	}

	buf := make([]byte, 0, size)
	buf = append(buf, m.Subject...)
	buf = append(buf, '\n')
	buf = append(buf, m.Body...)
	for _, a := range m.Attachments {
		if a.ExtractedText == "" {
			continue
		}
		buf = append(buf, '\n')
		buf = append(buf, a.ExtractedText...)
	}
	return string(buf)
}
