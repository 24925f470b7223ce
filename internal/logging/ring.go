// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultRingSize is used when a non-positive capacity is requested.
const DefaultRingSize = 200

// Entry is one decoded log line.
type Entry struct {
	Time      time.Time         `json:"time"`
	Level     string            `json:"level"`
	Component string            `json:"component,omitempty"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// String renders the entry on one line.
func (e Entry) String() string {
	var b strings.Builder
	b.WriteString(e.Time.Format("15:04:05"))
	b.WriteByte(' ')
	b.WriteString(strings.ToUpper(levelAbbrev(e.Level)))
	if e.Component != "" {
		b.WriteString(" [")
		b.WriteString(e.Component)
		b.WriteByte(']')
	}
	b.WriteByte(' ')
	b.WriteString(e.Message)

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, e.Fields[k])
	}
	return b.String()
}

func levelAbbrev(level string) string {
	switch level {
	case "trace":
		return "trc"
	case "debug":
		return "dbg"
	case "info":
		return "inf"
	case "warn":
		return "wrn"
	case "error":
		return "err"
	case "fatal":
		return "ftl"
	case "panic":
		return "pnc"
	}
	return "???"
}

// Ring is a zerolog sink that retains the last N entries. It implements
// io.Writer so it can sit in a zerolog.MultiLevelWriter.
type Ring struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
	subs    map[int]chan Entry
	nextSub int
}

// NewRing creates a ring of the given capacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingSize
	}
	return &Ring{
		entries: make([]Entry, capacity),
		subs:    make(map[int]chan Entry),
	}
}

// Write decodes one zerolog JSON event. Undecodable input is kept as a raw message.
func (r *Ring) Write(p []byte) (int, error) {
	r.add(decode(p))
	return len(p), nil
}

func decode(p []byte) Entry {
	var raw map[string]interface{}
	if err := json.Unmarshal(p, &raw); err != nil {
		return Entry{Time: time.Now(), Level: "info", Message: strings.TrimSpace(string(p))}
	}

	e := Entry{Fields: map[string]string{}}
	for k, v := range raw {
		switch k {
		case zerolog.TimestampFieldName:
			if s, ok := v.(string); ok {
				if t, err := time.Parse(zerolog.TimeFieldFormat, s); err == nil {
					e.Time = t
				}
			}
		case zerolog.LevelFieldName:
			e.Level, _ = v.(string)
		case zerolog.MessageFieldName:
			e.Message, _ = v.(string)
		case "component":
			e.Component, _ = v.(string)
		default:
			e.Fields[k] = fmt.Sprint(v)
		}
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	if len(e.Fields) == 0 {
		e.Fields = nil
	}
	return e
}

func (r *Ring) add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
	for _, ch := range r.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Lines returns up to n of the most recent entries, oldest first.
// n <= 0 returns everything retained.
func (r *Ring) Lines(n int) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.next
	if r.full {
		size = len(r.entries)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]Entry, 0, n)
	start := (r.next - n + len(r.entries)) % len(r.entries)
	for i := 0; i < n; i++ {
		out = append(out, r.entries[(start+i)%len(r.entries)])
	}
	return out
}

// Subscribe returns a channel receiving new entries and a cancel func.
// Entries are dropped for subscribers that fall behind.
func (r *Ring) Subscribe(buffer int) (<-chan Entry, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Entry, buffer)

	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
			close(ch)
		})
	}
}
