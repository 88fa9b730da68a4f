// GoTale - Hytale Server Management Console
// Copyright 2026 006mi4
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/006mi4/gotale

package webhook

import (
	"context"
	"testing"
	"time"
)

func TestClampRetryAfter(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want time.Duration
	}{
		{0, retryAfterMin},
		{500 * time.Millisecond, retryAfterMin},
		{5 * time.Second, 5 * time.Second},
		{2 * time.Minute, retryAfterMax},
	}
	for _, tt := range tests {
		if got := clampRetryAfter(tt.in); got != tt.want {
			t.Errorf("clampRetryAfter(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRetryAfterHint(t *testing.T) {
	tests := []struct {
		name string
		body responseBody
		want time.Duration
	}{
		{
			name: "header seconds",
			body: responseBody{retryAfter: "2"},
			want: 2 * time.Second,
		},
		{
			name: "header fractional",
			body: responseBody{retryAfter: "1.5"},
			want: 1500 * time.Millisecond,
		},
		{
			name: "header wins over body",
			body: responseBody{retryAfter: "2", text: `{"retry_after": 9}`},
			want: 2 * time.Second,
		},
		{
			name: "body fallback",
			body: responseBody{text: `{"retry_after": 3.5}`},
			want: 3500 * time.Millisecond,
		},
		{
			name: "no hint",
			body: responseBody{text: "nope"},
			want: 0,
		},
		{
			name: "unparsable header falls through to body",
			body: responseBody{retryAfter: "soon", text: `{"retry_after": 4}`},
			want: 4 * time.Second,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryAfterHint(tt.body); got != tt.want {
				t.Errorf("retryAfterHint = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdef", 4); got != "abcd" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("ab", 4); got != "ab" {
		t.Errorf("truncate = %q", got)
	}
}

func TestSleepCtxCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if sleepCtx(ctx, time.Minute) {
		t.Error("sleepCtx should report false on canceled context")
	}
}
