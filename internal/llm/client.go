package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Client streams chat completions from an OpenAI-compatible endpoint.
// It performs exactly one attempt per call; retry policy lives in the
// caller, which needs the typed errors to pick the right recovery path.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Transport: &http.Transport{
				DisableKeepAlives: true, // Disable connection reuse to avoid EOF issues
			},
		},
	}
}

// toolCallAccum assembles one tool call from streamed fragments. The id and
// name arrive in the first delta for the call's index; arguments arrive as
// string fragments across many deltas.
type toolCallAccum struct {
	id   string
	typ  string
	name string
	args strings.Builder
}

func (c *Client) StreamChat(ctx context.Context, req ChatRequest, h StreamHandler) error {
	req.Stream = true
	body, err := json.Marshal(req)
	if err != nil {
		err = fmt.Errorf("marshal request: %w", err)
		fire(h.OnError, err)
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		err = fmt.Errorf("create request: %w", err)
		fire(h.OnError, err)
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			fireAbort(h)
			return ctx.Err()
		}
		nerr := &NetworkError{Err: err}
		fire[error](h.OnError, nerr)
		return nerr
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		cerr := ClassifyHTTP(resp.StatusCode, respBody, parseRetryAfter(resp.Header.Get("Retry-After")))
		fire(h.OnError, cerr)
		return cerr
	}

	return c.consumeStream(ctx, resp.Body, h)
}

// consumeStream reads SSE lines until [DONE], a terminal chunk, or an error.
func (c *Client) consumeStream(ctx context.Context, r io.Reader, h StreamHandler) error {
	var (
		text         strings.Builder
		reasoning    strings.Builder
		calls        []*toolCallAccum
		finishReason string
		usage        Usage
	)

	final := func() error {
		comp := &Completion{
			Text:         text.String(),
			Reasoning:    reasoning.String(),
			FinishReason: finishReason,
			Usage:        usage,
		}
		for _, a := range calls {
			tc := ToolCall{ID: a.id, Type: a.typ}
			if tc.Type == "" {
				tc.Type = "function"
			}
			tc.Function.Name = a.name
			tc.Function.Arguments = a.args.String()
			comp.ToolCalls = append(comp.ToolCalls, tc)
		}
		if h.OnFinal != nil {
			h.OnFinal(comp)
		}
		return nil
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			fireAbort(h)
			return ctx.Err()
		}
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return final()
		}

		chunk := gjson.Parse(data)

		// Some gateways tunnel upstream failures as an error object inside
		// an otherwise healthy stream.
		if errObj := chunk.Get("error"); errObj.Exists() {
			code := int(errObj.Get("code").Int())
			if code == 0 {
				code = http.StatusInternalServerError
			}
			cerr := ClassifyHTTP(code, []byte(errObj.Get("message").String()), 0)
			fire(h.OnError, cerr)
			return cerr
		}

		if u := chunk.Get("usage"); u.Exists() {
			usage.PromptTokens = int(u.Get("prompt_tokens").Int())
			usage.CompletionTokens = int(u.Get("completion_tokens").Int())
			usage.TotalTokens = int(u.Get("total_tokens").Int())
		}

		delta := chunk.Get("choices.0.delta")
		if fr := chunk.Get("choices.0.finish_reason"); fr.Exists() && fr.String() != "" {
			finishReason = fr.String()
		}
		if !delta.Exists() {
			continue
		}

		if v := delta.Get("content"); v.Exists() && v.String() != "" {
			text.WriteString(v.String())
			fire(h.OnText, text.String())
		}
		if v := delta.Get("reasoning_content"); v.Exists() && v.String() != "" {
			reasoning.WriteString(v.String())
			fire(h.OnReasoning, reasoning.String())
		}

		delta.Get("tool_calls").ForEach(func(_, tc gjson.Result) bool {
			idx := int(tc.Get("index").Int())
			for len(calls) <= idx {
				calls = append(calls, &toolCallAccum{})
			}
			a := calls[idx]
			if id := tc.Get("id").String(); id != "" {
				a.id = id
			}
			if typ := tc.Get("type").String(); typ != "" {
				a.typ = typ
			}
			if name := tc.Get("function.name").String(); name != "" {
				a.name = name
			}
			if args := tc.Get("function.arguments").String(); args != "" {
				a.args.WriteString(args)
			}
			fire2(h.OnToolCallDelta, a.name, a.args.String())
			return true
		})
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			fireAbort(h)
			return ctx.Err()
		}
		nerr := &NetworkError{Err: fmt.Errorf("read stream: %w", err)}
		fire[error](h.OnError, nerr)
		return nerr
	}

	// Stream ended without [DONE]. llama.cpp does this when the connection
	// is closed early; treat the turn as complete if we saw a finish reason.
	if finishReason != "" {
		return final()
	}
	if ctx.Err() != nil {
		fireAbort(h)
		return ctx.Err()
	}
	nerr := &NetworkError{Err: fmt.Errorf("stream ended before completion")}
	fire[error](h.OnError, nerr)
	return nerr
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func fire[T any](f func(T), v T) {
	if f != nil {
		f(v)
	}
}

func fire2(f func(string, string), a, b string) {
	if f != nil {
		f(a, b)
	}
}

func fireAbort(h StreamHandler) {
	if h.OnAbort != nil {
		h.OnAbort()
	}
}
