package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultMaxIterations bounds ProcessTextIterative when the caller does
// not set its own cap.
const DefaultMaxIterations = 5

// callStartPattern finds the head of an inline call: the marker, the tool
// name, and the comma before the params object. The params object itself
// is scanned manually so nested braces survive (compiled once).
var callStartPattern = regexp.MustCompile(`@mcp\.call\(\s*([\w.\-]+)\s*,\s*`)

// InlineCall is one extracted @mcp.call occurrence.
type InlineCall struct {
	ToolName   string
	Params     map[string]any
	RawText    string
	LineNumber int
}

// ParseInlineCalls extracts every @mcp.call(<name>, { ... }) occurrence
// from text, in order. Params are parsed as strict JSON first, then via a
// relaxed key/value fallback that tolerates unquoted keys and
// single-quoted strings. Occurrences whose params cannot be parsed either
// way are skipped.
func ParseInlineCalls(text string) []InlineCall {
	var calls []InlineCall
	for _, loc := range callStartPattern.FindAllStringSubmatchIndex(text, -1) {
		name := text[loc[2]:loc[3]]
		rawParams, end, ok := scanParams(text, loc[1])
		if !ok {
			continue
		}
		params, ok := parseParams(rawParams)
		if !ok {
			continue
		}
		raw := text[loc[0]:end]
		calls = append(calls, InlineCall{
			ToolName:   name,
			Params:     params,
			RawText:    raw,
			LineNumber: 1 + strings.Count(text[:loc[0]], "\n"),
		})
	}
	return calls
}

// scanParams reads a balanced {...} object starting at offset, then the
// closing parenthesis of the call. Returns the object text and the index
// one past the closing paren.
func scanParams(text string, offset int) (string, int, bool) {
	if offset >= len(text) || text[offset] != '{' {
		return "", 0, false
	}
	depth := 0
	inString := false
	var quote byte
	for i := offset; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case c == '\\':
				i++
			case c == quote:
				inString = false
			}
			continue
		}
		switch c {
		case '"', '\'':
			inString = true
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				rest := strings.TrimLeft(text[i+1:], " \t\n")
				if !strings.HasPrefix(rest, ")") {
					return "", 0, false
				}
				end := i + 1 + (len(text[i+1:]) - len(rest)) + 1
				return text[offset : i+1], end, true
			}
		}
	}
	return "", 0, false
}

// parseParams tries strict JSON, then the relaxed fallback.
func parseParams(raw string) (map[string]any, bool) {
	var strict map[string]any
	if err := json.Unmarshal([]byte(raw), &strict); err == nil {
		return strict, true
	}
	return parseRelaxedParams(raw)
}

// parseRelaxedParams handles the loose object syntax models tend to emit:
// bare keys, single-quoted strings, unquoted scalars. Only flat objects
// are supported on this path; nested values need strict JSON.
func parseRelaxedParams(raw string) (map[string]any, bool) {
	body := strings.TrimSpace(raw)
	body = strings.TrimPrefix(body, "{")
	body = strings.TrimSuffix(body, "}")

	params := map[string]any{}
	for _, pair := range splitTopLevel(body) {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, found := strings.Cut(pair, ":")
		if !found {
			return nil, false
		}
		key = strings.Trim(strings.TrimSpace(key), `"'`)
		if key == "" {
			return nil, false
		}
		params[key] = coerceScalar(strings.TrimSpace(value))
	}
	if len(params) == 0 {
		return nil, false
	}
	return params, true
}

// splitTopLevel splits on commas outside quotes.
func splitTopLevel(s string) []string {
	var parts []string
	start := 0
	inString := false
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case c == '\\':
				i++
			case c == quote:
				inString = false
			}
			continue
		}
		switch c {
		case '"', '\'':
			inString = true
			quote = c
		case ',':
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

// coerceScalar maps a relaxed value token to its JSON-natural Go type.
func coerceScalar(token string) any {
	if len(token) >= 2 {
		if (token[0] == '\'' && token[len(token)-1] == '\'') ||
			(token[0] == '"' && token[len(token)-1] == '"') {
			return token[1 : len(token)-1]
		}
	}
	switch token {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if n, err := strconv.Atoi(token); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(token, 64); err == nil {
		return f
	}
	return token
}

// ProcessText extracts every inline call, executes each in order through
// the registry, and replaces each occurrence with its result marker:
// [MCP_RESULT:<name>] <json> on success, [MCP_ERROR:<name>] {"error":...}
// on failure. Text without inline calls passes through untouched.
func (r *Registry) ProcessText(ctx context.Context, text string, inv Invocation) string {
	calls := ParseInlineCalls(text)
	for _, call := range calls {
		out := r.Call(ctx, call.ToolName, call.Params, inv)
		text = strings.Replace(text, call.RawText, resultMarker(call.ToolName, out), 1)
	}
	return text
}

// ProcessTextIterative re-parses the rewritten text after each pass so
// results can themselves contain inline calls, stopping when a pass finds
// nothing or maxIterations is reached. maxIterations <= 0 selects
// DefaultMaxIterations.
func (r *Registry) ProcessTextIterative(ctx context.Context, text string, inv Invocation, maxIterations int) string {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	for i := 0; i < maxIterations; i++ {
		if len(ParseInlineCalls(text)) == 0 {
			return text
		}
		text = r.ProcessText(ctx, text, inv)
	}
	return text
}

func resultMarker(name string, out *Outcome) string {
	if !out.Success {
		payload, _ := json.Marshal(map[string]string{"error": out.Error})
		return fmt.Sprintf("[MCP_ERROR:%s] %s", name, payload)
	}
	payload, err := json.Marshal(out.Result)
	if err != nil {
		payload = []byte(fmt.Sprintf("%q", fmt.Sprint(out.Result)))
	}
	return fmt.Sprintf("[MCP_RESULT:%s] %s", name, payload)
}
