package usecase

import "testing"

func TestParseToolCallStrictLine(t *testing.T) {
	call := ParseToolCall(`{"tool": "search_listings", "params": {"keyword": "submariner", "max_price": 8000}}`)
	if call == nil {
		t.Fatal("Expected a tool call")
	}
	if call.Tool != "search_listings" {
		t.Errorf("Expected search_listings, got %s", call.Tool)
	}
	if call.Params["keyword"] != "submariner" {
		t.Errorf("Expected keyword param, got %v", call.Params["keyword"])
	}
	if call.Params["max_price"] != float64(8000) {
		t.Errorf("Expected max_price 8000, got %v", call.Params["max_price"])
	}
}

func TestParseToolCallInsideFence(t *testing.T) {
	call := ParseToolCall("```json\n{\"tool\": \"market_stats\", \"params\": {}}\n```")
	if call == nil {
		t.Fatal("Expected a tool call from fenced reply")
	}
	if call.Tool != "market_stats" {
		t.Errorf("Expected market_stats, got %s", call.Tool)
	}
}

func TestParseToolCallWrappedInProse(t *testing.T) {
	reply := `Let me look that up for you.
{"tool": "get_listing", "params": {"id": 42}}
One moment.`
	call := ParseToolCall(reply)
	if call == nil {
		t.Fatal("Expected a tool call embedded in prose")
	}
	if call.Tool != "get_listing" {
		t.Errorf("Expected get_listing, got %s", call.Tool)
	}
}

func TestParseToolCallBracesInsideStrings(t *testing.T) {
	reply := `{"tool": "search_messages", "params": {"keyword": "ref {16610} and } brace"}}`
	call := ParseToolCall(reply)
	if call == nil {
		t.Fatal("Expected a tool call despite braces inside a string value")
	}
	if got := call.Params["keyword"]; got != "ref {16610} and } brace" {
		t.Errorf("Keyword mangled by scanner: %v", got)
	}
}

func TestParseToolCallEscapedQuoteInString(t *testing.T) {
	reply := `{"tool": "search_listings", "params": {"keyword": "he said \"mint\" condition"}}`
	call := ParseToolCall(reply)
	if call == nil {
		t.Fatal("Expected a tool call despite escaped quotes")
	}
	if got := call.Params["keyword"]; got != `he said "mint" condition` {
		t.Errorf("Escaped quotes mangled: %v", got)
	}
}

func TestParseToolCallPlainAnswerReturnsNil(t *testing.T) {
	for _, reply := range []string{
		"There are currently 12 active sell listings.",
		"",
		`{"intent": "sell", "items": []}`,
		`{"tool": "search_listings"}`,
		`{"params": {}}`,
	} {
		if call := ParseToolCall(reply); call != nil {
			t.Errorf("Expected nil for %q, got %+v", reply, call)
		}
	}
}

func TestParseToolCallIgnoresNonCallObjects(t *testing.T) {
	reply := `The stats are {"total": 5}. Now calling: {"tool": "market_stats", "params": {}}`
	call := ParseToolCall(reply)
	if call == nil {
		t.Fatal("Expected the second object to parse as a call")
	}
	if call.Tool != "market_stats" {
		t.Errorf("Expected market_stats, got %s", call.Tool)
	}
}
