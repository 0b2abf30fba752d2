package cardfile

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func TestCollectRefs(t *testing.T) {
	doc := map[string]any{
		"avatar": "embedded://assets/img/face.png",
		"description": "She keeps a portrait ![portrait](embedded://assets/img/face.png) " +
			"and hums along to embedded://assets/audio/theme.mp3 at night.",
		"nested": []any{
			map[string]any{"icon": "embedded://assets/img/icon.webp"},
		},
		"count": float64(3),
	}

	got := CollectRefs(doc)
	want := []string{
		"embedded://assets/audio/theme.mp3",
		"embedded://assets/img/face.png",
		"embedded://assets/img/icon.webp",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("CollectRefs = %v, want %v", got, want)
	}
}

func TestCollectRefsBareScheme(t *testing.T) {
	if got := CollectRefs("the embedded:// scheme itself is not a reference"); len(got) != 0 {
		t.Errorf("CollectRefs = %v, want none", got)
	}
}

func TestRewriteJSONAllOccurrences(t *testing.T) {
	raw := []byte(`{
		"avatar": "embedded://assets/face.png",
		"description": "See ![face](embedded://assets/face.png) and again embedded://assets/face.png here.",
		"unrelated": "embedded-but-not-a-ref"
	}`)
	mapping := map[string]string{
		"embedded://assets/face.png": "https://cdn.example.com/cards/abc/assets/face.png",
	}

	out, err := RewriteJSON(raw, mapping)
	if err != nil {
		t.Fatalf("RewriteJSON: %v", err)
	}
	if strings.Contains(string(out), "embedded://") {
		t.Errorf("unrewritten reference survives: %s", out)
	}
	if got := strings.Count(string(out), "https://cdn.example.com/cards/abc/assets/face.png"); got != 3 {
		t.Errorf("rewritten occurrences = %d, want 3", got)
	}

	var doc map[string]any
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("output is not valid json: %v", err)
	}
	if doc["unrelated"] != "embedded-but-not-a-ref" {
		t.Errorf("unrelated value touched: %v", doc["unrelated"])
	}
}

func TestRewriteJSONEmptyMappingIsNoop(t *testing.T) {
	raw := []byte(`{"a":"embedded://assets/x.png"}`)
	out, err := RewriteJSON(raw, nil)
	if err != nil {
		t.Fatalf("RewriteJSON: %v", err)
	}
	if string(out) != string(raw) {
		t.Errorf("no-op rewrite changed bytes: %s", out)
	}
}
