package tasks

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/desertthunder/nbx/internal/models"
)

func TestConvertSchema(t *testing.T) {
	tests := []struct {
		name  string
		props map[string]models.PropertySchema
		want  map[string]any
	}{
		{
			name: "strips read-only kinds and relations",
			props: map[string]models.PropertySchema{
				"Title":   {Name: "Title", Type: "title"},
				"Created": {Name: "Created", Type: "created_time"},
				"Total":   {Name: "Total", Type: "rollup"},
				"Link":    {Name: "Link", Type: "relation"},
				"Notes":   {Name: "Notes", Type: "rich_text"},
			},
			want: map[string]any{
				"Title": map[string]any{"title": map[string]any{}},
				"Notes": map[string]any{"rich_text": map[string]any{}},
			},
		},
		{
			name: "adds a title column when missing",
			props: map[string]models.PropertySchema{
				"Done": {Name: "Done", Type: "checkbox"},
			},
			want: map[string]any{
				"Done": map[string]any{"checkbox": map[string]any{}},
				"Name": map[string]any{"title": map[string]any{}},
			},
		},
		{
			name: "status becomes select and numbers keep format",
			props: map[string]models.PropertySchema{
				"Title":  {Name: "Title", Type: "title"},
				"State":  {Name: "State", Type: "status", Config: json.RawMessage(`{"options":[{"id":"x","name":"Open","color":"red"}]}`)},
				"Amount": {Name: "Amount", Type: "number", Config: json.RawMessage(`{"format":"dollar"}`)},
			},
			want: map[string]any{
				"Title":  map[string]any{"title": map[string]any{}},
				"State":  map[string]any{"select": map[string]any{"options": []map[string]any{{"name": "Open", "color": "red"}}}},
				"Amount": map[string]any{"number": map[string]any{"format": "dollar"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ConvertSchema(tt.props); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ConvertSchema() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestBuildOptionRemap(t *testing.T) {
	src := map[string]models.PropertySchema{
		"Tags": {Name: "Tags", Type: "multi_select", Config: json.RawMessage(`{"options":[{"id":"a","name":"Go"},{"id":"b","name":"Rust"}]}`)},
		"Text": {Name: "Text", Type: "rich_text"},
	}
	created := map[string]models.PropertySchema{
		"Tags": {Name: "Tags", Type: "multi_select", Config: json.RawMessage(`{"options":[{"id":"new-a","name":"Go"}]}`)},
	}

	remap := BuildOptionRemap(src, created)
	want := OptionRemap{"Tags": {"a": "new-a"}}
	if !reflect.DeepEqual(remap, want) {
		t.Errorf("BuildOptionRemap() = %v, want %v", remap, want)
	}
}

func TestRemapProperties(t *testing.T) {
	values := map[string]json.RawMessage{
		"Tags":    json.RawMessage(`{"type":"multi_select","multi_select":[{"id":"a","name":"Go"},{"id":"b","name":"Rust"}]}`),
		"Kind":    json.RawMessage(`{"type":"select","select":null}`),
		"Files":   json.RawMessage(`{"type":"files","files":[{"name":"x","type":"file","file":{"url":"https://s3/x"}},{"name":"y","type":"external","external":{"url":"https://y"}}]}`),
		"Owner":   json.RawMessage(`{"type":"people","people":[{"object":"user","id":"u1","name":"Someone"}]}`),
		"Updated": json.RawMessage(`{"type":"last_edited_time","last_edited_time":"2024-01-01T00:00:00Z"}`),
		"Count":   json.RawMessage(`{"type":"number","number":3}`),
		"Broken":  json.RawMessage(`not json`),
		"BadTags": json.RawMessage(`{"type":"multi_select","multi_select":{"id":"a"}}`),
		"BadFile": json.RawMessage(`{"type":"files","files":"https://y"}`),
		"NoOwner": json.RawMessage(`{"type":"people"}`),
	}

	got := RemapProperties(values, OptionRemap{"Tags": {"a": "new-a"}})

	wantTags := map[string]any{"multi_select": []map[string]any{{"id": "new-a"}, {"name": "Rust"}}}
	if !reflect.DeepEqual(got["Tags"], wantTags) {
		t.Errorf("Tags = %#v", got["Tags"])
	}
	if kind := got["Kind"].(map[string]any)["select"]; kind != nil {
		t.Errorf("Kind = %#v, want nil select", kind)
	}
	wantFiles := map[string]any{"files": []map[string]any{{"name": "y", "type": "external", "external": map[string]any{"url": "https://y"}}}}
	if !reflect.DeepEqual(got["Files"], wantFiles) {
		t.Errorf("Files = %#v", got["Files"])
	}
	wantOwner := map[string]any{"people": []map[string]any{{"object": "user", "id": "u1"}}}
	if !reflect.DeepEqual(got["Owner"], wantOwner) {
		t.Errorf("Owner = %#v", got["Owner"])
	}
	if _, ok := got["Updated"]; ok {
		t.Error("read-only value should be dropped")
	}
	for _, name := range []string{"Broken", "BadTags", "BadFile", "NoOwner"} {
		if _, ok := got[name]; ok {
			t.Errorf("malformed value %s should be dropped", name)
		}
	}
	if count, _ := json.Marshal(got["Count"]); string(count) != `{"number":3}` {
		t.Errorf("Count = %s", count)
	}
}
