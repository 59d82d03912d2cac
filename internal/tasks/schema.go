package tasks

import (
	"encoding/json"
	"sort"

	"github.com/desertthunder/nbx/internal/models"
)

// readOnlyKinds are computed by the remote and cannot be created or written.
var readOnlyKinds = map[string]bool{
	"formula":          true,
	"rollup":           true,
	"created_time":     true,
	"created_by":       true,
	"last_edited_time": true,
	"last_edited_by":   true,
	"unique_id":        true,
	"verification":     true,
	"button":           true,
}

// writableKind reports whether a property kind survives materialization.
// Relations are dropped because their targets do not exist under the new parent.
func writableKind(kind string) bool {
	return kind != "" && !readOnlyKinds[kind] && kind != "relation"
}

func isEnumKind(kind string) bool {
	return kind == "select" || kind == "multi_select" || kind == "status"
}

// ConvertSchema turns a captured property schema into a database creation schema.
// Read-only kinds and relations are stripped, options keep only name and color,
// and status columns become selects since status cannot be created remotely.
func ConvertSchema(props map[string]models.PropertySchema) map[string]any {
	out := make(map[string]any, len(props))
	hasTitle := false

	for name, p := range props {
		if !writableKind(p.Type) {
			continue
		}

		switch p.Type {
		case "select", "multi_select":
			out[name] = map[string]any{p.Type: map[string]any{"options": optionList(p.Options())}}
		case "status":
			out[name] = map[string]any{"select": map[string]any{"options": optionList(p.Options())}}
		case "number":
			var body struct {
				Format string `json:"format"`
			}
			config := map[string]any{}
			if json.Unmarshal(p.Config, &body) == nil && body.Format != "" {
				config["format"] = body.Format
			}
			out[name] = map[string]any{"number": config}
		case "title":
			hasTitle = true
			out[name] = map[string]any{"title": map[string]any{}}
		default:
			out[name] = map[string]any{p.Type: map[string]any{}}
		}
	}

	if !hasTitle {
		out["Name"] = map[string]any{"title": map[string]any{}}
	}
	return out
}

func optionList(opts []models.SelectOption) []map[string]any {
	out := make([]map[string]any, 0, len(opts))
	for _, o := range opts {
		item := map[string]any{"name": o.Name}
		if o.Color != "" {
			item["color"] = o.Color
		}
		out = append(out, item)
	}
	return out
}

// OptionRemap maps, per property name, captured option ids to the ids of the
// same-named options in the created database.
type OptionRemap map[string]map[string]string

// BuildOptionRemap matches the options of src and created by name.
func BuildOptionRemap(src, created map[string]models.PropertySchema) OptionRemap {
	remap := OptionRemap{}
	for name, p := range src {
		if !isEnumKind(p.Type) {
			continue
		}
		dst, ok := created[name]
		if !ok {
			continue
		}

		byName := make(map[string]string)
		for _, o := range dst.Options() {
			byName[o.Name] = o.ID
		}

		ids := make(map[string]string)
		for _, o := range p.Options() {
			if newID, ok := byName[o.Name]; ok && o.ID != "" {
				ids[o.ID] = newID
			}
		}
		remap[name] = ids
	}
	return remap
}

// RemapProperties converts captured entry values into writable values. Read-only
// values and relations are dropped, option references are translated through
// remap (falling back to the option name), status values become selects, hosted
// files are dropped and people are reduced to their ids.
func RemapProperties(values map[string]json.RawMessage, remap OptionRemap) map[string]any {
	out := make(map[string]any, len(values))

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		var v map[string]json.RawMessage
		if json.Unmarshal(values[name], &v) != nil {
			continue
		}
		var kind string
		if json.Unmarshal(v["type"], &kind) != nil || !writableKind(kind) {
			continue
		}

		switch kind {
		case "select":
			out[name] = map[string]any{"select": remapOption(v["select"], remap[name])}
		case "status":
			out[name] = map[string]any{"select": remapOption(v["status"], remap[name])}
		case "multi_select":
			var opts []models.SelectOption
			if json.Unmarshal(v["multi_select"], &opts) != nil {
				continue
			}
			items := make([]map[string]any, 0, len(opts))
			for _, o := range opts {
				items = append(items, optionRef(o, remap[name]))
			}
			out[name] = map[string]any{"multi_select": items}
		case "files":
			files, err := externalFiles(v["files"])
			if err != nil {
				continue
			}
			out[name] = map[string]any{"files": files}
		case "people":
			users, err := userRefs(v["people"])
			if err != nil {
				continue
			}
			out[name] = map[string]any{"people": users}
		default:
			raw := v[kind]
			if len(raw) == 0 {
				raw = json.RawMessage("null")
			}
			out[name] = map[string]any{kind: raw}
		}
	}
	return out
}

func remapOption(raw json.RawMessage, ids map[string]string) any {
	var o *models.SelectOption
	if json.Unmarshal(raw, &o) != nil || o == nil {
		return nil
	}
	return optionRef(*o, ids)
}

func optionRef(o models.SelectOption, ids map[string]string) map[string]any {
	if newID, ok := ids[o.ID]; ok {
		return map[string]any{"id": newID}
	}
	return map[string]any{"name": o.Name}
}

func externalFiles(raw json.RawMessage) ([]map[string]any, error) {
	var files []struct {
		Name     string `json:"name"`
		Type     string `json:"type"`
		External *struct {
			URL string `json:"url"`
		} `json:"external"`
	}
	if err := json.Unmarshal(raw, &files); err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(files))
	for _, f := range files {
		if f.Type != "external" || f.External == nil {
			continue
		}
		out = append(out, map[string]any{
			"name":     f.Name,
			"type":     "external",
			"external": map[string]any{"url": f.External.URL},
		})
	}
	return out, nil
}

func userRefs(raw json.RawMessage) ([]map[string]any, error) {
	var users []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &users); err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(users))
	for _, u := range users {
		out = append(out, map[string]any{"object": "user", "id": u.ID})
	}
	return out, nil
}
