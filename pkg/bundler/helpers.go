package bundler

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
)

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func hashStrings(parts ...string) string {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// textValue unwraps strings and paths
func textValue(value starlark.Value) (string, bool) {
	switch v := value.(type) {
	case starlark.String:
		return string(v), true
	case StarlarkPath:
		return string(v), true
	}
	return "", false
}

// stringList accepts None, a single string/path or an iterable of strings
func stringList(value starlark.Value, field string) ([]string, error) {
	if value == nil || value == starlark.None {
		return []string{}, nil
	}
	if text, ok := textValue(value); ok {
		return []string{text}, nil
	}

	iterable, ok := value.(starlark.Iterable)
	if !ok {
		return nil, eris.Errorf("%s: got %s, want string or list of strings", field, value.Type())
	}

	result := []string{}
	iter := iterable.Iterate()
	defer iter.Done()

	var item starlark.Value
	for iter.Next(&item) {
		text, ok := textValue(item)
		if !ok {
			return nil, eris.Errorf("%s: item %d is a %s, want string", field, len(result), item.Type())
		}
		result = append(result, text)
	}
	return result, nil
}

// stringDict converts a dict of strings. Booleans are accepted as values and become "true" or "false".
func stringDict(dict *starlark.Dict, field string) (map[string]string, error) {
	result := map[string]string{}
	if dict == nil {
		return result, nil
	}

	for _, pair := range dict.Items() {
		key, ok := pair[0].(starlark.String)
		if !ok {
			return nil, eris.Errorf("%s: keys must be strings, found %s", field, pair[0].Type())
		}

		if b, ok := pair[1].(starlark.Bool); ok {
			result[string(key)] = strconv.FormatBool(bool(b))
			continue
		}
		text, ok := textValue(pair[1])
		if !ok {
			return nil, eris.Errorf("%s[%s]: got %s, want string", field, key, pair[1].Type())
		}
		result[string(key)] = text
	}
	return result, nil
}

// toStarlark converts decoded YAML values
func toStarlark(value interface{}) (starlark.Value, error) {
	switch v := value.(type) {
	case nil:
		return starlark.None, nil
	case string:
		return starlark.String(v), nil
	case bool:
		return starlark.Bool(v), nil
	case int:
		return starlark.MakeInt(v), nil
	case int64:
		return starlark.MakeInt64(v), nil
	case uint64:
		return starlark.MakeUint64(v), nil
	case float64:
		return starlark.Float(v), nil
	case []interface{}:
		items := make(starlark.Tuple, len(v))
		for idx, item := range v {
			converted, err := toStarlark(item)
			if err != nil {
				return nil, err
			}
			items[idx] = converted
		}
		return items, nil
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		dict := starlark.NewDict(len(v))
		for _, key := range keys {
			converted, err := toStarlark(v[key])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(key), converted); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case map[interface{}]interface{}:
		dict := starlark.NewDict(len(v))
		for key, item := range v {
			k, err := toStarlark(key)
			if err != nil {
				return nil, err
			}
			converted, err := toStarlark(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(k, converted); err != nil {
				return nil, err
			}
		}
		return dict, nil
	}
	return nil, eris.Errorf("unsupported YAML value of type %T", value)
}
