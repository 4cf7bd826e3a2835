package bundler

import (
	"regexp"
	"strconv"

	"github.com/rotisserie/eris"
)

var placeholderRe = regexp.MustCompile(`\[(name|id|ext|contenthash|hash)(?::(\d+))?\]`)

// pathData holds the values substituted into output filename templates
type pathData struct {
	Name string
	ID   string
	Ext  string
	Hash string
}

func checkTemplate(tpl string) error {
	for _, match := range placeholderRe.FindAllStringSubmatch(tpl, -1) {
		if match[2] == "" {
			continue
		}

		n, err := strconv.Atoi(match[2])
		if err != nil || n < 1 || n > 64 {
			return eris.Errorf("invalid length in placeholder %s of %q", match[0], tpl)
		}
		if match[1] != "contenthash" && match[1] != "hash" {
			return eris.Errorf("placeholder %s of %q doesn't take a length", match[0], tpl)
		}
	}
	return nil
}

// expandTemplate replaces [name], [id], [ext], [contenthash(:N)] and [hash(:N)]. Hashes are cut
// to hashLength unless the placeholder carries its own length.
func expandTemplate(tpl string, data pathData, hashLength int) string {
	return placeholderRe.ReplaceAllStringFunc(tpl, func(placeholder string) string {
		match := placeholderRe.FindStringSubmatch(placeholder)
		switch match[1] {
		case "name":
			return data.Name
		case "id":
			if data.ID == "" {
				return data.Name
			}
			return data.ID
		case "ext":
			return data.Ext
		default:
			length := hashLength
			if match[2] != "" {
				length, _ = strconv.Atoi(match[2])
			}
			if length > len(data.Hash) {
				length = len(data.Hash)
			}
			return data.Hash[:length]
		}
	})
}
