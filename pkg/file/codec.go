package file

import (
	"fmt"

	"github.com/levalup/quickdist/pkg/msg"
)

// File handles cross the wire as a tagged codec extension carrying the
// origin tag, relative path, nocopy flag, cached digest and current tier.

const extTag = "file"

func init() {
	msg.Register(msg.Ext{
		Tag: extTag,
		Lower: func(v any) (map[string]any, bool) {
			f, ok := v.(*File)
			if !ok {
				return nil, false
			}
			return map[string]any{
				"origin": f.Origin,
				"rel":    f.Rel,
				"nocopy": f.NoCopy,
				"md5":    f.MD5,
				"tier":   int64(f.tier),
			}, true
		},
		Lift: func(payload map[string]any) (any, error) {
			origin, _ := payload["origin"].(string)
			rel, ok := payload["rel"].(string)
			if !ok || rel == "" {
				return nil, fmt.Errorf("file handle without a path")
			}
			nocopy, _ := payload["nocopy"].(bool)
			md5, _ := payload["md5"].(string)
			tier := TierOrigin
			if n, ok := payload["tier"].(int64); ok && n != 0 {
				tier = Tier(n)
			}
			return at(origin, rel, nocopy, md5, tier), nil
		},
	})
}
