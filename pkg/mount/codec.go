package mount

import (
	"fmt"

	"github.com/levalup/quickdist/pkg/msg"
)

// Mount descriptors travel the wire as tagged variants; receivers dispatch
// on the tag rather than inspecting foreign types.

const sshfsTag = "mount.sshfs"

func init() {
	msg.Register(msg.Ext{
		Tag: sshfsTag,
		Lower: func(v any) (map[string]any, bool) {
			m, ok := v.(*SSHFS)
			if !ok {
				return nil, false
			}
			workdirs := make(map[string]any, len(m.Workdirs))
			for tag, path := range m.Workdirs {
				workdirs[tag] = path
			}
			return map[string]any{
				"nodeid":   m.NodeID,
				"host":     m.Host,
				"port":     int64(m.Port),
				"username": m.Username,
				"password": m.Password,
				"workdir":  m.Workdir,
				"workdirs": workdirs,
				"tempdir":  m.Tempdir,
			}, true
		},
		Lift: func(payload map[string]any) (any, error) {
			m := &SSHFS{Workdirs: map[string]string{}}
			m.NodeID, _ = payload["nodeid"].(string)
			if m.NodeID == "" {
				return nil, fmt.Errorf("mount descriptor without a node id")
			}
			m.Host, _ = payload["host"].(string)
			if port, ok := payload["port"].(int64); ok {
				m.Port = int(port)
			}
			m.Username, _ = payload["username"].(string)
			m.Password, _ = payload["password"].(string)
			m.Workdir, _ = payload["workdir"].(string)
			m.Tempdir, _ = payload["tempdir"].(string)
			if workdirs, ok := payload["workdirs"].(map[string]any); ok {
				for tag, path := range workdirs {
					if p, ok := path.(string); ok {
						m.Workdirs[tag] = p
					}
				}
			}
			return m, nil
		},
	})
}
