package configuration

import (
	"bytes"
	"testing"
)

// FuzzConfigurationParse targets Parse with arbitrary YAML, seeded with
// documents shaped like real registry configurations.
func FuzzConfigurationParse(f *testing.F) {
	f.Add([]byte(`version: 0.1
log:
  level: debug
http:
  addr: 127.0.0.1:8888
storage:
  filesystem:
    rootdirectory: ./tmp
auth:
  userfile:
    path: ./tmp/users.json
gc:
  graceperiod: 24h
`))
	f.Add([]byte("version: 0.1\nstorage: inmemory\n"))
	f.Add([]byte("version: \"0.2\"\n"))
	f.Add([]byte("{"))

	f.Fuzz(func(t *testing.T, data []byte) {
		rd := bytes.NewReader(data)
		_, _ = Parse(rd)
	})
}
